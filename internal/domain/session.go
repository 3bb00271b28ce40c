package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus tracks the lifecycle of a live session.
type SessionStatus string

const (
	SessionUpcoming  SessionStatus = "upcoming"
	SessionLive      SessionStatus = "live"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// RecurrencePattern identifies how a session series was generated.
type RecurrencePattern string

const (
	RecurrenceWeekly RecurrencePattern = "weekly"
)

// Session is one scheduled live training occurrence.
type Session struct {
	ID              primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Title           string               `bson:"title" json:"title"`
	Description     string               `bson:"description,omitempty" json:"description,omitempty"`
	SessionType     string               `bson:"sessionType" json:"sessionType"` // e.g. "group", "personal", "workshop"
	ScheduledAt     time.Time            `bson:"scheduledAt" json:"scheduledAt"`
	DurationMinutes int                  `bson:"durationMinutes" json:"durationMinutes"`
	TrainerID       *primitive.ObjectID  `bson:"trainerId,omitempty" json:"trainerId,omitempty"`
	MaxCapacity     int                  `bson:"maxCapacity" json:"maxCapacity"`
	CurrentCapacity int                  `bson:"currentCapacity" json:"currentCapacity"` // Cached count of enrollments
	Status          SessionStatus        `bson:"status" json:"status"`
	PackageIDs      []primitive.ObjectID `bson:"packageIds,omitempty" json:"packageIds,omitempty"` // Empty means open to every client

	// Filled in by the meeting-link provisioner.
	JoinURL        string `bson:"joinUrl,omitempty" json:"joinUrl,omitempty"`
	StartURL       string `bson:"startUrl,omitempty" json:"startUrl,omitempty"`
	MeetingWarning string `bson:"meetingWarning,omitempty" json:"meetingWarning,omitempty"`

	CoverImageKey string `bson:"coverImageKey,omitempty" json:"-"` // S3 key, exposed through presigned URLs only

	RecurrencePattern RecurrencePattern `bson:"recurrencePattern,omitempty" json:"recurrencePattern,omitempty"`
	SeriesID          string            `bson:"seriesId,omitempty" json:"seriesId,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// IsActive reports whether the session still accepts enrollment changes.
func (s *Session) IsActive() bool {
	return s.Status.IsActive()
}

// IsFull reports whether every seat is taken.
func (s *Session) IsFull() bool {
	return s.CurrentCapacity >= s.MaxCapacity
}

// HasPackageRestriction reports whether the session is targeted at specific packages.
func (s *Session) HasPackageRestriction() bool {
	return len(s.PackageIDs) > 0
}

// TrainerIDHex returns the hex trainer id or "" when unassigned.
func (s *Session) TrainerIDHex() string {
	if s.TrainerID == nil || *s.TrainerID == primitive.NilObjectID {
		return ""
	}
	return s.TrainerID.Hex()
}

// SessionPatch lists the mutable fields of a session. Nil fields are left untouched.
type SessionPatch struct {
	Title           *string
	Description     *string
	SessionType     *string
	ScheduledAt     *time.Time
	DurationMinutes *int
	MaxCapacity     *int
	TrainerID       *primitive.ObjectID
	JoinURL         *string
	StartURL        *string
	MeetingWarning  *string
	CoverImageKey   *string
}
