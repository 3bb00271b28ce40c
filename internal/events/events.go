// Package events publishes scheduling domain events to the message bus.
package events

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	SessionCreated         = "session.created"
	SessionCancelled       = "session.cancelled"
	SessionStatusChanged   = "session.status_changed"
	SessionDeleted         = "session.deleted"
	SessionTrainerAssigned = "session.trainer_assigned"
	SessionClientsAssigned = "session.clients_assigned"
	SessionClientRemoved   = "session.client_removed"
)

// SessionEvent is the single envelope for every scheduling event. Fields not relevant
// to an event type are omitted.
type SessionEvent struct {
	EventType         string               `json:"event_type"`
	SessionID         primitive.ObjectID   `json:"session_id"`
	SeriesID          string               `json:"series_id,omitempty"`
	Title             string               `json:"title,omitempty"`
	ScheduledAt       *time.Time           `json:"scheduled_at,omitempty"`
	Status            string               `json:"status,omitempty"`
	PreviousStatus    string               `json:"previous_status,omitempty"`
	TrainerID         *primitive.ObjectID  `json:"trainer_id,omitempty"`
	PreviousTrainerID *primitive.ObjectID  `json:"previous_trainer_id,omitempty"`
	ClientIDs         []primitive.ObjectID `json:"client_ids,omitempty"`
	RemovedCount      int                  `json:"removed_count,omitempty"`
	OccurredAt        time.Time            `json:"occurred_at"`
}
