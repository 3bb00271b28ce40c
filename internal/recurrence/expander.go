// Package recurrence expands a recurring session request into concrete sessions.
package recurrence

import (
	"alcyxob/fitness-sessions/internal/domain"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultMaxOccurrences bounds a single series (one year of daily sessions).
const DefaultMaxOccurrences = 366

// Rule describes a recurring series. EndDate is exclusive: no occurrence is
// generated at or after it.
type Rule struct {
	Template domain.Session
	Pattern  domain.RecurrencePattern
	Weekdays []time.Weekday
	EndDate  time.Time
}

// Expander turns a Rule into concrete sessions. It never persists anything.
type Expander struct {
	location       *time.Location
	maxOccurrences int
	newSeriesID    func() string
}

// NewExpander builds an Expander that walks calendar days in loc (UTC when nil).
func NewExpander(loc *time.Location, maxOccurrences int) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Expander{
		location:       loc,
		maxOccurrences: maxOccurrences,
		newSeriesID:    func() string { return uuid.NewString() },
	}
}

// Validate checks a rule without expanding it.
func (e *Expander) Validate(rule Rule) error {
	v := &domain.ValidationError{}
	if rule.Pattern != domain.RecurrenceWeekly {
		v.Add("pattern", "only weekly recurrence is supported")
	}
	if len(rule.Weekdays) == 0 {
		v.Add("weekdays", "at least one weekday is required")
	}
	for _, day := range rule.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			v.Add("weekdays", "contains an invalid weekday")
			break
		}
	}
	if rule.Template.ScheduledAt.IsZero() {
		v.Add("scheduledAt", "is required")
	} else if !rule.EndDate.After(rule.Template.ScheduledAt) {
		v.Add("endDate", "must be after the first session")
	}
	return v.OrNil()
}

// Expand produces the series ordered by scheduledAt. The walk starts on the template's
// calendar day and keeps its time-of-day on every generated date.
func (e *Expander) Expand(rule Rule) ([]domain.Session, error) {
	if err := e.Validate(rule); err != nil {
		return nil, err
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	base := rule.Template.ScheduledAt.In(e.location)
	end := rule.EndDate
	seriesID := e.newSeriesID()

	sessions := make([]domain.Session, 0, len(weekdaySet))
	for day := 0; ; day++ {
		// AddDate keeps the wall-clock time across DST changes.
		current := base.AddDate(0, 0, day)
		if !current.Before(end) {
			break
		}
		if _, ok := weekdaySet[current.Weekday()]; !ok {
			continue
		}
		if len(sessions) == e.maxOccurrences {
			return nil, domain.NewValidationError("endDate", "series would exceed the maximum number of sessions")
		}
		sessions = append(sessions, occurrence(rule.Template, current, seriesID))
	}

	if len(sessions) == 0 {
		return nil, domain.NewValidationError("weekdays", "no session falls before the end date")
	}
	return sessions, nil
}

func occurrence(template domain.Session, at time.Time, seriesID string) domain.Session {
	s := template
	s.ID = primitive.NilObjectID
	s.ScheduledAt = at.UTC()
	s.CurrentCapacity = 0
	s.Status = domain.SessionUpcoming
	s.JoinURL, s.StartURL, s.MeetingWarning = "", "", ""
	s.RecurrencePattern = domain.RecurrenceWeekly
	s.SeriesID = seriesID
	if template.TrainerID != nil {
		trainerID := *template.TrainerID
		s.TrainerID = &trainerID
	}
	if template.PackageIDs != nil {
		s.PackageIDs = append([]primitive.ObjectID(nil), template.PackageIDs...)
	}
	return s
}
