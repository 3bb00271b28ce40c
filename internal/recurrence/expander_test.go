package recurrence

import (
	"alcyxob/fitness-sessions/internal/domain"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func template(at time.Time) domain.Session {
	trainer := primitive.NewObjectID()
	return domain.Session{
		Title:           "Strength Circuit",
		Description:     "Full body",
		SessionType:     "group",
		ScheduledAt:     at,
		DurationMinutes: 50,
		MaxCapacity:     12,
		TrainerID:       &trainer,
	}
}

func TestExpand_WeeklyMondayWednesdayOverFourWeeks(t *testing.T) {
	base := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC) // Monday
	require.Equal(t, time.Monday, base.Weekday())

	e := NewExpander(time.UTC, 0)
	sessions, err := e.Expand(Rule{
		Template: template(base),
		Pattern:  domain.RecurrenceWeekly,
		Weekdays: []time.Weekday{time.Wednesday, time.Monday},
		EndDate:  base.AddDate(0, 0, 28),
	})
	require.NoError(t, err)
	require.Len(t, sessions, 8)

	for i, s := range sessions {
		want := time.Monday
		if i%2 == 1 {
			want = time.Wednesday
		}
		assert.Equal(t, want, s.ScheduledAt.Weekday(), "occurrence %d", i)
		assert.True(t, s.ScheduledAt.Before(base.AddDate(0, 0, 28)))
		assert.Equal(t, 9, s.ScheduledAt.Hour())
		if i > 0 {
			assert.True(t, sessions[i-1].ScheduledAt.Before(s.ScheduledAt))
		}
	}
}

func TestExpand_EndDateIsExclusive(t *testing.T) {
	base := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	e := NewExpander(time.UTC, 0)

	sessions, err := e.Expand(Rule{
		Template: template(base),
		Pattern:  domain.RecurrenceWeekly,
		Weekdays: []time.Weekday{time.Monday},
		EndDate:  base.AddDate(0, 0, 14), // Monday the 18th at 09:00
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, base.AddDate(0, 0, 7), sessions[1].ScheduledAt)
}

func TestExpand_ClonesTemplateAndSharesSeries(t *testing.T) {
	base := time.Date(2024, time.March, 4, 18, 30, 0, 0, time.UTC)
	tmpl := template(base)
	tmpl.JoinURL = "https://meet.example.com/stale"
	tmpl.PackageIDs = []primitive.ObjectID{primitive.NewObjectID()}

	sessions, err := NewExpander(time.UTC, 0).Expand(Rule{
		Template: tmpl,
		Pattern:  domain.RecurrenceWeekly,
		Weekdays: []time.Weekday{time.Tuesday, time.Thursday},
		EndDate:  base.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	for _, s := range sessions {
		assert.Equal(t, tmpl.Title, s.Title)
		assert.Equal(t, tmpl.Description, s.Description)
		assert.Equal(t, tmpl.SessionType, s.SessionType)
		assert.Equal(t, tmpl.DurationMinutes, s.DurationMinutes)
		assert.Equal(t, tmpl.MaxCapacity, s.MaxCapacity)
		assert.Equal(t, tmpl.TrainerIDHex(), s.TrainerIDHex())
		assert.Equal(t, tmpl.PackageIDs, s.PackageIDs)
		assert.Empty(t, s.JoinURL)
		assert.Equal(t, domain.RecurrenceWeekly, s.RecurrencePattern)
		assert.Equal(t, sessions[0].SeriesID, s.SeriesID)
	}
	assert.NotEmpty(t, sessions[0].SeriesID)
	assert.NotSame(t, sessions[0].TrainerID, sessions[1].TrainerID)
}

func TestExpand_KeepsLocalTimeAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	base := time.Date(2024, time.March, 4, 7, 0, 0, 0, loc)
	sessions, err := NewExpander(loc, 0).Expand(Rule{
		Template: template(base),
		Pattern:  domain.RecurrenceWeekly,
		Weekdays: []time.Weekday{time.Monday},
		EndDate:  base.AddDate(0, 0, 14),
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, 7, s.ScheduledAt.In(loc).Hour())
	}
}

func TestExpand_Validation(t *testing.T) {
	base := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	e := NewExpander(time.UTC, 3)

	tests := []struct {
		name  string
		rule  Rule
		field string
	}{
		{"empty weekdays", Rule{Template: template(base), Pattern: domain.RecurrenceWeekly, EndDate: base.AddDate(0, 0, 7)}, "weekdays"},
		{"end before base", Rule{Template: template(base), Pattern: domain.RecurrenceWeekly, Weekdays: []time.Weekday{time.Monday}, EndDate: base.AddDate(0, 0, -1)}, "endDate"},
		{"end equals base", Rule{Template: template(base), Pattern: domain.RecurrenceWeekly, Weekdays: []time.Weekday{time.Monday}, EndDate: base}, "endDate"},
		{"unknown pattern", Rule{Template: template(base), Pattern: "monthly", Weekdays: []time.Weekday{time.Monday}, EndDate: base.AddDate(0, 0, 7)}, "pattern"},
		{"too many occurrences", Rule{Template: template(base), Pattern: domain.RecurrenceWeekly, Weekdays: []time.Weekday{time.Monday}, EndDate: base.AddDate(0, 0, 30)}, "endDate"},
		{"no matching day", Rule{Template: template(base), Pattern: domain.RecurrenceWeekly, Weekdays: []time.Weekday{time.Friday}, EndDate: base.AddDate(0, 0, 2)}, "weekdays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Expand(tt.rule)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.FieldErrors, tt.field)
		})
	}
}
