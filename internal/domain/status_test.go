package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		allowed  bool
	}{
		{SessionUpcoming, SessionLive, true},
		{SessionUpcoming, SessionCancelled, true},
		{SessionUpcoming, SessionCompleted, false},
		{SessionLive, SessionCompleted, true},
		{SessionLive, SessionCancelled, true},
		{SessionLive, SessionUpcoming, false},
		{SessionCompleted, SessionCancelled, false},
		{SessionCompleted, SessionLive, false},
		{SessionCancelled, SessionUpcoming, false},
		{SessionCancelled, SessionLive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t, []SessionStatus{SessionUpcoming, SessionLive}, SourcesFor(SessionCancelled))
	assert.Equal(t, []SessionStatus{SessionLive}, SourcesFor(SessionCompleted))
	assert.Equal(t, []SessionStatus{SessionUpcoming}, SourcesFor(SessionLive))
	assert.Empty(t, SourcesFor(SessionUpcoming))
}

func TestValidateSession(t *testing.T) {
	valid := Session{Title: "HIIT", MaxCapacity: 5, DurationMinutes: 45, ScheduledAt: time.Now()}
	require.NoError(t, ValidateSession(&valid))

	bad := Session{Title: " ", MaxCapacity: 0, DurationMinutes: 0}
	err := ValidateSession(&bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.FieldErrors, "maxCapacity")
	assert.Contains(t, verr.FieldErrors, "durationMinutes")
	assert.Contains(t, verr.FieldErrors, "title")
	assert.Contains(t, verr.FieldErrors, "scheduledAt")
}

func TestPackage_GrantsAccessTo(t *testing.T) {
	open := &Session{}
	pkg := &Package{IncludesLiveSessions: true}
	assert.True(t, pkg.GrantsAccessTo(open))

	noLive := &Package{IncludesLiveSessions: false}
	assert.False(t, noLive.GrantsAccessTo(open))

	var missing *Package
	assert.False(t, missing.GrantsAccessTo(open))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "validation_error", Code(NewValidationError("title", "is required")))
	assert.Equal(t, "not_entitled", Code(ErrNotEntitled))
	assert.Equal(t, "capacity_exceeded", Code(ErrCapacityExceeded))
	assert.Equal(t, "exclusivity_violation", Code(ErrExclusivityViolation))
	assert.Equal(t, "internal_error", Code(errors.New("boom")))
}
