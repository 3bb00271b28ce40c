package memory

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newSession(capacity int, at time.Time) *domain.Session {
	return &domain.Session{
		Title:           "Morning HIIT",
		SessionType:     "group",
		ScheduledAt:     at,
		DurationMinutes: 45,
		MaxCapacity:     capacity,
	}
}

func TestSessionStore_CreateDefaults(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	s := newSession(3, time.Now())
	s.CurrentCapacity = 7
	created, err := store.Create(ctx, s)
	require.NoError(t, err)
	assert.NotEqual(t, primitive.NilObjectID, created.ID)
	assert.Equal(t, domain.SessionUpcoming, created.Status)
	assert.Equal(t, 0, created.CurrentCapacity)

	seeded := newSession(3, time.Now())
	seeded.Status = domain.SessionLive
	created, err = store.Create(ctx, seeded)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionLive, created.Status)
}

func TestSessionStore_CreateValidation(t *testing.T) {
	store := NewSessionStore()
	_, err := store.Create(context.Background(), newSession(0, time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	bad := newSession(2, time.Now())
	bad.DurationMinutes = 0
	_, err = store.Create(context.Background(), bad)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSessionStore_CreateManyAllOrNothing(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	_, err := store.CreateMany(ctx, []domain.Session{*newSession(2, base), *newSession(0, base.Add(time.Hour))})
	require.Error(t, err)
	all, _ := store.ListAll(ctx)
	assert.Empty(t, all)

	created, err := store.CreateMany(ctx, []domain.Session{*newSession(2, base.Add(time.Hour)), *newSession(2, base)})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	all, err = store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].ScheduledAt.Before(all[1].ScheduledAt))
}

func TestSessionStore_EnrollmentCapacityAndExclusivity(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	first, _ := store.Create(ctx, newSession(1, time.Now()))
	second, _ := store.Create(ctx, newSession(5, time.Now()))
	alice, bob := primitive.NewObjectID(), primitive.NewObjectID()

	_, err := store.AddEnrollment(ctx, first.ID, alice)
	require.NoError(t, err)

	_, err = store.AddEnrollment(ctx, first.ID, alice)
	assert.ErrorIs(t, err, repository.ErrAlreadyEnrolled)

	_, err = store.AddEnrollment(ctx, second.ID, alice)
	assert.ErrorIs(t, err, repository.ErrActiveEnrollmentExists)

	_, err = store.AddEnrollment(ctx, first.ID, bob)
	assert.ErrorIs(t, err, repository.ErrCapacityReached)

	got, _ := store.GetByID(ctx, first.ID)
	assert.Equal(t, 1, got.CurrentCapacity)

	require.NoError(t, store.RemoveEnrollment(ctx, first.ID, alice))
	assert.ErrorIs(t, store.RemoveEnrollment(ctx, first.ID, alice), repository.ErrNotFound)

	_, err = store.AddEnrollment(ctx, second.ID, alice)
	require.NoError(t, err)
	got, _ = store.GetByID(ctx, first.ID)
	assert.Equal(t, 0, got.CurrentCapacity)
}

func TestSessionStore_ConcurrentAdmissionOfSameClient(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	a, _ := store.Create(ctx, newSession(5, time.Now()))
	b, _ := store.Create(ctx, newSession(5, time.Now()))
	client := primitive.NewObjectID()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []primitive.ObjectID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id primitive.ObjectID) {
			defer wg.Done()
			_, results[i] = store.AddEnrollment(ctx, id, client)
		}(i, id)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, repository.ErrActiveEnrollmentExists)
		}
	}
	assert.Equal(t, 1, successes)
	active, _ := store.FindActiveEnrollmentsForClient(ctx, client)
	assert.Len(t, active, 1)
}

func TestSessionStore_TransitionAndTerminalEnrollment(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	s, _ := store.Create(ctx, newSession(3, time.Now()))
	client := primitive.NewObjectID()
	_, err := store.AddEnrollment(ctx, s.ID, client)
	require.NoError(t, err)

	_, err = store.TransitionStatus(ctx, s.ID, []domain.SessionStatus{domain.SessionLive}, domain.SessionCompleted)
	assert.ErrorIs(t, err, repository.ErrStatusConflict)

	_, err = store.TransitionStatus(ctx, s.ID, []domain.SessionStatus{domain.SessionUpcoming}, domain.SessionLive)
	require.NoError(t, err)
	_, err = store.TransitionStatus(ctx, s.ID, []domain.SessionStatus{domain.SessionLive}, domain.SessionCompleted)
	require.NoError(t, err)
	require.NoError(t, store.DeactivateEnrollments(ctx, s.ID))

	history, _ := store.FindEnrollments(ctx, s.ID)
	require.Len(t, history, 1)
	assert.False(t, history[0].Active)
	active, _ := store.FindActiveEnrollmentsForClient(ctx, client)
	assert.Empty(t, active)

	_, err = store.AddEnrollment(ctx, s.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, repository.ErrStatusConflict)

	_, err = store.TransitionStatus(ctx, primitive.NewObjectID(), nil, domain.SessionLive)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionStore_RemoveAllAndDelete(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	s, _ := store.Create(ctx, newSession(3, time.Now()))
	clients := []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()}
	for _, c := range clients {
		_, err := store.AddEnrollment(ctx, s.ID, c)
		require.NoError(t, err)
	}

	removed, err := store.RemoveAllEnrollments(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	got, _ := store.GetByID(ctx, s.ID)
	assert.Equal(t, 0, got.CurrentCapacity)
	active, _ := store.FindActiveEnrollments(ctx)
	assert.Empty(t, active)

	ok, err := store.Delete(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Delete(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.GetByID(ctx, s.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionStore_UpdatePatch(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	s, _ := store.Create(ctx, newSession(2, time.Now()))
	_, _ = store.AddEnrollment(ctx, s.ID, primitive.NewObjectID())
	_, _ = store.AddEnrollment(ctx, s.ID, primitive.NewObjectID())

	lower := 1
	_, err := store.Update(ctx, s.ID, domain.SessionPatch{MaxCapacity: &lower})
	assert.ErrorIs(t, err, domain.ErrValidation)

	title, join := "Evening Yoga", "https://meet.example.com/j/1"
	trainer := primitive.NewObjectID()
	updated, err := store.Update(ctx, s.ID, domain.SessionPatch{Title: &title, JoinURL: &join, TrainerID: &trainer})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, join, updated.JoinURL)
	assert.Equal(t, trainer.Hex(), updated.TrainerIDHex())

	byTrainer, err := store.ListByTrainerID(ctx, trainer)
	require.NoError(t, err)
	assert.Len(t, byTrainer, 1)

	_, err = store.Update(ctx, primitive.NewObjectID(), domain.SessionPatch{Title: &title})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
