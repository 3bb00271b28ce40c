package admission

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository/memory"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func setup(t *testing.T, capacity int) (*Controller, *memory.SessionStore, *domain.Session) {
	t.Helper()
	store := memory.NewSessionStore()
	session, err := store.Create(context.Background(), &domain.Session{
		Title:           "Morning HIIT",
		SessionType:     "group",
		ScheduledAt:     time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
		MaxCapacity:     capacity,
	})
	require.NoError(t, err)
	return NewController(store), store, session
}

func ids(n int) []primitive.ObjectID {
	out := make([]primitive.ObjectID, n)
	for i := range out {
		out[i] = primitive.NewObjectID()
	}
	return out
}

func codes(result *BatchResult) []string {
	out := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		out[i] = e.Code
	}
	return out
}

func TestBatchAssignClients_CapacityAndDuplicates(t *testing.T) {
	c, store, session := setup(t, 3)
	ctx := context.Background()
	clients := ids(4)

	result, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Assigned)
	assert.Equal(t, clients[:3], result.Enrolled)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, clients[3], result.Errors[0].ClientID)
	assert.True(t, errors.Is(result.Errors[0].Err, domain.ErrCapacityExceeded))
	assert.False(t, result.BatchCeilingReached)

	got, _ := store.GetByID(ctx, session.ID)
	assert.Equal(t, 3, got.CurrentCapacity)

	result, err = c.BatchAssignClients(ctx, session.ID, []primitive.ObjectID{clients[0], clients[0]}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, []string{"already_assigned", "already_assigned"}, codes(result))
}

func TestBatchAssignClients_DuplicateWithinBatch(t *testing.T) {
	c, _, session := setup(t, 5)
	client := primitive.NewObjectID()

	result, err := c.BatchAssignClients(context.Background(), session.ID, []primitive.ObjectID{client, client}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, []string{"already_assigned"}, codes(result))
}

func TestBatchAssignClients_BatchLimit(t *testing.T) {
	c, store, session := setup(t, 50)
	ctx := context.Background()

	_, err := c.BatchAssignClients(ctx, session.ID, ids(11), nil)
	assert.ErrorIs(t, err, domain.ErrBatchLimitExceeded)
	got, _ := store.GetByID(ctx, session.ID)
	assert.Equal(t, 0, got.CurrentCapacity)

	result, err := c.BatchAssignClients(ctx, session.ID, ids(10), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Assigned)
	assert.True(t, result.BatchCeilingReached)
}

func TestBatchAssignClients_TerminalSession(t *testing.T) {
	c, _, session := setup(t, 5)
	ctx := context.Background()
	_, _, _, err := c.Cancel(ctx, session.ID)
	require.NoError(t, err)

	clients := ids(3)
	result, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, []string{"invalid_state", "invalid_state", "invalid_state"}, codes(result))
}

func TestBatchAssignClients_ExclusivityHaltsBatch(t *testing.T) {
	c, store, session := setup(t, 10)
	ctx := context.Background()
	other, err := store.Create(ctx, &domain.Session{Title: "Yoga", ScheduledAt: time.Now(), DurationMinutes: 60, MaxCapacity: 5})
	require.NoError(t, err)

	clients := ids(4)
	_, err = store.AddEnrollment(ctx, other.ID, clients[1])
	require.NoError(t, err)

	result, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, []primitive.ObjectID{clients[0]}, result.Enrolled)
	assert.Equal(t, []string{"exclusivity_violation", "exclusivity_violation", "exclusivity_violation"}, codes(result))
	assert.Equal(t, clients[1], result.Errors[0].ClientID)
	assert.Contains(t, result.Errors[1].Reason, "not attempted")

	got, _ := store.GetByID(ctx, session.ID)
	assert.Equal(t, 1, got.CurrentCapacity)
}

func TestBatchAssignClients_EntitlementCheck(t *testing.T) {
	c, _, session := setup(t, 5)
	clients := ids(3)
	check := func(id primitive.ObjectID) error {
		if id == clients[1] {
			return domain.ErrNotEntitled
		}
		return nil
	}

	result, err := c.BatchAssignClients(context.Background(), session.ID, clients, check)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Assigned)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "not_entitled", result.Errors[0].Code)
	assert.True(t, errors.Is(result.Errors[0].Err, domain.ErrValidation))
}

func TestBatchAssignClients_UnknownSession(t *testing.T) {
	c, _, _ := setup(t, 5)
	_, err := c.BatchAssignClients(context.Background(), primitive.NewObjectID(), ids(1), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestController_Lifecycle(t *testing.T) {
	c, store, session := setup(t, 5)
	ctx := context.Background()
	clients := ids(2)
	_, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	require.NoError(t, err)

	_, err = c.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	live, err := c.MarkLive(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionLive, live.Status)

	_, err = c.MarkLive(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	done, err := c.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, done.Status)

	history, _ := store.FindEnrollments(ctx, session.ID)
	assert.Len(t, history, 2)
	active, _ := store.FindActiveEnrollmentsForClient(ctx, clients[0])
	assert.Empty(t, active)

	_, _, _, err = c.Cancel(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, c.RemoveClient(ctx, session.ID, clients[0]), domain.ErrInvalidState)
	_, _, err = c.AssignTrainer(ctx, session.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestController_CancelIsIdempotent(t *testing.T) {
	c, store, session := setup(t, 5)
	ctx := context.Background()
	clients := ids(3)
	_, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	require.NoError(t, err)

	cancelled, removed, changed, err := c.Cancel(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 3, removed)
	assert.Equal(t, domain.SessionCancelled, cancelled.Status)
	assert.Equal(t, 0, cancelled.CurrentCapacity)

	again, removed, changed, err := c.Cancel(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, removed)
	assert.Equal(t, domain.SessionCancelled, again.Status)

	enrollments, _ := store.FindEnrollments(ctx, session.ID)
	assert.Empty(t, enrollments)
}

func TestController_AssignTrainer(t *testing.T) {
	c, _, session := setup(t, 5)
	ctx := context.Background()
	first, second := primitive.NewObjectID(), primitive.NewObjectID()

	updated, previous, err := c.AssignTrainer(ctx, session.ID, first)
	require.NoError(t, err)
	assert.Nil(t, previous)
	assert.Equal(t, first.Hex(), updated.TrainerIDHex())

	updated, previous, err = c.AssignTrainer(ctx, session.ID, second)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, first, *previous)
	assert.Equal(t, second.Hex(), updated.TrainerIDHex())

	_, _, err = c.AssignTrainer(ctx, primitive.NewObjectID(), first)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestController_RemoveClient(t *testing.T) {
	c, store, session := setup(t, 2)
	ctx := context.Background()
	clients := ids(2)
	_, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	require.NoError(t, err)

	require.NoError(t, c.RemoveClient(ctx, session.ID, clients[0]))
	assert.ErrorIs(t, c.RemoveClient(ctx, session.ID, clients[0]), domain.ErrNotFound)

	got, _ := store.GetByID(ctx, session.ID)
	assert.Equal(t, 1, got.CurrentCapacity)

	result, err := c.BatchAssignClients(ctx, session.ID, ids(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Assigned)
}

// Capacity 3, client C1 already in session A. Batch [C1, C2, C3] into B then [C4..C7] into A.
func TestController_EndToEndScenario(t *testing.T) {
	c, store, a := setup(t, 3)
	ctx := context.Background()
	b, err := store.Create(ctx, &domain.Session{Title: "Spin", ScheduledAt: time.Now(), DurationMinutes: 30, MaxCapacity: 3})
	require.NoError(t, err)
	clients := ids(7)

	first, err := c.BatchAssignClients(ctx, a.ID, clients[:1], nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.Assigned)

	second, err := c.BatchAssignClients(ctx, b.ID, clients[:3], nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Assigned)
	assert.Len(t, second.Errors, 3)

	third, err := c.BatchAssignClients(ctx, a.ID, clients[3:], nil)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Assigned)
	assert.Equal(t, []string{"capacity_exceeded", "capacity_exceeded"}, codes(third))

	gotA, _ := store.GetByID(ctx, a.ID)
	gotB, _ := store.GetByID(ctx, b.ID)
	assert.Equal(t, 3, gotA.CurrentCapacity)
	assert.Equal(t, 0, gotB.CurrentCapacity)
}

func TestController_ConcurrentBatchesAcrossSessions(t *testing.T) {
	c, store, a := setup(t, 10)
	ctx := context.Background()
	b, err := store.Create(ctx, &domain.Session{Title: "Spin", ScheduledAt: time.Now(), DurationMinutes: 30, MaxCapacity: 10})
	require.NoError(t, err)
	shared := ids(5)

	var wg sync.WaitGroup
	results := make([]*BatchResult, 2)
	for i, id := range []primitive.ObjectID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id primitive.ObjectID) {
			defer wg.Done()
			r, err := c.BatchAssignClients(ctx, id, shared, nil)
			assert.NoError(t, err)
			results[i] = r
		}(i, id)
	}
	wg.Wait()

	for _, client := range shared {
		active, _ := store.FindActiveEnrollmentsForClient(ctx, client)
		assert.LessOrEqual(t, len(active), 1)
	}
	gotA, _ := store.GetByID(ctx, a.ID)
	gotB, _ := store.GetByID(ctx, b.ID)
	assert.Equal(t, results[0].Assigned, gotA.CurrentCapacity)
	assert.Equal(t, results[1].Assigned, gotB.CurrentCapacity)
	assert.LessOrEqual(t, gotA.CurrentCapacity+gotB.CurrentCapacity, len(shared))
	assert.Equal(t, 0, c.locks.size())
}

func TestController_ConcurrentBatchesSameSession(t *testing.T) {
	c, store, session := setup(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.BatchAssignClients(ctx, session.ID, ids(2), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := store.GetByID(ctx, session.ID)
	assert.Equal(t, 4, got.CurrentCapacity)
	enrollments, _ := store.FindEnrollments(ctx, session.ID)
	assert.Len(t, enrollments, 4)
}

func TestController_Delete(t *testing.T) {
	c, store, session := setup(t, 3)
	ctx := context.Background()
	_, err := c.BatchAssignClients(ctx, session.ID, ids(2), nil)
	require.NoError(t, err)

	deleted, err := c.Delete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, deleted.ID)

	active, _ := store.FindActiveEnrollments(ctx)
	assert.Empty(t, active)
	_, err = c.Delete(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

var errStorageDown = errors.New("storage unavailable")

// failingStore fails the cascade writes a set number of times before delegating.
type failingStore struct {
	*memory.SessionStore
	removeAllFailures  int
	deactivateFailures int
}

func (s *failingStore) RemoveAllEnrollments(ctx context.Context, sessionID primitive.ObjectID) (int, error) {
	if s.removeAllFailures > 0 {
		s.removeAllFailures--
		return 0, errStorageDown
	}
	return s.SessionStore.RemoveAllEnrollments(ctx, sessionID)
}

func (s *failingStore) DeactivateEnrollments(ctx context.Context, sessionID primitive.ObjectID) error {
	if s.deactivateFailures > 0 {
		s.deactivateFailures--
		return errStorageDown
	}
	return s.SessionStore.DeactivateEnrollments(ctx, sessionID)
}

func setupFailing(t *testing.T, store *failingStore) (*Controller, *domain.Session, *domain.Session) {
	t.Helper()
	create := func(title string) *domain.Session {
		session, err := store.Create(context.Background(), &domain.Session{
			Title:           title,
			SessionType:     "group",
			ScheduledAt:     time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
			DurationMinutes: 45,
			MaxCapacity:     5,
		})
		require.NoError(t, err)
		return session
	}
	return NewController(store), create("Morning HIIT"), create("Evening Yoga")
}

func requireCapacityMatchesActive(t *testing.T, store *failingStore, sessionID primitive.ObjectID, want int) {
	t.Helper()
	ctx := context.Background()
	session, err := store.GetByID(ctx, sessionID)
	require.NoError(t, err)
	enrollments, err := store.FindEnrollments(ctx, sessionID)
	require.NoError(t, err)
	active := 0
	for _, e := range enrollments {
		if e.Active {
			active++
		}
	}
	assert.Equal(t, want, active)
	if session.Status != domain.SessionCompleted {
		assert.Equal(t, active, session.CurrentCapacity)
	}
}

func TestController_CancelRetryFinishesCascade(t *testing.T) {
	store := &failingStore{SessionStore: memory.NewSessionStore(), removeAllFailures: 1}
	c, session, other := setupFailing(t, store)
	ctx := context.Background()
	clients := ids(2)
	_, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	require.NoError(t, err)

	_, _, changed, err := c.Cancel(ctx, session.ID)
	require.ErrorIs(t, err, errStorageDown)
	assert.True(t, changed)

	stuck, err := store.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, stuck.Status)
	assert.Equal(t, 2, stuck.CurrentCapacity)

	cancelled, removed, changed, err := c.Cancel(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, cancelled.CurrentCapacity)
	requireCapacityMatchesActive(t, store, session.ID, 0)

	// The clients are free again.
	result, err := c.BatchAssignClients(ctx, other.ID, clients, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Assigned)
	assert.Empty(t, result.Errors)
	requireCapacityMatchesActive(t, store, other.ID, 2)

	_, removed, changed, err = c.Cancel(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, removed)
}

func TestController_CompleteRetryFreesClients(t *testing.T) {
	store := &failingStore{SessionStore: memory.NewSessionStore(), deactivateFailures: 1}
	c, session, other := setupFailing(t, store)
	ctx := context.Background()
	clients := ids(2)
	_, err := c.BatchAssignClients(ctx, session.ID, clients, nil)
	require.NoError(t, err)
	_, err = c.MarkLive(ctx, session.ID)
	require.NoError(t, err)

	_, err = c.Complete(ctx, session.ID)
	require.ErrorIs(t, err, errStorageDown)
	requireCapacityMatchesActive(t, store, session.ID, 2)

	done, err := c.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, done.Status)
	assert.Equal(t, 2, done.CurrentCapacity)
	requireCapacityMatchesActive(t, store, session.ID, 0)

	history, err := store.FindEnrollments(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	result, err := c.BatchAssignClients(ctx, other.ID, clients, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Assigned)

	// Nothing left to repair, so completing again is refused.
	_, err = c.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
