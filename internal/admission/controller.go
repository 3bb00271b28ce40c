// Package admission owns the session state machine and enforces capacity, batch size
// and client exclusivity when enrolling clients or assigning trainers.
package admission

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository"
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxBatchSize is the product-level ceiling on clients per batch call. It is
// independent of a session's maxCapacity.
const MaxBatchSize = 10

// ItemError reports why one client of a batch was not enrolled.
type ItemError struct {
	ClientID primitive.ObjectID `json:"clientId"`
	Code     string             `json:"code"`
	Reason   string             `json:"reason"`
	Err      error              `json:"-"`
}

func newItemError(clientID primitive.ObjectID, err error) ItemError {
	return ItemError{ClientID: clientID, Code: domain.Code(err), Reason: err.Error(), Err: err}
}

// BatchResult is the partial-success outcome of BatchAssignClients.
type BatchResult struct {
	Assigned int                  `json:"assigned"`
	Enrolled []primitive.ObjectID `json:"enrolled"`
	Errors   []ItemError          `json:"errors"`
	// BatchCeilingReached tells callers this batch used the whole per-call allowance,
	// even if the session itself has seats left.
	BatchCeilingReached bool `json:"batchCeilingReached"`
}

// ClientCheck vets a client before admission. Returning an error skips the client
// and reports the error for it.
type ClientCheck func(clientID primitive.ObjectID) error

// Controller serializes every mutation of a session behind a per-session lock.
// Cross-session exclusivity relies on the store's unique active-enrollment constraint.
type Controller struct {
	store repository.SessionStore
	locks *keyedMutex
}

func NewController(store repository.SessionStore) *Controller {
	return &Controller{store: store, locks: newKeyedMutex()}
}

// AssignTrainer overwrites the session's trainer and returns the updated session
// together with the previous trainer id (nil when there was none).
func (c *Controller) AssignTrainer(ctx context.Context, sessionID, trainerID primitive.ObjectID) (*domain.Session, *primitive.ObjectID, error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !session.IsActive() {
		return nil, nil, invalidState(session, "assign a trainer")
	}

	previous := session.TrainerID
	updated, err := c.store.Update(ctx, sessionID, domain.SessionPatch{TrainerID: &trainerID})
	if err != nil {
		return nil, nil, translate(err)
	}
	return updated, previous, nil
}

// BatchAssignClients enrolls clientIDs in input order.
//
// A terminal session fails every item with ErrInvalidState. More than MaxBatchSize ids
// fail the whole call with ErrBatchLimitExceeded before anything is written. Otherwise
// each client is admitted atomically; capacity, duplicate and entitlement failures are
// reported per item, while the first exclusivity violation halts the batch and every
// client not yet attempted is reported with ErrExclusivityViolation. Admissions made
// before a failure are kept.
func (c *Controller) BatchAssignClients(ctx context.Context, sessionID primitive.ObjectID, clientIDs []primitive.ObjectID, check ClientCheck) (*BatchResult, error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	result := &BatchResult{Enrolled: []primitive.ObjectID{}, Errors: []ItemError{}}

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return result, err
	}
	if !session.IsActive() {
		stateErr := invalidState(session, "enroll clients")
		for _, clientID := range clientIDs {
			result.Errors = append(result.Errors, newItemError(clientID, stateErr))
		}
		return result, stateErr
	}
	if len(clientIDs) > MaxBatchSize {
		return result, fmt.Errorf("%w: %d clients requested, at most %d allowed", domain.ErrBatchLimitExceeded, len(clientIDs), MaxBatchSize)
	}

	existing, err := c.store.FindEnrollments(ctx, sessionID)
	if err != nil {
		return result, err
	}
	enrolled := make(map[primitive.ObjectID]struct{}, len(existing)+len(clientIDs))
	for _, e := range existing {
		if e.Active {
			enrolled[e.ClientID] = struct{}{}
		}
	}

	for i, clientID := range clientIDs {
		if _, ok := enrolled[clientID]; ok {
			result.Errors = append(result.Errors, newItemError(clientID, domain.ErrAlreadyAssigned))
			continue
		}
		if check != nil {
			if err := check(clientID); err != nil {
				result.Errors = append(result.Errors, newItemError(clientID, err))
				continue
			}
		}

		_, err := c.store.AddEnrollment(ctx, sessionID, clientID)
		switch {
		case err == nil:
			enrolled[clientID] = struct{}{}
			result.Assigned++
			result.Enrolled = append(result.Enrolled, clientID)
		case errors.Is(err, repository.ErrAlreadyEnrolled):
			result.Errors = append(result.Errors, newItemError(clientID, domain.ErrAlreadyAssigned))
		case errors.Is(err, repository.ErrCapacityReached):
			result.Errors = append(result.Errors, newItemError(clientID, domain.ErrCapacityExceeded))
		case errors.Is(err, repository.ErrActiveEnrollmentExists):
			result.Errors = append(result.Errors, newItemError(clientID, domain.ErrExclusivityViolation))
			halted := fmt.Errorf("%w: not attempted, batch halted at client %s", domain.ErrExclusivityViolation, clientID.Hex())
			for _, rest := range clientIDs[i+1:] {
				result.Errors = append(result.Errors, newItemError(rest, halted))
			}
			result.BatchCeilingReached = result.Assigned == MaxBatchSize
			return result, nil
		case errors.Is(err, repository.ErrStatusConflict):
			result.Errors = append(result.Errors, newItemError(clientID, fmt.Errorf("%w: session no longer accepts enrollments", domain.ErrInvalidState)))
		default:
			return result, err
		}
	}

	result.BatchCeilingReached = result.Assigned == MaxBatchSize
	return result, nil
}

// RemoveClient un-enrolls a client from a non-terminal session.
func (c *Controller) RemoveClient(ctx context.Context, sessionID, clientID primitive.ObjectID) error {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return invalidState(session, "remove clients")
	}
	if err := c.store.RemoveEnrollment(ctx, sessionID, clientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: client %s is not enrolled in session %s", domain.ErrNotFound, clientID.Hex(), sessionID.Hex())
		}
		return err
	}
	return nil
}

// Cancel moves the session to cancelled and removes its enrollments. Cancelling an
// already cancelled session succeeds without a status change, and finishes the
// enrollment cascade if an earlier attempt failed part way. removed is the number
// of enrollments dropped and changed reports whether the status moved.
func (c *Controller) Cancel(ctx context.Context, sessionID primitive.ObjectID) (session *domain.Session, removed int, changed bool, err error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	current, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, 0, false, err
	}
	if current.Status == domain.SessionCancelled {
		leftover, err := c.hasEnrollments(ctx, sessionID, false)
		if err != nil {
			return nil, 0, false, err
		}
		if !leftover && current.CurrentCapacity == 0 {
			return current, 0, false, nil
		}
		// An earlier cancel moved the status but did not finish the cascade.
		removed, err = c.store.RemoveAllEnrollments(ctx, sessionID)
		if err != nil {
			return nil, 0, false, translate(err)
		}
		current.CurrentCapacity = 0
		return current, removed, false, nil
	}
	if !current.Status.CanTransitionTo(domain.SessionCancelled) {
		return nil, 0, false, invalidState(current, "cancel")
	}

	updated, err := c.store.TransitionStatus(ctx, sessionID, domain.SourcesFor(domain.SessionCancelled), domain.SessionCancelled)
	if err != nil {
		return nil, 0, false, translate(err)
	}
	removed, err = c.store.RemoveAllEnrollments(ctx, sessionID)
	if err != nil {
		return nil, 0, true, translate(err)
	}
	updated.CurrentCapacity = 0
	return updated, removed, true, nil
}

// MarkLive moves an upcoming session to live.
func (c *Controller) MarkLive(ctx context.Context, sessionID primitive.ObjectID) (*domain.Session, error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()
	return c.transition(ctx, sessionID, domain.SessionLive)
}

// Complete moves a live session to completed. Enrollments are kept as attendance
// history but stop counting as active, so currentCapacity of a completed session
// keeps the number of clients that attended rather than dropping to zero.
// Completing an already completed session that still holds active enrollments
// deactivates them and succeeds; otherwise it is an invalid state.
func (c *Controller) Complete(ctx context.Context, sessionID primitive.ObjectID) (*domain.Session, error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	current, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.SessionCompleted {
		leftover, err := c.hasEnrollments(ctx, sessionID, true)
		if err != nil {
			return nil, err
		}
		if !leftover {
			return nil, invalidState(current, "complete")
		}
		if err := c.store.DeactivateEnrollments(ctx, sessionID); err != nil {
			return nil, translate(err)
		}
		return current, nil
	}

	updated, err := c.transition(ctx, sessionID, domain.SessionCompleted)
	if err != nil {
		return nil, err
	}
	if err := c.store.DeactivateEnrollments(ctx, sessionID); err != nil {
		return nil, translate(err)
	}
	return updated, nil
}

// hasEnrollments reports whether the session still holds enrollments, only active
// ones when activeOnly is set.
func (c *Controller) hasEnrollments(ctx context.Context, sessionID primitive.ObjectID, activeOnly bool) (bool, error) {
	enrollments, err := c.store.FindEnrollments(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, e := range enrollments {
		if e.Active || !activeOnly {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes a session and its enrollments regardless of status.
func (c *Controller) Delete(ctx context.Context, sessionID primitive.ObjectID) (*domain.Session, error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	deleted, err := c.store.Delete(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID.Hex())
	}
	return session, nil
}

func (c *Controller) transition(ctx context.Context, sessionID primitive.ObjectID, to domain.SessionStatus) (*domain.Session, error) {
	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: cannot move session from %s to %s", domain.ErrInvalidState, session.Status, to)
	}
	updated, err := c.store.TransitionStatus(ctx, sessionID, []domain.SessionStatus{session.Status}, to)
	if err != nil {
		return nil, translate(err)
	}
	return updated, nil
}

func (c *Controller) load(ctx context.Context, sessionID primitive.ObjectID) (*domain.Session, error) {
	session, err := c.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID.Hex())
		}
		return nil, err
	}
	return session, nil
}

func invalidState(session *domain.Session, action string) error {
	return fmt.Errorf("%w: cannot %s on a %s session", domain.ErrInvalidState, action, session.Status)
}

func translate(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, repository.ErrStatusConflict):
		return fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	return err
}
