package memory

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository"
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStore is an in-process repository.SessionStore. A single mutex guards
// sessions, enrollments and the active-enrollment index, so every call is atomic.
type SessionStore struct {
	mu             sync.RWMutex
	sessions       map[primitive.ObjectID]domain.Session
	enrollments    map[primitive.ObjectID][]domain.Enrollment // sessionID -> enrollments
	activeByClient map[primitive.ObjectID]primitive.ObjectID  // clientID -> sessionID
	now            func() time.Time
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:       make(map[primitive.ObjectID]domain.Session),
		enrollments:    make(map[primitive.ObjectID][]domain.Enrollment),
		activeByClient: make(map[primitive.ObjectID]primitive.ObjectID),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) prepare(session *domain.Session, now time.Time) error {
	if err := domain.ValidateSession(session); err != nil {
		return err
	}
	session.ID = primitive.NewObjectID()
	session.CurrentCapacity = 0
	if session.Status == "" {
		session.Status = domain.SessionUpcoming
	}
	session.ScheduledAt = session.ScheduledAt.UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

func (s *SessionStore) Create(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	now := s.now()
	if err := s.prepare(session, now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(*session)
	created := cloneSession(*session)
	return &created, nil
}

func (s *SessionStore) CreateMany(ctx context.Context, sessions []domain.Session) ([]domain.Session, error) {
	now := s.now()
	prepared := make([]domain.Session, len(sessions))
	for i := range sessions {
		prepared[i] = cloneSession(sessions[i])
		if err := s.prepare(&prepared[i], now); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Session, len(prepared))
	for i, session := range prepared {
		s.sessions[session.ID] = cloneSession(session)
		out[i] = cloneSession(session)
	}
	return out, nil
}

func (s *SessionStore) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneSession(session)
	return &out, nil
}

func (s *SessionStore) ListAll(ctx context.Context) ([]domain.Session, error) {
	return s.list(func(domain.Session) bool { return true }), nil
}

func (s *SessionStore) ListByTrainerID(ctx context.Context, trainerID primitive.ObjectID) ([]domain.Session, error) {
	return s.list(func(session domain.Session) bool {
		return session.TrainerID != nil && *session.TrainerID == trainerID
	}), nil
}

func (s *SessionStore) list(keep func(domain.Session) bool) []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if keep(session) {
			out = append(out, cloneSession(session))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func (s *SessionStore) Update(ctx context.Context, id primitive.ObjectID, patch domain.SessionPatch) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.MaxCapacity != nil && *patch.MaxCapacity < session.CurrentCapacity {
		return nil, domain.NewValidationError("maxCapacity", "cannot be lower than the current enrollment count")
	}
	applyPatch(&session, patch)
	if err := domain.ValidateSession(&session); err != nil {
		return nil, err
	}
	session.UpdatedAt = s.now()
	s.sessions[id] = session
	out := cloneSession(session)
	return &out, nil
}

func (s *SessionStore) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	s.dropEnrollmentsLocked(id)
	delete(s.sessions, id)
	return true, nil
}

func (s *SessionStore) TransitionStatus(ctx context.Context, id primitive.ObjectID, from []domain.SessionStatus, to domain.SessionStatus) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !containsStatus(from, session.Status) {
		return nil, repository.ErrStatusConflict
	}
	session.Status = to
	session.UpdatedAt = s.now()
	s.sessions[id] = session
	out := cloneSession(session)
	return &out, nil
}

func (s *SessionStore) AddEnrollment(ctx context.Context, sessionID, clientID primitive.ObjectID) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if activeSession, enrolled := s.activeByClient[clientID]; enrolled {
		if activeSession == sessionID {
			return nil, repository.ErrAlreadyEnrolled
		}
		return nil, repository.ErrActiveEnrollmentExists
	}
	if !session.IsActive() {
		return nil, repository.ErrStatusConflict
	}
	if session.IsFull() {
		return nil, repository.ErrCapacityReached
	}

	enrollment := domain.Enrollment{
		ID:         primitive.NewObjectID(),
		SessionID:  sessionID,
		ClientID:   clientID,
		EnrolledAt: s.now(),
		Active:     true,
	}
	s.enrollments[sessionID] = append(s.enrollments[sessionID], enrollment)
	s.activeByClient[clientID] = sessionID
	session.CurrentCapacity++
	session.UpdatedAt = enrollment.EnrolledAt
	s.sessions[sessionID] = session
	return &enrollment, nil
}

func (s *SessionStore) RemoveEnrollment(ctx context.Context, sessionID, clientID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	list := s.enrollments[sessionID]
	for i, enrollment := range list {
		if enrollment.ClientID != clientID || !enrollment.Active {
			continue
		}
		s.enrollments[sessionID] = append(list[:i:i], list[i+1:]...)
		delete(s.activeByClient, clientID)
		session.CurrentCapacity--
		session.UpdatedAt = s.now()
		s.sessions[sessionID] = session
		return nil
	}
	return repository.ErrNotFound
}

func (s *SessionStore) RemoveAllEnrollments(ctx context.Context, sessionID primitive.ObjectID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	removed := s.dropEnrollmentsLocked(sessionID)
	session.CurrentCapacity = 0
	session.UpdatedAt = s.now()
	s.sessions[sessionID] = session
	return removed, nil
}

func (s *SessionStore) DeactivateEnrollments(ctx context.Context, sessionID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return repository.ErrNotFound
	}
	list := s.enrollments[sessionID]
	for i := range list {
		if list[i].Active {
			list[i].Active = false
			delete(s.activeByClient, list[i].ClientID)
		}
	}
	return nil
}

func (s *SessionStore) FindActiveEnrollmentsForClient(ctx context.Context, clientID primitive.ObjectID) ([]domain.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.activeByClient[clientID]
	if !ok {
		return []domain.Enrollment{}, nil
	}
	for _, enrollment := range s.enrollments[sessionID] {
		if enrollment.ClientID == clientID && enrollment.Active {
			return []domain.Enrollment{enrollment}, nil
		}
	}
	return []domain.Enrollment{}, nil
}

func (s *SessionStore) FindActiveEnrollments(ctx context.Context) ([]domain.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Enrollment, 0, len(s.activeByClient))
	for _, list := range s.enrollments {
		for _, enrollment := range list {
			if enrollment.Active {
				out = append(out, enrollment)
			}
		}
	}
	sortEnrollments(out)
	return out, nil
}

func (s *SessionStore) FindEnrollments(ctx context.Context, sessionID primitive.ObjectID) ([]domain.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.enrollments[sessionID]
	out := make([]domain.Enrollment, len(list))
	copy(out, list)
	sortEnrollments(out)
	return out, nil
}

// dropEnrollmentsLocked removes every enrollment of a session. Caller holds s.mu.
func (s *SessionStore) dropEnrollmentsLocked(sessionID primitive.ObjectID) int {
	list := s.enrollments[sessionID]
	for _, enrollment := range list {
		if enrollment.Active {
			delete(s.activeByClient, enrollment.ClientID)
		}
	}
	delete(s.enrollments, sessionID)
	return len(list)
}

func applyPatch(session *domain.Session, patch domain.SessionPatch) {
	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.Description != nil {
		session.Description = *patch.Description
	}
	if patch.SessionType != nil {
		session.SessionType = *patch.SessionType
	}
	if patch.ScheduledAt != nil {
		session.ScheduledAt = patch.ScheduledAt.UTC()
	}
	if patch.DurationMinutes != nil {
		session.DurationMinutes = *patch.DurationMinutes
	}
	if patch.MaxCapacity != nil {
		session.MaxCapacity = *patch.MaxCapacity
	}
	if patch.TrainerID != nil {
		trainerID := *patch.TrainerID
		session.TrainerID = &trainerID
	}
	if patch.JoinURL != nil {
		session.JoinURL = *patch.JoinURL
	}
	if patch.StartURL != nil {
		session.StartURL = *patch.StartURL
	}
	if patch.MeetingWarning != nil {
		session.MeetingWarning = *patch.MeetingWarning
	}
	if patch.CoverImageKey != nil {
		session.CoverImageKey = *patch.CoverImageKey
	}
}

func cloneSession(session domain.Session) domain.Session {
	if session.TrainerID != nil {
		trainerID := *session.TrainerID
		session.TrainerID = &trainerID
	}
	if session.PackageIDs != nil {
		ids := make([]primitive.ObjectID, len(session.PackageIDs))
		copy(ids, session.PackageIDs)
		session.PackageIDs = ids
	}
	return session
}

func containsStatus(statuses []domain.SessionStatus, status domain.SessionStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func sortEnrollments(list []domain.Enrollment) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].EnrolledAt.Before(list[j].EnrolledAt)
	})
}
