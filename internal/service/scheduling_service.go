package service

import (
	"alcyxob/fitness-sessions/internal/admission"
	"alcyxob/fitness-sessions/internal/cache"
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/eligibility"
	"alcyxob/fitness-sessions/internal/events"
	"alcyxob/fitness-sessions/internal/meeting"
	"alcyxob/fitness-sessions/internal/recurrence"
	"alcyxob/fitness-sessions/internal/repository"
	"alcyxob/fitness-sessions/internal/storage"
	"alcyxob/fitness-sessions/internal/telemetry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCoverStorageDisabled is returned when no object storage is configured.
var ErrCoverStorageDisabled = errors.New("cover image storage is not configured")

// --- Service Interface ---
type SchedulingService interface {
	// Session lifecycle
	CreateSession(ctx context.Context, template domain.Session) (*domain.Session, error)
	CreateRecurringSeries(ctx context.Context, input RecurringSeriesInput) ([]domain.Session, error)
	CancelSession(ctx context.Context, sessionID primitive.ObjectID) (*domain.Session, error)
	MarkSessionLive(ctx context.Context, sessionID primitive.ObjectID) (*domain.Session, error)
	CompleteSession(ctx context.Context, sessionID primitive.ObjectID) (*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID primitive.ObjectID) error

	// Assignment
	AssignTrainer(ctx context.Context, sessionID, trainerID primitive.ObjectID) (*domain.Session, error)
	BatchAssignClients(ctx context.Context, sessionID primitive.ObjectID, clientIDs []primitive.ObjectID) (*admission.BatchResult, error)
	RemoveClient(ctx context.Context, sessionID, clientID primitive.ObjectID) error

	// Views
	ListSessions(ctx context.Context, filter ListFilter) ([]domain.Session, error)
	ListTrainerSessions(ctx context.Context, trainerID primitive.ObjectID) ([]domain.Session, error)
	GetSessionDetail(ctx context.Context, sessionID primitive.ObjectID) (*SessionDetail, error)
	ListEligibleClients(ctx context.Context, sessionID primitive.ObjectID) ([]eligibility.Candidate, error)
	CreateCoverUploadURL(ctx context.Context, sessionID primitive.ObjectID, contentType string) (*CoverUpload, error)
}

// RecurringSeriesInput is a session template plus its weekly repetition rule.
type RecurringSeriesInput struct {
	Template domain.Session
	Pattern  domain.RecurrencePattern
	Weekdays []time.Weekday
	EndDate  time.Time
}

// ListFilter narrows ListSessions. Zero values match everything.
type ListFilter struct {
	Status domain.SessionStatus
	From   *time.Time
	To     *time.Time
}

func (f ListFilter) matches(s *domain.Session) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.From != nil && s.ScheduledAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !s.ScheduledAt.Before(*f.To) {
		return false
	}
	return true
}

// SessionDetail is a session with its trainer and enrolled clients resolved.
type SessionDetail struct {
	Session       domain.Session `json:"session"`
	Trainer       *domain.User   `json:"trainer,omitempty"`
	Clients       []domain.User  `json:"clients"`
	CoverImageURL string         `json:"coverImageUrl,omitempty"`
}

// CoverUpload tells the caller where to PUT a new cover image.
type CoverUpload struct {
	UploadURL   string    `json:"uploadUrl"`
	ObjectKey   string    `json:"objectKey"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Dependencies wires the façade. Store, Users, Packages and Expander are required;
// everything else falls back to a no-op.
type Dependencies struct {
	Store       repository.SessionStore
	Users       repository.UserRepository
	Packages    repository.PackageRepository
	Expander    *recurrence.Expander
	Provisioner meeting.Provisioner
	Publisher   events.EventPublisher
	Files       storage.FileStorage
	TrainerView *cache.TrainerView
	Metrics     *telemetry.Metrics
	Tracer      trace.Tracer
}

// --- Service Implementation ---

// schedulingService implements the SchedulingService interface.
type schedulingService struct {
	store       repository.SessionStore
	users       repository.UserRepository
	packages    repository.PackageRepository
	controller  *admission.Controller
	expander    *recurrence.Expander
	provisioner meeting.Provisioner
	publisher   events.EventPublisher
	files       storage.FileStorage
	trainerView *cache.TrainerView
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSchedulingService creates a new instance of schedulingService.
func NewSchedulingService(deps Dependencies) SchedulingService {
	s := &schedulingService{
		store:       deps.Store,
		users:       deps.Users,
		packages:    deps.Packages,
		controller:  admission.NewController(deps.Store),
		expander:    deps.Expander,
		provisioner: deps.Provisioner,
		publisher:   deps.Publisher,
		files:       deps.Files,
		trainerView: deps.TrainerView,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		now:         time.Now,
	}
	if s.expander == nil {
		s.expander = recurrence.NewExpander(time.UTC, 0)
	}
	if s.provisioner == nil {
		s.provisioner = meeting.NopProvisioner{}
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer()
	}
	return s
}

// === Session Lifecycle ===

// CreateSession stores a single session and provisions its meeting link.
func (s *schedulingService) CreateSession(ctx context.Context, template domain.Session) (created *domain.Session, err error) {
	ctx, span := s.start(ctx, "create_session")
	defer func() { s.finish(span, "create_session", err) }()

	// 1. Validate input and the trainer reference
	if err = domain.ValidateSession(&template); err != nil {
		return nil, err
	}
	if err = s.requireTrainer(ctx, template.TrainerID); err != nil {
		return nil, err
	}

	// 2. Persist
	created, err = s.store.Create(ctx, &template)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", created.ID.Hex()))
	s.metrics.SessionsCreated(1)

	// 3. Soft dependencies
	s.provisionMeeting(ctx, created)
	s.trainerView.Invalidate(created.TrainerID)
	s.publish(ctx, createdEvent(created))
	return created, nil
}

// CreateRecurringSeries expands the template and stores every occurrence all-or-nothing.
func (s *schedulingService) CreateRecurringSeries(ctx context.Context, input RecurringSeriesInput) (created []domain.Session, err error) {
	ctx, span := s.start(ctx, "create_recurring_series")
	defer func() { s.finish(span, "create_recurring_series", err) }()

	if err = domain.ValidateSession(&input.Template); err != nil {
		return nil, err
	}
	if err = s.requireTrainer(ctx, input.Template.TrainerID); err != nil {
		return nil, err
	}

	sessions, err := s.expander.Expand(recurrence.Rule{
		Template: input.Template,
		Pattern:  input.Pattern,
		Weekdays: input.Weekdays,
		EndDate:  input.EndDate,
	})
	if err != nil {
		return nil, err
	}

	created, err = s.store.CreateMany(ctx, sessions)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("series.size", len(created)), attribute.String("series.id", created[0].SeriesID))
	s.metrics.SessionsCreated(len(created))

	for i := range created {
		s.provisionMeeting(ctx, &created[i])
		s.publish(ctx, createdEvent(&created[i]))
	}
	s.trainerView.Invalidate(input.Template.TrainerID)
	return created, nil
}

// CancelSession cancels the session and frees its enrolled clients. Repeat calls succeed.
func (s *schedulingService) CancelSession(ctx context.Context, sessionID primitive.ObjectID) (cancelled *domain.Session, err error) {
	ctx, span := s.start(ctx, "cancel_session", attribute.String("session.id", sessionID.Hex()))
	defer func() { s.finish(span, "cancel_session", err) }()

	cancelled, removed, changed, err := s.controller.Cancel(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !changed && removed == 0 {
		return cancelled, nil
	}

	span.SetAttributes(attribute.Int("enrollments.removed", removed))
	s.trainerView.Invalidate(cancelled.TrainerID)
	s.publish(ctx, events.SessionEvent{
		EventType:    events.SessionCancelled,
		SessionID:    cancelled.ID,
		Status:       string(cancelled.Status),
		TrainerID:    cancelled.TrainerID,
		RemovedCount: removed,
	})
	return cancelled, nil
}

func (s *schedulingService) MarkSessionLive(ctx context.Context, sessionID primitive.ObjectID) (updated *domain.Session, err error) {
	ctx, span := s.start(ctx, "mark_session_live", attribute.String("session.id", sessionID.Hex()))
	defer func() { s.finish(span, "mark_session_live", err) }()

	updated, err = s.controller.MarkLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, updated, domain.SessionUpcoming)
	return updated, nil
}

func (s *schedulingService) CompleteSession(ctx context.Context, sessionID primitive.ObjectID) (updated *domain.Session, err error) {
	ctx, span := s.start(ctx, "complete_session", attribute.String("session.id", sessionID.Hex()))
	defer func() { s.finish(span, "complete_session", err) }()

	updated, err = s.controller.Complete(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, updated, domain.SessionLive)
	return updated, nil
}

// DeleteSession hard-deletes a session, its enrollments and its cover image.
func (s *schedulingService) DeleteSession(ctx context.Context, sessionID primitive.ObjectID) (err error) {
	ctx, span := s.start(ctx, "delete_session", attribute.String("session.id", sessionID.Hex()))
	defer func() { s.finish(span, "delete_session", err) }()

	deleted, err := s.controller.Delete(ctx, sessionID)
	if err != nil {
		return err
	}

	if deleted.CoverImageKey != "" && s.files != nil {
		if err := s.files.DeleteObject(ctx, deleted.CoverImageKey); err != nil {
			slog.WarnContext(ctx, "failed to delete cover image", "session_id", sessionID.Hex(), "key", deleted.CoverImageKey, "error", err)
		}
	}
	s.trainerView.Invalidate(deleted.TrainerID)
	s.publish(ctx, events.SessionEvent{
		EventType: events.SessionDeleted,
		SessionID: deleted.ID,
		Status:    string(deleted.Status),
		TrainerID: deleted.TrainerID,
	})
	return nil
}

// === Assignment ===

// AssignTrainer sets or replaces the session's trainer.
func (s *schedulingService) AssignTrainer(ctx context.Context, sessionID, trainerID primitive.ObjectID) (updated *domain.Session, err error) {
	ctx, span := s.start(ctx, "assign_trainer",
		attribute.String("session.id", sessionID.Hex()), attribute.String("trainer.id", trainerID.Hex()))
	defer func() { s.finish(span, "assign_trainer", err) }()

	if err = s.requireTrainer(ctx, &trainerID); err != nil {
		return nil, err
	}

	updated, previous, err := s.controller.AssignTrainer(ctx, sessionID, trainerID)
	if err != nil {
		return nil, err
	}

	s.trainerView.Invalidate(previous, updated.TrainerID)
	s.publish(ctx, events.SessionEvent{
		EventType:         events.SessionTrainerAssigned,
		SessionID:         updated.ID,
		TrainerID:         updated.TrainerID,
		PreviousTrainerID: previous,
	})
	return updated, nil
}

// BatchAssignClients enrolls up to admission.MaxBatchSize clients. Every client is
// re-checked against the directory and the package gate before admission.
func (s *schedulingService) BatchAssignClients(ctx context.Context, sessionID primitive.ObjectID, clientIDs []primitive.ObjectID) (result *admission.BatchResult, err error) {
	ctx, span := s.start(ctx, "batch_assign_clients",
		attribute.String("session.id", sessionID.Hex()), attribute.Int("batch.size", len(clientIDs)))
	defer func() { s.finish(span, "batch_assign_clients", err) }()

	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID.Hex())
		}
		return nil, err
	}

	var check admission.ClientCheck
	if session.IsActive() && len(clientIDs) <= admission.MaxBatchSize {
		check, err = s.clientCheck(ctx, session, clientIDs)
		if err != nil {
			return nil, err
		}
	}

	result, err = s.controller.BatchAssignClients(ctx, sessionID, clientIDs, check)
	if result != nil {
		rejected := make([]string, len(result.Errors))
		for i, item := range result.Errors {
			rejected[i] = item.Code
		}
		s.metrics.Batch(len(clientIDs), result.Assigned, rejected)
		span.SetAttributes(attribute.Int("batch.assigned", result.Assigned))
	}
	if err != nil {
		return result, err
	}

	if result.Assigned > 0 {
		s.trainerView.Invalidate(session.TrainerID)
		s.publish(ctx, events.SessionEvent{
			EventType: events.SessionClientsAssigned,
			SessionID: sessionID,
			TrainerID: session.TrainerID,
			ClientIDs: result.Enrolled,
		})
	}
	return result, nil
}

// RemoveClient un-enrolls one client from a non-terminal session.
func (s *schedulingService) RemoveClient(ctx context.Context, sessionID, clientID primitive.ObjectID) (err error) {
	ctx, span := s.start(ctx, "remove_client",
		attribute.String("session.id", sessionID.Hex()), attribute.String("client.id", clientID.Hex()))
	defer func() { s.finish(span, "remove_client", err) }()

	if err = s.controller.RemoveClient(ctx, sessionID, clientID); err != nil {
		return err
	}

	var trainerID *primitive.ObjectID
	if session, getErr := s.store.GetByID(ctx, sessionID); getErr == nil {
		trainerID = session.TrainerID
	}
	s.trainerView.Invalidate(trainerID)
	s.publish(ctx, events.SessionEvent{
		EventType: events.SessionClientRemoved,
		SessionID: sessionID,
		TrainerID: trainerID,
		ClientIDs: []primitive.ObjectID{clientID},
	})
	return nil
}

// === Views ===

// ListSessions returns sessions ordered by scheduledAt.
func (s *schedulingService) ListSessions(ctx context.Context, filter ListFilter) ([]domain.Session, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown status "+string(filter.Status))
	}
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Session, 0, len(all))
	for i := range all {
		if filter.matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// ListTrainerSessions serves the trainer-facing schedule, cached per trainer.
func (s *schedulingService) ListTrainerSessions(ctx context.Context, trainerID primitive.ObjectID) ([]domain.Session, error) {
	if trainerID == primitive.NilObjectID {
		return nil, domain.NewValidationError("trainerId", "is required")
	}
	if cached, ok := s.trainerView.Get(trainerID); ok {
		return cached, nil
	}
	sessions, err := s.store.ListByTrainerID(ctx, trainerID)
	if err != nil {
		return nil, err
	}
	s.trainerView.Store(trainerID, sessions)
	return sessions, nil
}

// ListEligibleClients returns the clients that may be offered for the session.
func (s *schedulingService) ListEligibleClients(ctx context.Context, sessionID primitive.ObjectID) ([]eligibility.Candidate, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID.Hex())
		}
		return nil, err
	}

	clients, err := s.users.ListByRole(ctx, domain.RoleClient)
	if err != nil {
		return nil, err
	}
	entitlements, err := s.resolveEntitlements(ctx, session, clients)
	if err != nil {
		return nil, err
	}
	active, err := s.store.FindActiveEnrollments(ctx)
	if err != nil {
		return nil, err
	}
	return eligibility.Filter(session, clients, entitlements, eligibility.NewActiveIndex(active)), nil
}

// CreateCoverUploadURL issues a presigned PUT URL and records the new cover key on the session.
func (s *schedulingService) CreateCoverUploadURL(ctx context.Context, sessionID primitive.ObjectID, contentType string) (upload *CoverUpload, err error) {
	ctx, span := s.start(ctx, "create_cover_upload_url", attribute.String("session.id", sessionID.Hex()))
	defer func() { s.finish(span, "create_cover_upload_url", err) }()

	if s.files == nil {
		return nil, ErrCoverStorageDisabled
	}
	key, err := storage.CoverImageKey(sessionID, contentType)
	if err != nil {
		return nil, domain.NewValidationError("contentType", err.Error())
	}

	previous, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID.Hex())
		}
		return nil, err
	}

	url, err := s.files.GeneratePresignedUploadURL(ctx, key, contentType, storage.DefaultPresignedURLExpiry)
	if err != nil {
		return nil, err
	}
	if _, err = s.store.Update(ctx, sessionID, domain.SessionPatch{CoverImageKey: &key}); err != nil {
		return nil, err
	}
	if previous.CoverImageKey != "" {
		if err := s.files.DeleteObject(ctx, previous.CoverImageKey); err != nil {
			slog.WarnContext(ctx, "failed to delete previous cover image", "key", previous.CoverImageKey, "error", err)
		}
	}
	s.trainerView.Invalidate(previous.TrainerID)

	return &CoverUpload{
		UploadURL:   url,
		ObjectKey:   key,
		ContentType: contentType,
		ExpiresAt:   s.now().Add(storage.DefaultPresignedURLExpiry).UTC(),
	}, nil
}

// === Helpers ===

func (s *schedulingService) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "SchedulingService."+operation, trace.WithAttributes(attrs...))
}

func (s *schedulingService) finish(span trace.Span, operation string, err error) {
	code := domain.Code(err)
	if errors.Is(err, ErrCoverStorageDisabled) {
		code = "storage_disabled"
	}
	s.metrics.Operation(operation, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	}
	span.End()
}

// requireTrainer checks that an optional trainer reference points at a trainer account.
func (s *schedulingService) requireTrainer(ctx context.Context, trainerID *primitive.ObjectID) error {
	if trainerID == nil || *trainerID == primitive.NilObjectID {
		return nil
	}
	trainer, err := s.users.GetByID(ctx, *trainerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: trainer %s", domain.ErrNotFound, trainerID.Hex())
		}
		return err
	}
	if !trainer.IsTrainer() {
		return domain.NewValidationError("trainerId", "user is not a trainer")
	}
	return nil
}

// clientCheck resolves the batch's clients and packages once and returns the per-item gate.
func (s *schedulingService) clientCheck(ctx context.Context, session *domain.Session, clientIDs []primitive.ObjectID) (admission.ClientCheck, error) {
	clients, err := s.users.GetByIDs(ctx, clientIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]domain.User, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	entitlements, err := s.resolveEntitlements(ctx, session, clients)
	if err != nil {
		return nil, err
	}

	return func(clientID primitive.ObjectID) error {
		client, ok := byID[clientID]
		if !ok || !client.IsClient() {
			return fmt.Errorf("%w: client %s", domain.ErrNotFound, clientID.Hex())
		}
		if !entitlements.Allowed(session, clientID) {
			return domain.ErrNotEntitled
		}
		return nil
	}, nil
}

func (s *schedulingService) resolveEntitlements(ctx context.Context, session *domain.Session, clients []domain.User) (eligibility.Entitlements, error) {
	seen := make(map[primitive.ObjectID]struct{})
	packageIDs := make([]primitive.ObjectID, 0)
	for _, c := range clients {
		if c.PackageID == nil {
			continue
		}
		if _, dup := seen[*c.PackageID]; dup {
			continue
		}
		seen[*c.PackageID] = struct{}{}
		packageIDs = append(packageIDs, *c.PackageID)
	}

	var packages []domain.Package
	if len(packageIDs) > 0 {
		var err error
		if packages, err = s.packages.GetByIDs(ctx, packageIDs); err != nil {
			return nil, err
		}
	}
	return eligibility.ResolveEntitlements(session, clients, packages), nil
}

// provisionMeeting stores the provider's links on the session. Failures are recorded
// as a warning on the session and never fail the caller.
func (s *schedulingService) provisionMeeting(ctx context.Context, session *domain.Session) {
	links, err := s.provisioner.Provision(ctx, session)

	var patch domain.SessionPatch
	switch {
	case err != nil:
		slog.WarnContext(ctx, "meeting provisioning failed", "session_id", session.ID.Hex(), "error", err)
		warning := "meeting link could not be provisioned: " + err.Error()
		patch.MeetingWarning = &warning
	case links.JoinURL == "":
		return
	default:
		patch.JoinURL, patch.StartURL = &links.JoinURL, &links.StartURL
	}

	updated, err := s.store.Update(ctx, session.ID, patch)
	if err != nil {
		slog.ErrorContext(ctx, "failed to store meeting links", "session_id", session.ID.Hex(), "error", err)
		return
	}
	*session = *updated
}

func (s *schedulingService) afterStatusChange(ctx context.Context, session *domain.Session, previous domain.SessionStatus) {
	s.trainerView.Invalidate(session.TrainerID)
	s.publish(ctx, events.SessionEvent{
		EventType:      events.SessionStatusChanged,
		SessionID:      session.ID,
		Status:         string(session.Status),
		PreviousStatus: string(previous),
		TrainerID:      session.TrainerID,
	})
}

func (s *schedulingService) publish(ctx context.Context, event events.SessionEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "event_type", event.EventType, "session_id", event.SessionID.Hex(), "error", err)
	}
}

func createdEvent(session *domain.Session) events.SessionEvent {
	scheduledAt := session.ScheduledAt
	return events.SessionEvent{
		EventType:   events.SessionCreated,
		SessionID:   session.ID,
		SeriesID:    session.SeriesID,
		Title:       session.Title,
		ScheduledAt: &scheduledAt,
		Status:      string(session.Status),
		TrainerID:   session.TrainerID,
	}
}
