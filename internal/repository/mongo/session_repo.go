package mongo

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	sessionCollectionName    = "sessions"
	enrollmentCollectionName = "enrollments"
)

// mongoSessionStore implements repository.SessionStore.
// Exclusivity is enforced by a unique partial index on enrollments.clientId (active only);
// capacity by a conditional $inc on the session document.
type mongoSessionStore struct {
	sessions    *mongo.Collection
	enrollments *mongo.Collection
}

// NewMongoSessionStore creates a Session Store backed by MongoDB.
func NewMongoSessionStore(db *mongo.Database) repository.SessionStore {
	return &mongoSessionStore{
		sessions:    db.Collection(sessionCollectionName),
		enrollments: db.Collection(enrollmentCollectionName),
	}
}

func prepareSession(session *domain.Session, now time.Time) error {
	if err := domain.ValidateSession(session); err != nil {
		return err
	}
	session.ID = primitive.NewObjectID()
	session.CurrentCapacity = 0
	if session.Status == "" { // Seeded live/completed sessions keep their status
		session.Status = domain.SessionUpcoming
	}
	session.ScheduledAt = session.ScheduledAt.UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

// Create inserts a new session.
func (r *mongoSessionStore) Create(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	if err := prepareSession(session, time.Now().UTC()); err != nil {
		return nil, err
	}

	result, err := r.sessions.InsertOne(ctx, session)
	if err != nil {
		return nil, err
	}
	if _, ok := result.InsertedID.(primitive.ObjectID); !ok {
		return nil, errors.New("failed to convert inserted session ID")
	}
	return session, nil
}

// CreateMany inserts a whole series. If any insert fails the ones already written are removed.
func (r *mongoSessionStore) CreateMany(ctx context.Context, sessions []domain.Session) ([]domain.Session, error) {
	if len(sessions) == 0 {
		return []domain.Session{}, nil
	}
	now := time.Now().UTC()
	out := make([]domain.Session, len(sessions))
	docs := make([]interface{}, len(sessions))
	ids := make([]primitive.ObjectID, len(sessions))
	for i := range sessions {
		out[i] = sessions[i]
		if err := prepareSession(&out[i], now); err != nil {
			return nil, err
		}
		docs[i] = out[i]
		ids[i] = out[i].ID
	}

	_, err := r.sessions.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		if _, cleanupErr := r.sessions.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); cleanupErr != nil {
			slog.ErrorContext(ctx, "failed to roll back partial session series", "error", cleanupErr)
		}
		return nil, err
	}
	return out, nil
}

// GetByID retrieves a session by its ID.
func (r *mongoSessionStore) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Session, error) {
	var session domain.Session
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListAll returns every session ordered by scheduledAt ascending.
func (r *mongoSessionStore) ListAll(ctx context.Context) ([]domain.Session, error) {
	return r.findSessions(ctx, bson.M{})
}

// ListByTrainerID returns the trainer's sessions ordered by scheduledAt ascending.
func (r *mongoSessionStore) ListByTrainerID(ctx context.Context, trainerID primitive.ObjectID) ([]domain.Session, error) {
	return r.findSessions(ctx, bson.M{"trainerId": trainerID})
}

func (r *mongoSessionStore) findSessions(ctx context.Context, filter bson.M) ([]domain.Session, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "scheduledAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.sessions.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	sessions := []domain.Session{}
	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Update applies a patch. Lowering maxCapacity below the current enrollment count is rejected.
func (r *mongoSessionStore) Update(ctx context.Context, id primitive.ObjectID, patch domain.SessionPatch) (*domain.Session, error) {
	set, err := patchToSet(patch)
	if err != nil {
		return nil, err
	}
	set["updatedAt"] = time.Now().UTC()

	filter := bson.M{"_id": id}
	if patch.MaxCapacity != nil {
		filter["currentCapacity"] = bson.M{"$lte": *patch.MaxCapacity}
	}

	var updated domain.Session
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = r.sessions.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.NewValidationError("maxCapacity", "cannot be lower than the current enrollment count")
	}
	return &updated, nil
}

func patchToSet(patch domain.SessionPatch) (bson.M, error) {
	v := &domain.ValidationError{}
	set := bson.M{}
	if patch.Title != nil {
		if *patch.Title == "" {
			v.Add("title", "is required")
		}
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.SessionType != nil {
		set["sessionType"] = *patch.SessionType
	}
	if patch.ScheduledAt != nil {
		set["scheduledAt"] = patch.ScheduledAt.UTC()
	}
	if patch.DurationMinutes != nil {
		if *patch.DurationMinutes <= 0 {
			v.Add("durationMinutes", "must be positive")
		}
		set["durationMinutes"] = *patch.DurationMinutes
	}
	if patch.MaxCapacity != nil {
		if *patch.MaxCapacity < 1 {
			v.Add("maxCapacity", "must be at least 1")
		}
		set["maxCapacity"] = *patch.MaxCapacity
	}
	if patch.TrainerID != nil {
		set["trainerId"] = *patch.TrainerID
	}
	if patch.JoinURL != nil {
		set["joinUrl"] = *patch.JoinURL
	}
	if patch.StartURL != nil {
		set["startUrl"] = *patch.StartURL
	}
	if patch.MeetingWarning != nil {
		set["meetingWarning"] = *patch.MeetingWarning
	}
	if patch.CoverImageKey != nil {
		set["coverImageKey"] = *patch.CoverImageKey
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return set, nil
}

// Delete hard-deletes a session and its enrollments. Enrollments go first so a failed
// call leaves the session in place and a retry can finish the job.
func (r *mongoSessionStore) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	// Free the clients before the session document disappears
	if _, err := r.enrollments.DeleteMany(ctx, bson.M{"sessionId": id}); err != nil {
		return false, err
	}

	result, err := r.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

// TransitionStatus is a compare-and-swap on the status field.
func (r *mongoSessionStore) TransitionStatus(ctx context.Context, id primitive.ObjectID, from []domain.SessionStatus, to domain.SessionStatus) (*domain.Session, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	update := bson.M{"$set": bson.M{"status": to, "updatedAt": time.Now().UTC()}}

	var updated domain.Session
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.sessions.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, repository.ErrStatusConflict
	}
	return &updated, nil
}

// AddEnrollment admits one client. The insert is guarded by the unique active-enrollment
// index; the capacity increment by a filter on status and currentCapacity < maxCapacity.
// When the increment guard fails the inserted enrollment is deleted again.
func (r *mongoSessionStore) AddEnrollment(ctx context.Context, sessionID, clientID primitive.ObjectID) (*domain.Enrollment, error) {
	now := time.Now().UTC()
	enrollment := &domain.Enrollment{
		ID:         primitive.NewObjectID(),
		SessionID:  sessionID,
		ClientID:   clientID,
		EnrolledAt: now,
		Active:     true,
	}

	if _, err := r.enrollments.InsertOne(ctx, enrollment); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, r.classifyDuplicate(ctx, sessionID, clientID)
		}
		return nil, err
	}

	filter := bson.M{
		"_id":    sessionID,
		"status": bson.M{"$in": domain.ActiveStatuses()},
		"$expr":  bson.M{"$lt": bson.A{"$currentCapacity", "$maxCapacity"}},
	}
	update := bson.M{
		"$inc": bson.M{"currentCapacity": 1},
		"$set": bson.M{"updatedAt": now},
	}
	result, err := r.sessions.UpdateOne(ctx, filter, update)
	if err == nil && result.MatchedCount == 1 {
		return enrollment, nil
	}

	// Guard failed (or the update errored): take the enrollment back out. The rollback
	// must run even when the request context is already done.
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer cancel()
	if _, delErr := r.enrollments.DeleteOne(rollbackCtx, bson.M{"_id": enrollment.ID}); delErr != nil {
		slog.ErrorContext(ctx, "failed to roll back enrollment", "enrollment_id", enrollment.ID.Hex(), "error", delErr)
		return nil, fmt.Errorf("roll back enrollment %s for client %s: %w", enrollment.ID.Hex(), clientID.Hex(), delErr)
	}
	if err != nil {
		return nil, err
	}

	session, err := r.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, repository.ErrStatusConflict
	}
	return nil, repository.ErrCapacityReached
}

func (r *mongoSessionStore) classifyDuplicate(ctx context.Context, sessionID, clientID primitive.ObjectID) error {
	var existing domain.Enrollment
	err := r.enrollments.FindOne(ctx, bson.M{"clientId": clientID, "active": true}).Decode(&existing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Only the (sessionId, clientId) index can have fired.
			return repository.ErrAlreadyEnrolled
		}
		return err
	}
	if existing.SessionID == sessionID {
		return repository.ErrAlreadyEnrolled
	}
	return repository.ErrActiveEnrollmentExists
}

// RemoveEnrollment deletes a client's active enrollment and frees the seat.
func (r *mongoSessionStore) RemoveEnrollment(ctx context.Context, sessionID, clientID primitive.ObjectID) error {
	result, err := r.enrollments.DeleteOne(ctx, bson.M{"sessionId": sessionID, "clientId": clientID, "active": true})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}

	filter := bson.M{"_id": sessionID, "currentCapacity": bson.M{"$gt": 0}}
	update := bson.M{
		"$inc": bson.M{"currentCapacity": -1},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	if _, err := r.sessions.UpdateOne(ctx, filter, update); err != nil {
		return err
	}
	return nil
}

// RemoveAllEnrollments deletes every enrollment of a session and resets its counter.
func (r *mongoSessionStore) RemoveAllEnrollments(ctx context.Context, sessionID primitive.ObjectID) (int, error) {
	result, err := r.enrollments.DeleteMany(ctx, bson.M{"sessionId": sessionID})
	if err != nil {
		return 0, err
	}
	update := bson.M{"$set": bson.M{"currentCapacity": 0, "updatedAt": time.Now().UTC()}}
	updateResult, err := r.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, update)
	if err != nil {
		return int(result.DeletedCount), err
	}
	if updateResult.MatchedCount == 0 {
		return int(result.DeletedCount), repository.ErrNotFound
	}
	return int(result.DeletedCount), nil
}

// DeactivateEnrollments keeps a completed session's enrollments as history and frees the clients.
func (r *mongoSessionStore) DeactivateEnrollments(ctx context.Context, sessionID primitive.ObjectID) error {
	_, err := r.enrollments.UpdateMany(ctx,
		bson.M{"sessionId": sessionID, "active": true},
		bson.M{"$set": bson.M{"active": false}},
	)
	return err
}

func (r *mongoSessionStore) FindActiveEnrollmentsForClient(ctx context.Context, clientID primitive.ObjectID) ([]domain.Enrollment, error) {
	return r.findEnrollments(ctx, bson.M{"clientId": clientID, "active": true})
}

func (r *mongoSessionStore) FindActiveEnrollments(ctx context.Context) ([]domain.Enrollment, error) {
	return r.findEnrollments(ctx, bson.M{"active": true})
}

func (r *mongoSessionStore) FindEnrollments(ctx context.Context, sessionID primitive.ObjectID) ([]domain.Enrollment, error) {
	return r.findEnrollments(ctx, bson.M{"sessionId": sessionID})
}

func (r *mongoSessionStore) findEnrollments(ctx context.Context, filter bson.M) ([]domain.Enrollment, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "enrolledAt", Value: 1}})
	cursor, err := r.enrollments.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	enrollments := []domain.Enrollment{}
	if err = cursor.All(ctx, &enrollments); err != nil {
		return nil, err
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// EnsureSessionIndexes creates necessary indexes for the sessions collection.
func EnsureSessionIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "scheduledAt", Value: 1}}},
		{Keys: bson.D{{Key: "trainerId", Value: 1}, {Key: "scheduledAt", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "seriesId", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// EnsureEnrollmentIndexes creates the enrollment indexes. The partial unique index on
// clientId is what makes "one active enrollment per client" hold across concurrent writers.
func EnsureEnrollmentIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "clientId", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_client").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}, {Key: "clientId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "enrolledAt", Value: 1}}},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
