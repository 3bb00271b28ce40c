package repository

import (
	"alcyxob/fitness-sessions/internal/domain"
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for repository layer
var (
	ErrNotFound               = RepositoryError("not found")
	ErrStatusConflict         = RepositoryError("session status does not allow this change")
	ErrCapacityReached        = RepositoryError("session capacity reached")
	ErrAlreadyEnrolled        = RepositoryError("client already enrolled in this session")
	ErrActiveEnrollmentExists = RepositoryError("client has an active enrollment in another session")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// SessionStore persists sessions and their enrollments.
// Every write touching a session and its enrollments is atomic with respect to
// currentCapacity, and at most one active enrollment per client can exist.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) (*domain.Session, error)
	// CreateMany stores a series all-or-nothing.
	CreateMany(ctx context.Context, sessions []domain.Session) ([]domain.Session, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Session, error)
	ListAll(ctx context.Context) ([]domain.Session, error)
	ListByTrainerID(ctx context.Context, trainerID primitive.ObjectID) ([]domain.Session, error)
	Update(ctx context.Context, id primitive.ObjectID, patch domain.SessionPatch) (*domain.Session, error)
	// Delete is administrative only and cascades enrollment removal.
	Delete(ctx context.Context, id primitive.ObjectID) (bool, error)
	// TransitionStatus moves the session to `to` only if its current status is one of `from`.
	TransitionStatus(ctx context.Context, id primitive.ObjectID, from []domain.SessionStatus, to domain.SessionStatus) (*domain.Session, error)

	AddEnrollment(ctx context.Context, sessionID, clientID primitive.ObjectID) (*domain.Enrollment, error)
	RemoveEnrollment(ctx context.Context, sessionID, clientID primitive.ObjectID) error
	RemoveAllEnrollments(ctx context.Context, sessionID primitive.ObjectID) (int, error)
	DeactivateEnrollments(ctx context.Context, sessionID primitive.ObjectID) error
	FindActiveEnrollmentsForClient(ctx context.Context, clientID primitive.ObjectID) ([]domain.Enrollment, error)
	FindActiveEnrollments(ctx context.Context) ([]domain.Enrollment, error)
	FindEnrollments(ctx context.Context, sessionID primitive.ObjectID) ([]domain.Enrollment, error)
}

// UserRepository is the read-only client/trainer directory.
type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}

// PackageRepository resolves package entitlements.
type PackageRepository interface {
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.Package, error)
}
