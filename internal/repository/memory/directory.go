package memory

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository"
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserRepository is an in-process user directory, seeded by the caller.
type UserRepository struct {
	mu    sync.RWMutex
	users map[primitive.ObjectID]domain.User
}

func NewUserRepository(users ...domain.User) *UserRepository {
	r := &UserRepository{users: make(map[primitive.ObjectID]domain.User)}
	r.Put(users...)
	return r
}

var _ repository.UserRepository = (*UserRepository)(nil)

// Put inserts or replaces users. Users without an id get one assigned.
func (r *UserRepository) Put(users ...domain.User) []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, len(users))
	for i, u := range users {
		if u.ID == primitive.NilObjectID {
			u.ID = primitive.NewObjectID()
		}
		r.users[u.ID] = u
		out[i] = u
	}
	return out
}

func (r *UserRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(ids))
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *UserRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0)
	for _, u := range r.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// PackageRepository is an in-process package catalogue.
type PackageRepository struct {
	mu       sync.RWMutex
	packages map[primitive.ObjectID]domain.Package
}

func NewPackageRepository(packages ...domain.Package) *PackageRepository {
	r := &PackageRepository{packages: make(map[primitive.ObjectID]domain.Package)}
	r.Put(packages...)
	return r
}

var _ repository.PackageRepository = (*PackageRepository)(nil)

func (r *PackageRepository) Put(packages ...domain.Package) []domain.Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Package, len(packages))
	for i, p := range packages {
		if p.ID == primitive.NilObjectID {
			p.ID = primitive.NewObjectID()
		}
		r.packages[p.ID] = p
		out[i] = p
	}
	return out
}

func (r *PackageRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Package, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.packages[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
