// Package cache keeps recently computed trainer schedules so repeated dashboard
// reads skip the store while the trainer's sessions remain unchanged.
package cache

import (
	"alcyxob/fitness-sessions/internal/domain"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	defaultTrainerViewSize = 256
	defaultTrainerViewTTL  = time.Minute
)

// TrainerView caches the session list per trainer. A nil *TrainerView never hits.
type TrainerView struct {
	lru *expirable.LRU[primitive.ObjectID, []domain.Session]
}

func NewTrainerView(size int, ttl time.Duration) *TrainerView {
	if size <= 0 {
		size = defaultTrainerViewSize
	}
	if ttl <= 0 {
		ttl = defaultTrainerViewTTL
	}
	return &TrainerView{lru: expirable.NewLRU[primitive.ObjectID, []domain.Session](size, nil, ttl)}
}

// Get returns a copy of the cached schedule.
func (c *TrainerView) Get(trainerID primitive.ObjectID) ([]domain.Session, bool) {
	if c == nil {
		return nil, false
	}
	sessions, ok := c.lru.Get(trainerID)
	if !ok {
		return nil, false
	}
	return cloneSessions(sessions), true
}

func (c *TrainerView) Store(trainerID primitive.ObjectID, sessions []domain.Session) {
	if c == nil {
		return
	}
	c.lru.Add(trainerID, cloneSessions(sessions))
}

// Invalidate drops the entries of every given trainer. Nil ids are ignored.
func (c *TrainerView) Invalidate(trainerIDs ...*primitive.ObjectID) {
	if c == nil {
		return
	}
	for _, id := range trainerIDs {
		if id != nil {
			c.lru.Remove(*id)
		}
	}
}

func (c *TrainerView) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *TrainerView) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func cloneSessions(sessions []domain.Session) []domain.Session {
	out := make([]domain.Session, len(sessions))
	copy(out, sessions)
	for i := range out {
		if len(out[i].PackageIDs) > 0 {
			out[i].PackageIDs = append([]primitive.ObjectID(nil), out[i].PackageIDs...)
		}
		if out[i].TrainerID != nil {
			id := *out[i].TrainerID
			out[i].TrainerID = &id
		}
	}
	return out
}
