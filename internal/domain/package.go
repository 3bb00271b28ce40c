package domain

import "go.mongodb.org/mongo-driver/bson/primitive"

// Package is a client subscription plan. Only the live-session entitlement matters here.
type Package struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                 string             `bson:"name" json:"name"`
	IncludesLiveSessions bool               `bson:"includesLiveSessions" json:"includesLiveSessions"`
}

// GrantsAccessTo reports whether a client on this package may join the session.
func (p *Package) GrantsAccessTo(session *Session) bool {
	if p == nil || !p.IncludesLiveSessions {
		return false
	}
	if !session.HasPackageRestriction() {
		return true
	}
	for _, id := range session.PackageIDs {
		if id == p.ID {
			return true
		}
	}
	return false
}
