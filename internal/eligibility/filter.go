// Package eligibility decides which clients may be offered for enrollment in a session.
// The result is advisory: the admission controller re-checks everything on write.
package eligibility

import (
	"alcyxob/fitness-sessions/internal/domain"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Candidate is a client that can be offered for a session.
type Candidate struct {
	Client          domain.User `json:"client"`
	AlreadyAssigned bool        `json:"alreadyAssigned"`
}

// ActiveIndex maps a client id to the id of the session holding their active enrollment.
type ActiveIndex map[primitive.ObjectID]primitive.ObjectID

// NewActiveIndex builds the index from active enrollments.
func NewActiveIndex(enrollments []domain.Enrollment) ActiveIndex {
	index := make(ActiveIndex, len(enrollments))
	for _, e := range enrollments {
		if e.Active {
			index[e.ClientID] = e.SessionID
		}
	}
	return index
}

// Entitlements reports, per client, whether their package grants access to the session.
type Entitlements map[primitive.ObjectID]bool

// ResolveEntitlements computes Entitlements for clients against session using the
// packages they reference. Clients whose package is unknown are not entitled.
func ResolveEntitlements(session *domain.Session, clients []domain.User, packages []domain.Package) Entitlements {
	byID := make(map[primitive.ObjectID]*domain.Package, len(packages))
	for i := range packages {
		byID[packages[i].ID] = &packages[i]
	}
	out := make(Entitlements, len(clients))
	for _, c := range clients {
		if c.PackageID == nil {
			out[c.ID] = false
			continue
		}
		out[c.ID] = byID[*c.PackageID].GrantsAccessTo(session)
	}
	return out
}

// Allowed applies the package gate for one client.
func (e Entitlements) Allowed(session *domain.Session, clientID primitive.ObjectID) bool {
	if !session.HasPackageRestriction() {
		return true
	}
	return e[clientID]
}

// Filter returns the clients eligible for session, ordered by name then id.
//
// A client passes when the package gate allows them and they hold no active enrollment
// in another session. Clients already enrolled in this session are always returned,
// marked AlreadyAssigned.
func Filter(session *domain.Session, clients []domain.User, entitlements Entitlements, active ActiveIndex) []Candidate {
	seen := make(map[primitive.ObjectID]struct{}, len(clients))
	out := make([]Candidate, 0, len(clients))
	for _, c := range clients {
		if !c.IsClient() {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		if sessionID, enrolled := active[c.ID]; enrolled {
			if sessionID == session.ID {
				out = append(out, Candidate{Client: c, AlreadyAssigned: true})
			}
			continue
		}
		if !entitlements.Allowed(session, c.ID) {
			continue
		}
		out = append(out, Candidate{Client: c})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Client.Name == out[j].Client.Name {
			return out[i].Client.ID.Hex() < out[j].Client.ID.Hex()
		}
		return out[i].Client.Name < out[j].Client.Name
	})
	return out
}
