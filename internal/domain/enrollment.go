package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Enrollment relates one client to one session.
// Active stays true while the session is upcoming or live; a completed session keeps
// its enrollments with Active=false so attendance history survives.
type Enrollment struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID  primitive.ObjectID `bson:"sessionId" json:"sessionId"`
	ClientID   primitive.ObjectID `bson:"clientId" json:"clientId"`
	EnrolledAt time.Time          `bson:"enrolledAt" json:"enrolledAt"`
	Active     bool               `bson:"active" json:"active"`
}
