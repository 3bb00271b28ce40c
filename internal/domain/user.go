package domain

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role type to distinguish between user roles
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleClient  Role = "client"
)

// User is the read-only directory view of an account. Accounts are managed elsewhere;
// this service only resolves display fields and package references.
type User struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name      string              `bson:"name" json:"name"`
	Email     string              `bson:"email" json:"email"`
	Role      Role                `bson:"role" json:"role"`
	AvatarURL string              `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
	PackageID *primitive.ObjectID `bson:"packageId,omitempty" json:"packageId,omitempty"` // Client-specific
}

func (u *User) IsTrainer() bool {
	return u.Role == RoleTrainer
}

func (u *User) IsClient() bool {
	return u.Role == RoleClient
}
