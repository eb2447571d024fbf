package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Missing rows are reported as ErrNotFound; an unreachable database as
// db.ErrUnavailable.
type Store interface {
	CredentialByUsername(ctx context.Context, username string) (Credential, error)
	CredentialByID(ctx context.Context, id int64) (Credential, error)
	PersonByEmail(ctx context.Context, email string) (Person, error)
	PersonByID(ctx context.Context, id int64) (Person, error)

	// Register creates the person, the active credential and the default role
	// grant atomically.
	Register(ctx context.Context, reg Registration) (Credential, Person, error)
	CreateDonorProfile(ctx context.Context, personID int64) error

	AssignRole(ctx context.Context, credentialID, roleID int64) error
	RemoveRole(ctx context.Context, credentialID, roleID int64) error
	RoleAssignments(ctx context.Context, credentialID int64) ([]RoleAssignment, error)
	RoleNames(ctx context.Context, credentialID int64) ([]string, error)

	ListRoles(ctx context.Context) ([]Role, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)

	TouchLastLogin(ctx context.Context, credentialID int64, at time.Time) error
	UpdatePasswordHash(ctx context.Context, credentialID int64, hash string) error
	SetActive(ctx context.Context, credentialID int64, active bool) error
}

// Denylist records revoked token IDs until their natural expiry.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
