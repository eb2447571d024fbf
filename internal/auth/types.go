package auth

import "time"

// Person is the identity-independent profile of a human.
type Person struct {
	ID         int64
	Name       string
	Email      string
	ContactNo  string
	Address    string
	Age        *int
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Credential is a user account owned by exactly one Person.
type Credential struct {
	ID           int64
	PersonID     int64
	Username     string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Role is static reference data.
type Role struct {
	ID          int64
	Name        string
	Description string
}

// RoleAssignment links a credential to a role.
type RoleAssignment struct {
	CredentialID int64
	RoleID       int64
	RoleName     string
	Description  string
	AssignedAt   time.Time
}

// Identity is what the access check attaches to a request.
type Identity struct {
	UserID   int64
	Username string
	PersonID int64
}

// Registration is the store-level input of a registration.
type Registration struct {
	Name         string
	Email        string
	ContactNo    string
	Address      string
	Age          *int
	Username     string
	PasswordHash string
	DefaultRole  string
}

// RegisterInput is the caller-supplied registration request.
type RegisterInput struct {
	Name      string
	Email     string
	Username  string
	Password  string
	ContactNo string
	Address   string
	Age       *int
	RoleID    *int64
}

// Registered is returned by a successful registration.
type Registered struct {
	UserID   int64
	PersonID int64
	Username string
	Token    string
	Expires  time.Time
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	UserID   int64
	Username string
	PersonID int64
	Name     string
	Email    string
	Roles    []string
	Token    string
	Expires  time.Time
}

// Profile is the caller's account, person and roles.
type Profile struct {
	Credential Credential
	Person     Person
	Roles      []RoleAssignment
}
