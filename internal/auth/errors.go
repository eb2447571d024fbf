package auth

import (
	"errors"
	"strings"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDeactivated = errors.New("auth: account deactivated")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenRevoked       = errors.New("auth: token revoked")
	ErrInactiveUser       = errors.New("auth: user not found or inactive")
	ErrForbidden          = errors.New("auth: insufficient permissions")
	ErrUnavailable        = errors.New("auth: storage unavailable")

	ErrUsernameTaken = &conflictError{field: "username"}
	ErrEmailTaken    = &conflictError{field: "email"}
	ErrRoleExists    = &conflictError{field: "role"}
)

type conflictError struct {
	field string
}

func (e *conflictError) Error() string { return "auth: " + e.field + " already exists" }

func (e *conflictError) Unwrap() error { return ErrConflict }

// FieldError names request fields that were missing or malformed.
type FieldError struct {
	Fields []string
	Reason string
}

func (e *FieldError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "required"
	}
	return "auth: " + strings.Join(e.Fields, ", ") + " " + reason
}

func (e *FieldError) Unwrap() error { return ErrInvalidInput }

func missingFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &FieldError{Fields: missing}
}
