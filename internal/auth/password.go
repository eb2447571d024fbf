package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is fixed so stored hashes stay comparable across deployments.
const BcryptCost = 10

// MaxPasswordBytes is the longest input bcrypt hashes without truncation.
const MaxPasswordBytes = 72

// dummyHash is compared against when the username does not exist.
var dummyHash = mustHash("ngo-portal-timing-equaliser")

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

func burnComparison(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func mustHash(s string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(s), BcryptCost)
	if err != nil {
		panic(err)
	}
	return h
}

// PasswordPolicy validates a new password.
type PasswordPolicy func(password string) error

// RequireNonEmpty accepts any non-empty password.
func RequireNonEmpty(password string) error {
	if password == "" {
		return &FieldError{Fields: []string{"password"}}
	}
	return nil
}

// MinLength requires at least n characters. n <= 0 degrades to RequireNonEmpty.
func MinLength(n int) PasswordPolicy {
	if n <= 0 {
		return RequireNonEmpty
	}
	return func(password string) error {
		if err := RequireNonEmpty(password); err != nil {
			return err
		}
		if utf8.RuneCountInString(password) < n {
			return &FieldError{Fields: []string{"password"}, Reason: fmt.Sprintf("must be at least %d characters", n)}
		}
		return nil
	}
}
