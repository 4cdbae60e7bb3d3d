package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt ignores input beyond 72 bytes
)

// BcryptCost is the work factor for new verifiers. Tests lower it to bcrypt.MinCost.
var BcryptCost = 12

// ErrPasswordMismatch is returned by ComparePassword when the secret does not match.
var ErrPasswordMismatch = errors.New("password does not match")

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Reason string
}

func (e *PasswordValidationError) Error() string {
	return "invalid password: " + e.Reason
}

// HashPassword derives a salted bcrypt verifier for password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword returns nil when password matches the verifier,
// ErrPasswordMismatch on a wrong secret, and any other error for a malformed verifier.
func ComparePassword(hashedPassword, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

// PasswordMatches is the boolean form of ComparePassword; malformed verifiers never match.
func PasswordMatches(hashedPassword, password string) bool {
	return ComparePassword(hashedPassword, password) == nil
}

// ValidatePassword enforces the length bounds; strength scoring is out of scope.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return &PasswordValidationError{Reason: fmt.Sprintf("must be at least %d characters", MinPasswordLen)}
	}
	if len(password) > MaxPasswordLen {
		return &PasswordValidationError{Reason: fmt.Sprintf("must be at most %d characters", MaxPasswordLen)}
	}
	return nil
}
