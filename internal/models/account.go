package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles known to the portal.
type Role string

const (
	// RoleAdmin is the central ABC administrator.
	RoleAdmin Role = "admin"
	// RoleSecretary is a per-barangay secretary account.
	RoleSecretary Role = "secretary"
)

// ParseRole maps stored or legacy role labels onto a Role.
// Older records used "ABC" and "ABC Secretary" for the administrator.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "abc", "abc secretary":
		return RoleAdmin, nil
	case "secretary", "barangay secretary":
		return RoleSecretary, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsAdmin reports whether the role carries administrator privileges.
func (r Role) IsAdmin() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleSecretary:
		return false
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// Account is a portal login owned by the credential store.
type Account struct {
	ID                string
	Email             string // lowercase identity
	PasswordHash      string
	Role              Role
	Barangay          string // irrelevant for admins
	Archived          bool
	Locked            bool // set while a password reset is pending review
	LastActivityAt    *time.Time
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NormalizeIdentity returns the canonical login key for an email address.
func NormalizeIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
