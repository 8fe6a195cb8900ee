package auth

import (
	"errors"
	"fmt"
)

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read telemetry, alerts and settings.
	RoleViewer Role = "viewer"

	// RoleOperator can also record manual readings and acknowledge alerts.
	RoleOperator Role = "operator"

	// RoleAdmin can also change and reset settings.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")

	// ErrTokenExpired wraps ErrTokenInvalid.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenInvalid)
)
