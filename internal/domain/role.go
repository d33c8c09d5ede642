package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of account roles the backend may assign. Anything
// outside this set is rejected at the session boundary instead of flowing
// into authorization checks.
type Role string

const (
	RoleUser     Role = "USER"
	RoleDesigner Role = "DESIGNER"
	RoleAdmin    Role = "ADMIN"
)

var ErrUnknownRole = fmt.Errorf("unknown role")

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleDesigner:
		return RoleDesigner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleDesigner, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// In tells whether r is a member of the given set. An empty set never
// matches; callers that treat "empty" as "any role" must branch before
// calling.
func (r Role) In(set []Role) bool {
	for _, candidate := range set {
		if r == candidate {
			return true
		}
	}
	return false
}
