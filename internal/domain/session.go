package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCorruptUser marks a cached user record that does not decode into a
	// well-formed User. It is an ordinary branch, not an exception: callers
	// clear the session and continue as anonymous.
	ErrCorruptUser = errors.New("corrupt cached user record")

	ErrSessionNotFound = errors.New("session not found")
)

// User is the subset of the backend account record the gateway needs for
// authorization decisions. Remaining profile fields ride along untouched.
type User struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Nickname string `json:"nickname,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// ParseUser decodes and validates a cached user record. Any failure is
// reported as ErrCorruptUser so callers can collapse all corruption causes
// (bad JSON, missing fields, unrecognized role) into one branch.
func ParseUser(raw []byte) (*User, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrCorruptUser)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUser, err)
	}
	if u.ID == 0 || u.Username == "" {
		return nil, fmt.Errorf("%w: missing id or username", ErrCorruptUser)
	}
	role, err := ParseRole(string(u.Role))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUser, err)
	}
	u.Role = role
	return &u, nil
}

// Session pairs the backend credential with the cached user record. The two
// are persisted together or not at all; Record is the raw user bytes as
// stored, kept so corruption stays observable to the guard.
type Session struct {
	ID        string
	Token     string
	User      *User
	Record    []byte
	CreatedAt time.Time
}

func (s *Session) Authenticated() bool {
	return s != nil && s.Token != "" && s.User != nil && s.User.Role.Valid()
}
