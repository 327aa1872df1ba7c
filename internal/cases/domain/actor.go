package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is who is acting on a case.
type Role string

const (
	RoleAdmin        Role = "admin"
	RolePsychologist Role = "psychologist"
	RoleReporter     Role = "reporter"
	RoleSystem       Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePsychologist, RoleReporter, RoleSystem:
		return true
	}
	return false
}

// ParseRole matches the exact wire value.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Actor is the caller of a lifecycle operation. It is always passed
// explicitly; ID is uuid.Nil for the system actor.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{Role: RoleSystem}

// IDPtr returns nil for anonymous actors.
func (a Actor) IDPtr() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}
