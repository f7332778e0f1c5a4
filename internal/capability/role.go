// Package capability decides what a role may do. Everything here is pure:
// fixed tables and comparisons, no storage, no clock, no context.
package capability

import "fmt"

// Role identifies the authority level carried by a principal. Ordering is
// STUDENT < TEACHER < ADMIN and is defined only by rank below.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole maps stored or claimed strings onto the closed role set.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// rank is the single source of role ordering. Unknown roles rank below every
// valid role so comparisons fail closed.
func (r Role) rank() int {
	switch r {
	case RoleStudent:
		return 1
	case RoleTeacher:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// HasMinimumRole reports whether role sits at or above minimum in the
// hierarchy. Unknown roles on either side yield false.
func HasMinimumRole(role, minimum Role) bool {
	if !role.Valid() || !minimum.Valid() {
		return false
	}
	return role.rank() >= minimum.rank()
}
