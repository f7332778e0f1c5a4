// Package accounts owns principals: the people who hold tokens. It covers
// credential login, self-service profile updates, and the admin-only user
// management surface. Enrollment creates principals too, but through its own
// transactional workflow, not through this package.
package accounts

import (
	"time"

	"github.com/meridian-lms/meridian-lms/internal/capability"
)

// Principal is a stored account. PasswordHash never serialises.
type Principal struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Role         capability.Role `json:"role"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListFilter captures filtering criteria for listing principals.
type ListFilter struct {
	Role   *capability.Role
	Active *bool
	Search string
	Page   int
	Per    int
}
