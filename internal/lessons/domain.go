// Package lessons owns the content catalog: the ordered set of lessons that
// progress records point at and enrollment initializes against. Reads are
// cache-backed; every mutation bumps the cache version.
package lessons

import "time"

// Lesson is a catalog entry. Slug is derived from the title and unique.
type Lesson struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
