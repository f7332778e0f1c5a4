// Package progress is the reconciliation engine for per-lesson progress.
// Clients work offline and replay queued updates whenever they reconnect, in
// any order, any number of times. Every write is a full-record upsert keyed by
// (subject, lesson); the last committed write wins and the server clock is the
// only timestamp.
package progress

import "time"

// Record is the stored progress state for one subject on one lesson. Score is
// optional; UpdatedAt is assigned by the server at write time, never taken
// from the client.
type Record struct {
	SubjectID string    `json:"subject_id"`
	LessonID  string    `json:"lesson_id"`
	Completed bool      `json:"completed"`
	Score     *int      `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}
