package progress

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Service validates and stamps sync submissions before they reach storage.
// It contains no authorization: ownership is the transport layer's check,
// reconciliation works the same no matter who asks.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service. A nil clock defaults to time.Now.
func NewService(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

// SyncInput is one replayed client update. There is deliberately no timestamp
// field: offline clients have unreliable clocks, so ordering is by arrival.
type SyncInput struct {
	SubjectID string
	LessonID  string
	Completed bool
	Score     *int
}

// Sync reconciles one update into storage. The write replaces the whole
// record; replaying the same update any number of times converges on the same
// state, and a retry after an ambiguous timeout is always safe.
func (s *Service) Sync(ctx context.Context, input SyncInput) (*Record, error) {
	if strings.TrimSpace(input.SubjectID) == "" {
		return nil, shared.Validation("subject_id is required")
	}
	if strings.TrimSpace(input.LessonID) == "" {
		return nil, shared.Validation("lesson_id is required")
	}
	if input.Score != nil && (*input.Score < 0 || *input.Score > 100) {
		return nil, shared.Validation("score must be between 0 and 100")
	}

	stored, err := s.repo.Upsert(ctx, Record{
		SubjectID: input.SubjectID,
		LessonID:  input.LessonID,
		Completed: input.Completed,
		Score:     input.Score,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrUnknownReference) {
			return nil, shared.Validation("subject or lesson does not exist")
		}
		return nil, shared.TransientStorage(err)
	}
	return stored, nil
}

// ListForSubject returns every stored record for the subject.
func (s *Service) ListForSubject(ctx context.Context, subjectID string) ([]Record, error) {
	records, err := s.repo.ListForSubject(ctx, subjectID)
	if err != nil {
		return nil, shared.TransientStorage(err)
	}
	return records, nil
}

// Get returns the record for one subject/lesson pair.
func (s *Service) Get(ctx context.Context, subjectID, lessonID string) (*Record, error) {
	rec, err := s.repo.Get(ctx, subjectID, lessonID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.NotFound("no progress recorded for this lesson")
		}
		return nil, shared.TransientStorage(err)
	}
	return rec, nil
}
