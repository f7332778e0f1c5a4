package lessons

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Service wraps catalog business rules over the repository and cache.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	flight singleflight.Group
}

// NewService constructs a new Service. Cache may be nil; reads then always go
// to the repository.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns the catalog in position order. The cached value is shared by
// every caller; concurrent fills for the same key collapse into one load.
func (s *Service) List(ctx context.Context) ([]Lesson, error) {
	key, err := s.cache.BuildKey(ctx, keyList()...)
	if err != nil {
		s.logger.Warn("lesson cache unavailable, loading direct", slog.Any("error", err))
		return s.listDirect(ctx)
	}

	ch := s.flight.DoChan(key, func() (any, error) {
		var lessons []Lesson
		if err := s.cache.FetchJSON(ctx, key, &lessons, func(ctx context.Context) (any, error) {
			return s.repo.List(ctx)
		}); err != nil {
			return nil, err
		}
		return lessons, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, shared.TransientStorage(res.Err)
		}
		return res.Val.([]Lesson), nil
	}
}

func (s *Service) listDirect(ctx context.Context) ([]Lesson, error) {
	lessons, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.TransientStorage(err)
	}
	return lessons, nil
}

// Get returns a lesson by id, bypassing the cache.
func (s *Service) Get(ctx context.Context, id string) (*Lesson, error) {
	lesson, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.NotFound("lesson does not exist")
		}
		return nil, shared.TransientStorage(err)
	}
	return lesson, nil
}

// CreateInput carries a new catalog entry.
type CreateInput struct {
	Title    string
	Position int
}

// Create inserts a lesson and invalidates the catalog cache.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Lesson, error) {
	title := strings.TrimSpace(input.Title)
	slug := Slugify(title)
	if slug == "" {
		return nil, shared.Validation("title must contain at least one letter or digit")
	}

	created, err := s.repo.Create(ctx, Lesson{
		ID:       uuid.NewString(),
		Title:    title,
		Slug:     slug,
		Position: input.Position,
	})
	if err != nil {
		return nil, s.storageError(err)
	}
	s.bump(ctx)
	return created, nil
}

// UpdateInput carries catalog entry changes. Nil fields keep current values.
type UpdateInput struct {
	Title    *string
	Position *int
}

// Update rewrites a lesson and invalidates the catalog cache. A title change
// re-derives the slug.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*Lesson, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storageError(err)
	}

	title, slug, position := current.Title, current.Slug, current.Position
	if input.Title != nil {
		title = strings.TrimSpace(*input.Title)
		slug = Slugify(title)
		if slug == "" {
			return nil, shared.Validation("title must contain at least one letter or digit")
		}
	}
	if input.Position != nil {
		position = *input.Position
	}

	updated, err := s.repo.Update(ctx, id, title, slug, position)
	if err != nil {
		return nil, s.storageError(err)
	}
	s.bump(ctx)
	return updated, nil
}

// Delete removes a lesson and invalidates the catalog cache. Progress rows
// pointing at it go with it (FK cascade).
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.storageError(err)
	}
	s.bump(ctx)
	return nil
}

func (s *Service) bump(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("lesson cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) storageError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return shared.NotFound("lesson does not exist")
	}
	var tagged *shared.Error
	if errors.As(err, &tagged) {
		return err
	}
	return shared.TransientStorage(err)
}
