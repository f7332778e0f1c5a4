package lessons

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// ErrNotFound indicates the lesson does not exist.
var ErrNotFound = errors.New("lessons: lesson not found")

// Repository defines persistence operations for the catalog.
type Repository interface {
	List(ctx context.Context) ([]Lesson, error)
	GetByID(ctx context.Context, id string) (*Lesson, error)
	Create(ctx context.Context, l Lesson) (*Lesson, error)
	Update(ctx context.Context, id string, title, slug string, position int) (*Lesson, error)
	Delete(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const lessonColumns = "id, title, slug, position, created_at, updated_at"

func scanLesson(row pgx.Row) (*Lesson, error) {
	var l Lesson
	if err := row.Scan(&l.ID, &l.Title, &l.Slug, &l.Position, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PGRepository) List(ctx context.Context) ([]Lesson, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lessonColumns+` FROM lessons ORDER BY position, slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.Title, &l.Slug, &l.Position, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lessons, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (*Lesson, error) {
	lesson, err := scanLesson(r.pool.QueryRow(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return lesson, nil
}

func (r *PGRepository) Create(ctx context.Context, l Lesson) (*Lesson, error) {
	created, err := scanLesson(r.pool.QueryRow(ctx,
		`INSERT INTO lessons (id, title, slug, position, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 RETURNING `+lessonColumns,
		l.ID, l.Title, l.Slug, l.Position))
	if isUniqueViolation(err) {
		return nil, shared.Conflict(shared.CodeSlugTaken, "a lesson with this slug already exists")
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PGRepository) Update(ctx context.Context, id string, title, slug string, position int) (*Lesson, error) {
	updated, err := scanLesson(r.pool.QueryRow(ctx,
		`UPDATE lessons
		 SET title = $2, slug = $3, position = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+lessonColumns,
		id, title, slug, position))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if isUniqueViolation(err) {
		return nil, shared.Conflict(shared.CodeSlugTaken, "a lesson with this slug already exists")
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
