package progress

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no progress record exists for the pair.
var ErrNotFound = errors.New("progress: record not found")

// ErrUnknownReference indicates the subject or lesson does not exist.
var ErrUnknownReference = errors.New("progress: unknown subject or lesson")

// Repository defines persistence operations for progress records.
type Repository interface {
	Upsert(ctx context.Context, rec Record) (*Record, error)
	ListForSubject(ctx context.Context, subjectID string) ([]Record, error)
	Get(ctx context.Context, subjectID, lessonID string) (*Record, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = "subject_id, lesson_id, completed, score, updated_at"

// Upsert writes the full record. The composite key makes replays converge:
// insert when absent, replace every mutable column when present. One
// statement, so two concurrent syncs for the same pair serialize in the
// storage engine and the later commit wins.
func (r *PGRepository) Upsert(ctx context.Context, rec Record) (*Record, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO progress_records (subject_id, lesson_id, completed, score, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subject_id, lesson_id)
		 DO UPDATE SET completed = EXCLUDED.completed, score = EXCLUDED.score, updated_at = EXCLUDED.updated_at
		 RETURNING `+recordColumns,
		rec.SubjectID, rec.LessonID, rec.Completed, rec.Score, rec.UpdatedAt)

	stored, err := scanRecord(row)
	if isForeignKeyViolation(err) {
		return nil, ErrUnknownReference
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *PGRepository) ListForSubject(ctx context.Context, subjectID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM progress_records
		 WHERE subject_id = $1
		 ORDER BY lesson_id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.SubjectID, &rec.LessonID, &rec.Completed, &rec.Score, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *PGRepository) Get(ctx context.Context, subjectID, lessonID string) (*Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+`
		 FROM progress_records
		 WHERE subject_id = $1 AND lesson_id = $2`, subjectID, lessonID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.SubjectID, &rec.LessonID, &rec.Completed, &rec.Score, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var _ Repository = (*PGRepository)(nil)
