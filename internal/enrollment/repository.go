package enrollment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/accounts"
	"github.com/meridian-lms/meridian-lms/internal/platform/db"
)

// TxRepository exposes the three workflow steps inside one transaction.
type TxRepository interface {
	// UpsertPrincipal inserts the principal or, when the email already
	// exists, refreshes name and password hash. Role and active are never
	// touched on the update arm, so re-enrolling cannot demote a teacher or
	// resurrect a deactivated account.
	UpsertPrincipal(ctx context.Context, p accounts.Principal) (*accounts.Principal, error)
	// LessonIDs returns every catalog id in position order.
	LessonIDs(ctx context.Context) ([]string, error)
	// InitProgress creates missing progress rows for the subject and reports
	// how many were actually inserted. Existing rows are left untouched.
	InitProgress(ctx context.Context, subjectID string, lessonIDs []string) (int, error)
}

// Repository runs a unit of work transactionally.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) UpsertPrincipal(ctx context.Context, p accounts.Principal) (*accounts.Principal, error) {
	row := r.tx.QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'STUDENT', TRUE, now(), now())
		 ON CONFLICT (email)
		 DO UPDATE SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash, updated_at = now()
		 RETURNING id, name, email, password_hash, role, active, created_at, updated_at`,
		p.ID, p.Name, p.Email, p.PasswordHash)

	var stored accounts.Principal
	if err := row.Scan(&stored.ID, &stored.Name, &stored.Email, &stored.PasswordHash,
		&stored.Role, &stored.Active, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *pgTxRepository) LessonIDs(ctx context.Context) ([]string, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM lessons ORDER BY position, slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *pgTxRepository) InitProgress(ctx context.Context, subjectID string, lessonIDs []string) (int, error) {
	if len(lessonIDs) == 0 {
		return 0, nil
	}
	tag, err := r.tx.Exec(ctx,
		`INSERT INTO progress_records (subject_id, lesson_id, completed, score, updated_at)
		 SELECT $1, lesson_id, FALSE, NULL, now()
		 FROM unnest($2::uuid[]) AS lesson_id
		 ON CONFLICT (subject_id, lesson_id) DO NOTHING`,
		subjectID, lessonIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ Repository = (*PGRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)
