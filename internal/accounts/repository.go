package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// ErrNotFound is returned when a principal does not exist. Services decide
// whether that becomes a 404 or, on the login path, an indistinguishable
// credentials failure.
var ErrNotFound = errors.New("accounts: principal not found")

// Repository defines persistence operations for principals.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	GetByID(ctx context.Context, id string) (*Principal, error)
	List(ctx context.Context, filter ListFilter) ([]Principal, int, error)
	Create(ctx context.Context, p Principal) (*Principal, error)
	UpdateProfile(ctx context.Context, id string, name, passwordHash *string) (*Principal, error)
	UpdateRole(ctx context.Context, id string, role capability.Role) (*Principal, error)
	SetActive(ctx context.Context, id string, active bool) (*Principal, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const principalColumns = "id, name, email, password_hash, role, active, created_at, updated_at"

func scanPrincipal(row pgx.Row) (*Principal, error) {
	var p Principal
	var role string
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &role, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := capability.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("accounts: stored role: %w", err)
	}
	p.Role = parsed
	return &p, nil
}

// FindByEmail fetches a principal by its natural key.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetByID fetches a principal by id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Principal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM users WHERE id = $1`, id)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns principals matching the filter plus the unpaged total.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Principal, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", argPos))
		args = append(args, string(*filter.Role))
		argPos++
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", argPos))
		args = append(args, *filter.Active)
		argPos++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM users %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := shared.Window(filter.Page, filter.Per)
	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY email LIMIT $%d OFFSET $%d`,
		principalColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Create inserts a new principal. A duplicate email surfaces as a tagged
// conflict: this is the admin path, where the caller asked for a specific
// email and deserves to know it is taken. Enrollment never takes this path.
func (r *PGRepository) Create(ctx context.Context, p Principal) (*Principal, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 RETURNING `+principalColumns,
		p.ID, p.Name, strings.ToLower(strings.TrimSpace(p.Email)), p.PasswordHash, string(p.Role), p.Active)
	created, err := scanPrincipal(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, shared.Conflict(shared.CodeEmailTaken, "email is already registered")
		}
		return nil, err
	}
	return created, nil
}

// UpdateProfile applies the non-nil fields and bumps updated_at. Role and
// active state are out of reach on this path.
func (r *PGRepository) UpdateProfile(ctx context.Context, id string, name, passwordHash *string) (*Principal, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET name = COALESCE($2, name),
		     password_hash = COALESCE($3, password_hash),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+principalColumns,
		id, name, passwordHash)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// UpdateRole sets the persisted role. Live tokens keep the role they were
// issued with until they expire.
func (r *PGRepository) UpdateRole(ctx context.Context, id string, role capability.Role) (*Principal, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1 RETURNING `+principalColumns,
		id, string(role))
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// SetActive toggles whether the principal can log in.
func (r *PGRepository) SetActive(ctx context.Context, id string, active bool) (*Principal, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET active = $2, updated_at = NOW() WHERE id = $1 RETURNING `+principalColumns,
		id, active)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
