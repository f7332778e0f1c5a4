package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Decision outcomes recorded for every gateway evaluation.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// DecisionLog represents a record stored in auth_audit. SubjectID and Role are
// empty when the request carried no verifiable identity.
type DecisionLog struct {
	SubjectID string
	Role      string
	Decision  string
	Code      string
	Path      string
	At        time.Time
}

// AuditLogger writes gateway decisions into auth_audit.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the decision entry.
func (l *AuditLogger) Record(ctx context.Context, log DecisionLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Decision != DecisionAllow && log.Decision != DecisionDeny {
		return errors.New("audit log requires a decision of allow or deny")
	}
	if log.Decision == DecisionAllow && log.SubjectID == "" {
		return errors.New("audit log for allow requires subject_id")
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO auth_audit (subject_id, role, decision, code, path, occurred_at)
		 VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, COALESCE($6, NOW()))`,
		log.SubjectID, log.Role, log.Decision, log.Code, log.Path, at)
	return err
}

// Cleanup removes decisions older than retention. Run from the worker cron.
func (l *AuditLogger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if l == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := l.pool.Exec(ctx, `DELETE FROM auth_audit WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
