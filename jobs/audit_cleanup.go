package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-lms/meridian-lms/internal/jobs"
)

const (
	// TaskAuditCleanup prunes authorization audit rows past retention.
	TaskAuditCleanup = "audit:cleanup"
)

// AuditCleanupPayload bounds the retention window for one cleanup pass.
type AuditCleanupPayload struct {
	RetainDays int `json:"retain_days"`
}

// NewAuditCleanupTask constructs an Asynq task for audit retention cleanup.
func NewAuditCleanupTask(retainDays int) (*asynq.Task, error) {
	payload := AuditCleanupPayload{RetainDays: retainDays}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditCleanup, body, asynq.Queue(QueueDefault)), nil
}

// AuditRetention describes the behaviour required to prune old decision rows.
type AuditRetention interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AuditCleanupJob removes authorization decisions older than the retention
// window. Decision rows keep growing with every guarded request, so the
// worker runs this nightly.
type AuditCleanupJob struct {
	Audit   AuditRetention
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditCleanupJob wires dependencies for the cleanup handler.
func NewAuditCleanupJob(audit AuditRetention, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditCleanupJob {
	return &AuditCleanupJob{Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle executes one retention pass.
func (j *AuditCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("audit cleanup: handler not configured")
	}
	var payload AuditCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetainDays <= 0 {
		payload.RetainDays = 90
	}

	tracker := j.metrics().Track(TaskAuditCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Audit == nil {
		resultErr = errors.New("audit cleanup: retention store not configured")
		return resultErr
	}

	logger := j.logger().With(slog.Int("retain_days", payload.RetainDays))
	start := time.Now()
	purged, err := j.Audit.Cleanup(ctx, time.Duration(payload.RetainDays)*24*time.Hour)
	if err != nil {
		resultErr = err
		logger.Error("cleanup failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPurgedAuditRows(purged)

	logger.Info("completed audit cleanup",
		slog.Int64("purged", purged),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AuditCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditCleanup))
	}
	return slog.Default().With(slog.String("job", TaskAuditCleanup))
}

func (j *AuditCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
