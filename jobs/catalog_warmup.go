package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-lms/meridian-lms/internal/jobs"
	"github.com/meridian-lms/meridian-lms/internal/lessons"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// TaskCatalogWarmup pre-populates the lesson catalog cache.
	TaskCatalogWarmup = "lessons:warmup"
)

// CatalogWarmupPayload carries scheduling metadata.
type CatalogWarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCatalogWarmupTask constructs an Asynq task for catalog cache warmup.
func NewCatalogWarmupTask(at time.Time) (*asynq.Task, error) {
	payload := CatalogWarmupPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogWarmup, body, asynq.Queue(QueueDefault)), nil
}

// CatalogWarmupJob re-reads the lesson list so the shared cache is hot before
// the morning traffic peak. Listing through the service repopulates the
// current cache generation.
type CatalogWarmupJob struct {
	Lessons *lessons.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCatalogWarmupJob wires dependencies for the warmup handler.
func NewCatalogWarmupJob(lessonsSvc *lessons.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogWarmupJob {
	return &CatalogWarmupJob{
		Lessons: lessonsSvc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes catalog warmup tasks.
func (j *CatalogWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("catalog warmup: handler not configured")
	}
	var payload CatalogWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCatalogWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Lessons == nil {
		resultErr = errors.New("catalog warmup: lesson service not configured")
		return resultErr
	}

	warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := j.now()
	list, err := j.Lessons.List(warmCtx)
	if err != nil {
		resultErr = err
		j.logger().Error("warm catalog", slog.Any("error", err))
		return resultErr
	}

	j.logger().Info("completed catalog warmup",
		slog.Int("lessons", len(list)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *CatalogWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCatalogWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCatalogWarmup))
}

func (j *CatalogWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CatalogWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
