package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

// ShortageAlertJob logs and counts ledger keys that went negative.
type ShortageAlertJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewShortageAlertJob initialises the alert handler.
func NewShortageAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *ShortageAlertJob {
	return &ShortageAlertJob{Logger: logger, Metrics: metrics}
}

// Handle processes TaskShortageAlert tasks.
func (j *ShortageAlertJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("shortage alert: handler not configured")
	}
	tracker := j.Metrics.Track(TaskShortageAlert)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	alert, err := DecodeShortageAlert(t.Payload())
	if err != nil {
		return fmt.Errorf("shortage alert: decode: %v: %w", err, asynq.SkipRetry)
	}

	logger := j.logger().With(
		slog.String("source_type", string(alert.SourceType)),
		slog.Int64("document_id", alert.DocumentID),
		slog.String("document_code", alert.DocumentCode),
	)
	for _, s := range alert.Shortages {
		logger.Warn("negative stock",
			slog.Int64("branch_id", s.BranchID),
			slog.Int64("item_id", s.ItemID),
			slog.Int64("quantity", s.Quantity),
			slog.Time("detected_at", alert.DetectedAt),
		)
		j.Metrics.AddShortages(string(alert.SourceType), s.BranchID, 1)
	}
	return nil
}

func (j *ShortageAlertJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
