package jobs

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries stock alerts ahead of maintenance work.
	QueueCritical = "critical"

	// TaskShortageAlert reports ledger keys left negative by a committed document.
	TaskShortageAlert = "stock:shortage_alert"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"

	// IdempotencyCleanupSchedule runs the purge nightly.
	IdempotencyCleanupSchedule = "0 3 * * *"
)

// NewShortageAlertTask encodes alert as a msgpack task payload.
func NewShortageAlertTask(alert ledger.ShortageAlert) (*asynq.Task, error) {
	if len(alert.Shortages) == 0 {
		return nil, fmt.Errorf("jobs: shortage alert for %s has no shortages", alert.DocumentCode)
	}
	body, err := msgpack.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode shortage alert: %w", err)
	}
	return asynq.NewTask(TaskShortageAlert, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	), nil
}

// DecodeShortageAlert reads a payload produced by NewShortageAlertTask.
func DecodeShortageAlert(payload []byte) (ledger.ShortageAlert, error) {
	var alert ledger.ShortageAlert
	if err := msgpack.Unmarshal(payload, &alert); err != nil {
		return ledger.ShortageAlert{}, err
	}
	return alert, nil
}

// IdempotencyCleanupPayload carries scheduling metadata.
type IdempotencyCleanupPayload struct {
	ScheduledFor time.Time `msgpack:"scheduled_for"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := msgpack.Marshal(IdempotencyCleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
