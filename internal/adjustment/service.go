package adjustment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const idempotencyModule = "adjustment"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Adjustment, error)
	List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Ledger() ledger.Store
	LoadVariants(ctx context.Context, ids []int64) (map[int64]catalog.Variant, error)
	InsertAdjustment(ctx context.Context, a Adjustment) (int64, error)
	LockAdjustment(ctx context.Context, id int64) (Adjustment, error)
	MarkVoided(ctx context.Context, id, actorID int64, at time.Time) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards create submissions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Locker serializes submissions across instances before the database transaction starts.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (lock.Release, error)
}

// AlertPort receives shortage alerts after commit.
type AlertPort interface {
	EnqueueShortageAlert(ctx context.Context, alert ledger.ShortageAlert) error
}

// Dependencies groups collaborators; only Repo is required.
type Dependencies struct {
	Repo        RepositoryPort
	Idempotency IdempotencyPort
	Locker      Locker
	Audit       AuditPort
	Alerts      AlertPort
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	MaxRetries    int
	ZeroGapPolicy ZeroGapPolicy
}

// Result is returned by Create.
type Result struct {
	BatchCode   string            `json:"batch_code"`
	Adjustments []Adjustment      `json:"adjustments"`
	Skipped     int               `json:"skipped_zero_gap,omitempty"`
	Shortages   []ledger.Shortage `json:"shortages,omitempty"`
}

// VoidResult is returned by Void.
type VoidResult struct {
	Adjustment Adjustment        `json:"adjustment"`
	Shortages  []ledger.Shortage `json:"shortages,omitempty"`
}

// Service coordinates stock-take adjustments.
type Service struct {
	deps      Dependencies
	cfg       ServiceConfig
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService builds Service.
func NewService(deps Dependencies, cfg ServiceConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ZeroGapPolicy == "" {
		cfg.ZeroGapPolicy = ZeroGapPersist
	}
	return &Service{
		deps:      deps,
		cfg:       cfg,
		logger:    logger,
		validator: shared.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create records one adjustment per counted line and moves the ledger to the counted quantity.
// Lines apply in order, so a later line of the same item sees the result of the earlier one.
func (s *Service) Create(ctx context.Context, actorID int64, idempotencyKey string, req CreateRequest) (Result, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Result{}, err
	}
	if err := checkDuplicateLines(req.Lines); err != nil {
		return Result{}, err
	}
	txDate, err := parseDate(req.TransactionDate, s.now())
	if err != nil {
		return Result{}, err
	}
	key, err := shared.ParseIdempotencyKey(idempotencyKey)
	if err != nil {
		return Result{}, err
	}
	if key != "" && s.deps.Idempotency != nil {
		if err := s.deps.Idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return Result{}, err
		}
	}
	rollbackKey := func() {
		if key != "" && s.deps.Idempotency != nil {
			_ = s.deps.Idempotency.Delete(ctx, key, idempotencyModule)
		}
	}

	lockKeys := make([]string, 0, len(req.Lines))
	for _, l := range req.Lines {
		lockKeys = append(lockKeys, shared.LedgerLockKey(req.BranchID, l.ItemID))
	}
	release, err := s.acquire(ctx, lockKeys...)
	if err != nil {
		rollbackKey()
		return Result{}, err
	}
	defer release(ctx)

	var result Result
	err = db.Retry(ctx, s.cfg.MaxRetries, func(ctx context.Context) error {
		var err error
		result, err = s.commit(ctx, actorID, txDate, req)
		return err
	}, s.onRetry("adjustment.create"))
	if err != nil {
		rollbackKey()
		return Result{}, err
	}

	for _, a := range result.Adjustments {
		s.deps.Metrics.AdjustmentRecorded("create", a.TotalGapAmount)
		s.record(ctx, actorID, "adjustment:create", a, map[string]any{
			"before_amount":    a.BeforeAmount,
			"final_amount":     a.FinalAmount,
			"total_gap_amount": a.TotalGapAmount,
		})
	}
	s.alert(ctx, ledger.SourceAdjustment, 0, result.BatchCode, result.Shortages)
	return result, nil
}

func (s *Service) commit(ctx context.Context, actorID int64, txDate time.Time, req CreateRequest) (Result, error) {
	var result Result
	err := s.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := make([]int64, 0, len(req.Lines))
		keys := make([]ledger.Key, 0, len(req.Lines))
		for _, l := range req.Lines {
			ids = append(ids, l.VariantID)
			keys = append(keys, ledger.Key{BranchID: req.BranchID, ItemID: l.ItemID})
		}
		variants, err := tx.LoadVariants(ctx, ids)
		if err != nil {
			return err
		}
		batch, err := ledger.Begin(ctx, tx.Ledger(), keys...)
		if err != nil {
			return err
		}

		now := s.now()
		result = Result{BatchCode: newCode(txDate), Adjustments: []Adjustment{}}
		for i, l := range req.Lines {
			v, err := catalog.ResolveLine(variants, l.ItemID, l.VariantID)
			if err != nil {
				return lineError(i, err)
			}
			final, err := catalog.ConvertToBase(l.ActualQty, v)
			if err != nil {
				return lineError(i, err)
			}
			key := ledger.Key{BranchID: req.BranchID, ItemID: l.ItemID}
			before, err := batch.Quantity(key)
			if err != nil {
				return err
			}
			gap, err := ledger.Difference(final, before)
			if err != nil {
				return lineError(i, err)
			}
			if gap == 0 && s.cfg.ZeroGapPolicy == ZeroGapSkip {
				result.Skipped++
				continue
			}
			a := Adjustment{
				Code:             fmt.Sprintf("%s-%02d", result.BatchCode, len(result.Adjustments)+1),
				BatchCode:        result.BatchCode,
				TransactionDate:  txDate,
				BranchID:         req.BranchID,
				ItemID:           l.ItemID,
				VariantID:        l.VariantID,
				ActualQty:        l.ActualQty,
				ConversionAmount: v.ConversionAmount,
				BeforeAmount:     before,
				FinalAmount:      final,
				TotalGapAmount:   gap,
				Notes:            strings.TrimSpace(req.Notes),
				Status:           StatusCommitted,
				CreatedBy:        actorID,
				CreatedAt:        now,
			}
			if a.ID, err = tx.InsertAdjustment(ctx, a); err != nil {
				return err
			}
			if _, err := batch.Apply(key, gap, ledger.Source{Type: ledger.SourceAdjustment, ID: a.ID, Note: a.Code}); err != nil {
				return err
			}
			result.Adjustments = append(result.Adjustments, a)
		}
		if err := batch.Commit(ctx, now); err != nil {
			return err
		}
		result.Shortages = batch.Shortages()
		return nil
	})
	return result, err
}

// Void subtracts the recorded gap from the ledger and marks the record voided. The reversal is
// a delta: movements posted after the adjustment are kept.
func (s *Service) Void(ctx context.Context, actorID, id int64) (VoidResult, error) {
	if id <= 0 {
		return VoidResult{}, ErrAdjustmentNotFound
	}
	release, err := s.acquire(ctx, shared.DocumentLockKey("adjustment", id))
	if err != nil {
		return VoidResult{}, err
	}
	defer release(ctx)

	var result VoidResult
	err = db.Retry(ctx, s.cfg.MaxRetries, func(ctx context.Context) error {
		return s.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			a, err := tx.LockAdjustment(ctx, id)
			if err != nil {
				return err
			}
			if !a.Status.CanVoid() {
				return ErrAlreadyVoided
			}
			key := ledger.Key{BranchID: a.BranchID, ItemID: a.ItemID}
			batch, err := ledger.Begin(ctx, tx.Ledger(), key)
			if err != nil {
				return err
			}
			if _, err := batch.Apply(key, -a.TotalGapAmount, ledger.Source{Type: ledger.SourceAdjustmentVoid, ID: a.ID, Note: a.Code}); err != nil {
				return err
			}
			now := s.now()
			if err := batch.Commit(ctx, now); err != nil {
				return err
			}
			if err := tx.MarkVoided(ctx, id, actorID, now); err != nil {
				return err
			}
			a.Status = StatusVoided
			a.VoidedBy = &actorID
			a.VoidedAt = &now
			result = VoidResult{Adjustment: a, Shortages: batch.Shortages()}
			return nil
		})
	}, s.onRetry("adjustment.void"))
	if err != nil {
		return VoidResult{}, err
	}

	s.deps.Metrics.AdjustmentRecorded("void", result.Adjustment.TotalGapAmount)
	s.record(ctx, actorID, "adjustment:void", result.Adjustment, nil)
	s.alert(ctx, ledger.SourceAdjustmentVoid, result.Adjustment.ID, result.Adjustment.Code, result.Shortages)
	return result, nil
}

// Get returns one adjustment record.
func (s *Service) Get(ctx context.Context, id int64) (Adjustment, error) {
	return s.deps.Repo.Get(ctx, id)
}

// List returns a page of adjustment records.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error) {
	if filter.Status != "" && filter.Status != StatusCommitted && filter.Status != StatusVoided {
		return nil, 0, ErrInvalidStatus
	}
	filter.Page, filter.Limit = shared.NormalizePage(filter.Page, filter.Limit)
	return s.deps.Repo.List(ctx, filter)
}

func checkDuplicateLines(lines []LineRequest) error {
	seen := make(map[int64]int, len(lines))
	for i, l := range lines {
		if first, ok := seen[l.VariantID]; ok {
			return fmt.Errorf("%w: lines %d and %d both count variant %d", ErrDuplicateLine, first+1, i+1, l.VariantID)
		}
		seen[l.VariantID] = i
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, keys ...string) (lock.Release, error) {
	if s.deps.Locker == nil {
		return func(context.Context) {}, nil
	}
	return s.deps.Locker.Acquire(ctx, keys...)
}

func (s *Service) onRetry(operation string) func(int, error) {
	return func(attempt int, err error) {
		s.deps.Metrics.TxRetried(operation)
		s.logger.Warn("retrying submission", slog.String("operation", operation), slog.Int("attempt", attempt), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, a Adjustment, meta map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["code"] = a.Code
	meta["branch_id"] = a.BranchID
	meta["item_id"] = a.ItemID
	if err := s.deps.Audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_adjustment",
		EntityID: strconv.FormatInt(a.ID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) alert(ctx context.Context, source ledger.SourceType, docID int64, code string, shortages []ledger.Shortage) {
	if len(shortages) == 0 {
		return
	}
	s.deps.Metrics.ShortagesObserved(len(shortages))
	s.logger.Warn("adjustment left negative stock", slog.String("code", code), slog.Int("keys", len(shortages)))
	if s.deps.Alerts == nil {
		return
	}
	err := s.deps.Alerts.EnqueueShortageAlert(ctx, ledger.ShortageAlert{
		SourceType:   source,
		DocumentID:   docID,
		DocumentCode: code,
		Shortages:    shortages,
		DetectedAt:   s.now(),
	})
	if err != nil {
		s.logger.Warn("enqueue shortage alert failed", slog.String("code", code), slog.Any("error", err))
	}
}

func lineError(index int, err error) error {
	return fmt.Errorf("line %d: %w", index+1, err)
}

func parseDate(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Truncate(24 * time.Hour), nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, shared.Validation(shared.CodeInvalidInput, "transaction_date must be YYYY-MM-DD")
	}
	return d, nil
}

func newCode(date time.Time) string {
	return fmt.Sprintf("ADJ-%s-%s", date.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
