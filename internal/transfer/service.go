package transfer

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

const idempotencyModule = "transfer"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Ledger() ledger.Store
	LoadVariants(ctx context.Context, ids []int64) (map[int64]catalog.Variant, error)
	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	LockTransfer(ctx context.Context, id int64) (Transfer, error)
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
	MaxRetries int
}

// Service coordinates stock transfers.
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
	return &Service{
		deps:      deps,
		cfg:       cfg,
		logger:    logger,
		validator: shared.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and commits a transfer. Every line's deltas apply in one transaction; on any
// failure the ledger is left untouched.
func (s *Service) Create(ctx context.Context, actorID int64, idempotencyKey string, req CreateRequest) (Result, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Result{}, err
	}
	if req.FromBranchID == req.ToBranchID {
		return Result{}, ErrSameBranch
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

	release, err := s.acquire(ctx, requestLockKeys(req)...)
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
	}, s.onRetry("transfer.create"))
	if err != nil {
		rollbackKey()
		return Result{}, err
	}

	s.deps.Metrics.TransferRecorded("create")
	s.record(ctx, actorID, "transfer:create", result.Transfer, map[string]any{
		"from_branch_id": result.Transfer.FromBranchID,
		"to_branch_id":   result.Transfer.ToBranchID,
		"lines":          len(result.Transfer.Lines),
	})
	s.alert(ctx, ledger.SourceTransferOut, result)
	return result, nil
}

func (s *Service) commit(ctx context.Context, actorID int64, txDate time.Time, req CreateRequest) (Result, error) {
	var result Result
	err := s.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := make([]int64, 0, len(req.Lines))
		for _, l := range req.Lines {
			ids = append(ids, l.VariantID)
		}
		variants, err := tx.LoadVariants(ctx, ids)
		if err != nil {
			return err
		}

		now := s.now()
		t := Transfer{
			Code:            newCode(txDate),
			TransactionDate: txDate,
			FromBranchID:    req.FromBranchID,
			ToBranchID:      req.ToBranchID,
			Notes:           strings.TrimSpace(req.Notes),
			Status:          StatusCommitted,
			CreatedBy:       actorID,
			CreatedAt:       now,
		}
		for i, l := range req.Lines {
			v, err := catalog.ResolveLine(variants, l.ItemID, l.VariantID)
			if err != nil {
				return lineError(i, err)
			}
			base, err := catalog.ConvertToBase(l.Qty, v)
			if err != nil {
				return lineError(i, err)
			}
			t.Lines = append(t.Lines, Line{
				LineOrder:        i + 1,
				ItemID:           l.ItemID,
				VariantID:        l.VariantID,
				Qty:              l.Qty,
				ConversionAmount: v.ConversionAmount,
				BaseQty:          base,
			})
		}

		batch, err := ledger.Begin(ctx, tx.Ledger(), t.LedgerKeys()...)
		if err != nil {
			return err
		}
		id, err := tx.InsertTransfer(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id
		for i := range t.Lines {
			t.Lines[i].TransferID = id
		}
		if err := applyLines(batch, t, 1, ledger.SourceTransferOut, ledger.SourceTransferIn); err != nil {
			return err
		}
		if err := batch.Commit(ctx, now); err != nil {
			return err
		}
		result = Result{Transfer: t, Shortages: batch.Shortages()}
		return nil
	})
	return result, err
}

// Void reverses every line of a committed transfer and marks it voided.
func (s *Service) Void(ctx context.Context, actorID, id int64) (Result, error) {
	if id <= 0 {
		return Result{}, ErrTransferNotFound
	}
	release, err := s.acquire(ctx, shared.DocumentLockKey("transfer", id))
	if err != nil {
		return Result{}, err
	}
	defer release(ctx)

	var result Result
	err = db.Retry(ctx, s.cfg.MaxRetries, func(ctx context.Context) error {
		return s.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			t, err := tx.LockTransfer(ctx, id)
			if err != nil {
				return err
			}
			if !t.Status.CanVoid() {
				return ErrAlreadyVoided
			}
			batch, err := ledger.Begin(ctx, tx.Ledger(), t.LedgerKeys()...)
			if err != nil {
				return err
			}
			if err := applyLines(batch, t, -1, ledger.SourceTransferVoid, ledger.SourceTransferVoid); err != nil {
				return err
			}
			now := s.now()
			if err := batch.Commit(ctx, now); err != nil {
				return err
			}
			if err := tx.MarkVoided(ctx, id, actorID, now); err != nil {
				return err
			}
			t.Status = StatusVoided
			t.VoidedBy = &actorID
			t.VoidedAt = &now
			result = Result{Transfer: t, Shortages: batch.Shortages()}
			return nil
		})
	}, s.onRetry("transfer.void"))
	if err != nil {
		return Result{}, err
	}

	s.deps.Metrics.TransferRecorded("void")
	s.record(ctx, actorID, "transfer:void", result.Transfer, nil)
	s.alert(ctx, ledger.SourceTransferVoid, result)
	return result, nil
}

// Get returns a transfer with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.deps.Repo.Get(ctx, id)
}

// List returns a page of transfers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	if filter.Status != "" && filter.Status != StatusCommitted && filter.Status != StatusVoided {
		return nil, 0, ErrInvalidStatus
	}
	filter.Page, filter.Limit = shared.NormalizePage(filter.Page, filter.Limit)
	return s.deps.Repo.List(ctx, filter)
}

// applyLines moves every line out of the source and into the destination. sign -1 reverses.
func applyLines(batch *ledger.Batch, t Transfer, sign int64, outType, inType ledger.SourceType) error {
	for _, l := range t.Lines {
		from := ledger.Key{BranchID: t.FromBranchID, ItemID: l.ItemID}
		to := ledger.Key{BranchID: t.ToBranchID, ItemID: l.ItemID}
		if _, err := batch.Apply(from, -sign*l.BaseQty, ledger.Source{Type: outType, ID: t.ID, Note: t.Code}); err != nil {
			return err
		}
		if _, err := batch.Apply(to, sign*l.BaseQty, ledger.Source{Type: inType, ID: t.ID, Note: t.Code}); err != nil {
			return err
		}
	}
	return nil
}

func checkDuplicateLines(lines []LineRequest) error {
	seen := make(map[int64]int, len(lines))
	for i, l := range lines {
		if first, ok := seen[l.VariantID]; ok {
			return fmt.Errorf("%w: lines %d and %d both move variant %d", ErrDuplicateLine, first+1, i+1, l.VariantID)
		}
		seen[l.VariantID] = i
	}
	return nil
}

func requestLockKeys(req CreateRequest) []string {
	keys := make([]string, 0, len(req.Lines)*2)
	for _, l := range req.Lines {
		keys = append(keys, shared.LedgerLockKey(req.FromBranchID, l.ItemID), shared.LedgerLockKey(req.ToBranchID, l.ItemID))
	}
	return keys
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

func (s *Service) record(ctx context.Context, actorID int64, action string, t Transfer, meta map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["code"] = t.Code
	if err := s.deps.Audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: strconv.FormatInt(t.ID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) alert(ctx context.Context, source ledger.SourceType, result Result) {
	if len(result.Shortages) == 0 {
		return
	}
	s.deps.Metrics.ShortagesObserved(len(result.Shortages))
	s.logger.Warn("transfer left negative stock",
		slog.String("code", result.Transfer.Code),
		slog.Int("keys", len(result.Shortages)))
	if s.deps.Alerts == nil {
		return
	}
	err := s.deps.Alerts.EnqueueShortageAlert(ctx, ledger.ShortageAlert{
		SourceType:   source,
		DocumentID:   result.Transfer.ID,
		DocumentCode: result.Transfer.Code,
		Shortages:    result.Shortages,
		DetectedAt:   s.now(),
	})
	if err != nil {
		s.logger.Warn("enqueue shortage alert failed", slog.String("code", result.Transfer.Code), slog.Any("error", err))
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
	return fmt.Sprintf("TRF-%s-%s", date.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
