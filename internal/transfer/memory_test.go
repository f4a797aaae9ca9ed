package transfer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const (
	indomieID  = int64(42)
	pcsVariant = int64(1)
	dusVariant = int64(2)
	tehID      = int64(43)
	tehBotol   = int64(3)
)

type memoryRepo struct {
	mu        sync.Mutex
	ledger    *ledgertest.Memory
	variants  map[int64]catalog.Variant
	transfers map[int64]Transfer
	nextID    int64
	// failures are returned by WithTx before running fn, one per call.
	failures []error
	attempts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		ledger: ledgertest.New(),
		variants: map[int64]catalog.Variant{
			pcsVariant: {ID: pcsVariant, ItemID: indomieID, Code: "PCS", UnitCode: "PCS", ConversionAmount: 1, SellPrice: decimal.NewFromInt(3000)},
			dusVariant: {ID: dusVariant, ItemID: indomieID, Code: "DUS", UnitCode: "DUS", ConversionAmount: 40, SellPrice: decimal.NewFromInt(110000)},
			tehBotol:   {ID: tehBotol, ItemID: tehID, Code: "BTL", UnitCode: "BTL", ConversionAmount: 1, SellPrice: decimal.NewFromInt(5000)},
		},
		transfers: map[int64]Transfer{},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	r.attempts++
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	return r.ledger.Run(func(tx *ledgertest.Tx) error {
		mt := &memoryTx{repo: r, ledger: tx, pending: map[int64]Transfer{}}
		if err := fn(ctx, mt); err != nil {
			return err
		}
		r.mu.Lock()
		for id, t := range mt.pending {
			r.transfers[id] = t
		}
		r.mu.Unlock()
		return nil
	})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return t, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Transfer{}
	for _, t := range r.transfers {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.BranchID > 0 && t.FromBranchID != filter.BranchID && t.ToBranchID != filter.BranchID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memoryTx struct {
	repo    *memoryRepo
	ledger  *ledgertest.Tx
	pending map[int64]Transfer
}

func (t *memoryTx) Ledger() ledger.Store {
	return t.ledger
}

func (t *memoryTx) LoadVariants(ctx context.Context, ids []int64) (map[int64]catalog.Variant, error) {
	out := map[int64]catalog.Variant{}
	for _, id := range ids {
		if v, ok := t.repo.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (t *memoryTx) InsertTransfer(ctx context.Context, tr Transfer) (int64, error) {
	t.repo.mu.Lock()
	t.repo.nextID++
	id := t.repo.nextID
	t.repo.mu.Unlock()
	tr.ID = id
	for i := range tr.Lines {
		tr.Lines[i].TransferID = id
	}
	t.pending[id] = tr
	return id, nil
}

func (t *memoryTx) LockTransfer(ctx context.Context, id int64) (Transfer, error) {
	if tr, ok := t.pending[id]; ok {
		return tr, nil
	}
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) MarkVoided(ctx context.Context, id, actorID int64, at time.Time) error {
	tr, err := t.LockTransfer(ctx, id)
	if err != nil {
		return err
	}
	tr.Status = StatusVoided
	tr.VoidedBy = &actorID
	tr.VoidedAt = &at
	t.pending[id] = tr
	return nil
}

type idempotencySpy struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newIdempotencySpy() *idempotencySpy {
	return &idempotencySpy{keys: map[string]bool{}}
}

func (s *idempotencySpy) CheckAndInsert(ctx context.Context, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[module+":"+key] = true
	return nil
}

func (s *idempotencySpy) Delete(ctx context.Context, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, module+":"+key)
	return nil
}

type alertSpy struct {
	alerts []ledger.ShortageAlert
}

func (a *alertSpy) EnqueueShortageAlert(ctx context.Context, alert ledger.ShortageAlert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

type auditSpy struct {
	actions []string
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}
