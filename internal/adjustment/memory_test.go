package adjustment

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
	mu          sync.Mutex
	ledger      *ledgertest.Memory
	variants    map[int64]catalog.Variant
	adjustments map[int64]Adjustment
	nextID      int64
	failures    []error
	attempts    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		ledger: ledgertest.New(),
		variants: map[int64]catalog.Variant{
			pcsVariant: {ID: pcsVariant, ItemID: indomieID, Code: "PCS", UnitCode: "PCS", ConversionAmount: 1, SellPrice: decimal.NewFromInt(3000)},
			dusVariant: {ID: dusVariant, ItemID: indomieID, Code: "DUS", UnitCode: "DUS", ConversionAmount: 40, SellPrice: decimal.NewFromInt(110000)},
			tehBotol:   {ID: tehBotol, ItemID: tehID, Code: "BTL", UnitCode: "BTL", ConversionAmount: 1, SellPrice: decimal.NewFromInt(5000)},
		},
		adjustments: map[int64]Adjustment{},
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
		mt := &memoryTx{repo: r, ledger: tx, pending: map[int64]Adjustment{}}
		if err := fn(ctx, mt); err != nil {
			return err
		}
		r.mu.Lock()
		for id, a := range mt.pending {
			r.adjustments[id] = a
		}
		r.mu.Unlock()
		return nil
	})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Adjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adjustments[id]
	if !ok {
		return Adjustment{}, ErrAdjustmentNotFound
	}
	return a, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Adjustment{}
	for _, a := range r.adjustments {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.BranchID > 0 && a.BranchID != filter.BranchID {
			continue
		}
		if filter.ItemID > 0 && a.ItemID != filter.ItemID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memoryTx struct {
	repo    *memoryRepo
	ledger  *ledgertest.Tx
	pending map[int64]Adjustment
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

func (t *memoryTx) InsertAdjustment(ctx context.Context, a Adjustment) (int64, error) {
	t.repo.mu.Lock()
	t.repo.nextID++
	a.ID = t.repo.nextID
	t.repo.mu.Unlock()
	t.pending[a.ID] = a
	return a.ID, nil
}

func (t *memoryTx) LockAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	if a, ok := t.pending[id]; ok {
		return a, nil
	}
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) MarkVoided(ctx context.Context, id, actorID int64, at time.Time) error {
	a, err := t.LockAdjustment(ctx, id)
	if err != nil {
		return err
	}
	a.Status = StatusVoided
	a.VoidedBy = &actorID
	a.VoidedAt = &at
	t.pending[id] = a
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
