// Package ledgertest provides an in-memory ledger store with transactional semantics for tests.
package ledgertest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

// ErrInjected is returned by a Tx whose key was marked with FailOn.
var ErrInjected = errors.New("ledgertest: injected failure")

// Memory is a ledger backed by maps. Only one Tx runs at a time, which mirrors row locking
// for the purposes of tests.
type Memory struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	entries   map[ledger.Key]ledger.Entry
	movements []ledger.Movement
	failOn    map[ledger.Key]bool
}

// New returns an empty Memory.
func New() *Memory {
	return &Memory{entries: map[ledger.Key]ledger.Entry{}, failOn: map[ledger.Key]bool{}}
}

// Seed sets the quantity of key without recording a movement.
func (m *Memory) Seed(key ledger.Key, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = ledger.Entry{BranchID: key.BranchID, ItemID: key.ItemID, Quantity: qty}
}

// FailOn makes every later Upsert of key fail with ErrInjected.
func (m *Memory) FailOn(key ledger.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[key] = true
}

// Quantity returns the committed quantity of key.
func (m *Memory) Quantity(key ledger.Key) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[key].Quantity
}

// AllMovements returns every committed movement in posting order.
func (m *Memory) AllMovements() []ledger.Movement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.Movement(nil), m.movements...)
}

// Get implements ledger.Reader.
func (m *Memory) Get(ctx context.Context, key ledger.Key) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

// ListByItem implements ledger.Reader.
func (m *Memory) ListByItem(ctx context.Context, itemID int64) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ledger.Entry{}
	for k, e := range m.entries {
		if k.ItemID == itemID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BranchID < out[j].BranchID })
	return out, nil
}

// Movements implements ledger.Reader, newest first.
func (m *Memory) Movements(ctx context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ledger.Movement{}
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if mv.BranchID != filter.BranchID || mv.ItemID != filter.ItemID {
			continue
		}
		if !filter.From.IsZero() && mv.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !mv.PostedAt.Before(filter.To) {
			continue
		}
		out = append(out, mv)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Begin starts a transaction working on a private copy. It blocks while another Tx is open.
func (m *Memory) Begin() *Tx {
	m.txMu.Lock()
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make(map[ledger.Key]ledger.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = v
	}
	return &Tx{parent: m, entries: entries}
}

// Tx is one in-memory transaction. It implements ledger.Store.
type Tx struct {
	parent    *Memory
	entries   map[ledger.Key]ledger.Entry
	movements []ledger.Movement
	done      bool
}

// GetForUpdate implements ledger.Store.
func (t *Tx) GetForUpdate(ctx context.Context, key ledger.Key) (ledger.Entry, error) {
	e, ok := t.entries[key]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

// Upsert implements ledger.Store.
func (t *Tx) Upsert(ctx context.Context, entry ledger.Entry) error {
	t.parent.mu.RLock()
	fail := t.parent.failOn[entry.Key()]
	t.parent.mu.RUnlock()
	if fail {
		return ErrInjected
	}
	t.entries[entry.Key()] = entry
	return nil
}

// InsertMovement implements ledger.Store.
func (t *Tx) InsertMovement(ctx context.Context, mv ledger.Movement) error {
	t.movements = append(t.movements, mv)
	return nil
}

// Commit publishes the transaction's writes.
func (t *Tx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.parent.mu.Lock()
	t.parent.entries = t.entries
	for i := range t.movements {
		t.movements[i].ID = int64(len(t.parent.movements) + 1)
		t.parent.movements = append(t.parent.movements, t.movements[i])
	}
	t.parent.mu.Unlock()
	t.parent.txMu.Unlock()
}

// Rollback discards the transaction's writes.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.parent.txMu.Unlock()
}

// Run executes fn inside a transaction, committing on success.
func (m *Memory) Run(fn func(*Tx) error) error {
	tx := m.Begin()
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}
