package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Store is the transaction-scoped persistence used by Batch.
type Store interface {
	// GetForUpdate returns the row for key locked until the transaction ends, or ErrEntryNotFound.
	GetForUpdate(ctx context.Context, key Key) (Entry, error)
	Upsert(ctx context.Context, entry Entry) error
	InsertMovement(ctx context.Context, m Movement) error
}

// Batch holds locked ledger rows and the deltas applied to them within one transaction.
type Batch struct {
	store     Store
	entries   map[Key]*Entry
	touched   map[Key]bool
	movements []Movement
	closed    bool
}

// Begin locks every distinct key in ascending order. Missing rows start at zero.
func Begin(ctx context.Context, store Store, keys ...Key) (*Batch, error) {
	unique := make([]Key, 0, len(keys))
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		if !k.Valid() {
			return nil, ErrInvalidKey
		}
		if !seen[k] {
			seen[k] = true
			unique = append(unique, k)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Less(unique[j]) })

	b := &Batch{store: store, entries: make(map[Key]*Entry, len(unique)), touched: map[Key]bool{}}
	for _, k := range unique {
		entry, err := store.GetForUpdate(ctx, k)
		if errors.Is(err, ErrEntryNotFound) {
			entry = Entry{BranchID: k.BranchID, ItemID: k.ItemID}
		} else if err != nil {
			return nil, fmt.Errorf("ledger: lock %s: %w", k, err)
		}
		b.entries[k] = &entry
	}
	return b, nil
}

// Quantity returns the current quantity of a locked key, including deltas applied so far.
func (b *Batch) Quantity(key Key) (int64, error) {
	entry, ok := b.entries[key]
	if !ok {
		return 0, ErrKeyNotLocked
	}
	return entry.Quantity, nil
}

// Apply adds delta to a locked key and returns the new quantity. A zero delta is a no-op. A sum
// outside the int64 range fails with ErrQuantityOverflow and leaves the batch unchanged.
func (b *Batch) Apply(key Key, delta int64, src Source) (int64, error) {
	if b.closed {
		return 0, ErrBatchClosed
	}
	entry, ok := b.entries[key]
	if !ok {
		return 0, ErrKeyNotLocked
	}
	if delta == 0 {
		return entry.Quantity, nil
	}
	qty, err := Sum(entry.Quantity, delta)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", err, key)
	}
	entry.Quantity = qty
	b.touched[key] = true
	b.movements = append(b.movements, Movement{
		BranchID:     key.BranchID,
		ItemID:       key.ItemID,
		Delta:        delta,
		BalanceAfter: entry.Quantity,
		SourceType:   src.Type,
		SourceID:     src.ID,
		Note:         src.Note,
	})
	return entry.Quantity, nil
}

// Commit writes touched rows and their movements. The surrounding transaction decides durability.
func (b *Batch) Commit(ctx context.Context, at time.Time) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.closed = true
	for _, k := range b.touchedKeys() {
		entry := *b.entries[k]
		entry.UpdatedAt = at
		if err := b.store.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("ledger: upsert %s: %w", k, err)
		}
	}
	for _, m := range b.movements {
		m.PostedAt = at
		if err := b.store.InsertMovement(ctx, m); err != nil {
			return fmt.Errorf("ledger: movement %s: %w", Key{BranchID: m.BranchID, ItemID: m.ItemID}, err)
		}
	}
	return nil
}

// Shortages lists touched keys whose quantity is below zero.
func (b *Batch) Shortages() []Shortage {
	var out []Shortage
	for _, k := range b.touchedKeys() {
		if q := b.entries[k].Quantity; q < 0 {
			out = append(out, Shortage{BranchID: k.BranchID, ItemID: k.ItemID, Quantity: q})
		}
	}
	return out
}

func (b *Batch) touchedKeys() []Key {
	keys := make([]Key, 0, len(b.touched))
	for k := range b.touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// ApplyDelta applies a single delta in its own batch.
func ApplyDelta(ctx context.Context, store Store, key Key, delta int64, src Source, at time.Time) (int64, error) {
	b, err := Begin(ctx, store, key)
	if err != nil {
		return 0, err
	}
	qty, err := b.Apply(key, delta, src)
	if err != nil {
		return 0, err
	}
	return qty, b.Commit(ctx, at)
}

// Sum returns a+b, or ErrQuantityOverflow when it does not fit in an int64.
func Sum(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrQuantityOverflow
	}
	return s, nil
}

// Difference returns a-b, or ErrQuantityOverflow when it does not fit in an int64.
func Difference(a, b int64) (int64, error) {
	d := a - b
	if (b < 0 && d < a) || (b > 0 && d > a) {
		return 0, ErrQuantityOverflow
	}
	return d, nil
}
