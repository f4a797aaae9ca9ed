// Package ledger keeps per-branch, per-item stock quantities in base units. Every mutation goes
// through a Batch so several keys change atomically inside one transaction.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Key identifies one ledger row.
type Key struct {
	BranchID int64 `json:"branch_id"`
	ItemID   int64 `json:"item_id"`
}

// Less orders keys by branch, then item. Locks are always taken in this order.
func (k Key) Less(o Key) bool {
	if k.BranchID != o.BranchID {
		return k.BranchID < o.BranchID
	}
	return k.ItemID < o.ItemID
}

func (k Key) String() string {
	return fmt.Sprintf("branch=%d item=%d", k.BranchID, k.ItemID)
}

// Valid reports whether both identifiers are set.
func (k Key) Valid() bool {
	return k.BranchID > 0 && k.ItemID > 0
}

// Entry is the stored quantity of an item at a branch. Quantity may be negative.
type Entry struct {
	BranchID  int64     `json:"branch_id"`
	ItemID    int64     `json:"item_id"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the entry's key.
func (e Entry) Key() Key {
	return Key{BranchID: e.BranchID, ItemID: e.ItemID}
}

// SourceType names the document that moved stock.
type SourceType string

const (
	SourceTransferOut    SourceType = "TRANSFER_OUT"
	SourceTransferIn     SourceType = "TRANSFER_IN"
	SourceTransferVoid   SourceType = "TRANSFER_VOID"
	SourceAdjustment     SourceType = "ADJUSTMENT"
	SourceAdjustmentVoid SourceType = "ADJUSTMENT_VOID"
)

// Source describes why a delta is applied.
type Source struct {
	Type SourceType
	ID   int64
	Note string
}

// Movement is one stock card line.
type Movement struct {
	ID           int64      `json:"id"`
	BranchID     int64      `json:"branch_id"`
	ItemID       int64      `json:"item_id"`
	Delta        int64      `json:"delta"`
	BalanceAfter int64      `json:"balance_after"`
	SourceType   SourceType `json:"source_type"`
	SourceID     int64      `json:"source_id"`
	Note         string     `json:"note,omitempty"`
	PostedAt     time.Time  `json:"posted_at"`
}

// Shortage reports a key left below zero. Negative stock is allowed; callers raise alerts.
type Shortage struct {
	BranchID int64 `json:"branch_id" msgpack:"branch_id"`
	ItemID   int64 `json:"item_id" msgpack:"item_id"`
	Quantity int64 `json:"quantity" msgpack:"quantity"`
}

// ShortageAlert is raised after a committed submission left keys below zero.
type ShortageAlert struct {
	SourceType   SourceType `msgpack:"source_type"`
	DocumentID   int64      `msgpack:"document_id"`
	DocumentCode string     `msgpack:"document_code"`
	Shortages    []Shortage `msgpack:"shortages"`
	DetectedAt   time.Time  `msgpack:"detected_at"`
}

// MovementFilter narrows stock card queries.
type MovementFilter struct {
	BranchID int64
	ItemID   int64
	From     time.Time
	To       time.Time
	Limit    int
}

// Balance is an entry expressed in a variant's unit.
type Balance struct {
	Entry
	VariantID  int64              `json:"variant_id"`
	UnitCode   string             `json:"unit_code"`
	Conversion catalog.Conversion `json:"conversion"`
	Exact      bool               `json:"exact"`
}

// Ledger errors.
var (
	ErrEntryNotFound = shared.NotFound("LEDGER_ENTRY_NOT_FOUND", "ledger: entry not found")
	ErrInvalidKey    = shared.Validation("INVALID_LEDGER_KEY", "ledger: branch and item are required")
	ErrKeyNotLocked  = errors.New("ledger: key was not locked by this batch")
	ErrBatchClosed   = errors.New("ledger: batch already committed")
	// ErrQuantityOverflow rejects a delta whose result does not fit in a base-unit quantity.
	ErrQuantityOverflow = shared.Validation("QUANTITY_OVERFLOW", "ledger: quantity out of range")
)
