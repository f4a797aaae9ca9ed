// Package transfer moves stock of specific variants between branches and reverses it on void.
package transfer

import (
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Status of a persisted transfer. Drafts live only on the client.
type Status string

const (
	StatusCommitted Status = "COMMITTED"
	StatusVoided    Status = "VOIDED"
)

// CanVoid reports whether the transfer may still be voided.
func (s Status) CanVoid() bool {
	return s == StatusCommitted
}

// Transfer is a committed movement of stock from one branch to another.
type Transfer struct {
	ID              int64      `json:"id"`
	Code            string     `json:"code"`
	TransactionDate time.Time  `json:"transaction_date"`
	FromBranchID    int64      `json:"from_branch_id"`
	ToBranchID      int64      `json:"to_branch_id"`
	Notes           string     `json:"notes,omitempty"`
	Status          Status     `json:"status"`
	Lines           []Line     `json:"lines"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	VoidedBy        *int64     `json:"voided_by,omitempty"`
	VoidedAt        *time.Time `json:"voided_at,omitempty"`
}

// Line moves Qty units of a variant. ConversionAmount and BaseQty are fixed at commit.
type Line struct {
	ID               int64 `json:"id"`
	TransferID       int64 `json:"transfer_id"`
	LineOrder        int   `json:"line_order"`
	ItemID           int64 `json:"item_id"`
	VariantID        int64 `json:"variant_id"`
	Qty              int64 `json:"qty"`
	ConversionAmount int64 `json:"conversion_amount"`
	BaseQty          int64 `json:"base_qty"`
}

// LedgerKeys returns the source and destination keys of every line.
func (t Transfer) LedgerKeys() []ledger.Key {
	keys := make([]ledger.Key, 0, len(t.Lines)*2)
	for _, l := range t.Lines {
		keys = append(keys,
			ledger.Key{BranchID: t.FromBranchID, ItemID: l.ItemID},
			ledger.Key{BranchID: t.ToBranchID, ItemID: l.ItemID})
	}
	return keys
}

// Result is returned by Create and Void. Shortages are informational.
type Result struct {
	Transfer  Transfer          `json:"transfer"`
	Shortages []ledger.Shortage `json:"shortages,omitempty"`
}

// CreateRequest is the body of POST /transfers.
type CreateRequest struct {
	TransactionDate string        `json:"transaction_date" validate:"omitempty,datetime=2006-01-02"`
	FromBranchID    int64         `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID      int64         `json:"to_branch_id" validate:"required,gt=0"`
	Notes           string        `json:"notes" validate:"max=500"`
	Lines           []LineRequest `json:"lines" validate:"required,min=1,max=500,dive"`
}

// LineRequest is one requested line. Qty is expressed in the variant's own unit.
type LineRequest struct {
	ItemID    int64 `json:"item_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Qty       int64 `json:"qty" validate:"required,gt=0"`
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	BranchID int64
	Status   Status
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

// Transfer errors.
var (
	ErrTransferNotFound = shared.NotFound("TRANSFER_NOT_FOUND", "transfer: not found")
	ErrSameBranch       = shared.Validation("SAME_BRANCH", "transfer: source and destination branch must differ")
	ErrDuplicateLine    = shared.Conflict("DUPLICATE_LINE", "transfer: a variant may appear only once per transfer")
	ErrAlreadyVoided    = shared.Conflict("ALREADY_VOIDED", "transfer: only committed transfers can be voided")
	ErrInvalidStatus    = shared.Validation("INVALID_STATUS", "transfer: status must be COMMITTED or VOIDED")
)
