// Package adjustment reconciles physically counted stock against the ledger. Each counted line
// becomes one adjustment record carrying the gap it applied.
package adjustment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Status of an adjustment record.
type Status string

const (
	StatusCommitted Status = "COMMITTED"
	StatusVoided    Status = "VOIDED"
)

// CanVoid reports whether the record may still be voided.
func (s Status) CanVoid() bool {
	return s == StatusCommitted
}

// Direction classifies a gap.
type Direction string

const (
	DirectionSurplus   Direction = "SURPLUS"
	DirectionShrinkage Direction = "SHRINKAGE"
	DirectionMatch     Direction = "MATCH"
)

// ZeroGapPolicy decides whether counted lines that match the ledger are stored.
type ZeroGapPolicy string

const (
	ZeroGapPersist ZeroGapPolicy = "persist"
	ZeroGapSkip    ZeroGapPolicy = "skip"
)

// ParseZeroGapPolicy reads a policy name; empty means persist.
func ParseZeroGapPolicy(raw string) (ZeroGapPolicy, error) {
	switch ZeroGapPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ZeroGapPersist:
		return ZeroGapPersist, nil
	case ZeroGapSkip:
		return ZeroGapSkip, nil
	}
	return "", fmt.Errorf("adjustment: unknown zero gap policy %q", raw)
}

// Adjustment is one counted line. BeforeAmount, FinalAmount and TotalGapAmount are base units
// fixed at creation and never recomputed.
type Adjustment struct {
	ID               int64      `json:"id"`
	Code             string     `json:"code"`
	BatchCode        string     `json:"batch_code"`
	TransactionDate  time.Time  `json:"transaction_date"`
	BranchID         int64      `json:"branch_id"`
	ItemID           int64      `json:"item_id"`
	VariantID        int64      `json:"variant_id"`
	ActualQty        int64      `json:"actual_qty"`
	ConversionAmount int64      `json:"conversion_amount"`
	BeforeAmount     int64      `json:"before_amount"`
	FinalAmount      int64      `json:"final_amount"`
	TotalGapAmount   int64      `json:"total_gap_amount"`
	Notes            string     `json:"notes,omitempty"`
	Status           Status     `json:"status"`
	CreatedBy        int64      `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	VoidedBy         *int64     `json:"voided_by,omitempty"`
	VoidedAt         *time.Time `json:"voided_at,omitempty"`
}

// Direction reports whether the count found more, less or the same stock.
func (a Adjustment) Direction() Direction {
	switch {
	case a.TotalGapAmount > 0:
		return DirectionSurplus
	case a.TotalGapAmount < 0:
		return DirectionShrinkage
	}
	return DirectionMatch
}

// MarshalJSON adds the derived direction and the final_total_amount alias.
func (a Adjustment) MarshalJSON() ([]byte, error) {
	type plain Adjustment
	return json.Marshal(struct {
		plain
		FinalTotalAmount int64     `json:"final_total_amount"`
		Direction        Direction `json:"direction"`
	}{plain: plain(a), FinalTotalAmount: a.FinalAmount, Direction: a.Direction()})
}

// CreateRequest is the body of POST /adjustments. Each line sets the item's ledger quantity to its
// own count, in order. Two lines of the same item under different variants are not summed: counting
// 3 DUS then 5 PCS leaves the ledger at 5 pieces, so a mixed count must be sent in the base unit.
type CreateRequest struct {
	TransactionDate string        `json:"transaction_date" validate:"omitempty,datetime=2006-01-02"`
	BranchID        int64         `json:"branch_id" validate:"required,gt=0"`
	Notes           string        `json:"notes" validate:"max=500"`
	Lines           []LineRequest `json:"lines" validate:"required,min=1,max=500,dive"`
}

// LineRequest is one physical count. ActualQty is expressed in the variant's unit.
type LineRequest struct {
	ItemID    int64 `json:"item_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	ActualQty int64 `json:"actual_qty" validate:"gte=0"`
}

// ListFilter narrows adjustment listings.
type ListFilter struct {
	BranchID int64
	ItemID   int64
	Status   Status
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

// Adjustment errors.
var (
	ErrAdjustmentNotFound = shared.NotFound("ADJUSTMENT_NOT_FOUND", "adjustment: not found")
	ErrDuplicateLine      = shared.Conflict("DUPLICATE_LINE", "adjustment: a variant may be counted only once per submission")
	ErrAlreadyVoided      = shared.Conflict("ALREADY_VOIDED", "adjustment: only committed adjustments can be voided")
	ErrInvalidStatus      = shared.Validation("INVALID_STATUS", "adjustment: status must be COMMITTED or VOIDED")
)
