// Package catalog owns items and their sellable variants, and the conversion between a variant's
// unit and the item's base unit.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Item is a catalog entry. Stock for an item is always tracked in base-unit equivalents.
type Item struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	CategoryID       int64           `json:"category_id"`
	SupplierID       int64           `json:"supplier_id"`
	IsActive         bool            `json:"is_active"`
	RecordedBuyPrice decimal.Decimal `json:"recorded_buy_price"`
	Variants         []Variant       `json:"variants"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
}

// Variant is a sellable unit of measure of an item.
type Variant struct {
	ID               int64           `json:"id"`
	ItemID           int64           `json:"item_id"`
	Code             string          `json:"code"`
	UnitCode         string          `json:"unit_code"`
	ConversionAmount int64           `json:"conversion_amount"`
	SellPrice        decimal.Decimal `json:"sell_price"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
}

// IsBaseUnit reports whether the variant is the item's base unit.
func (v Variant) IsBaseUnit() bool {
	return v.ConversionAmount == 1
}

// Active reports whether the variant has not been removed.
func (v Variant) Active() bool {
	return v.DeletedAt == nil
}

// CostPrice is the buy price of one unit of this variant.
func (v Variant) CostPrice(buyPrice decimal.Decimal) decimal.Decimal {
	return buyPrice.Mul(decimal.NewFromInt(v.ConversionAmount))
}

// ProfitAmount is sell price minus cost price. Informational only.
func (v Variant) ProfitAmount(buyPrice decimal.Decimal) decimal.Decimal {
	return v.SellPrice.Sub(v.CostPrice(buyPrice))
}

// ProfitPercentage is profit relative to cost, rounded to two decimals; zero when cost is zero.
func (v Variant) ProfitPercentage(buyPrice decimal.Decimal) decimal.Decimal {
	cost := v.CostPrice(buyPrice)
	if cost.IsZero() {
		return decimal.Zero
	}
	return v.ProfitAmount(buyPrice).Div(cost).Mul(decimal.NewFromInt(100)).Round(2)
}

// ActiveVariants returns variants that have not been removed, in their stored order.
func (i Item) ActiveVariants() []Variant {
	out := make([]Variant, 0, len(i.Variants))
	for _, v := range i.Variants {
		if v.Active() {
			out = append(out, v)
		}
	}
	return out
}

// Variant returns the active variant with id.
func (i Item) Variant(id int64) (Variant, bool) {
	for _, v := range i.Variants {
		if v.ID == id && v.Active() {
			return v, true
		}
	}
	return Variant{}, false
}

// BaseVariant returns the active base-unit variant, if the item has one.
func (i Item) BaseVariant() (Variant, bool) {
	for _, v := range i.Variants {
		if v.Active() && v.IsBaseUnit() {
			return v, true
		}
	}
	return Variant{}, false
}

// CreateItemRequest is the body of POST /items.
type CreateItemRequest struct {
	Code             string          `json:"code" validate:"required,max=64"`
	Name             string          `json:"name" validate:"required,max=200"`
	CategoryID       int64           `json:"category_id" validate:"gte=0"`
	SupplierID       int64           `json:"supplier_id" validate:"gte=0"`
	RecordedBuyPrice decimal.Decimal `json:"recorded_buy_price"`
	Variants         []VariantDraft  `json:"variants" validate:"required,min=1,dive"`
}

// UpdateItemRequest is the body of PUT /items/{id}.
type UpdateItemRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	CategoryID       int64           `json:"category_id" validate:"gte=0"`
	SupplierID       int64           `json:"supplier_id" validate:"gte=0"`
	IsActive         bool            `json:"is_active"`
	RecordedBuyPrice decimal.Decimal `json:"recorded_buy_price"`
}

// VariantDraft describes a variant to add.
type VariantDraft struct {
	Code             string          `json:"code" validate:"required,max=32"`
	UnitCode         string          `json:"unit_code" validate:"required,max=16"`
	ConversionAmount int64           `json:"conversion_amount" validate:"required,gt=0"`
	SellPrice        decimal.Decimal `json:"sell_price"`
}

// VariantPatch describes a partial variant update; nil fields are left unchanged.
type VariantPatch struct {
	Code             *string          `json:"code,omitempty" validate:"omitempty,min=1,max=32"`
	UnitCode         *string          `json:"unit_code,omitempty" validate:"omitempty,min=1,max=16"`
	ConversionAmount *int64           `json:"conversion_amount,omitempty" validate:"omitempty,gt=0"`
	SellPrice        *decimal.Decimal `json:"sell_price,omitempty"`
}

// Conversion is a base-unit quantity expressed in a variant's unit.
type Conversion struct {
	BaseQuantity     int64 `json:"base_quantity"`
	ConversionAmount int64 `json:"conversion_amount"`
	Quantity         int64 `json:"quantity"`
	Remainder        int64 `json:"remainder"`
}

// Exact reports whether the base quantity is a whole number of variant units.
func (c Conversion) Exact() bool {
	return c.Remainder == 0
}

// Catalog errors.
var (
	ErrItemNotFound         = shared.NotFound("ITEM_NOT_FOUND", "catalog: item not found")
	ErrVariantNotFound      = shared.NotFound("VARIANT_NOT_FOUND", "catalog: variant not found")
	ErrDuplicateItemCode    = shared.Conflict("DUPLICATE_ITEM_CODE", "catalog: item code already exists")
	ErrDuplicateBaseUnit    = shared.Conflict("DUPLICATE_BASE_UNIT", "catalog: item already has a base-unit variant (conversion amount 1)")
	ErrDuplicateVariantCode = shared.Conflict("DUPLICATE_VARIANT_CODE", "catalog: variant code already used by this item")
	ErrVariantInUse         = shared.Conflict("VARIANT_IN_USE", "catalog: variant is referenced by a committed transfer or adjustment")
	ErrLastVariant          = shared.Conflict("LAST_VARIANT", "catalog: an item must keep at least one variant")
	ErrNoVariants           = shared.Validation("NO_VARIANTS", "catalog: an item needs at least one variant")
	ErrVariantItemMismatch  = shared.Validation("VARIANT_ITEM_MISMATCH", "catalog: variant does not belong to item")
	ErrInvalidConversion    = shared.Validation("INVALID_CONVERSION_AMOUNT", "catalog: conversion amount must be a positive integer")
	ErrNegativePrice        = shared.Validation("NEGATIVE_PRICE", "catalog: prices must be >= 0")
	ErrUnknownUnit          = shared.Validation("UNKNOWN_UNIT", "catalog: unit code is not registered")
	ErrQuantityOverflow     = shared.Validation("QUANTITY_OVERFLOW", "catalog: quantity too large to convert to base units")
)

// ListFilter narrows item listings.
type ListFilter struct {
	Search     string
	CategoryID int64
	SupplierID int64
	Page       int
	Limit      int
}
