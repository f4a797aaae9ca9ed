package catalog

import (
	"math"
	"strings"
)

// NormalizeVariantCode trims and upper-cases a variant code.
func NormalizeVariantCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckAddVariant verifies that draft can join the item's active variants.
func CheckAddVariant(item Item, draft VariantDraft) error {
	return checkAgainst(item.ActiveVariants(), 0, draft.Code, draft.ConversionAmount, draft.SellPrice.IsNegative())
}

// CheckVariantSet verifies a full set of drafts for a new item.
func CheckVariantSet(drafts []VariantDraft) error {
	if len(drafts) == 0 {
		return ErrNoVariants
	}
	accepted := make([]Variant, 0, len(drafts))
	for _, d := range drafts {
		if err := checkAgainst(accepted, 0, d.Code, d.ConversionAmount, d.SellPrice.IsNegative()); err != nil {
			return err
		}
		accepted = append(accepted, d.toVariant(0))
	}
	return nil
}

// ApplyVariantPatch returns the variant after applying patch, checked against the item's other
// active variants.
func ApplyVariantPatch(item Item, variantID int64, patch VariantPatch) (Variant, error) {
	current, ok := item.Variant(variantID)
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	next := current
	if patch.Code != nil {
		next.Code = NormalizeVariantCode(*patch.Code)
	}
	if patch.UnitCode != nil {
		next.UnitCode = strings.ToUpper(strings.TrimSpace(*patch.UnitCode))
	}
	if patch.ConversionAmount != nil {
		next.ConversionAmount = *patch.ConversionAmount
	}
	if patch.SellPrice != nil {
		next.SellPrice = *patch.SellPrice
	}
	if err := checkAgainst(item.ActiveVariants(), variantID, next.Code, next.ConversionAmount, next.SellPrice.IsNegative()); err != nil {
		return Variant{}, err
	}
	return next, nil
}

// CheckRemoveVariant verifies the variant can be removed given how many committed documents
// reference it.
func CheckRemoveVariant(item Item, variantID int64, references int) error {
	if _, ok := item.Variant(variantID); !ok {
		return ErrVariantNotFound
	}
	if references > 0 {
		return ErrVariantInUse
	}
	if len(item.ActiveVariants()) <= 1 {
		return ErrLastVariant
	}
	return nil
}

func checkAgainst(existing []Variant, skipID int64, code string, conversion int64, negativePrice bool) error {
	if conversion <= 0 {
		return ErrInvalidConversion
	}
	if negativePrice {
		return ErrNegativePrice
	}
	code = NormalizeVariantCode(code)
	for _, v := range existing {
		if skipID != 0 && v.ID == skipID {
			continue
		}
		if conversion == 1 && v.IsBaseUnit() {
			return ErrDuplicateBaseUnit
		}
		if NormalizeVariantCode(v.Code) == code {
			return ErrDuplicateVariantCode
		}
	}
	return nil
}

func (d VariantDraft) toVariant(itemID int64) Variant {
	return Variant{
		ItemID:           itemID,
		Code:             NormalizeVariantCode(d.Code),
		UnitCode:         strings.ToUpper(strings.TrimSpace(d.UnitCode)),
		ConversionAmount: d.ConversionAmount,
		SellPrice:        d.SellPrice,
	}
}

// ToBaseUnits converts qty of variant v into base units.
func ToBaseUnits(qty int64, v Variant) int64 {
	return qty * v.ConversionAmount
}

// ConvertToBase is ToBaseUnits with an overflow check, for quantities that come from callers.
func ConvertToBase(qty int64, v Variant) (int64, error) {
	if v.ConversionAmount <= 0 {
		return 0, ErrInvalidConversion
	}
	if qty > math.MaxInt64/v.ConversionAmount || qty < math.MinInt64/v.ConversionAmount {
		return 0, ErrQuantityOverflow
	}
	return ToBaseUnits(qty, v), nil
}

// FromBaseUnits expresses a base-unit quantity in variant v's unit. The remainder keeps the sign
// of base, so -700 base in a 40-piece box is -17 boxes and -20 pieces.
func FromBaseUnits(base int64, v Variant) Conversion {
	c := Conversion{BaseQuantity: base, ConversionAmount: v.ConversionAmount}
	if v.ConversionAmount <= 0 {
		return c
	}
	c.Quantity = base / v.ConversionAmount
	c.Remainder = base % v.ConversionAmount
	return c
}

// ResolveLine returns the active variant for a document line and checks it belongs to itemID.
func ResolveLine(variants map[int64]Variant, itemID, variantID int64) (Variant, error) {
	v, ok := variants[variantID]
	if !ok || !v.Active() {
		return Variant{}, ErrVariantNotFound
	}
	if v.ItemID != itemID {
		return Variant{}, ErrVariantItemMismatch
	}
	return v, nil
}
