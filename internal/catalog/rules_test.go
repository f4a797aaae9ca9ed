package catalog

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func indomie() Item {
	return Item{
		ID:               1,
		Code:             "IDM-GORENG",
		Name:             "Indomie Goreng",
		RecordedBuyPrice: decimal.RequireFromString("2500"),
		Variants: []Variant{
			{ID: 10, ItemID: 1, Code: "PCS", UnitCode: "PCS", ConversionAmount: 1, SellPrice: decimal.RequireFromString("3000")},
			{ID: 11, ItemID: 1, Code: "DUS", UnitCode: "DUS", ConversionAmount: 40, SellPrice: decimal.RequireFromString("110000")},
		},
	}
}

func TestAddVariantRejectsSecondBaseUnit(t *testing.T) {
	err := CheckAddVariant(indomie(), VariantDraft{Code: "PACK", UnitCode: "PCS", ConversionAmount: 1})
	require.ErrorIs(t, err, ErrDuplicateBaseUnit)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAddVariantRejectsDuplicateCode(t *testing.T) {
	err := CheckAddVariant(indomie(), VariantDraft{Code: " dus ", UnitCode: "DUS", ConversionAmount: 20})
	require.ErrorIs(t, err, ErrDuplicateVariantCode)
}

func TestAddVariantIgnoresRemovedVariants(t *testing.T) {
	item := indomie()
	removed := time.Now()
	item.Variants[0].DeletedAt = &removed

	require.NoError(t, CheckAddVariant(item, VariantDraft{Code: "PCS", UnitCode: "PCS", ConversionAmount: 1}))
}

func TestUpdateVariantExcludesItselfFromBaseUnitCheck(t *testing.T) {
	item := indomie()
	one := int64(1)

	got, err := ApplyVariantPatch(item, 10, VariantPatch{ConversionAmount: &one})
	require.NoError(t, err)
	require.True(t, got.IsBaseUnit())

	_, err = ApplyVariantPatch(item, 11, VariantPatch{ConversionAmount: &one})
	require.ErrorIs(t, err, ErrDuplicateBaseUnit)

	_, err = ApplyVariantPatch(item, 99, VariantPatch{ConversionAmount: &one})
	require.ErrorIs(t, err, ErrVariantNotFound)
}

func TestRemoveVariantRules(t *testing.T) {
	item := indomie()
	require.ErrorIs(t, CheckRemoveVariant(item, 11, 2), ErrVariantInUse)
	require.NoError(t, CheckRemoveVariant(item, 11, 0))

	single := item
	single.Variants = item.Variants[:1]
	require.ErrorIs(t, CheckRemoveVariant(single, 10, 0), ErrLastVariant)
}

func TestCheckVariantSet(t *testing.T) {
	require.ErrorIs(t, CheckVariantSet(nil), ErrNoVariants)
	require.ErrorIs(t, CheckVariantSet([]VariantDraft{
		{Code: "PCS", UnitCode: "PCS", ConversionAmount: 1},
		{Code: "EACH", UnitCode: "PCS", ConversionAmount: 1},
	}), ErrDuplicateBaseUnit)
	require.ErrorIs(t, CheckVariantSet([]VariantDraft{
		{Code: "PCS", UnitCode: "PCS", ConversionAmount: 1, SellPrice: decimal.NewFromInt(-1)},
	}), ErrNegativePrice)
	require.NoError(t, CheckVariantSet([]VariantDraft{
		{Code: "DUS", UnitCode: "DUS", ConversionAmount: 40},
	}))
}

func TestConversions(t *testing.T) {
	item := indomie()
	dus := item.Variants[1]

	require.Equal(t, int64(800), ToBaseUnits(20, dus))

	c := FromBaseUnits(100, dus)
	require.Equal(t, int64(2), c.Quantity)
	require.Equal(t, int64(20), c.Remainder)
	require.False(t, c.Exact())

	c = FromBaseUnits(-700, dus)
	require.Equal(t, int64(-17), c.Quantity)
	require.Equal(t, int64(-20), c.Remainder)

	require.True(t, FromBaseUnits(120, dus).Exact())

	_, err := ConvertToBase(1<<62, dus)
	require.ErrorIs(t, err, ErrQuantityOverflow)
}

func TestProfit(t *testing.T) {
	item := indomie()
	dus := item.Variants[1]

	require.True(t, decimal.RequireFromString("100000").Equal(dus.CostPrice(item.RecordedBuyPrice)))
	require.True(t, decimal.RequireFromString("10000").Equal(dus.ProfitAmount(item.RecordedBuyPrice)))
	require.True(t, decimal.RequireFromString("10").Equal(dus.ProfitPercentage(item.RecordedBuyPrice)))
	require.True(t, dus.ProfitPercentage(decimal.Zero).IsZero())
}

func TestResolveLine(t *testing.T) {
	item := indomie()
	variants := map[int64]Variant{10: item.Variants[0], 11: item.Variants[1]}

	v, err := ResolveLine(variants, 1, 11)
	require.NoError(t, err)
	require.Equal(t, int64(40), v.ConversionAmount)

	_, err = ResolveLine(variants, 2, 11)
	require.ErrorIs(t, err, ErrVariantItemMismatch)

	_, err = ResolveLine(variants, 1, 12)
	require.ErrorIs(t, err, ErrVariantNotFound)
}
