package ledger

import (
	"context"
	"errors"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
)

// Reader is the read side of the ledger.
type Reader interface {
	Get(ctx context.Context, key Key) (Entry, error)
	ListByItem(ctx context.Context, itemID int64) ([]Entry, error)
	Movements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// ItemLookup resolves items for unit conversion views.
type ItemLookup interface {
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
}

// Service answers stock queries.
type Service struct {
	reader Reader
	items  ItemLookup
}

// NewService builds Service.
func NewService(reader Reader, items ItemLookup) *Service {
	return &Service{reader: reader, items: items}
}

// Get returns the quantity of an item at a branch; a key never written reads as zero.
func (s *Service) Get(ctx context.Context, branchID, itemID int64) (Entry, error) {
	key := Key{BranchID: branchID, ItemID: itemID}
	if !key.Valid() {
		return Entry{}, ErrInvalidKey
	}
	entry, err := s.reader.Get(ctx, key)
	if errors.Is(err, ErrEntryNotFound) {
		return Entry{BranchID: branchID, ItemID: itemID}, nil
	}
	return entry, err
}

// GetInUnits returns the quantity expressed in one of the item's variants. A non-exact
// conversion is reported through Balance.Exact, never as an error.
func (s *Service) GetInUnits(ctx context.Context, branchID, itemID, variantID int64) (Balance, error) {
	entry, err := s.Get(ctx, branchID, itemID)
	if err != nil {
		return Balance{}, err
	}
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return Balance{}, err
	}
	var v catalog.Variant
	if variantID == 0 {
		base, ok := item.BaseVariant()
		if !ok {
			return Balance{Entry: entry, Exact: true, Conversion: catalog.Conversion{BaseQuantity: entry.Quantity}}, nil
		}
		v = base
	} else {
		found, ok := item.Variant(variantID)
		if !ok {
			return Balance{}, catalog.ErrVariantNotFound
		}
		v = found
	}
	conv := catalog.FromBaseUnits(entry.Quantity, v)
	return Balance{Entry: entry, VariantID: v.ID, UnitCode: v.UnitCode, Conversion: conv, Exact: conv.Exact()}, nil
}

// ListByItem returns the item's quantity at every branch that has a row.
func (s *Service) ListByItem(ctx context.Context, itemID int64) ([]Entry, error) {
	if itemID <= 0 {
		return nil, ErrInvalidKey
	}
	return s.reader.ListByItem(ctx, itemID)
}

// Movements returns the stock card of one key.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if !(Key{BranchID: filter.BranchID, ItemID: filter.ItemID}).Valid() {
		return nil, ErrInvalidKey
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	return s.reader.Movements(ctx, filter)
}
