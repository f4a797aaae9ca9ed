package catalog

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type memoryRepo struct {
	items    map[int64]Item
	variants map[int64]Variant
	units    map[string]bool
	refs     map[int64]int
	nextID   int64
	loads    int
}

func newMemoryRepo(units ...string) *memoryRepo {
	r := &memoryRepo{
		items:    map[int64]Item{},
		variants: map[int64]Variant{},
		units:    map[string]bool{},
		refs:     map[int64]int{},
	}
	for _, u := range units {
		r.units[u] = true
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	items := make(map[int64]Item, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	variants := make(map[int64]Variant, len(r.variants))
	for k, v := range r.variants {
		variants[k] = v
	}
	next := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items, r.variants, r.nextID = items, variants, next
		return err
	}
	return nil
}

func (r *memoryRepo) assemble(id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok || item.DeletedAt != nil {
		return Item{}, ErrItemNotFound
	}
	item.Variants = nil
	for _, v := range r.variants {
		if v.ItemID == id && v.Active() {
			item.Variants = append(item.Variants, v)
		}
	}
	sort.Slice(item.Variants, func(i, j int) bool { return item.Variants[i].ID < item.Variants[j].ID })
	return item, nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	r.loads++
	return r.assemble(id)
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	out := []Item{}
	for id := range r.items {
		if it, err := r.assemble(id); err == nil {
			out = append(out, it)
		}
	}
	return out, len(out), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) LockItem(ctx context.Context, id int64) (Item, error) {
	return t.repo.assemble(id)
}

func (t *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	for _, existing := range t.repo.items {
		if existing.Code == item.Code {
			return 0, ErrDuplicateItemCode
		}
	}
	t.repo.nextID++
	item.ID = t.repo.nextID
	t.repo.items[item.ID] = item
	return item.ID, nil
}

func (t *memoryTx) UpdateItem(ctx context.Context, item Item) error {
	item.Variants = nil
	t.repo.items[item.ID] = item
	return nil
}

func (t *memoryTx) SoftDeleteItem(ctx context.Context, id int64, at time.Time) error {
	item := t.repo.items[id]
	item.DeletedAt = &at
	item.IsActive = false
	t.repo.items[id] = item
	return nil
}

func (t *memoryTx) InsertVariant(ctx context.Context, v Variant) (int64, error) {
	t.repo.nextID++
	v.ID = t.repo.nextID
	t.repo.variants[v.ID] = v
	return v.ID, nil
}

func (t *memoryTx) UpdateVariant(ctx context.Context, v Variant) error {
	t.repo.variants[v.ID] = v
	return nil
}

func (t *memoryTx) SoftDeleteVariant(ctx context.Context, id int64, at time.Time) error {
	v := t.repo.variants[id]
	v.DeletedAt = &at
	t.repo.variants[id] = v
	return nil
}

func (t *memoryTx) MissingUnits(ctx context.Context, codes []string) ([]string, error) {
	var missing []string
	for _, c := range codes {
		if !t.repo.units[c] {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

func (t *memoryTx) CountVariantReferences(ctx context.Context, variantID int64) (int, error) {
	return t.repo.refs[variantID], nil
}

type auditSpy struct {
	actions []string
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func createIndomie(t *testing.T, svc *Service) Item {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), 7, CreateItemRequest{
		Code:             "IDM-GORENG",
		Name:             "Indomie Goreng",
		RecordedBuyPrice: decimal.RequireFromString("2500"),
		Variants: []VariantDraft{
			{Code: "pcs", UnitCode: "pcs", ConversionAmount: 1, SellPrice: decimal.RequireFromString("3000")},
			{Code: "dus", UnitCode: "dus", ConversionAmount: 40, SellPrice: decimal.RequireFromString("110000")},
		},
	})
	require.NoError(t, err)
	return item
}

func variantByCode(t *testing.T, item Item, code string) Variant {
	t.Helper()
	for _, v := range item.ActiveVariants() {
		if v.Code == code {
			return v
		}
	}
	t.Fatalf("variant %s not found", code)
	return Variant{}
}

func TestCreateItemStoresVariants(t *testing.T) {
	audit := &auditSpy{}
	svc := NewService(newMemoryRepo("PCS", "DUS"), nil, audit, nil)

	item := createIndomie(t, svc)
	require.Len(t, item.Variants, 2)
	base, ok := item.BaseVariant()
	require.True(t, ok)
	require.Equal(t, "PCS", base.Code)
	require.Equal(t, int64(40), variantByCode(t, item, "DUS").ConversionAmount)
	require.Equal(t, []string{"item:create"}, audit.actions)
}

func TestCreateItemRejectsUnknownUnit(t *testing.T) {
	repo := newMemoryRepo("PCS")
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.CreateItem(context.Background(), 1, CreateItemRequest{
		Code: "X", Name: "X",
		Variants: []VariantDraft{{Code: "BOX", UnitCode: "BOX", ConversionAmount: 12}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "UNKNOWN_UNIT", shared.CodeOf(err))
	require.Empty(t, repo.items)
}

func TestCreateItemValidatesRequest(t *testing.T) {
	svc := NewService(newMemoryRepo("PCS"), nil, nil, nil)

	_, err := svc.CreateItem(context.Background(), 1, CreateItemRequest{Name: "No code"})
	require.ErrorIs(t, err, shared.ErrValidation)
	fields := shared.FieldsOf(err)
	require.Contains(t, fields, "code")
	require.Contains(t, fields, "variants")
}

func TestAddVariantRejectsDuplicateBaseUnitAndLeavesItemUnchanged(t *testing.T) {
	repo := newMemoryRepo("PCS", "DUS")
	svc := NewService(repo, nil, nil, nil)
	item := createIndomie(t, svc)

	_, err := svc.AddVariant(context.Background(), 1, item.ID, VariantDraft{Code: "EACH", UnitCode: "PCS", ConversionAmount: 1})
	require.ErrorIs(t, err, ErrDuplicateBaseUnit)

	got, err := svc.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, got.Variants, 2)
}

func TestUpdateVariantToBaseUnit(t *testing.T) {
	svc := NewService(newMemoryRepo("PCS", "DUS"), nil, nil, nil)
	item := createIndomie(t, svc)
	dus := variantByCode(t, item, "DUS")
	one := int64(1)

	_, err := svc.UpdateVariant(context.Background(), 1, item.ID, dus.ID, VariantPatch{ConversionAmount: &one})
	require.ErrorIs(t, err, ErrDuplicateBaseUnit)

	twenty := int64(20)
	updated, err := svc.UpdateVariant(context.Background(), 1, item.ID, dus.ID, VariantPatch{ConversionAmount: &twenty})
	require.NoError(t, err)
	require.Equal(t, int64(20), variantByCode(t, updated, "DUS").ConversionAmount)
}

func TestRemoveVariant(t *testing.T) {
	repo := newMemoryRepo("PCS", "DUS")
	audit := &auditSpy{}
	svc := NewService(repo, nil, audit, nil)
	item := createIndomie(t, svc)
	pcs := variantByCode(t, item, "PCS")
	dus := variantByCode(t, item, "DUS")

	repo.refs[dus.ID] = 1
	_, err := svc.RemoveVariant(context.Background(), 1, item.ID, dus.ID)
	require.ErrorIs(t, err, ErrVariantInUse)

	repo.refs[dus.ID] = 0
	updated, err := svc.RemoveVariant(context.Background(), 1, item.ID, dus.ID)
	require.NoError(t, err)
	require.Len(t, updated.Variants, 1)
	require.NotNil(t, repo.variants[dus.ID].DeletedAt)

	_, err = svc.RemoveVariant(context.Background(), 1, item.ID, pcs.ID)
	require.ErrorIs(t, err, ErrLastVariant)
	require.Equal(t, []string{"item:create", "variant:remove"}, audit.actions)
}

func TestDeleteItemIsSoft(t *testing.T) {
	repo := newMemoryRepo("PCS", "DUS")
	svc := NewService(repo, nil, nil, nil)
	item := createIndomie(t, svc)

	require.NoError(t, svc.DeleteItem(context.Background(), 1, item.ID))
	require.Contains(t, repo.items, item.ID)

	_, err := svc.GetItem(context.Background(), item.ID)
	require.ErrorIs(t, err, ErrItemNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
