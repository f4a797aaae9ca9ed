package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Storage constraints mapped onto domain errors.
const (
	constraintItemCode    = "items_code_key"
	constraintBaseUnit    = "item_variants_one_base_unit"
	constraintVariantCode = "item_variants_item_code_active"
	constraintVariantUnit = "item_variants_unit_code_fkey"
)

// RepositoryPort is consumed by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error)
}

// TxRepository exposes the item mutations run inside one transaction.
type TxRepository interface {
	LockItem(ctx context.Context, id int64) (Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	SoftDeleteItem(ctx context.Context, id int64, at time.Time) error
	InsertVariant(ctx context.Context, v Variant) (int64, error)
	UpdateVariant(ctx context.Context, v Variant) error
	SoftDeleteVariant(ctx context.Context, id int64, at time.Time) error
	MissingUnits(ctx context.Context, codes []string) ([]string, error)
	CountVariantReferences(ctx context.Context, variantID int64) (int, error)
}

// Repository persists items and variants in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const itemColumns = `id, code, name, category_id, supplier_id, is_active, recorded_buy_price, created_at, updated_at, deleted_at`

const variantColumns = `id, item_id, code, unit_code, conversion_amount, sell_price, created_at, updated_at, deleted_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.CategoryID, &it.SupplierID, &it.IsActive,
		&it.RecordedBuyPrice, &it.CreatedAt, &it.UpdatedAt, &it.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

func scanVariants(rows pgx.Rows) ([]Variant, error) {
	defer rows.Close()
	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ItemID, &v.Code, &v.UnitCode, &v.ConversionAmount, &v.SellPrice,
			&v.CreatedAt, &v.UpdatedAt, &v.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func activeVariantsOf(ctx context.Context, q db.Querier, itemIDs []int64) (map[int64][]Variant, error) {
	rows, err := q.Query(ctx, `SELECT `+variantColumns+` FROM item_variants
WHERE item_id = ANY($1) AND deleted_at IS NULL ORDER BY item_id, conversion_amount, id`, itemIDs)
	if err != nil {
		return nil, err
	}
	variants, err := scanVariants(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]Variant, len(itemIDs))
	for _, v := range variants {
		out[v.ItemID] = append(out[v.ItemID], v)
	}
	return out, nil
}

// GetItem loads a live item with its active variants.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 AND deleted_at IS NULL`, id))
	if err != nil {
		return Item{}, err
	}
	variants, err := activeVariantsOf(ctx, r.pool, []int64{id})
	if err != nil {
		return Item{}, err
	}
	item.Variants = variants[id]
	return item, nil
}

// ListItems returns a page of live items.
func (r *Repository) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	where := ` WHERE deleted_at IS NULL`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += ` AND (code ILIKE $` + strconv.Itoa(len(args)) + ` OR name ILIKE $` + strconv.Itoa(len(args)) + `)`
	}
	if filter.CategoryID > 0 {
		args = append(args, filter.CategoryID)
		where += ` AND category_id = $` + strconv.Itoa(len(args))
	}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		where += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + itemColumns + ` FROM items` + where + ` ORDER BY code ASC`
	args = append(args, filter.Limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, shared.Offset(filter.Page, filter.Limit))
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items := []Item{}
	ids := []int64{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, it)
		ids = append(ids, it.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return items, total, nil
	}
	variants, err := activeVariantsOf(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].Variants = variants[items[i].ID]
	}
	return items, total, nil
}

func (r *txRepo) LockItem(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id))
	if err != nil {
		return Item{}, err
	}
	variants, err := activeVariantsOf(ctx, r.tx, []int64{id})
	if err != nil {
		return Item{}, err
	}
	item.Variants = variants[id]
	return item, nil
}

func (r *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO items (code, name, category_id, supplier_id, is_active, recorded_buy_price, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`,
		item.Code, item.Name, item.CategoryID, item.SupplierID, item.IsActive, item.RecordedBuyPrice).Scan(&id)
	if db.IsCode(err, db.CodeUniqueViolation) && db.ConstraintName(err) == constraintItemCode {
		return 0, ErrDuplicateItemCode
	}
	return id, err
}

func (r *txRepo) UpdateItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE items SET name=$2, category_id=$3, supplier_id=$4, is_active=$5, recorded_buy_price=$6, updated_at=NOW()
WHERE id=$1`, item.ID, item.Name, item.CategoryID, item.SupplierID, item.IsActive, item.RecordedBuyPrice)
	return err
}

func (r *txRepo) SoftDeleteItem(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE items SET deleted_at=$2, is_active=FALSE, updated_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepo) InsertVariant(ctx context.Context, v Variant) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO item_variants (item_id, code, unit_code, conversion_amount, sell_price, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id`,
		v.ItemID, v.Code, v.UnitCode, v.ConversionAmount, v.SellPrice).Scan(&id)
	return id, mapVariantErr(err)
}

func (r *txRepo) UpdateVariant(ctx context.Context, v Variant) error {
	_, err := r.tx.Exec(ctx, `UPDATE item_variants SET code=$2, unit_code=$3, conversion_amount=$4, sell_price=$5, updated_at=NOW()
WHERE id=$1 AND deleted_at IS NULL`, v.ID, v.Code, v.UnitCode, v.ConversionAmount, v.SellPrice)
	return mapVariantErr(err)
}

func (r *txRepo) SoftDeleteVariant(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE item_variants SET deleted_at=$2, updated_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepo) MissingUnits(ctx context.Context, codes []string) ([]string, error) {
	rows, err := r.tx.Query(ctx, `SELECT c FROM unnest($1::text[]) AS c WHERE NOT EXISTS (SELECT 1 FROM units u WHERE u.code = c)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var missing []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		missing = append(missing, c)
	}
	return missing, rows.Err()
}

// CountVariantReferences counts committed transfer lines and adjustments pointing at the variant.
func (r *txRepo) CountVariantReferences(ctx context.Context, variantID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM stock_transfer_lines l JOIN stock_transfers t ON t.id = l.transfer_id
    WHERE l.variant_id = $1 AND t.status = 'COMMITTED')
+ (SELECT COUNT(*) FROM stock_adjustments a WHERE a.variant_id = $1 AND a.status = 'COMMITTED')`, variantID).Scan(&n)
	return n, err
}

func mapVariantErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case db.IsCode(err, db.CodeUniqueViolation) && db.ConstraintName(err) == constraintBaseUnit:
		return ErrDuplicateBaseUnit
	case db.IsCode(err, db.CodeUniqueViolation) && db.ConstraintName(err) == constraintVariantCode:
		return ErrDuplicateVariantCode
	case db.IsCode(err, db.CodeForeignKeyViolation) && db.ConstraintName(err) == constraintVariantUnit:
		return ErrUnknownUnit
	}
	return err
}

// LoadVariantsForShare reads the given variants under FOR SHARE so a concurrent removal or
// conversion change waits for the caller's transaction. Removed variants are included; callers
// decide through ResolveLine.
func LoadVariantsForShare(ctx context.Context, q db.Querier, ids []int64) (map[int64]Variant, error) {
	out := make(map[int64]Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT `+variantColumns+` FROM item_variants WHERE id = ANY($1) ORDER BY id FOR SHARE`, ids)
	if err != nil {
		return nil, err
	}
	variants, err := scanVariants(rows)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		out[v.ID] = v
	}
	return out, nil
}
