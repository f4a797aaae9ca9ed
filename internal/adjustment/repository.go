package adjustment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Repository persists adjustments in PostgreSQL.
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

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const columns = `id, code, batch_code, transaction_date, branch_id, item_id, variant_id, actual_qty, conversion_amount,
before_amount, final_amount, total_gap_amount, notes, status, created_by, created_at, voided_by, voided_at`

func scanAdjustment(row pgx.Row) (Adjustment, error) {
	var a Adjustment
	var status string
	err := row.Scan(&a.ID, &a.Code, &a.BatchCode, &a.TransactionDate, &a.BranchID, &a.ItemID, &a.VariantID, &a.ActualQty,
		&a.ConversionAmount, &a.BeforeAmount, &a.FinalAmount, &a.TotalGapAmount, &a.Notes, &status,
		&a.CreatedBy, &a.CreatedAt, &a.VoidedBy, &a.VoidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrAdjustmentNotFound
	}
	a.Status = Status(status)
	return a, err
}

// Get loads one adjustment.
func (r *Repository) Get(ctx context.Context, id int64) (Adjustment, error) {
	return scanAdjustment(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM stock_adjustments WHERE id=$1`, id))
}

// List returns a page of adjustments.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		where += ` AND branch_id = $` + strconv.Itoa(len(args))
	}
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		where += ` AND item_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND transaction_date >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND transaction_date <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_adjustments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM stock_adjustments` + where + ` ORDER BY transaction_date DESC, id DESC`
	args = append(args, filter.Limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, shared.Offset(filter.Page, filter.Limit))
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Adjustment{}
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *txRepo) Ledger() ledger.Store {
	return ledger.NewTxStore(r.tx)
}

func (r *txRepo) LoadVariants(ctx context.Context, ids []int64) (map[int64]catalog.Variant, error) {
	return catalog.LoadVariantsForShare(ctx, r.tx, ids)
}

func (r *txRepo) InsertAdjustment(ctx context.Context, a Adjustment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustments (code, batch_code, transaction_date, branch_id, item_id, variant_id,
actual_qty, conversion_amount, before_amount, final_amount, total_gap_amount, notes, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		a.Code, a.BatchCode, a.TransactionDate, a.BranchID, a.ItemID, a.VariantID, a.ActualQty, a.ConversionAmount,
		a.BeforeAmount, a.FinalAmount, a.TotalGapAmount, a.Notes, string(a.Status), a.CreatedBy, a.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) LockAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	return scanAdjustment(r.tx.QueryRow(ctx, `SELECT `+columns+` FROM stock_adjustments WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) MarkVoided(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_adjustments SET status=$2, voided_by=$3, voided_at=$4 WHERE id=$1 AND status=$5`,
		id, string(StatusVoided), actorID, at, string(StatusCommitted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}
