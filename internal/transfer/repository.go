package transfer

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

// Repository persists transfers in PostgreSQL.
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

const headerColumns = `id, code, transaction_date, from_branch_id, to_branch_id, notes, status, created_by, created_at, voided_by, voided_at`

func scanHeader(row pgx.Row) (Transfer, error) {
	var t Transfer
	var status string
	err := row.Scan(&t.ID, &t.Code, &t.TransactionDate, &t.FromBranchID, &t.ToBranchID, &t.Notes, &status,
		&t.CreatedBy, &t.CreatedAt, &t.VoidedBy, &t.VoidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	t.Status = Status(status)
	return t, err
}

func loadLines(ctx context.Context, q db.Querier, ids []int64) (map[int64][]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, line_order, item_id, variant_id, qty, conversion_amount, base_qty
FROM stock_transfer_lines WHERE transfer_id = ANY($1) ORDER BY transfer_id, line_order`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Line, len(ids))
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.TransferID, &l.LineOrder, &l.ItemID, &l.VariantID, &l.Qty, &l.ConversionAmount, &l.BaseQty); err != nil {
			return nil, err
		}
		out[l.TransferID] = append(out[l.TransferID], l)
	}
	return out, rows.Err()
}

// Get loads a transfer and its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanHeader(r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM stock_transfers WHERE id=$1`, id))
	if err != nil {
		return Transfer{}, err
	}
	lines, err := loadLines(ctx, r.pool, []int64{id})
	if err != nil {
		return Transfer{}, err
	}
	t.Lines = lines[id]
	return t, nil
}

// List returns a page of transfers touching the filter's branch on either side.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		n := strconv.Itoa(len(args))
		where += ` AND (from_branch_id = $` + n + ` OR to_branch_id = $` + n + `)`
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transfers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + headerColumns + ` FROM stock_transfers` + where + ` ORDER BY transaction_date DESC, id DESC`
	args = append(args, filter.Limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, shared.Offset(filter.Page, filter.Limit))
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	transfers := []Transfer{}
	ids := []int64{}
	for rows.Next() {
		t, err := scanHeader(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		transfers = append(transfers, t)
		ids = append(ids, t.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return transfers, total, nil
	}
	lines, err := loadLines(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range transfers {
		transfers[i].Lines = lines[transfers[i].ID]
	}
	return transfers, total, nil
}

func (r *txRepo) Ledger() ledger.Store {
	return ledger.NewTxStore(r.tx)
}

func (r *txRepo) LoadVariants(ctx context.Context, ids []int64) (map[int64]catalog.Variant, error) {
	return catalog.LoadVariantsForShare(ctx, r.tx, ids)
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (code, transaction_date, from_branch_id, to_branch_id, notes, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		t.Code, t.TransactionDate, t.FromBranchID, t.ToBranchID, t.Notes, string(t.Status), t.CreatedBy, t.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	batch := &pgx.Batch{}
	for _, l := range t.Lines {
		batch.Queue(`INSERT INTO stock_transfer_lines (transfer_id, line_order, item_id, variant_id, qty, conversion_amount, base_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, l.LineOrder, l.ItemID, l.VariantID, l.Qty, l.ConversionAmount, l.BaseQty)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *txRepo) LockTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM stock_transfers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, err
	}
	lines, err := loadLines(ctx, r.tx, []int64{id})
	if err != nil {
		return Transfer{}, err
	}
	t.Lines = lines[id]
	return t, nil
}

func (r *txRepo) MarkVoided(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET status=$2, voided_by=$3, voided_at=$4 WHERE id=$1 AND status=$5`,
		id, string(StatusVoided), actorID, at, string(StatusCommitted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}
