package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// Repository reads ledger state from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the entry for key or ErrEntryNotFound.
func (r *Repository) Get(ctx context.Context, key Key) (Entry, error) {
	return getEntry(ctx, r.pool, key, false)
}

// ListByItem returns every branch row of an item.
func (r *Repository) ListByItem(ctx context.Context, itemID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT branch_id, item_id, quantity, updated_at FROM stock_ledger
WHERE item_id=$1 ORDER BY branch_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.BranchID, &e.ItemID, &e.Quantity, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Movements lists stock card lines, newest first.
func (r *Repository) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	args := []any{filter.BranchID, filter.ItemID}
	query := `SELECT id, branch_id, item_id, delta, balance_after, source_type, source_id, note, posted_at
FROM stock_movements WHERE branch_id=$1 AND item_id=$2`
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND posted_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND posted_at < $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY posted_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var m Movement
		var source string
		if err := rows.Scan(&m.ID, &m.BranchID, &m.ItemID, &m.Delta, &m.BalanceAfter, &source, &m.SourceID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		m.SourceType = SourceType(source)
		out = append(out, m)
	}
	return out, rows.Err()
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore returns a Store bound to tx.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

// GetForUpdate cannot lock a row that does not exist yet. Two submissions racing to create the
// same row meet at the upsert, which fails with a serialization error and the submission retries.
func (s *txStore) GetForUpdate(ctx context.Context, key Key) (Entry, error) {
	return getEntry(ctx, s.tx, key, true)
}

func (s *txStore) Upsert(ctx context.Context, entry Entry) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_ledger (branch_id, item_id, quantity, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (branch_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
		entry.BranchID, entry.ItemID, entry.Quantity, entry.UpdatedAt)
	return err
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements (branch_id, item_id, delta, balance_after, source_type, source_id, note, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.BranchID, m.ItemID, m.Delta, m.BalanceAfter, string(m.SourceType), m.SourceID, m.Note, m.PostedAt)
	return err
}

func getEntry(ctx context.Context, q db.Querier, key Key, forUpdate bool) (Entry, error) {
	query := `SELECT branch_id, item_id, quantity, updated_at FROM stock_ledger WHERE branch_id=$1 AND item_id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var e Entry
	err := q.QueryRow(ctx, query, key.BranchID, key.ItemID).Scan(&e.BranchID, &e.ItemID, &e.Quantity, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}
