package units

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Unit, int, error)
	Get(ctx context.Context, code string) (Unit, error)
	Create(ctx context.Context, unit Unit) (Unit, error)
	UpdateDisplayName(ctx context.Context, code, displayName string) (Unit, error)
	Delete(ctx context.Context, code string) error
	CountVariantReferences(ctx context.Context, code string) (int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Unit, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += ` AND (code ILIKE $1 OR display_name ILIKE $1)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM units`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT code, display_name, created_at, updated_at FROM units` + where + ` ORDER BY code ASC`
	args = append(args, filter.Limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, shared.Offset(filter.Page, filter.Limit))
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	units := []Unit{}
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.Code, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		units = append(units, u)
	}
	return units, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, code string) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT code, display_name, created_at, updated_at FROM units WHERE code=$1`, code).
		Scan(&u.Code, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	return u, err
}

func (r *repository) Create(ctx context.Context, unit Unit) (Unit, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO units (code, display_name, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW()) RETURNING created_at, updated_at`, unit.Code, unit.DisplayName).
		Scan(&unit.CreatedAt, &unit.UpdatedAt)
	if db.IsCode(err, db.CodeUniqueViolation) {
		return Unit{}, ErrDuplicateUnit
	}
	return unit, err
}

func (r *repository) UpdateDisplayName(ctx context.Context, code, displayName string) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `UPDATE units SET display_name=$2, updated_at=NOW() WHERE code=$1
RETURNING code, display_name, created_at, updated_at`, code, displayName).
		Scan(&u.Code, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	return u, err
}

func (r *repository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM units WHERE code=$1`, code)
	if db.IsCode(err, db.CodeForeignKeyViolation) {
		// soft-deleted variants still reference the unit
		return ErrUnitInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

func (r *repository) CountVariantReferences(ctx context.Context, code string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM item_variants WHERE unit_code=$1 AND deleted_at IS NULL`, code).Scan(&n)
	return n, err
}
