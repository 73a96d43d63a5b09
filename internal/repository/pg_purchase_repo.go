package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

const purchaseColumns = `id, name, product, amount, phone, email, correlation_id, notified_at, created_at`

type pgPurchaseRepository struct {
	pool *pgxpool.Pool
}

// NewPgPurchaseRepository returns a PurchaseRepository backed by PostgreSQL.
func NewPgPurchaseRepository(pool *pgxpool.Pool) PurchaseRepository {
	return &pgPurchaseRepository{pool: pool}
}

func (r *pgPurchaseRepository) Create(ctx context.Context, p *domain.Purchase) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO purchases
			(id, name, product, amount, phone, email, correlation_id, notified_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Name, p.Product, p.Amount, p.Phone, p.Email, p.CorrelationID, p.NotifiedAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (r *pgPurchaseRepository) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)

	p, err := scanPurchase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

func (r *pgPurchaseRepository) List(ctx context.Context, f domain.PurchaseFilter) ([]*domain.Purchase, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit
	if offset < 0 {
		offset = 0
	}

	// Count total matching rows for pagination metadata.
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM purchases"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count purchases: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM purchases%s
		ORDER BY created_at DESC`, purchaseColumns, where)
	// a zero limit lists everything
	if f.Limit > 0 {
		args = append(args, f.Limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	purchases, err := scanPurchases(rows)
	return purchases, total, err
}

func (r *pgPurchaseRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM purchases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgPurchaseRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE purchases SET notified_at = $1 WHERE id = $2`, at, id)
	return err
}

func (r *pgPurchaseRepository) FindUnnotified(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Purchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE notified_at IS NULL
		  AND (phone IS NOT NULL OR email IS NOT NULL)
		  AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("find unnotified purchases: %w", err)
	}
	defer rows.Close()
	return scanPurchases(rows)
}

// ---- helpers ----

// scanPurchase reads a single purchase row from any pgx row type.
func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var p domain.Purchase
	err := row.Scan(
		&p.ID, &p.Name, &p.Product, &p.Amount, &p.Phone, &p.Email,
		&p.CorrelationID, &p.NotifiedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPurchases(rows pgx.Rows) ([]*domain.Purchase, error) {
	result := []*domain.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a PurchaseFilter.
func buildListWhere(f domain.PurchaseFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Product != nil {
		add("product = $%d", *f.Product)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
