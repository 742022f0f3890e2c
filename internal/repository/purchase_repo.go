package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

// Price travels as text so NUMERIC never passes through a float.
const purchaseColumns = `id, user_id, product_type, product_id, product_name, credits,
	price::text, payment_method, status, payment_ref, created_at, paid_at, updated_at`

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var (
		p      model.Purchase
		price  string
		status string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ProductType, &p.ProductID, &p.ProductName, &p.Credits,
		&price, &p.PaymentMethod, &status, &p.PaymentRef, &p.CreatedAt, &p.PaidAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("decode price of purchase %s: %w", p.ID, err)
	}
	p.Status = model.PurchaseStatus(status)
	return &p, nil
}

// Insert persists a new pending purchase and fills in its timestamps.
func (r *PurchaseRepo) Insert(ctx context.Context, p *model.Purchase) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO purchases (id, user_id, product_type, product_id, product_name, credits,
		                       price, payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.ProductType, p.ProductID, p.ProductName, p.Credits,
		p.Price.StringFixed(2), p.PaymentMethod, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *PurchaseRepo) FindByID(ctx context.Context, id string) (*model.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ListByUser returns a page of the user's purchases, newest first.
func (r *PurchaseRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Purchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkPaid moves a pending purchase to paid. It returns ErrNotFound when no
// pending purchase with that id exists, which includes one already paid.
func (r *PurchaseRepo) MarkPaid(ctx context.Context, id, paymentRef string) (*model.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `
		UPDATE purchases
		SET status = 'paid', payment_ref = NULLIF($2, ''), paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+purchaseColumns, id, paymentRef))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}
