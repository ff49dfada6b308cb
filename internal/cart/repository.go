// Package cart stores each buyer's mutable cart until checkout turns it
// into an order.
package cart

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
)

var ErrUnknownProduct = errors.New("unknown product")

// pq error code for foreign_key_violation.
const foreignKeyViolation = "23503"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns the buyer's cart lines with the current product price, which
// the storefront offers as the price snapshot at checkout.
func (r *Repository) List(ctx context.Context, buyerID string) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.product_id, p.supplier_id, c.quantity, p.price, c.updated_at
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.buyer_id = $1
		ORDER BY c.updated_at, c.product_id
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines := []domain.CartLine{}
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ProductID, &l.SupplierID, &l.Quantity, &l.UnitPrice, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// Upsert sets the quantity of one product in the cart. The last write wins.
func (r *Repository) Upsert(ctx context.Context, buyerID, productID string, quantity int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (buyer_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (buyer_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
	`, buyerID, productID, quantity)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return ErrUnknownProduct
		}
		return err
	}
	return nil
}

// Remove reports whether a line was deleted.
func (r *Repository) Remove(ctx context.Context, buyerID, productID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE buyer_id = $1 AND product_id = $2
	`, buyerID, productID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// ClearTx empties the buyer's cart as part of the checkout transaction.
func (r *Repository) ClearTx(ctx context.Context, tx *sql.Tx, buyerID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE buyer_id = $1`, buyerID)
	return err
}
