// Package inventory owns product stock. Stock only moves inside the
// checkout transaction; everything else here is a read view.
package inventory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) ListAll(ctx context.Context) ([]domain.StockLevel, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, supplier_id, name, price, stock, updated_at
		FROM products
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []domain.StockLevel{}
	for rows.Next() {
		var s domain.StockLevel
		if err := rows.Scan(&s.ProductID, &s.SupplierID, &s.Name, &s.Price, &s.Available, &s.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (l *Ledger) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	s := &domain.StockLevel{}

	err := l.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, name, price, stock, updated_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&s.ProductID, &s.SupplierID, &s.Name, &s.Price, &s.Available, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return s, nil
}

// LockForCheckout takes row locks on the given products, in id order so
// that concurrent checkouts over overlapping carts cannot deadlock, and
// returns the stock each one holds. Products that do not exist are absent
// from the map.
func (l *Ledger) LockForCheckout(ctx context.Context, tx *sql.Tx, productIDs []string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, stock
		FROM products
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, pq.Array(productIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stock := make(map[string]int, len(productIDs))
	for rows.Next() {
		var id string
		var available int
		if err := rows.Scan(&id, &available); err != nil {
			return nil, err
		}
		stock[id] = available
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stock, nil
}

// Decrement removes quantity units of a product. It never lets stock go
// negative; a shortfall reports ErrInsufficientStock.
func (l *Ledger) Decrement(ctx context.Context, tx *sql.Tx, productID string, quantity int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrInsufficientStock
	}

	return nil
}
