package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
)

// ErrUnknownCheckoutRequest means no payment attempt carries the token.
var ErrUnknownCheckoutRequest = errors.New("unknown checkout request id")

// Settlement reports what ApplyPaymentOutcome did. Applied is false when
// the order had already left pending, in which case Status is the status
// it was found in.
type Settlement struct {
	OrderID string
	Status  domain.OrderStatus
	Total   int64
	Applied bool
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// InsertTx writes the order and its items inside the caller's transaction.
func (r *OrderRepository) InsertTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, delivery_address, delivery_lat, delivery_lng,
			total_amount, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, order.ID, order.BuyerID, order.DeliveryAddress, order.DeliveryLat, order.DeliveryLng,
		order.Total, order.Notes, order.Status, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, supplier_id, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), order.ID, item.ProductID, item.SupplierID, item.Quantity, item.PriceAtPurchase)
		if err != nil {
			return err
		}
	}

	return nil
}

const orderColumns = `id, buyer_id, delivery_address, delivery_lat, delivery_lng, total_amount,
	notes, status, receipt_number, failure_reason, paid_amount, payer_phone, settled_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                      domain.Order
		lat, lng               sql.NullFloat64
		receipt, reason, phone sql.NullString
		paid                   sql.NullInt64
		settledAt              sql.NullTime
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.DeliveryAddress, &lat, &lng, &o.Total,
		&o.Notes, &o.Status, &receipt, &reason, &paid, &phone, &settledAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		o.DeliveryLat, o.DeliveryLng = &lat.Float64, &lng.Float64
	}
	o.ReceiptNumber = receipt.String
	o.FailureReason = reason.String
	o.PayerPhone = phone.String
	if paid.Valid {
		o.PaidAmount = &paid.Int64
	}
	if settledAt.Valid {
		o.SettledAt = &settledAt.Time
	}
	o.Items = []domain.OrderItem{}
	return &o, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	byID := map[string]*domain.Order{order.ID: order}
	if err := r.attachItems(ctx, byID, []string{order.ID}); err != nil {
		return nil, err
	}
	if err := r.attachAttempts(ctx, byID, []string{order.ID}); err != nil {
		return nil, err
	}

	return order, nil
}

// ListByBuyer returns the buyer's orders, newest first. Items and payment
// attempts are loaded in one query each rather than per order.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.attachItems(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}
	if err := r.attachAttempts(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, supplier_id, quantity, price_at_purchase
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, product_id
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.SupplierID, &item.Quantity, &item.PriceAtPurchase); err != nil {
			return err
		}
		if order, ok := orderMap[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	return rows.Err()
}

func (r *OrderRepository) attachAttempts(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, checkout_request_id, merchant_request_id, phone, amount,
			result_code, result_desc, created_at, settled_at
		FROM payment_attempts
		WHERE order_id = ANY($1::uuid[])
		ORDER BY created_at
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			a         domain.PaymentAttempt
			code      sql.NullInt64
			desc      sql.NullString
			settledAt sql.NullTime
		)
		if err := rows.Scan(&a.OrderID, &a.CheckoutRequestID, &a.MerchantRequestID, &a.Phone, &a.Amount,
			&code, &desc, &a.CreatedAt, &settledAt); err != nil {
			return err
		}
		if code.Valid {
			c := int(code.Int64)
			a.ResultCode = &c
		}
		a.ResultDesc = desc.String
		if settledAt.Valid {
			a.SettledAt = &settledAt.Time
		}
		if order, ok := orderMap[a.OrderID]; ok {
			order.PaymentAttempts = append(order.PaymentAttempts, a)
		}
	}

	return rows.Err()
}

// RecordPaymentAttempt appends the correlation token for an accepted STK
// push. Recording the same token twice is a no-op.
func (r *OrderRepository) RecordPaymentAttempt(ctx context.Context, a domain.PaymentAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (id, order_id, checkout_request_id, merchant_request_id, phone, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (checkout_request_id) DO NOTHING
	`, uuid.New().String(), a.OrderID, a.CheckoutRequestID, a.MerchantRequestID, a.Phone, a.Amount, a.CreatedAt)
	return err
}

// ApplyPaymentOutcome settles the order that owns checkoutRequestID. The
// order row is locked for the duration, and the status only moves if it is
// still pending, so duplicate and late callbacks change nothing.
func (r *OrderRepository) ApplyPaymentOutcome(ctx context.Context, checkoutRequestID string, outcome domain.PaymentOutcome) (*Settlement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	s := &Settlement{}
	err = tx.QueryRowContext(ctx, `
		SELECT o.id, o.status, o.total_amount
		FROM payment_attempts pa
		JOIN orders o ON o.id = pa.order_id
		WHERE pa.checkout_request_id = $1
		FOR UPDATE OF o
	`, checkoutRequestID).Scan(&s.OrderID, &s.Status, &s.Total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnknownCheckoutRequest
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_attempts
		SET result_code = $2, result_desc = $3, settled_at = NOW()
		WHERE checkout_request_id = $1 AND settled_at IS NULL
	`, checkoutRequestID, outcome.Code(), outcome.Description())
	if err != nil {
		return nil, err
	}

	if !s.Status.AcceptsPaymentOutcome() {
		return s, tx.Commit()
	}

	var result sql.Result
	switch o := outcome.(type) {
	case domain.PaymentSucceeded:
		result, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, receipt_number = $3, paid_amount = $4, payer_phone = $5,
				settled_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, s.OrderID, domain.OrderStatusConfirmed, o.Receipt, o.Amount, o.Phone)
	case domain.PaymentFailed:
		result, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, failure_reason = $3, settled_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, s.OrderID, domain.OrderStatusFailed, o.Reason)
	default:
		return nil, fmt.Errorf("unsupported payment outcome %T", outcome)
	}
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected > 0 {
		s.Applied = true
		s.Status = outcome.TargetStatus()
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

// FindStuckPayments lists pending orders whose most recent payment attempt
// has had no callback for longer than olderThan, oldest first.
func (r *OrderRepository) FindStuckPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.StuckPayment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.buyer_id, o.total_amount, pa.checkout_request_id, pa.created_at
		FROM orders o
		JOIN LATERAL (
			SELECT checkout_request_id, created_at, settled_at
			FROM payment_attempts
			WHERE order_id = o.id
			ORDER BY created_at DESC
			LIMIT 1
		) pa ON true
		WHERE o.status = 'pending'
			AND pa.settled_at IS NULL
			AND pa.created_at < NOW() - make_interval(secs => $1::double precision)
		ORDER BY pa.created_at
		LIMIT $2
	`, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stuck := []domain.StuckPayment{}
	for rows.Next() {
		var p domain.StuckPayment
		if err := rows.Scan(&p.OrderID, &p.BuyerID, &p.Total, &p.CheckoutRequestID, &p.RequestedAt); err != nil {
			return nil, err
		}
		stuck = append(stuck, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stuck, nil
}
