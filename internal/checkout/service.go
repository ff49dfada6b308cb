// Package checkout turns a buyer's cart into an order in one transaction:
// stock is checked and decremented, the order and its items are written,
// and the cart is emptied, or nothing happens at all.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/inventory"
	"github.com/joao-fontenele/mpesa-checkout/internal/messaging"
)

type StockLocker interface {
	LockForCheckout(ctx context.Context, tx *sql.Tx, productIDs []string) (map[string]int, error)
	Decrement(ctx context.Context, tx *sql.Tx, productID string, quantity int) error
}

type OrderWriter interface {
	InsertTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error
}

type CartClearer interface {
	ClearTx(ctx context.Context, tx *sql.Tx, buyerID string) error
}

type Service struct {
	db        *sql.DB
	stock     StockLocker
	orders    OrderWriter
	carts     CartClearer
	publisher messaging.Publisher
	logger    *slog.Logger

	checkouts metric.Int64Counter
}

func NewService(db *sql.DB, stock StockLocker, orders OrderWriter, carts CartClearer, publisher messaging.Publisher, logger *slog.Logger) (*Service, error) {
	checkouts, err := otel.Meter("checkout").Int64Counter("checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:        db,
		stock:     stock,
		orders:    orders,
		carts:     carts,
		publisher: publisher,
		logger:    logger,
		checkouts: checkouts,
	}, nil
}

// Checkout validates req and converts it into a pending order. Validation
// problems come back as validation.Errors, stock problems as
// *InsufficientStockError, and persistence failures wrap domain.ErrTransient.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		s.record(ctx, "invalid")
		return nil, err
	}

	order, err := s.run(ctx, &req)
	if err != nil {
		var shortfall *InsufficientStockError
		switch {
		case errors.As(err, &shortfall):
			s.record(ctx, "insufficient_stock")
			s.logger.Warn("checkout rejected, insufficient stock", "buyer_id", req.BuyerID, "items", len(shortfall.Items))
		default:
			s.record(ctx, "error")
			s.logger.Error("checkout failed", "error", err, "buyer_id", req.BuyerID)
		}
		return nil, err
	}

	s.record(ctx, "created")
	s.logger.Info("order created", "order_id", order.ID, "buyer_id", order.BuyerID, "total", order.Total, "items", len(order.Items))
	s.publishCreated(ctx, order)

	return &Result{OrderID: order.ID, Total: order.Total, Status: order.Status}, nil
}

func (s *Service) run(ctx context.Context, req *Request) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("begin checkout: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	productIDs, requested := req.quantities()
	available, err := s.stock.LockForCheckout(ctx, tx, productIDs)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("lock stock: %w", err))
	}

	if shortfall := shortfalls(productIDs, requested, available); shortfall != nil {
		return nil, shortfall
	}

	locked := append([]string(nil), productIDs...)
	sort.Strings(locked)
	for _, id := range locked {
		if err := s.stock.Decrement(ctx, tx, id, requested[id]); err != nil {
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return nil, &InsufficientStockError{Items: []StockShortfall{
					{ProductID: id, Requested: requested[id], Available: available[id]},
				}}
			}
			return nil, domain.Transient(fmt.Errorf("decrement stock for %s: %w", id, err))
		}
	}

	items := req.orderItems()
	order := &domain.Order{
		ID:              uuid.New().String(),
		BuyerID:         req.BuyerID,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
		Items:           items,
		Total:           domain.OrderTotal(items),
		Notes:           req.Notes,
		Status:          domain.OrderStatusPending,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.orders.InsertTx(ctx, tx, order); err != nil {
		return nil, domain.Transient(fmt.Errorf("insert order: %w", err))
	}

	if err := s.carts.ClearTx(ctx, tx, req.BuyerID); err != nil {
		return nil, domain.Transient(fmt.Errorf("clear cart: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Transient(fmt.Errorf("commit checkout: %w", err))
	}

	return order, nil
}

func shortfalls(productIDs []string, requested, available map[string]int) *InsufficientStockError {
	var items []StockShortfall
	for _, id := range productIDs {
		have := available[id]
		if requested[id] > have {
			items = append(items, StockShortfall{ProductID: id, Requested: requested[id], Available: have})
		}
	}
	if len(items) == 0 {
		return nil
	}
	return &InsufficientStockError{Items: items}
}

func (s *Service) publishCreated(ctx context.Context, order *domain.Order) {
	if s.publisher == nil {
		return
	}
	event := domain.OrderCreatedEvent{
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Items:     order.Items,
		Total:     order.Total,
		Timestamp: order.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, domain.TopicOrderCreated, order.ID, event); err != nil {
		s.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
	}
}

func (s *Service) record(ctx context.Context, outcome string) {
	s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
