// Package payments starts an M-Pesa STK push for a pending order and records
// the gateway's correlation token so the callback can find the order later.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/mpesa"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPayable = errors.New("order is not awaiting payment")
	ErrAmountMismatch  = errors.New("amount does not match order total")
)

const customerMessage = "Payment request sent. Please check your phone."

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	RecordPaymentAttempt(ctx context.Context, attempt domain.PaymentAttempt) error
}

type Gateway interface {
	STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
}

type Request struct {
	OrderID string  `json:"order_id"`
	Phone   string  `json:"phone"`
	Amount  float64 `json:"amount"`
}

type Result struct {
	CheckoutRequestID string
	MerchantRequestID string
	Message           string
}

type Service struct {
	orders  OrderStore
	gateway Gateway
	logger  *slog.Logger
	now     func() time.Time

	pushes metric.Int64Counter
}

func NewService(orders OrderStore, gateway Gateway, logger *slog.Logger) (*Service, error) {
	pushes, err := otel.Meter("payments").Int64Counter("payments.stk_push",
		metric.WithDescription("STK push requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		orders:  orders,
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
		pushes:  pushes,
	}, nil
}

// Initiate asks the gateway to prompt the buyer's phone. It never changes
// the order status; only the callback does that. When the gateway call
// fails nothing is recorded and the order stays pending.
func (s *Service) Initiate(ctx context.Context, req Request) (*Result, error) {
	phone, amount, err := validate(req)
	if err != nil {
		s.record(ctx, "invalid")
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		s.record(ctx, "error")
		return nil, domain.Transient(fmt.Errorf("load order: %w", err))
	}
	switch {
	case order == nil:
		s.record(ctx, "invalid")
		return nil, ErrOrderNotFound
	case order.Status != domain.OrderStatusPending:
		s.record(ctx, "invalid")
		return nil, fmt.Errorf("%w: status is %s", ErrOrderNotPayable, order.Status)
	case order.Total != amount:
		s.record(ctx, "invalid")
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrAmountMismatch, order.Total, amount)
	}

	resp, err := s.gateway.STKPush(ctx, mpesa.PushRequest{
		OrderID: order.ID,
		Phone:   phone,
		Amount:  amount,
	})
	if err != nil {
		outcome := "error"
		if mpesa.IsRejected(err) {
			outcome = "rejected"
		}
		s.record(ctx, outcome)
		s.logger.Error("stk push failed", "error", err, "order_id", order.ID, "phone", validation.MaskPhone(phone))
		return nil, err
	}

	// the callback parser sanitizes tokens the same way
	token := validation.CheckoutToken(resp.CheckoutRequestID)
	if token == "" {
		s.record(ctx, "rejected")
		return nil, &mpesa.RejectedError{Description: "gateway returned an unusable CheckoutRequestID"}
	}

	attempt := domain.PaymentAttempt{
		OrderID:           order.ID,
		CheckoutRequestID: token,
		MerchantRequestID: validation.Sanitize(resp.MerchantRequestID, validation.MaxTokenLength),
		Phone:             phone,
		Amount:            amount,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.orders.RecordPaymentAttempt(ctx, attempt); err != nil {
		// The prompt is already on the buyer's phone; its callback will be
		// logged as an unknown token.
		s.record(ctx, "error")
		s.logger.Error("failed to record payment attempt", "error", err,
			"order_id", order.ID, "checkout_request_id", token)
		return nil, domain.Transient(fmt.Errorf("record payment attempt: %w", err))
	}

	s.record(ctx, "sent")
	s.logger.Info("stk push sent",
		"order_id", order.ID,
		"checkout_request_id", token,
		"amount", amount,
		"phone", validation.MaskPhone(phone),
	)

	return &Result{
		CheckoutRequestID: token,
		MerchantRequestID: attempt.MerchantRequestID,
		Message:           customerMessage,
	}, nil
}

func validate(req Request) (string, int64, error) {
	var errs validation.Errors
	collect := func(err error) {
		var ve *validation.Error
		if errors.As(err, &ve) {
			errs = append(errs, ve)
		}
	}

	phone, err := validation.NormalizePhone(req.Phone)
	if err != nil {
		collect(err)
	}
	amount, err := validation.Amount(req.Amount)
	if err != nil {
		collect(err)
	}
	if err := validation.UUID("order_id", req.OrderID); err != nil {
		collect(err)
	}

	if err := errs.Err(); err != nil {
		return "", 0, err
	}
	return phone, amount, nil
}

func (s *Service) record(ctx context.Context, outcome string) {
	s.pushes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
