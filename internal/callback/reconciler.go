// Package callback receives the gateway's asynchronous payment result and
// settles the matching order. Every delivery is acknowledged the same way,
// whatever happened to it, so that callers learn nothing from the response.
package callback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/messaging"
	"github.com/joao-fontenele/mpesa-checkout/internal/orders"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

type Outcome string

const (
	OutcomeRejectedOrigin Outcome = "rejected_origin"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeUnknownToken   Outcome = "unknown_token"
	OutcomeReplay         Outcome = "replay"
	OutcomeConfirmed      Outcome = "confirmed"
	OutcomeFailed         Outcome = "failed"
	OutcomeError          Outcome = "error"
)

type Settler interface {
	ApplyPaymentOutcome(ctx context.Context, checkoutRequestID string, outcome domain.PaymentOutcome) (*orders.Settlement, error)
}

// Delivery is one inbound callback: who sent it and what it said.
type Delivery struct {
	Origin string
	Body   []byte
}

type Reconciler struct {
	guard     *OriginGuard
	settler   Settler
	replays   ReplayGuard
	publisher messaging.Publisher
	logger    *slog.Logger
	now       func() time.Time

	received metric.Int64Counter
}

// NewReconciler wires the reconciler. replays and publisher may be nil.
func NewReconciler(guard *OriginGuard, settler Settler, replays ReplayGuard, publisher messaging.Publisher, logger *slog.Logger) (*Reconciler, error) {
	received, err := otel.Meter("callback").Int64Counter("callback.received",
		metric.WithDescription("M-Pesa callbacks by reconciliation outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Reconciler{
		guard:     guard,
		settler:   settler,
		replays:   replays,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		received:  received,
	}, nil
}

// Reconcile processes one delivery. It never returns an error: the outcome
// is for logging, metrics and tests, not for the HTTP response.
func (r *Reconciler) Reconcile(ctx context.Context, d Delivery) Outcome {
	outcome := r.reconcile(ctx, d)
	r.received.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, d Delivery) Outcome {
	if !r.guard.Allowed(d.Origin) {
		r.logger.Warn("callback from unauthorized origin", "event", "security", "client_addr", d.Origin)
		return OutcomeRejectedOrigin
	}

	n, err := ParseNotification(d.Body)
	if err != nil {
		r.logger.Warn("malformed callback", "error", err, "client_addr", d.Origin, "body_bytes", len(d.Body))
		return OutcomeMalformed
	}
	log := r.logger.With("checkout_request_id", n.CheckoutRequestID, "result_code", n.Outcome.Code())

	if r.replays != nil {
		seen, err := r.replays.Seen(ctx, n.CheckoutRequestID)
		if err != nil {
			log.Warn("replay guard unavailable, falling back to database", "error", err)
		} else if seen {
			log.Info("callback replay ignored")
			return OutcomeReplay
		}
	}

	s, err := r.settler.ApplyPaymentOutcome(ctx, n.CheckoutRequestID, n.Outcome)
	if errors.Is(err, orders.ErrUnknownCheckoutRequest) {
		log.Warn("callback for unknown checkout request", "event", "anomaly", "merchant_request_id", n.MerchantRequestID)
		return OutcomeUnknownToken
	}
	if err != nil {
		log.Error("failed to apply payment outcome", "error", err)
		return OutcomeError
	}
	log = log.With("order_id", s.OrderID)

	r.remember(ctx, log, n.CheckoutRequestID)

	if !s.Applied {
		log.Info("callback for settled order ignored", "status", s.Status)
		return OutcomeReplay
	}

	switch o := n.Outcome.(type) {
	case domain.PaymentSucceeded:
		if o.Amount != s.Total {
			log.Warn("paid amount differs from order total", "event", "anomaly", "paid", o.Amount, "total", s.Total)
		}
		log.Info("payment confirmed", "receipt", o.Receipt, "amount", o.Amount, "phone", validation.MaskPhone(o.Phone))
		r.publishSettled(ctx, log, s, n, o.Receipt, "")
		return OutcomeConfirmed
	case domain.PaymentFailed:
		log.Info("payment failed", "reason", o.Reason)
		r.publishSettled(ctx, log, s, n, "", o.Reason)
		return OutcomeFailed
	}
	return OutcomeError
}

func (r *Reconciler) remember(ctx context.Context, log *slog.Logger, checkoutRequestID string) {
	if r.replays == nil {
		return
	}
	if err := r.replays.Remember(ctx, checkoutRequestID); err != nil {
		log.Warn("failed to remember settled callback", "error", err)
	}
}

func (r *Reconciler) publishSettled(ctx context.Context, log *slog.Logger, s *orders.Settlement, n *Notification, receipt, reason string) {
	if r.publisher == nil {
		return
	}
	event := domain.PaymentSettledEvent{
		OrderID:           s.OrderID,
		CheckoutRequestID: n.CheckoutRequestID,
		Status:            s.Status,
		ReceiptNumber:     receipt,
		FailureReason:     reason,
		Timestamp:         r.now().UTC(),
	}
	if err := r.publisher.Publish(ctx, domain.TopicPaymentSettled, s.OrderID, event); err != nil {
		log.Error("failed to publish payment settled event", "error", err)
	}
}
