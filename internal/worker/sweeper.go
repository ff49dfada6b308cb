// Package worker runs the background sweep for payments the gateway never
// called back about.
package worker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/messaging"
)

const sweepBatchSize = 500

type StuckPaymentFinder interface {
	FindStuckPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.StuckPayment, error)
}

// Sweeper periodically lists pending orders whose STK push has gone
// unanswered for longer than stuckAfter. It only reports them; settling an
// order is left to the callback or to support staff.
type Sweeper struct {
	finder     StuckPaymentFinder
	publisher  messaging.Publisher
	logger     *slog.Logger
	interval   time.Duration
	stuckAfter time.Duration
	now        func() time.Time

	stuck metric.Int64Gauge
	// reported holds tokens already announced, so each stuck attempt is
	// published once while it stays stuck.
	reported map[string]struct{}
}

func NewSweeper(finder StuckPaymentFinder, publisher messaging.Publisher, logger *slog.Logger, interval, stuckAfter time.Duration) (*Sweeper, error) {
	stuck, err := otel.Meter("worker").Int64Gauge("payments.stuck",
		metric.WithDescription("Pending orders with an unanswered STK push"),
	)
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		finder:     finder,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		stuckAfter: stuckAfter,
		now:        time.Now,
		stuck:      stuck,
		reported:   make(map[string]struct{}),
	}, nil
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("stuck payment sweeper started", "interval", s.interval, "stuck_after", s.stuckAfter)

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("stuck payment sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns how many stuck payments it found.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stuck, err := s.finder.FindStuckPayments(ctx, s.stuckAfter, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	s.stuck.Record(ctx, int64(len(stuck)))

	current := make(map[string]struct{}, len(stuck))
	for _, p := range stuck {
		current[p.CheckoutRequestID] = struct{}{}
		if _, ok := s.reported[p.CheckoutRequestID]; ok {
			continue
		}

		s.logger.Warn("payment stuck awaiting callback",
			"order_id", p.OrderID,
			"buyer_id", p.BuyerID,
			"checkout_request_id", p.CheckoutRequestID,
			"total", p.Total,
			"waiting", s.now().Sub(p.RequestedAt).Round(time.Second),
		)
		s.publish(ctx, p)
	}
	s.reported = current

	if len(stuck) > 0 {
		s.logger.Info("stuck payment sweep complete", "count", len(stuck))
	}
	return len(stuck), nil
}

func (s *Sweeper) publish(ctx context.Context, p domain.StuckPayment) {
	if s.publisher == nil {
		return
	}
	event := domain.PaymentStuckEvent{
		OrderID:           p.OrderID,
		CheckoutRequestID: p.CheckoutRequestID,
		RequestedAt:       p.RequestedAt,
		Timestamp:         s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, domain.TopicPaymentStuck, p.OrderID, event); err != nil {
		s.logger.Error("failed to publish payment stuck event", "error", err, "order_id", p.OrderID)
	}
}
