package orders

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
)

const (
	orderID = "9a3e7c21-5b4d-4f6e-8a1c-2d3b4c5e6f70"
	buyerID = "c2a9b1de-4f3e-4b6a-9a51-0e7d2f8c6b41"
)

type fakeReader struct {
	orders    map[string]*domain.Order
	olderThan time.Duration
	limit     int
}

func (f *fakeReader) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f.orders[id], nil
}

func (f *fakeReader) ListByBuyer(_ context.Context, buyer string) ([]domain.Order, error) {
	out := []domain.Order{}
	for _, o := range f.orders {
		if o.BuyerID == buyer {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeReader) FindStuckPayments(_ context.Context, olderThan time.Duration, limit int) ([]domain.StuckPayment, error) {
	f.olderThan, f.limit = olderThan, limit
	return []domain.StuckPayment{{OrderID: orderID, CheckoutRequestID: "tok-1"}}, nil
}

func newTestMux(repo Reader) *http.ServeMux {
	h := NewHandler(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", h.HandleListByBuyer)
	mux.HandleFunc("GET /orders/{id}", h.HandleGet)
	mux.HandleFunc("GET /support/stuck-payments", h.HandleStuckPayments)
	return mux
}

func TestHandler_HandleGet(t *testing.T) {
	repo := &fakeReader{orders: map[string]*domain.Order{
		orderID: {
			ID:      orderID,
			BuyerID: buyerID,
			Total:   1000,
			Status:  domain.OrderStatusPending,
			PaymentAttempts: []domain.PaymentAttempt{
				{CheckoutRequestID: "tok-1", Amount: 1000},
			},
		},
	}}
	mux := newTestMux(repo)

	t.Run("returns order with correlation tokens", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+orderID, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var got domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if tokens := got.CorrelationTokens(); len(tokens) != 1 || tokens[0] != "tok-1" {
			t.Errorf("expected token tok-1, got %v", tokens)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+buyerID, nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/123", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleListByBuyer(t *testing.T) {
	repo := &fakeReader{orders: map[string]*domain.Order{
		orderID: {ID: orderID, BuyerID: buyerID},
	}}
	mux := newTestMux(repo)

	t.Run("requires buyer id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("lists buyer orders", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders?buyer_id="+buyerID, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var got []domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 order, got %d", len(got))
		}
	})
}

func TestHandler_HandleStuckPayments(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		repo := &fakeReader{}
		rec := httptest.NewRecorder()
		newTestMux(repo).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/support/stuck-payments", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if repo.olderThan != 15*time.Minute {
			t.Errorf("expected default window 15m, got %s", repo.olderThan)
		}
		if repo.limit != 100 {
			t.Errorf("expected default limit 100, got %d", repo.limit)
		}
	})

	t.Run("custom window", func(t *testing.T) {
		repo := &fakeReader{}
		rec := httptest.NewRecorder()
		newTestMux(repo).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/support/stuck-payments?older_than=1h&limit=5", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if repo.olderThan != time.Hour || repo.limit != 5 {
			t.Errorf("expected 1h/5, got %s/%d", repo.olderThan, repo.limit)
		}
	})

	t.Run("rejects bad window", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestMux(&fakeReader{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/support/stuck-payments?older_than=soon", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}
