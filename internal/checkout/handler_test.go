package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/inventory"
)

type fakeCheckouter struct {
	result *Result
	err    error
	got    Request
}

func (f *fakeCheckouter) Checkout(_ context.Context, req Request) (*Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.result, nil
}

const checkoutBody = `{
	"buyer_id": "c2a9b1de-4f3e-4b6a-9a51-0e7d2f8c6b41",
	"delivery_address": "123 Example Street, City",
	"items": [{"product_id": "6f1c1f4e-2b7a-4c52-9f0e-3d2a1b0c9e8d", "supplier_id": "5e8d7c6b-1a2b-4c3d-9e8f-7a6b5c4d3e2f", "quantity": 2, "price_at_purchase": 500}],
	"total": 1
}`

func doCheckout(t *testing.T, svc Checkouter, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, req)
	return rec
}

func TestHandler_HandleCheckout(t *testing.T) {
	t.Run("creates order", func(t *testing.T) {
		svc := &fakeCheckouter{result: &Result{OrderID: "o-1", Total: 1000, Status: domain.OrderStatusPending}}
		rec := doCheckout(t, svc, checkoutBody)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var got Result
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.OrderID != "o-1" || got.Total != 1000 || got.Status != domain.OrderStatusPending {
			t.Errorf("unexpected result %+v", got)
		}
		if len(svc.got.Items) != 1 || svc.got.Items[0].PriceAtPurchase != 500 {
			t.Errorf("unexpected items forwarded %+v", svc.got.Items)
		}
	})

	t.Run("validation errors list fields", func(t *testing.T) {
		rec := doCheckout(t, &fakeCheckouter{}, `{"buyer_id":"x","delivery_address":"short","items":[]}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		var got validationResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(got.Fields) != 3 {
			t.Errorf("expected 3 field errors, got %d", len(got.Fields))
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doCheckout(t, &fakeCheckouter{}, `{"items":`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("insufficient stock", func(t *testing.T) {
		shortfall := &InsufficientStockError{Items: []StockShortfall{
			{ProductID: productA, Requested: 2, Available: 1},
		}}
		rec := doCheckout(t, &fakeCheckouter{err: shortfall}, checkoutBody)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rec.Code)
		}
		var got stockResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(got.Items) != 1 || got.Items[0].Available != 1 {
			t.Errorf("unexpected shortfall body %+v", got)
		}
		if !errors.Is(shortfall, inventory.ErrInsufficientStock) {
			t.Error("expected shortfall to match inventory.ErrInsufficientStock")
		}
	})

	t.Run("transient failure", func(t *testing.T) {
		err := domain.Transient(errors.New("connection reset"))
		rec := doCheckout(t, &fakeCheckouter{err: err}, checkoutBody)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rec.Code)
		}
	})

	t.Run("unexpected failure", func(t *testing.T) {
		rec := doCheckout(t, &fakeCheckouter{err: errors.New("boom")}, checkoutBody)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
	})
}
