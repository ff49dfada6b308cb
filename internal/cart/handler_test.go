package cart

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
)

const (
	buyerID  = "c2a9b1de-4f3e-4b6a-9a51-0e7d2f8c6b41"
	product1 = "6f1c1f4e-2b7a-4c52-9f0e-3d2a1b0c9e8d"
	product2 = "0d4c8a51-6e2b-4f1a-8c3d-9b7e6a5f4c3b"
)

type fakeStore struct {
	known map[string]bool
	lines map[string]map[string]int
}

func newFakeStore(known ...string) *fakeStore {
	s := &fakeStore{known: map[string]bool{}, lines: map[string]map[string]int{}}
	for _, k := range known {
		s.known[k] = true
	}
	return s
}

func (f *fakeStore) List(_ context.Context, buyer string) ([]domain.CartLine, error) {
	out := []domain.CartLine{}
	for p, q := range f.lines[buyer] {
		out = append(out, domain.CartLine{ProductID: p, Quantity: q})
	}
	return out, nil
}

func (f *fakeStore) Upsert(_ context.Context, buyer, product string, qty int) error {
	if !f.known[product] {
		return ErrUnknownProduct
	}
	if f.lines[buyer] == nil {
		f.lines[buyer] = map[string]int{}
	}
	f.lines[buyer][product] = qty
	return nil
}

func (f *fakeStore) Remove(_ context.Context, buyer, product string) (bool, error) {
	if _, ok := f.lines[buyer][product]; !ok {
		return false, nil
	}
	delete(f.lines[buyer], product)
	return true, nil
}

func newTestMux(store Store) *http.ServeMux {
	h := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /carts/{buyerId}", h.HandleGet)
	mux.HandleFunc("PUT /carts/{buyerId}/items", h.HandlePutItem)
	mux.HandleFunc("DELETE /carts/{buyerId}/items/{productId}", h.HandleRemoveItem)
	return mux
}

func TestHandler_PutItem(t *testing.T) {
	t.Run("last write wins", func(t *testing.T) {
		store := newFakeStore(product1)
		mux := newTestMux(store)

		for _, qty := range []string{"2", "5"} {
			req := httptest.NewRequest(http.MethodPut, "/carts/"+buyerID+"/items",
				strings.NewReader(`{"product_id":"`+product1+`","quantity":`+qty+`}`))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
		}

		if got := store.lines[buyerID][product1]; got != 5 {
			t.Errorf("expected quantity 5, got %d", got)
		}
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/carts/"+buyerID+"/items",
			strings.NewReader(`{"product_id":"`+product1+`","quantity":0}`))
		rec := httptest.NewRecorder()
		newTestMux(newFakeStore(product1)).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("unknown product", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/carts/"+buyerID+"/items",
			strings.NewReader(`{"product_id":"`+product2+`","quantity":1}`))
		rec := httptest.NewRecorder()
		newTestMux(newFakeStore(product1)).ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("malformed buyer id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/carts/buyer-1/items",
			strings.NewReader(`{"product_id":"`+product1+`","quantity":1}`))
		rec := httptest.NewRecorder()
		newTestMux(newFakeStore(product1)).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestHandler_RemoveItem(t *testing.T) {
	store := newFakeStore(product1)
	store.lines[buyerID] = map[string]int{product1: 1}
	mux := newTestMux(store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/carts/"+buyerID+"/items/"+product1, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/carts/"+buyerID+"/items/"+product1, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 on second delete, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/carts/"+buyerID, nil))
	var lines []domain.CartLine
	if err := json.NewDecoder(rec.Body).Decode(&lines); err != nil {
		t.Fatalf("failed to decode cart: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected empty cart, got %d lines", len(lines))
	}
}
