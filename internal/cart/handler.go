package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

type Store interface {
	List(ctx context.Context, buyerID string) ([]domain.CartLine, error)
	Upsert(ctx context.Context, buyerID, productID string, quantity int) error
	Remove(ctx context.Context, buyerID, productID string) (bool, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	buyerID := r.PathValue("buyerId")
	if err := validation.UUID("buyer_id", buyerID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lines, err := h.store.List(r.Context(), buyerID)
	if err != nil {
		h.logger.Error("failed to list cart", "error", err, "buyer_id", buyerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, lines)
}

type putItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandlePutItem(w http.ResponseWriter, r *http.Request) {
	buyerID := r.PathValue("buyerId")
	if err := validation.UUID("buyer_id", buyerID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req putItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.UUID("product_id", req.ProductID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity < 1 {
		h.writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	if err := h.store.Upsert(r.Context(), buyerID, req.ProductID, req.Quantity); err != nil {
		if errors.Is(err, ErrUnknownProduct) {
			h.writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to update cart", "error", err, "buyer_id", buyerID, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item set", "buyer_id", buyerID, "product_id", req.ProductID, "quantity", req.Quantity)
	h.HandleGet(w, r)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	buyerID := r.PathValue("buyerId")
	productID := r.PathValue("productId")
	if err := validation.UUID("buyer_id", buyerID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.UUID("product_id", productID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := h.store.Remove(r.Context(), buyerID, productID)
	if err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "buyer_id", buyerID, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "item not in cart")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
