package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

const (
	defaultStuckAfter = 15 * time.Minute
	defaultStuckLimit = 100
	maxStuckLimit     = 1000
)

type Reader interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	FindStuckPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.StuckPayment, error)
}

type Handler struct {
	repo   Reader
	logger *slog.Logger
}

func NewHandler(repo Reader, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.UUID("order_id", id); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleListByBuyer(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	if err := validation.UUID("buyer_id", buyerID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.repo.ListByBuyer(r.Context(), buyerID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "buyer_id", buyerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "buyer_id", buyerID, "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleStuckPayments lists pending orders whose STK push never got an
// answer, for support staff to follow up with the buyer.
func (h *Handler) HandleStuckPayments(w http.ResponseWriter, r *http.Request) {
	olderThan := defaultStuckAfter
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "older_than must be a positive duration such as 15m")
			return
		}
		olderThan = d
	}

	limit := defaultStuckLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStuckLimit {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	stuck, err := h.repo.FindStuckPayments(r.Context(), olderThan, limit)
	if err != nil {
		h.logger.Error("failed to find stuck payments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, stuck)
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
