package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

const maxRequestBody = 1 << 20

type Checkouter interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
}

type Handler struct {
	service Checkouter
	logger  *slog.Logger
}

func NewHandler(service Checkouter, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type validationResponse struct {
	Error  string              `json:"error"`
	Fields []*validation.Error `json:"fields"`
}

type stockResponse struct {
	Error string           `json:"error"`
	Items []StockShortfall `json:"items"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Checkout(r.Context(), req)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var (
		fields    validation.Errors
		field     *validation.Error
		shortfall *InsufficientStockError
	)
	switch {
	case errors.As(err, &fields):
		h.writeJSON(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: fields})
	case errors.As(err, &field):
		h.writeJSON(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: []*validation.Error{field}})
	case errors.As(err, &shortfall):
		h.writeJSON(w, http.StatusConflict, stockResponse{Error: "insufficient stock", Items: shortfall.Items})
	case errors.Is(err, domain.ErrTransient):
		h.writeError(w, http.StatusServiceUnavailable, "checkout temporarily unavailable, please retry")
	default:
		h.logger.Error("unexpected checkout error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
