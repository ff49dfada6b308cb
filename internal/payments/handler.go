package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/mpesa"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

const maxRequestBody = 16 << 10

type Initiator interface {
	Initiate(ctx context.Context, req Request) (*Result, error)
}

type Handler struct {
	service Initiator
	logger  *slog.Logger
}

func NewHandler(service Initiator, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type initiateResponse struct {
	Success           bool   `json:"success"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
}

func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Initiate(r.Context(), req)
	if err != nil {
		h.writeInitiateError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, initiateResponse{
		Success:           true,
		CheckoutRequestID: result.CheckoutRequestID,
		MerchantRequestID: result.MerchantRequestID,
		Message:           result.Message,
	})
}

func (h *Handler) writeInitiateError(w http.ResponseWriter, err error) {
	var (
		fields   validation.Errors
		rejected *mpesa.RejectedError
	)
	switch {
	case errors.As(err, &fields):
		h.writeError(w, http.StatusBadRequest, fields.Error())
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrOrderNotPayable):
		h.writeError(w, http.StatusConflict, "order is not awaiting payment")
	case errors.Is(err, ErrAmountMismatch):
		h.writeError(w, http.StatusConflict, "amount does not match order total")
	case errors.As(err, &rejected):
		h.writeError(w, http.StatusBadGateway, "payment request was rejected: "+rejected.Description)
	case errors.Is(err, domain.ErrTransient):
		h.writeError(w, http.StatusServiceUnavailable, "payment service temporarily unavailable, please retry")
	case errors.Is(err, mpesa.ErrAuthFailed):
		h.writeError(w, http.StatusBadGateway, "payment gateway error")
	default:
		h.logger.Error("unexpected payment error", "error", err)
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
	h.writeJSON(w, status, initiateResponse{Success: false, Error: message})
}
