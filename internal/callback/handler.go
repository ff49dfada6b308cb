package callback

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	maxCallbackBody  = 64 << 10
	reconcileTimeout = 5 * time.Second
)

type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleCallback always answers 200 {"success":true}. Processing is
// detached from the request so a dropped connection cannot abort a
// settlement halfway.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		h.logger.Warn("failed to read callback body", "error", err, "bytes_read", len(body))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), reconcileTimeout)
	defer cancel()

	h.reconciler.Reconcile(ctx, Delivery{
		Origin: h.reconciler.guard.ClientAddr(r),
		Body:   body,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]bool{"success": true}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
