package mpesa

import (
	"errors"
	"fmt"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
)

var (
	// ErrUnavailable covers timeouts, network failures and gateway 5xx
	// responses without a structured error body. Safe to retry.
	ErrUnavailable = fmt.Errorf("mpesa gateway unavailable: %w", domain.ErrTransient)

	ErrAuthFailed = errors.New("mpesa authentication failed")
)

// RejectedError is returned when the gateway answered but refused the push.
type RejectedError struct {
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return "mpesa rejected request: " + e.Description
	}
	return fmt.Sprintf("mpesa rejected request (%s): %s", e.Code, e.Description)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
