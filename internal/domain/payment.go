package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransient marks failures that are safe to retry: the operation left no
// partial state behind.
var ErrTransient = errors.New("temporarily unavailable")

func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

type PaymentAttempt struct {
	OrderID           string     `json:"-"`
	CheckoutRequestID string     `json:"checkout_request_id"`
	MerchantRequestID string     `json:"merchant_request_id,omitempty"`
	Phone             string     `json:"phone"`
	Amount            int64      `json:"amount"`
	ResultCode        *int       `json:"result_code,omitempty"`
	ResultDesc        string     `json:"result_desc,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
}

// PaymentOutcome is what a gateway callback says happened. It has exactly
// two implementations, PaymentSucceeded and PaymentFailed.
type PaymentOutcome interface {
	TargetStatus() OrderStatus
	Code() int
	Description() string
	paymentOutcome()
}

type PaymentSucceeded struct {
	Receipt string
	Amount  int64
	Phone   string
	Desc    string
}

func (PaymentSucceeded) TargetStatus() OrderStatus { return OrderStatusConfirmed }
func (PaymentSucceeded) Code() int                 { return 0 }
func (p PaymentSucceeded) Description() string     { return p.Desc }
func (PaymentSucceeded) paymentOutcome()           {}

type PaymentFailed struct {
	ResultCode int
	Reason     string
}

func (PaymentFailed) TargetStatus() OrderStatus { return OrderStatusFailed }
func (p PaymentFailed) Code() int               { return p.ResultCode }
func (p PaymentFailed) Description() string     { return p.Reason }
func (PaymentFailed) paymentOutcome()           {}

// StuckPayment is a pending order whose latest STK push never got a callback.
type StuckPayment struct {
	OrderID           string    `json:"order_id"`
	BuyerID           string    `json:"buyer_id"`
	Total             int64     `json:"total"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	RequestedAt       time.Time `json:"requested_at"`
}
