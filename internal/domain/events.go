package domain

import "time"

const (
	TopicOrderCreated   = "order.created"
	TopicPaymentSettled = "order.payment_settled"
	TopicPaymentStuck   = "order.payment_stuck"
)

type OrderCreatedEvent struct {
	OrderID   string      `json:"order_id"`
	BuyerID   string      `json:"buyer_id"`
	Items     []OrderItem `json:"items"`
	Total     int64       `json:"total"`
	Timestamp time.Time   `json:"timestamp"`
}

type PaymentSettledEvent struct {
	OrderID           string      `json:"order_id"`
	CheckoutRequestID string      `json:"checkout_request_id"`
	Status            OrderStatus `json:"status"`
	ReceiptNumber     string      `json:"receipt_number,omitempty"`
	FailureReason     string      `json:"failure_reason,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

type PaymentStuckEvent struct {
	OrderID           string    `json:"order_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	RequestedAt       time.Time `json:"requested_at"`
	Timestamp         time.Time `json:"timestamp"`
}
