package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusFailed    OrderStatus = "failed"

	// Operator-applied statuses. Payment callbacks never set these.
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// AcceptsPaymentOutcome reports whether a gateway callback may still move
// the order. Only pending orders can be settled; everything else is final
// as far as the payment protocol is concerned.
func (s OrderStatus) AcceptsPaymentOutcome() bool {
	return s == OrderStatusPending
}

type OrderItem struct {
	ProductID       string `json:"product_id"`
	SupplierID      string `json:"supplier_id"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase int64  `json:"price_at_purchase"`
}

func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.PriceAtPurchase
}

type Order struct {
	ID              string           `json:"id"`
	BuyerID         string           `json:"buyer_id"`
	DeliveryAddress string           `json:"delivery_address"`
	DeliveryLat     *float64         `json:"delivery_lat,omitempty"`
	DeliveryLng     *float64         `json:"delivery_lng,omitempty"`
	Items           []OrderItem      `json:"items"`
	Total           int64            `json:"total"`
	Notes           string           `json:"notes,omitempty"`
	Status          OrderStatus      `json:"status"`
	ReceiptNumber   string           `json:"receipt_number,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	PaidAmount      *int64           `json:"paid_amount,omitempty"`
	PayerPhone      string           `json:"payer_phone,omitempty"`
	SettledAt       *time.Time       `json:"settled_at,omitempty"`
	PaymentAttempts []PaymentAttempt `json:"payment_attempts,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// OrderTotal sums price-at-purchase times quantity over the items.
func OrderTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// CorrelationTokens lists the gateway tokens recorded for the order, oldest first.
func (o *Order) CorrelationTokens() []string {
	tokens := make([]string, 0, len(o.PaymentAttempts))
	for _, a := range o.PaymentAttempts {
		tokens = append(tokens, a.CheckoutRequestID)
	}
	return tokens
}
