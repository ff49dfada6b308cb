package checkout

import (
	"errors"
	"fmt"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

type Item struct {
	ProductID       string `json:"product_id"`
	SupplierID      string `json:"supplier_id"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase int64  `json:"price_at_purchase"`
}

type Request struct {
	BuyerID         string   `json:"buyer_id"`
	DeliveryAddress string   `json:"delivery_address"`
	DeliveryLat     *float64 `json:"delivery_lat,omitempty"`
	DeliveryLng     *float64 `json:"delivery_lng,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Items           []Item   `json:"items"`
}

type Result struct {
	OrderID string             `json:"order_id"`
	Total   int64              `json:"total"`
	Status  domain.OrderStatus `json:"status"`
}

// Validate checks every field and reports all problems at once. It trims
// the address and notes in place.
func (r *Request) Validate() error {
	var errs validation.Errors
	add := func(err error) {
		var ve *validation.Error
		if errors.As(err, &ve) {
			errs = append(errs, ve)
		}
	}

	if err := validation.UUID("buyer_id", r.BuyerID); err != nil {
		add(err)
	} else {
		r.BuyerID = validation.CanonicalUUID(r.BuyerID)
	}

	if addr, err := validation.Address(r.DeliveryAddress); err != nil {
		add(err)
	} else {
		r.DeliveryAddress = addr
	}

	if notes, err := validation.Notes(r.Notes); err != nil {
		add(err)
	} else {
		r.Notes = notes
	}

	if err := validation.Coordinates(r.DeliveryLat, r.DeliveryLng); err != nil {
		add(err)
	}

	if len(r.Items) == 0 {
		errs = append(errs, validation.NewError("items", "cart is empty"))
	}
	var total int64
	for i, item := range r.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		if err := validation.UUID("product_id", item.ProductID); err != nil {
			errs = append(errs, validation.NewError(prefix+"product_id", "invalid product_id format"))
		} else {
			r.Items[i].ProductID = validation.CanonicalUUID(item.ProductID)
		}
		if err := validation.UUID("supplier_id", item.SupplierID); err != nil {
			errs = append(errs, validation.NewError(prefix+"supplier_id", "invalid supplier_id format"))
		} else {
			r.Items[i].SupplierID = validation.CanonicalUUID(item.SupplierID)
		}

		validLine := true
		switch {
		case item.Quantity < 1:
			errs = append(errs, validation.NewError(prefix+"quantity", "quantity must be at least 1"))
			validLine = false
		case item.Quantity > validation.MaxQuantity:
			errs = append(errs, validation.NewError(prefix+"quantity", "quantity cannot exceed 10,000"))
			validLine = false
		}
		switch {
		case item.PriceAtPurchase < 0:
			errs = append(errs, validation.NewError(prefix+"price_at_purchase", "price must not be negative"))
			validLine = false
		case item.PriceAtPurchase > validation.MaxAmount:
			errs = append(errs, validation.NewError(prefix+"price_at_purchase", "price cannot exceed 1,000,000"))
			validLine = false
		}
		if validLine {
			// bounded factors, so the running total cannot overflow
			total += int64(item.Quantity) * item.PriceAtPurchase
		}
	}
	if total > validation.MaxAmount {
		errs = append(errs, validation.NewError("items", "order total cannot exceed 1,000,000"))
	}

	return errs.Err()
}

// quantities sums the requested quantity per distinct product, keeping the
// order in which products first appear.
func (r *Request) quantities() ([]string, map[string]int) {
	var ids []string
	qty := make(map[string]int, len(r.Items))
	for _, item := range r.Items {
		if _, ok := qty[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		qty[item.ProductID] += item.Quantity
	}
	return ids, qty
}

func (r *Request) orderItems() []domain.OrderItem {
	items := make([]domain.OrderItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = domain.OrderItem{
			ProductID:       item.ProductID,
			SupplierID:      item.SupplierID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		}
	}
	return items
}
