package domain

import "time"

type StockLevel struct {
	ProductID  string    `json:"product_id"`
	SupplierID string    `json:"supplier_id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	Available  int       `json:"available"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CartLine struct {
	ProductID  string    `json:"product_id"`
	SupplierID string    `json:"supplier_id"`
	Quantity   int       `json:"quantity"`
	UnitPrice  int64     `json:"unit_price"`
	UpdatedAt  time.Time `json:"updated_at"`
}
