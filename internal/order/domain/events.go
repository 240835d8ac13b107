package domain

import "github.com/google/uuid"

type ItemQty struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type OrderCreated struct {
	OrderID    uuid.UUID `json:"order_id"`
	Customer   string    `json:"customer"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
	Items      []ItemQty `json:"items"`
}

type OrderReserved struct {
	OrderID uuid.UUID `json:"order_id"`
	Items   []ItemQty `json:"items"`
}

type OrderConfirmed struct {
	OrderID   uuid.UUID `json:"order_id"`
	PaymentID uuid.UUID `json:"payment_id"`
}

type OrderCancelled struct {
	OrderID  uuid.UUID `json:"order_id"`
	Previous Status    `json:"previous"`
	Released []ItemQty `json:"released,omitempty"`
}

type OrderRefunded struct {
	OrderID   uuid.UUID `json:"order_id"`
	PaymentID uuid.UUID `json:"payment_id"`
}

type OrderStatusChanged struct {
	OrderID uuid.UUID `json:"order_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
}

type OrderShipped struct {
	OrderID        uuid.UUID `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
}

// EventItems projects order items into event payload form.
func EventItems(items []OrderItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, item := range items {
		out = append(out, ItemQty{SKU: item.SKU, Quantity: item.Quantity})
	}
	return out
}
