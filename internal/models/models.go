package models

import "time"

// StockRecord tracks seller-owned stock for one variant. Identity is
// (variant_id, seller_id), unique at the storage layer. Available stock is
// derived, never stored, so quantity and reserved stay the single source of
// truth.
type StockRecord struct {
	ID               string    `db:"id" json:"id"`
	VariantID        string    `db:"variant_id" json:"variant_id"`
	SellerID         string    `db:"seller_id" json:"seller_id"`
	Quantity         int       `db:"quantity" json:"quantity"`
	Reserved         int       `db:"reserved" json:"reserved"`
	ReorderThreshold int       `db:"reorder_threshold" json:"reorder_threshold"`
	Version          int       `db:"version" json:"-"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns quantity minus reserved. Reserve rejects any request
// that would drive this below zero.
func (s *StockRecord) Available() int {
	return s.Quantity - s.Reserved
}

// Order is the order aggregate. All amounts are int64 minor units (cents).
type Order struct {
	ID              string    `db:"id" json:"id"`
	OrderNumber     string    `db:"order_number" json:"order_number"`
	UserID          string    `db:"user_id" json:"user_id"`
	Status          Status    `db:"status" json:"status"`
	Subtotal        int64     `db:"subtotal" json:"subtotal"`
	TaxAmount       int64     `db:"tax_amount" json:"tax_amount"`
	ShippingCost    int64     `db:"shipping_cost" json:"shipping_cost"`
	DiscountAmount  int64     `db:"discount_amount" json:"discount_amount"`
	TotalAmount     int64     `db:"total_amount" json:"total_amount"`
	ShippingAddress string    `db:"shipping_address_snapshot" json:"shipping_address"`
	IdempotencyKey  string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Version         int       `db:"version" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is one line of an order. SellerID is carried so the reservation
// key (variant, seller) can be rebuilt from the item alone.
type OrderItem struct {
	ID         string `db:"id" json:"id"`
	OrderID    string `db:"order_id" json:"order_id"`
	ProductID  string `db:"product_id" json:"product_id"`
	VariantID  string `db:"variant_id" json:"variant_id"`
	SellerID   string `db:"seller_id" json:"seller_id"`
	Quantity   int    `db:"quantity" json:"quantity"`
	UnitPrice  int64  `db:"unit_price" json:"unit_price"`
	TotalPrice int64  `db:"total_price" json:"total_price"`
}

// OrderStatusHistory is the append-only audit trail of status changes.
// FromStatus is empty only for the initial PENDING entry. Rows are never
// mutated or deleted.
type OrderStatusHistory struct {
	ID         string    `db:"id" json:"id"`
	OrderID    string    `db:"order_id" json:"order_id"`
	FromStatus string    `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by,omitempty"`
	Note       string    `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Notification statuses
const (
	NotificationPending    = "PENDING"
	NotificationSent       = "SENT"
	NotificationFailed     = "FAILED"
	NotificationDeadLetter = "DEAD_LETTER"
)

// NotificationRecord is the audit row for one notification attempt. The
// unique idempotency_key constraint is what makes duplicate event delivery
// harmless: the second insert loses and the handler discards the event.
type NotificationRecord struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id,omitempty"`
	EventType      string    `db:"event_type" json:"event_type"`
	Channel        string    `db:"channel" json:"channel"`
	Recipient      string    `db:"recipient" json:"recipient"`
	Subject        string    `db:"subject" json:"subject"`
	Body           string    `db:"body" json:"-"`
	Status         string    `db:"status" json:"status"`
	FailureReason  string    `db:"failure_reason" json:"failure_reason,omitempty"`
	RetryCount     int       `db:"retry_count" json:"retry_count"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	EventPayload   string    `db:"event_payload" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent dedups settlement-side consumption. Stock confirmation is
// irreversible, so the settlement worker must not act on a redelivered
// payment event twice.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
