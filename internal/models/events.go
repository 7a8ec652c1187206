package models

import "time"

// Event types shared across services. String values are part of the wire
// contract and must not change.
const (
	EventOrderCreated   = "ORDER_CREATED"
	EventOrderConfirmed = "ORDER_CONFIRMED"
	EventOrderCancelled = "ORDER_CANCELLED"
	EventOrderShipped   = "ORDER_SHIPPED"
	EventOrderDelivered = "ORDER_DELIVERED"
	EventPaymentSuccess = "PAYMENT_SUCCESS"
	EventPaymentFailed  = "PAYMENT_FAILED"
	EventLowStockAlert  = "LOW_STOCK_ALERT"
	EventOutOfStock     = "OUT_OF_STOCK"
)

// Topic names.
const (
	TopicOrderEvents   = "order-events"
	TopicCatalogEvents = "catalog-events"
	TopicDeadLetter    = "notification-dlq"
)

// Event is the envelope every service publishes and consumes. The JSON field
// names are fixed across services; data is an open bag whose required keys
// depend on the event type (ORDER_CREATED carries orderId, orderNumber,
// userId, totalAmount, status).
type Event struct {
	EventID        string                 `json:"eventId"`
	EventType      string                 `json:"eventType"`
	Source         string                 `json:"source"`
	Timestamp      time.Time              `json:"timestamp"`
	CorrelationID  string                 `json:"correlationId,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	Data           map[string]interface{} `json:"data"`
}

// StringData returns data[key] as a string, or "" when absent or not a
// string. Event payloads come off the wire untyped, so every read goes
// through here.
func (e *Event) StringData(key string) string {
	v, ok := e.Data[key].(string)
	if !ok {
		return ""
	}
	return v
}
