package service

import (
	"context"
	"time"

	"ecom-coordinator/internal/models"
)

// Collaborator contracts consumed by the services. The concrete
// implementations live in store, redisclient and broker; tests substitute
// in-memory fakes.

// StockStore is the persistence collaborator for the inventory ledger.
type StockStore interface {
	CreateStock(ctx context.Context, rec *models.StockRecord) error
	GetStock(ctx context.Context, variantID, sellerID string) (*models.StockRecord, error)
	SaveStock(ctx context.Context, rec *models.StockRecord) error
	ReleaseStock(ctx context.Context, variantID, sellerID string, quantity int) error
	ConfirmStock(ctx context.Context, variantID, sellerID string, quantity int) error
}

// OrderStore is the persistence collaborator for the order ledger.
type OrderStore interface {
	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem, initial *models.OrderStatusHistory) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	UpdateOrderStatusTx(ctx context.Context, orderID string, status models.Status, version int, h *models.OrderStatusHistory) error
	GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

// ProcessedEventStore dedups inbound event consumption.
type ProcessedEventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Locker is the mutual-exclusion primitive for stock reservation. Acquire
// fails fast with apperr.ErrBusy on contention; it never queues.
type Locker interface {
	AcquireStockLock(ctx context.Context, variantID, sellerID string, ttl time.Duration) (string, error)
	ReleaseStockLock(ctx context.Context, variantID, sellerID, token string) error
}

// Publisher is the outbound event channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *models.Event) error
}

// StatusCache caches the latest order status for cheap reads. Failures are
// logged and ignored, the store row is the source of truth.
type StatusCache interface {
	CacheOrderStatus(ctx context.Context, orderID, status string) error
}
