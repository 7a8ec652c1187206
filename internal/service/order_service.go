package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"
	"ecom-coordinator/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService is the order ledger: idempotent creation and validated
// status transitions, each recorded in the append-only history.
type OrderService struct {
	orders      OrderStore
	inventory   *InventoryService
	publisher   Publisher
	cache       StatusCache
	saveRetries int
	logger      *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(orders OrderStore, inventory *InventoryService, publisher Publisher, cache StatusCache, saveRetries int) *OrderService {
	return &OrderService{
		orders:      orders,
		inventory:   inventory,
		publisher:   publisher,
		cache:       cache,
		saveRetries: saveRetries,
		logger:      util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order. Amounts are
// minor units. The shipping address is snapshotted verbatim onto the order.
type CreateOrderRequest struct {
	UserID          string             `json:"user_id" binding:"required"`
	CustomerEmail   string             `json:"customer_email,omitempty" binding:"omitempty,email"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Subtotal        int64              `json:"subtotal" binding:"min=0"`
	TaxAmount       int64              `json:"tax_amount" binding:"min=0"`
	ShippingCost    int64              `json:"shipping_cost" binding:"min=0"`
	DiscountAmount  int64              `json:"discount_amount" binding:"min=0"`
	TotalAmount     int64              `json:"total_amount" binding:"min=0"`
	ShippingAddress ShippingAddress    `json:"shipping_address" binding:"required"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents one line of an order request.
type OrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id" binding:"required"`
	SellerID  string `json:"seller_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	UnitPrice int64  `json:"unit_price" binding:"min=0"`
}

// ShippingAddress is frozen onto the order at creation and never re-derived
// from a live address record.
type ShippingAddress struct {
	Name       string `json:"name" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
	Phone      string `json:"phone,omitempty"`
}

// CreateOrder creates an order, all-or-nothing. A repeated idempotency key
// returns the prior order with no new history entry and no new event.
// Reservation failure fails the whole creation with the reservation's own
// error; no partial order is persisted.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			util.DuplicateOrderRequestsTotal.Inc()
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return existing, nil
		}
	}

	if err := validateAmounts(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("amount_mismatch").Inc()
		return nil, err
	}

	addressJSON, err := json.Marshal(req.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot shipping address: %w", err)
	}

	reserved, err := s.reserveItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("reservation_failed").Inc()
		return nil, err
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		OrderNumber:     fmt.Sprintf("ORD-%d", time.Now().UnixMilli()),
		UserID:          req.UserID,
		Status:          models.StatusPending,
		Subtotal:        req.Subtotal,
		TaxAmount:       req.TaxAmount,
		ShippingCost:    req.ShippingCost,
		DiscountAmount:  req.DiscountAmount,
		TotalAmount:     req.TotalAmount,
		ShippingAddress: string(addressJSON),
		IdempotencyKey:  req.IdempotencyKey,
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.OrderItem{
			ID:         uuid.New().String(),
			OrderID:    order.ID,
			ProductID:  it.ProductID,
			VariantID:  it.VariantID,
			SellerID:   it.SellerID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.UnitPrice * int64(it.Quantity),
		})
	}

	initial := &models.OrderStatusHistory{
		ID:       uuid.New().String(),
		OrderID:  order.ID,
		ToStatus: string(models.StatusPending),
		Note:     "Order placed",
	}

	if err := s.orders.CreateOrderTx(ctx, order, items, initial); err != nil {
		s.releaseItems(ctx, reserved)
		if errors.Is(err, apperr.ErrDuplicate) {
			// Lost a race with a concurrent submission of the same key.
			util.DuplicateOrderRequestsTotal.Inc()
			existing, lookupErr := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
			return nil, err
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.TotalAmount))

	s.cacheStatus(ctx, order.ID, order.Status)
	s.publishOrderEvent(ctx, order, models.EventOrderCreated, req.CustomerEmail)

	return order, nil
}

// UpdateStatus moves an order along the lifecycle. Any update that is not a
// directed edge in the transition table fails with apperr.ErrInvalidTransition.
// Concurrent transitions on one order are serialized by the optimistic
// version; the read-modify-write retries a bounded number of times.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, newStatus models.Status, changedBy, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !models.IsValid(newStatus) {
		util.InvalidTransitionsTotal.Inc()
		return nil, fmt.Errorf("unknown status %q: %w", newStatus, apperr.ErrInvalidTransition)
	}

	var order *models.Order
	for attempt := 0; ; attempt++ {
		var err error
		order, err = s.orders.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if !models.CanTransition(order.Status, newStatus) {
			util.InvalidTransitionsTotal.Inc()
			return nil, fmt.Errorf("%s -> %s: %w", order.Status, newStatus, apperr.ErrInvalidTransition)
		}

		// Status change and history entry commit together or not at all.
		history := &models.OrderStatusHistory{
			ID:         uuid.New().String(),
			OrderID:    orderID,
			FromStatus: string(order.Status),
			ToStatus:   string(newStatus),
			ChangedBy:  changedBy,
			Note:       note,
		}
		err = s.orders.UpdateOrderStatusTx(ctx, orderID, newStatus, order.Version, history)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, fmt.Errorf("failed to update order status: %w", err)
		}
		if attempt >= s.saveRetries {
			return nil, fmt.Errorf("status update for order %s: %w", orderID, apperr.ErrConflict)
		}
	}

	util.StatusTransitionsTotal.WithLabelValues(string(newStatus)).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(newStatus)))

	order.Status = newStatus
	order.Version++

	s.cacheStatus(ctx, orderID, newStatus)
	if models.EventForStatus(newStatus) != "" {
		s.publishOrderEvent(ctx, order, models.EventForStatus(newStatus), "")
	}

	return order, nil
}

// GetOrder retrieves an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// GetOrderByNumber retrieves an order by its public number.
func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.orders.GetOrderByNumber(ctx, orderNumber)
}

// GetOrdersByUser retrieves a user's orders, newest first.
func (s *OrderService) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.orders.GetOrdersByUserID(ctx, userID)
}

// GetTimeline returns the order's status history, oldest first.
func (s *OrderService) GetTimeline(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	if _, err := s.orders.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orders.GetStatusHistory(ctx, orderID)
}

// validateAmounts rejects a breakdown that does not reconcile. Mismatches
// are rejected, never silently recomputed.
func validateAmounts(req *CreateOrderRequest) error {
	var itemSum int64
	for _, it := range req.Items {
		itemSum += it.UnitPrice * int64(it.Quantity)
	}
	if itemSum != req.Subtotal {
		return fmt.Errorf("item totals %d vs subtotal %d: %w", itemSum, req.Subtotal, apperr.ErrAmountMismatch)
	}
	if req.Subtotal+req.TaxAmount+req.ShippingCost-req.DiscountAmount != req.TotalAmount {
		return fmt.Errorf("total %d does not match breakdown: %w", req.TotalAmount, apperr.ErrAmountMismatch)
	}
	return nil
}

// reserveItems reserves stock for every line, releasing the lines already
// held if any one fails. The caller sees the failing reservation's error.
func (s *OrderService) reserveItems(ctx context.Context, items []OrderItemRequest) ([]OrderItemRequest, error) {
	reserved := make([]OrderItemRequest, 0, len(items))
	for _, it := range items {
		if _, err := s.inventory.Reserve(ctx, it.VariantID, it.SellerID, it.Quantity); err != nil {
			s.releaseItems(ctx, reserved)
			return nil, fmt.Errorf("reserve variant %s: %w", it.VariantID, err)
		}
		reserved = append(reserved, it)
	}
	return reserved, nil
}

// releaseItems is the reservation compensation path. Release is clamped and
// idempotent, so failures here are logged, not propagated.
func (s *OrderService) releaseItems(ctx context.Context, items []OrderItemRequest) {
	for _, it := range items {
		if err := s.inventory.Release(ctx, it.VariantID, it.SellerID, it.Quantity); err != nil {
			s.logger.Error("Failed to release reservation",
				zap.String("variant_id", it.VariantID),
				zap.String("seller_id", it.SellerID),
				zap.Error(err))
		}
	}
}

func (s *OrderService) cacheStatus(ctx context.Context, orderID string, status models.Status) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheOrderStatus(ctx, orderID, string(status)); err != nil {
		s.logger.Warn("Failed to cache order status",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

// publishOrderEvent emits the envelope for an order change. Every emission
// gets its own idempotency key, derived from (order, event type), so a
// redelivered copy dedups downstream while distinct lifecycle events do not
// collide. Publish failure is logged and swallowed: the mutation has
// already committed.
func (s *OrderService) publishOrderEvent(ctx context.Context, order *models.Order, eventType, email string) {
	data := map[string]interface{}{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"totalAmount": order.TotalAmount,
		"status":      string(order.Status),
	}
	if email != "" {
		data["email"] = email
	}

	event := &models.Event{
		EventType:      eventType,
		CorrelationID:  order.ID,
		IdempotencyKey: fmt.Sprintf("%s:%s", order.ID, eventType),
		Data:           data,
	}

	if err := s.publisher.Publish(ctx, models.TopicOrderEvents, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("type", eventType),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}
