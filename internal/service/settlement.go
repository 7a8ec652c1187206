package service

import (
	"context"
	"errors"
	"fmt"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"
	"ecom-coordinator/internal/util"

	"go.uber.org/zap"
)

// SettlementCoordinator reacts to payment outcomes delivered at-least-once.
// Every handler dedups by event id before acting, because confirming stock
// is irreversible and must not run twice for one payment.
type SettlementCoordinator struct {
	orders    *OrderService
	inventory *InventoryService
	processed ProcessedEventStore
	logger    *zap.Logger
}

// NewSettlementCoordinator creates a new settlement coordinator
func NewSettlementCoordinator(orders *OrderService, inventory *InventoryService, processed ProcessedEventStore) *SettlementCoordinator {
	return &SettlementCoordinator{
		orders:    orders,
		inventory: inventory,
		processed: processed,
		logger:    util.GetLogger(),
	}
}

// HandlePaymentSuccess confirms the order and deducts its reserved stock.
// The event is marked processed only after every item's stock is confirmed:
// a transient failure mid-handle must leave the event retryable, and a
// redelivery that finds the order already CONFIRMED (a prior attempt of this
// same event got that far) still owes the stock confirmation.
func (sc *SettlementCoordinator) HandlePaymentSuccess(ctx context.Context, event *models.Event) error {
	ctx, span := util.StartSpan(ctx, "SettlementCoordinator.HandlePaymentSuccess")
	defer span.End()

	done, err := sc.processed.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if done {
		sc.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	orderID := event.StringData("orderId")
	if orderID == "" {
		return fmt.Errorf("payment event %s missing orderId", event.EventID)
	}

	sc.logger.Info("Handling payment success", zap.String("order_id", orderID))

	_, err = sc.orders.UpdateStatus(ctx, orderID, models.StatusConfirmed, "settlement", "Payment captured")
	if err != nil {
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			return fmt.Errorf("failed to confirm order: %w", err)
		}

		order, getErr := sc.orders.orders.GetOrderByID(ctx, orderID)
		if getErr != nil {
			return fmt.Errorf("failed to load order after rejected transition: %w", getErr)
		}
		if order.Status != models.StatusConfirmed {
			// Payment settled for an order that moved elsewhere, e.g.
			// cancelled in the meantime. Nothing to confirm; the refund flow
			// is external to this ledger.
			sc.logger.Warn("Payment success for non-confirmable order, skipping confirmation",
				zap.String("order_id", orderID),
				zap.String("status", string(order.Status)),
				zap.Error(err))
			return sc.processed.MarkEventProcessed(ctx, event.EventID, event.EventType)
		}
		// Already CONFIRMED: a prior delivery of this event got the status
		// through but failed before finishing. Fall through and finish the
		// stock confirmation now.
		sc.logger.Info("Order already confirmed, resuming stock confirmation",
			zap.String("order_id", orderID))
	}

	items, err := sc.orders.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}

	for _, item := range items {
		if err := sc.inventory.Confirm(ctx, item.VariantID, item.SellerID, item.Quantity); err != nil {
			return fmt.Errorf("failed to confirm stock for variant %s: %w", item.VariantID, err)
		}
	}

	if err := sc.processed.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		sc.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	sc.logger.Info("Order confirmed", zap.String("order_id", orderID))
	return nil
}

// HandlePaymentFailed releases the order's reservations and cancels it.
// Release is clamped and safe to re-run, so any failure before the processed
// mark is surfaced for redelivery.
func (sc *SettlementCoordinator) HandlePaymentFailed(ctx context.Context, event *models.Event) error {
	ctx, span := util.StartSpan(ctx, "SettlementCoordinator.HandlePaymentFailed")
	defer span.End()

	done, err := sc.processed.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if done {
		sc.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	orderID := event.StringData("orderId")
	if orderID == "" {
		return fmt.Errorf("payment event %s missing orderId", event.EventID)
	}

	reason := event.StringData("reason")
	sc.logger.Warn("Handling payment failure, starting compensation",
		zap.String("order_id", orderID),
		zap.String("reason", reason))

	items, err := sc.orders.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}

	for _, item := range items {
		if err := sc.inventory.Release(ctx, item.VariantID, item.SellerID, item.Quantity); err != nil {
			return fmt.Errorf("failed to release stock for variant %s: %w", item.VariantID, err)
		}
	}

	if _, err := sc.orders.UpdateStatus(ctx, orderID, models.StatusCancelled, "settlement", "Payment failed: "+reason); err != nil {
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		sc.logger.Warn("Order already terminal, cancel skipped",
			zap.String("order_id", orderID),
			zap.Error(err))
	}

	if err := sc.processed.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		sc.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	sc.logger.Info("Order cancelled and compensated", zap.String("order_id", orderID))
	return nil
}
