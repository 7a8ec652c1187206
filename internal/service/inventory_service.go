package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"
	"ecom-coordinator/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryService is the inventory ledger: reserve, release and confirm
// stock for a (variant, seller) pair without ever overselling.
type InventoryService struct {
	stocks      StockStore
	locker      Locker
	publisher   Publisher
	lockTTL     time.Duration
	saveRetries int
	logger      *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(stocks StockStore, locker Locker, publisher Publisher, lockTTL time.Duration, saveRetries int) *InventoryService {
	return &InventoryService{
		stocks:      stocks,
		locker:      locker,
		publisher:   publisher,
		lockTTL:     lockTTL,
		saveRetries: saveRetries,
		logger:      util.GetLogger(),
	}
}

// CreateStock registers stock for a newly listed variant.
func (s *InventoryService) CreateStock(ctx context.Context, variantID, sellerID string, quantity, reorderThreshold int) (*models.StockRecord, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("quantity must not be negative")
	}

	rec := &models.StockRecord{
		ID:               uuid.New().String(),
		VariantID:        variantID,
		SellerID:         sellerID,
		Quantity:         quantity,
		ReorderThreshold: reorderThreshold,
	}
	if err := s.stocks.CreateStock(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create stock: %w", err)
	}

	s.logger.Info("Stock created",
		zap.String("variant_id", variantID),
		zap.String("seller_id", sellerID),
		zap.Int("quantity", quantity))
	return rec, nil
}

// Reserve holds quantity for an in-flight order. The whole check-and-mutate
// runs under the per-key lock; the optimistic version on the row is defense
// in depth against a write that slips past the lock (e.g. after TTL expiry).
// Returns apperr.ErrBusy on lock contention, apperr.ErrInsufficientStock
// when available < qty.
func (s *InventoryService) Reserve(ctx context.Context, variantID, sellerID string, quantity int) (*models.StockRecord, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	token, err := s.locker.AcquireStockLock(ctx, variantID, sellerID, s.lockTTL)
	if err != nil {
		if errors.Is(err, apperr.ErrBusy) {
			util.StockReservationsFailed.WithLabelValues("busy").Inc()
		}
		return nil, err
	}
	defer func() {
		if err := s.locker.ReleaseStockLock(ctx, variantID, sellerID, token); err != nil {
			s.logger.Error("Failed to release stock lock",
				zap.String("variant_id", variantID),
				zap.String("seller_id", sellerID),
				zap.Error(err))
		}
	}()

	var rec *models.StockRecord
	for attempt := 0; ; attempt++ {
		rec, err = s.stocks.GetStock(ctx, variantID, sellerID)
		if err != nil {
			util.StockReservationsFailed.WithLabelValues("not_found").Inc()
			return nil, err
		}

		if quantity > rec.Available() {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return nil, fmt.Errorf("available %d, requested %d: %w",
				rec.Available(), quantity, apperr.ErrInsufficientStock)
		}

		rec.Reserved += quantity
		err = s.stocks.SaveStock(ctx, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, fmt.Errorf("failed to save reservation: %w", err)
		}
		if attempt >= s.saveRetries {
			util.StockReservationsFailed.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("reservation for variant %s: %w", variantID, apperr.ErrConflict)
		}
	}

	util.StockReservationsTotal.Inc()
	s.logger.Info("Stock reserved",
		zap.String("variant_id", variantID),
		zap.String("seller_id", sellerID),
		zap.Int("quantity", quantity),
		zap.Int("available", rec.Available()))

	s.checkLowStock(ctx, rec)
	return rec, nil
}

// Release returns reserved units to the pool, clamped at zero so a double
// release (explicit cancel plus a cleanup sweep) stays harmless. No lock:
// a lost update here only frees stock transiently and cannot oversell.
func (s *InventoryService) Release(ctx context.Context, variantID, sellerID string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release")
	defer span.End()

	if err := s.stocks.ReleaseStock(ctx, variantID, sellerID, quantity); err != nil {
		return err
	}

	s.logger.Info("Stock released",
		zap.String("variant_id", variantID),
		zap.String("seller_id", sellerID),
		zap.Int("quantity", quantity))
	return nil
}

// Confirm deducts sold stock after payment settles. Irreversible.
func (s *InventoryService) Confirm(ctx context.Context, variantID, sellerID string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Confirm")
	defer span.End()

	if err := s.stocks.ConfirmStock(ctx, variantID, sellerID, quantity); err != nil {
		return err
	}

	s.logger.Info("Reservation confirmed",
		zap.String("variant_id", variantID),
		zap.String("seller_id", sellerID),
		zap.Int("quantity", quantity))
	return nil
}

// GetStock retrieves the stock record for a (variant, seller) pair.
func (s *InventoryService) GetStock(ctx context.Context, variantID, sellerID string) (*models.StockRecord, error) {
	return s.stocks.GetStock(ctx, variantID, sellerID)
}

// checkLowStock runs inline after every successful reservation. A publish
// failure is logged and swallowed: alerting liveness must never roll back
// the reservation that triggered it.
func (s *InventoryService) checkLowStock(ctx context.Context, rec *models.StockRecord) {
	if rec.Available() > rec.ReorderThreshold {
		return
	}

	event := &models.Event{
		EventType: models.EventLowStockAlert,
		Data: map[string]interface{}{
			"variantId":        rec.VariantID,
			"sellerId":         rec.SellerID,
			"availableStock":   rec.Available(),
			"reorderThreshold": rec.ReorderThreshold,
		},
	}

	if err := s.publisher.Publish(ctx, models.TopicCatalogEvents, event); err != nil {
		s.logger.Error("Failed to publish LOW_STOCK_ALERT",
			zap.String("variant_id", rec.VariantID),
			zap.Error(err))
		return
	}

	util.LowStockAlertsTotal.Inc()
	s.logger.Warn("Low stock",
		zap.String("variant_id", rec.VariantID),
		zap.String("seller_id", rec.SellerID),
		zap.Int("available", rec.Available()))
}
