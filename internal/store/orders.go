package store

import (
	"context"
	"database/sql"
	"fmt"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderTx persists the order, its items and the initial history entry
// in one transaction. Either everything commits or nothing does; a
// concurrent insert with the same idempotency key loses on the unique
// constraint and surfaces as apperr.ErrDuplicate.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem, initial *models.OrderStatusHistory) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, order_number, user_id, status, subtotal, tax_amount, shipping_cost,
			discount_amount, total_amount, shipping_address_snapshot, idempotency_key, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), 0)
		RETURNING version, created_at, updated_at`

	err = tx.GetContext(ctx, order, query,
		order.ID, order.OrderNumber, order.UserID, order.Status,
		order.Subtotal, order.TaxAmount, order.ShippingCost, order.DiscountAmount, order.TotalAmount,
		order.ShippingAddress, order.IdempotencyKey)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant_id, seller_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			items[i].ID, items[i].OrderID, items[i].ProductID, items[i].VariantID,
			items[i].SellerID, items[i].Quantity, items[i].UnitPrice, items[i].TotalPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := appendHistoryTx(ctx, tx, initial); err != nil {
		return err
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT id, order_number, user_id, status, subtotal, tax_amount, shipping_cost, discount_amount, total_amount, shipping_address_snapshot, COALESCE(idempotency_key, '') AS idempotency_key, version, created_at, updated_at FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its public order number
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT id, order_number, user_id, status, subtotal, tax_amount, shipping_cost, discount_amount, total_amount, shipping_address_snapshot, COALESCE(idempotency_key, '') AS idempotency_key, version, created_at, updated_at FROM orders WHERE order_number = $1", orderNumber)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", orderNumber, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns the prior order for a key, or nil when
// the key has not been seen.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT id, order_number, user_id, status, subtotal, tax_amount, shipping_cost, discount_amount, total_amount, shipping_address_snapshot, COALESCE(idempotency_key, '') AS idempotency_key, version, created_at, updated_at FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT id, order_number, user_id, status, subtotal, tax_amount, shipping_cost, discount_amount, total_amount, shipping_address_snapshot, COALESCE(idempotency_key, '') AS idempotency_key, version, created_at, updated_at FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderStatusTx persists a status change and its history entry in one
// transaction, under the order's optimistic version. Zero rows matched means
// a concurrent transition won (the caller re-reads and revalidates); either
// both rows commit or neither does, so no transition can land without its
// audit entry.
func (s *Store) UpdateOrderStatusTx(ctx context.Context, orderID string, status models.Status, version int, h *models.OrderStatusHistory) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, version = version + 1, updated_at = NOW() WHERE id = $2 AND version = $3",
		status, orderID, version)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrConflict
	}

	if err := appendHistoryTx(ctx, tx, h); err != nil {
		return err
	}

	return tx.Commit()
}

func appendHistoryTx(ctx context.Context, tx *sqlx.Tx, h *models.OrderStatusHistory) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, changed_by, note)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6)`,
		h.ID, h.OrderID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Note)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}

// GetStatusHistory returns an order's timeline, oldest first.
func (s *Store) GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, order_id, COALESCE(from_status, '') AS from_status, to_status,
			COALESCE(changed_by, '') AS changed_by, COALESCE(note, '') AS note, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	return rows, err
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}
