package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The idempotency contracts on orders and notifications are
// enforced here, at the storage layer, not by a prior read.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateStock inserts a new stock record for a (variant, seller) pair.
func (s *Store) CreateStock(ctx context.Context, rec *models.StockRecord) error {
	query := `
		INSERT INTO stock_records (id, variant_id, seller_id, quantity, reserved, reorder_threshold, version)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING version, updated_at`

	err := s.db.GetContext(ctx, rec, query,
		rec.ID, rec.VariantID, rec.SellerID, rec.Quantity, rec.Reserved, rec.ReorderThreshold)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicate
	}
	return err
}

// GetStock retrieves the stock record for a (variant, seller) pair.
func (s *Store) GetStock(ctx context.Context, variantID, sellerID string) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM stock_records WHERE variant_id = $1 AND seller_id = $2", variantID, sellerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stock for variant %s seller %s: %w", variantID, sellerID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveStock persists a mutated stock record under its optimistic version.
// Zero rows matched means a concurrent writer bumped the version first; the
// caller re-reads and retries.
func (s *Store) SaveStock(ctx context.Context, rec *models.StockRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity = $1, reserved = $2, reorder_threshold = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5`,
		rec.Quantity, rec.Reserved, rec.ReorderThreshold, rec.ID, rec.Version)
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

	rec.Version++
	return nil
}

// ReleaseStock decrements reserved, clamped at zero, in one statement.
// No lock and no version check: a lost update here only frees stock, which
// is self-correcting and can never oversell.
func (s *Store) ReleaseStock(ctx context.Context, variantID, sellerID string, quantity int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_records
		SET reserved = GREATEST(reserved - $1, 0), version = version + 1, updated_at = NOW()
		WHERE variant_id = $2 AND seller_id = $3`,
		quantity, variantID, sellerID)
	if err != nil {
		return err
	}
	return s.requireRow(res, variantID, sellerID)
}

// ConfirmStock deducts sold quantity and drops the matching reservation
// atomically. Irreversible: a refund raises new inbound stock, it does not
// undo this.
func (s *Store) ConfirmStock(ctx context.Context, variantID, sellerID string, quantity int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity = quantity - $1, reserved = GREATEST(reserved - $1, 0), version = version + 1, updated_at = NOW()
		WHERE variant_id = $2 AND seller_id = $3`,
		quantity, variantID, sellerID)
	if err != nil {
		return err
	}
	return s.requireRow(res, variantID, sellerID)
}

func (s *Store) requireRow(res sql.Result, variantID, sellerID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("stock for variant %s seller %s: %w", variantID, sellerID, apperr.ErrNotFound)
	}
	return nil
}
