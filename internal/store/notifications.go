package store

import (
	"context"
	"database/sql"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"
)

// CreateNotification inserts a notification record. When the event carries
// an idempotency key, the unique constraint makes this insert the dedup
// gate itself: the second of two concurrent deliveries gets
// apperr.ErrDuplicate and must discard the event before any send.
func (s *Store) CreateNotification(ctx context.Context, rec *models.NotificationRecord) error {
	query := `
		INSERT INTO notification_records (id, user_id, event_type, channel, recipient, subject, body,
			status, failure_reason, retry_count, idempotency_key, event_payload)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
		RETURNING created_at`

	err := s.db.GetContext(ctx, &rec.CreatedAt, query,
		rec.ID, rec.UserID, rec.EventType, rec.Channel, rec.Recipient, rec.Subject, rec.Body,
		rec.Status, rec.FailureReason, rec.RetryCount, rec.IdempotencyKey, rec.EventPayload)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicate
	}
	return err
}

// UpdateNotificationStatus records the outcome of a send attempt.
func (s *Store) UpdateNotificationStatus(ctx context.Context, id, status, failureReason string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notification_records SET status = $1, failure_reason = NULLIF($2, '') WHERE id = $3",
		status, failureReason, id)
	return err
}

// GetNotificationByIdempotencyKey returns the record for a dedup key, or nil.
func (s *Store) GetNotificationByIdempotencyKey(ctx context.Context, key string) (*models.NotificationRecord, error) {
	var rec models.NotificationRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, COALESCE(user_id, '') AS user_id, event_type, channel, recipient, subject, body,
			status, COALESCE(failure_reason, '') AS failure_reason, retry_count, idempotency_key,
			event_payload, created_at
		FROM notification_records WHERE idempotency_key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
