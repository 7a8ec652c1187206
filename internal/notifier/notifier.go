package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"
	"ecom-coordinator/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationStore is the persistence collaborator for notification
// records. CreateNotification must enforce idempotency-key uniqueness at
// the storage layer.
type NotificationStore interface {
	CreateNotification(ctx context.Context, rec *models.NotificationRecord) error
	UpdateNotificationStatus(ctx context.Context, id, status, failureReason string) error
}

// Gate is the event consumer's dedup gate. It receives raw envelopes
// at-least-once and guarantees at most one send attempt per idempotency
// key, with every outcome durably logged.
type Gate struct {
	store    NotificationStore
	sender   EmailSender
	opsEmail string
	logger   *zap.Logger
}

// NewGate creates a new dedup gate
func NewGate(store NotificationStore, sender EmailSender, opsEmail string) *Gate {
	return &Gate{
		store:    store,
		sender:   sender,
		opsEmail: opsEmail,
		logger:   util.GetLogger(),
	}
}

// Handle processes one raw event. A returned error means the message was
// not processed and should be redelivered (parse or storage failure). A
// send failure is NOT an error here: once the outcome is durably recorded
// the message counts as processed, and only the record says it failed.
func (g *Gate) Handle(ctx context.Context, raw []byte) error {
	ctx, span := util.StartSpan(ctx, "Gate.Handle")
	defer span.End()

	var event models.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	g.logger.Info("Received event",
		zap.String("type", event.EventType),
		zap.String("event_id", event.EventID))

	msg := buildMessage(&event, g.opsEmail)
	if msg.Subject == "" {
		g.logger.Warn("Unhandled event type", zap.String("type", event.EventType))
		return nil
	}

	rec := &models.NotificationRecord{
		ID:           uuid.New().String(),
		UserID:       event.StringData("userId"),
		EventType:    event.EventType,
		Channel:      "EMAIL",
		Recipient:    msg.Recipient,
		Subject:      msg.Subject,
		Body:         msg.Body,
		Status:       models.NotificationPending,
		EventPayload: string(raw),
	}
	if event.IdempotencyKey != "" {
		key := event.IdempotencyKey
		rec.IdempotencyKey = &key
	}

	// The insert is the dedup check: with a repeated key it loses on the
	// unique constraint before any side effect can happen.
	if err := g.store.CreateNotification(ctx, rec); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			util.NotificationsDuplicateTotal.Inc()
			g.logger.Info("Duplicate event skipped",
				zap.String("idempotency_key", event.IdempotencyKey))
			return nil
		}
		return fmt.Errorf("failed to record notification: %w", err)
	}

	if msg.Recipient == "" {
		g.logger.Warn("No recipient for event",
			zap.String("type", event.EventType),
			zap.String("event_id", event.EventID))
		g.recordOutcome(ctx, rec.ID, models.NotificationFailed, "no recipient email")
		return nil
	}

	if err := g.sender.SendEmail(ctx, msg.Recipient, msg.Subject, msg.Body); err != nil {
		util.NotificationsFailedTotal.Inc()
		g.logger.Error("Notification send failed",
			zap.String("type", event.EventType),
			zap.String("recipient", msg.Recipient),
			zap.Error(err))
		g.recordOutcome(ctx, rec.ID, models.NotificationFailed, err.Error())
		return nil
	}

	util.NotificationsSentTotal.Inc()
	g.recordOutcome(ctx, rec.ID, models.NotificationSent, "")
	return nil
}

// RecordDeadLetter logs a message that exhausted its retry budget, keeping
// the raw payload for replay.
func (g *Gate) RecordDeadLetter(ctx context.Context, raw []byte, reason string) {
	var event models.Event
	_ = json.Unmarshal(raw, &event)

	rec := &models.NotificationRecord{
		ID:            uuid.New().String(),
		EventType:     event.EventType,
		Channel:       "EMAIL",
		Status:        models.NotificationDeadLetter,
		FailureReason: reason,
		EventPayload:  string(raw),
	}
	if err := g.store.CreateNotification(ctx, rec); err != nil {
		g.logger.Error("Failed to record dead letter", zap.Error(err))
	}
}

func (g *Gate) recordOutcome(ctx context.Context, id, status, reason string) {
	if err := g.store.UpdateNotificationStatus(ctx, id, status, reason); err != nil {
		g.logger.Error("Failed to record notification outcome",
			zap.String("notification_id", id),
			zap.Error(err))
	}
}
