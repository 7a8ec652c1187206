package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"ecom-coordinator/internal/broker"
	"ecom-coordinator/internal/models"

	"github.com/segmentio/kafka-go"
)

// NotificationHandler is the dedup gate the notification worker feeds.
// notifier.Gate is the production implementation.
type NotificationHandler interface {
	Handle(ctx context.Context, raw []byte) error
	RecordDeadLetter(ctx context.Context, raw []byte, reason string)
}

// DeadLetterPublisher forwards exhausted messages to the dead-letter topic.
// broker.EventPublisher is the production implementation.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, raw []byte, reason string) error
}

// SettlementHandler consumes payment outcomes. service.SettlementCoordinator
// is the production implementation.
type SettlementHandler interface {
	HandlePaymentSuccess(ctx context.Context, event *models.Event) error
	HandlePaymentFailed(ctx context.Context, event *models.Event) error
}

// sleepBackoff waits out the attempt's backoff unless the context is done
// first, so shutdown is never stuck behind a retry timer.
func sleepBackoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		return nil
	}
}

// NotificationWorker feeds one topic's events through the dedup gate.
// Failures retry in place up to maxRetries, then the message is
// dead-lettered and acked so the partition keeps moving.
type NotificationWorker struct {
	consumer   *broker.Consumer
	gate       NotificationHandler
	publisher  DeadLetterPublisher
	maxRetries int
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, gate NotificationHandler, publisher DeadLetterPublisher, maxRetries int) *NotificationWorker {
	return &NotificationWorker{
		consumer:   consumer,
		gate:       gate,
		publisher:  publisher,
		maxRetries: maxRetries,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.processMessage)
}

func (w *NotificationWorker) processMessage(ctx context.Context, msg kafka.Message) error {
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}
		if lastErr = w.gate.Handle(ctx, msg.Value); lastErr == nil {
			return nil
		}
		log.Printf("Notification handling failed (attempt %d): %v", attempt+1, lastErr)
	}

	w.gate.RecordDeadLetter(ctx, msg.Value, lastErr.Error())
	if err := w.publisher.PublishDeadLetter(ctx, msg.Value, lastErr.Error()); err != nil {
		log.Printf("Failed to publish dead letter: %v", err)
	}
	// Ack: redelivering a poison message forever would stall the topic.
	return nil
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

// SettlementWorker consumes payment outcomes and drives order settlement.
type SettlementWorker struct {
	consumer    *broker.Consumer
	coordinator SettlementHandler
	publisher   DeadLetterPublisher
	maxRetries  int
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(consumer *broker.Consumer, coordinator SettlementHandler, publisher DeadLetterPublisher, maxRetries int) *SettlementWorker {
	return &SettlementWorker{
		consumer:    consumer,
		coordinator: coordinator,
		publisher:   publisher,
		maxRetries:  maxRetries,
	}
}

// Start starts the settlement worker
func (sw *SettlementWorker) Start(ctx context.Context) error {
	log.Println("Starting settlement worker...")
	return sw.consumer.StartConsuming(ctx, sw.processMessage)
}

// processMessage retries a payment event in place, then dead-letters and
// acks it. Leaving the offset uncommitted would not pin the message: a later
// commit on the same partition moves the group past it, so the dead-letter
// topic is the only durable home for an unprocessable payment outcome.
func (sw *SettlementWorker) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// Unparseable payment events cannot be retried into shape.
		log.Printf("Dropping malformed settlement message: %v", err)
		return nil
	}

	var handle func(context.Context, *models.Event) error
	switch event.EventType {
	case models.EventPaymentSuccess:
		handle = sw.coordinator.HandlePaymentSuccess
	case models.EventPaymentFailed:
		handle = sw.coordinator.HandlePaymentFailed
	default:
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= sw.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}
		if lastErr = handle(ctx, &event); lastErr == nil {
			return nil
		}
		log.Printf("Settlement handling failed (attempt %d): %v", attempt+1, lastErr)
	}

	if err := sw.publisher.PublishDeadLetter(ctx, msg.Value, lastErr.Error()); err != nil {
		log.Printf("Failed to publish dead letter: %v", err)
	}
	return nil
}

// Stop stops the settlement worker
func (sw *SettlementWorker) Stop() error {
	log.Println("Stopping settlement worker...")
	return sw.consumer.Close()
}
