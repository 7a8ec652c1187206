package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ecom-coordinator/internal/models"
	"ecom-coordinator/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher turns committed domain changes into immutable event
// records on the outbound channel. Delivery is best-effort: callers log a
// returned error and move on, they never roll back the mutation that
// triggered the event.
type EventPublisher struct {
	producer *Producer
	source   string
	logger   *zap.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, source string) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		source:   source,
		logger:   util.GetLogger(),
	}
}

// Publish fills in identity fields the caller left blank, serializes the
// envelope and writes it to the topic keyed by correlation id.
func (ep *EventPublisher) Publish(ctx context.Context, topic string, event *models.Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = ep.source
	}

	payload, err := json.Marshal(event)
	if err != nil {
		util.EventPublishFailures.Inc()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := event.CorrelationID
	if key == "" {
		key = event.EventID
	}

	if err := ep.producer.WriteMessage(ctx, topic, key, payload); err != nil {
		util.EventPublishFailures.Inc()
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}

	util.EventsPublishedTotal.WithLabelValues(event.EventType).Inc()
	ep.logger.Info("Published event",
		zap.String("type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("topic", topic))
	return nil
}

// PublishDeadLetter forwards a raw, unprocessable message to the dead-letter
// topic after the consumer's retry budget is spent.
func (ep *EventPublisher) PublishDeadLetter(ctx context.Context, raw []byte, reason string) error {
	util.NotificationsDeadLettered.Inc()
	ep.logger.Warn("Dead-lettering message", zap.String("reason", reason))
	return ep.producer.WriteMessage(ctx, models.TopicDeadLetter, reason, raw)
}
