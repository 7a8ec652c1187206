package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memNotificationStore struct {
	mu   sync.Mutex
	recs []*models.NotificationRecord
	keys map[string]bool
}

func newMemNotificationStore() *memNotificationStore {
	return &memNotificationStore{keys: map[string]bool{}}
}

func (m *memNotificationStore) CreateNotification(ctx context.Context, rec *models.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.IdempotencyKey != nil {
		if m.keys[*rec.IdempotencyKey] {
			return apperr.ErrDuplicate
		}
		m.keys[*rec.IdempotencyKey] = true
	}
	copied := *rec
	m.recs = append(m.recs, &copied)
	return nil
}

func (m *memNotificationStore) UpdateNotificationStatus(ctx context.Context, id, status, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.ID == id {
			rec.Status = status
			rec.FailureReason = failureReason
			return nil
		}
	}
	return apperr.ErrNotFound
}

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) SendEmail(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func orderCreatedRaw(t *testing.T) []byte {
	raw, err := json.Marshal(models.Event{
		EventID:        "e1",
		EventType:      models.EventOrderCreated,
		Source:         "order-service",
		CorrelationID:  "o1",
		IdempotencyKey: "o1:ORDER_CREATED",
		Data: map[string]interface{}{
			"orderId":     "o1",
			"orderNumber": "ORD-100",
			"userId":      "user-1",
			"email":       "buyer@example.com",
			"totalAmount": 1130,
			"status":      "PENDING",
		},
	})
	require.NoError(t, err)
	return raw
}

func TestHandleSendsAndRecords(t *testing.T) {
	store := newMemNotificationStore()
	sender := &fakeSender{}
	gate := NewGate(store, sender, "ops@example.com")

	require.NoError(t, gate.Handle(context.Background(), orderCreatedRaw(t)))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "buyer@example.com", sender.sent[0].to)
	assert.Equal(t, "Order Placed - ORD-100", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "ORD-100")

	require.Len(t, store.recs, 1)
	rec := store.recs[0]
	assert.Equal(t, models.NotificationSent, rec.Status)
	assert.Equal(t, "user-1", rec.UserID)
	require.NotNil(t, rec.IdempotencyKey)
	assert.Equal(t, "o1:ORDER_CREATED", *rec.IdempotencyKey)
	assert.NotEmpty(t, rec.EventPayload)
}

func TestHandleDuplicateDelivery(t *testing.T) {
	store := newMemNotificationStore()
	sender := &fakeSender{}
	gate := NewGate(store, sender, "ops@example.com")

	raw := orderCreatedRaw(t)
	require.NoError(t, gate.Handle(context.Background(), raw))
	require.NoError(t, gate.Handle(context.Background(), raw))

	// One record, one send, no matter how often the broker redelivers.
	assert.Len(t, store.recs, 1)
	assert.Len(t, sender.sent, 1)
}

func TestHandleMalformedPayload(t *testing.T) {
	gate := NewGate(newMemNotificationStore(), &fakeSender{}, "ops@example.com")

	err := gate.Handle(context.Background(), []byte("{not json"))
	assert.Error(t, err)
}

func TestHandleSendFailureRecordedNotPropagated(t *testing.T) {
	store := newMemNotificationStore()
	sender := &fakeSender{err: errors.New("smtp: connection refused")}
	gate := NewGate(store, sender, "ops@example.com")

	require.NoError(t, gate.Handle(context.Background(), orderCreatedRaw(t)))

	require.Len(t, store.recs, 1)
	assert.Equal(t, models.NotificationFailed, store.recs[0].Status)
	assert.Equal(t, "smtp: connection refused", store.recs[0].FailureReason)
}

func TestHandleNoRecipient(t *testing.T) {
	store := newMemNotificationStore()
	sender := &fakeSender{}
	gate := NewGate(store, sender, "ops@example.com")

	raw, err := json.Marshal(models.Event{
		EventID:        "e2",
		EventType:      models.EventOrderConfirmed,
		IdempotencyKey: "o1:ORDER_CONFIRMED",
		Data:           map[string]interface{}{"orderNumber": "ORD-100"},
	})
	require.NoError(t, err)

	require.NoError(t, gate.Handle(context.Background(), raw))
	assert.Empty(t, sender.sent)
	require.Len(t, store.recs, 1)
	assert.Equal(t, models.NotificationFailed, store.recs[0].Status)
	assert.Equal(t, "no recipient email", store.recs[0].FailureReason)
}

func TestHandleLowStockGoesToOps(t *testing.T) {
	store := newMemNotificationStore()
	sender := &fakeSender{}
	gate := NewGate(store, sender, "ops@example.com")

	raw, err := json.Marshal(models.Event{
		EventID:   "e3",
		EventType: models.EventLowStockAlert,
		Data: map[string]interface{}{
			"variantId":      "v1",
			"sellerId":       "sel1",
			"availableStock": 2,
		},
	})
	require.NoError(t, err)

	require.NoError(t, gate.Handle(context.Background(), raw))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].subject, "v1")
}

func TestHandleUnhandledEventType(t *testing.T) {
	store := newMemNotificationStore()
	sender := &fakeSender{}
	gate := NewGate(store, sender, "ops@example.com")

	raw, err := json.Marshal(models.Event{EventID: "e4", EventType: "SOMETHING_ELSE"})
	require.NoError(t, err)

	// Acked with no record and no send.
	require.NoError(t, gate.Handle(context.Background(), raw))
	assert.Empty(t, store.recs)
	assert.Empty(t, sender.sent)
}

func TestHandleWithoutIdempotencyKey(t *testing.T) {
	store := newMemNotificationStore()
	sender := &fakeSender{}
	gate := NewGate(store, sender, "ops@example.com")

	raw, err := json.Marshal(models.Event{
		EventID:   "e5",
		EventType: models.EventOrderShipped,
		Data:      map[string]interface{}{"orderNumber": "ORD-100", "email": "buyer@example.com"},
	})
	require.NoError(t, err)

	// Keyless events are sent every delivery; the record has a NULL key.
	require.NoError(t, gate.Handle(context.Background(), raw))
	require.NoError(t, gate.Handle(context.Background(), raw))
	assert.Len(t, sender.sent, 2)
	require.Len(t, store.recs, 2)
	assert.Nil(t, store.recs[0].IdempotencyKey)
}

func TestRecordDeadLetter(t *testing.T) {
	store := newMemNotificationStore()
	gate := NewGate(store, &fakeSender{}, "ops@example.com")

	raw := orderCreatedRaw(t)
	gate.RecordDeadLetter(context.Background(), raw, "retries exhausted")

	require.Len(t, store.recs, 1)
	rec := store.recs[0]
	assert.Equal(t, models.NotificationDeadLetter, rec.Status)
	assert.Equal(t, "retries exhausted", rec.FailureReason)
	assert.Equal(t, string(raw), rec.EventPayload)
}
