package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"
)

// In-memory fakes for the collaborator contracts. They mirror the semantics
// the real store guarantees: optimistic versions, clamped release, unique
// idempotency keys.

func stockKey(variantID, sellerID string) string {
	return variantID + ":" + sellerID
}

type memStockStore struct {
	mu   sync.Mutex
	recs map[string]*models.StockRecord
}

func newMemStockStore() *memStockStore {
	return &memStockStore{recs: map[string]*models.StockRecord{}}
}

func (m *memStockStore) seed(rec models.StockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rec
	m.recs[stockKey(rec.VariantID, rec.SellerID)] = &r
}

func (m *memStockStore) snapshot(variantID, sellerID string) models.StockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recs[stockKey(variantID, sellerID)]
}

func (m *memStockStore) CreateStock(ctx context.Context, rec *models.StockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := stockKey(rec.VariantID, rec.SellerID)
	if _, ok := m.recs[k]; ok {
		return apperr.ErrDuplicate
	}
	r := *rec
	m.recs[k] = &r
	return nil
}

func (m *memStockStore) GetStock(ctx context.Context, variantID, sellerID string) (*models.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[stockKey(variantID, sellerID)]
	if !ok {
		return nil, fmt.Errorf("stock %s/%s: %w", variantID, sellerID, apperr.ErrNotFound)
	}
	copied := *rec
	return &copied, nil
}

func (m *memStockStore) SaveStock(ctx context.Context, rec *models.StockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[stockKey(rec.VariantID, rec.SellerID)]
	if !ok {
		return apperr.ErrNotFound
	}
	if cur.Version != rec.Version {
		return apperr.ErrConflict
	}
	copied := *rec
	copied.Version++
	m.recs[stockKey(rec.VariantID, rec.SellerID)] = &copied
	rec.Version++
	return nil
}

func (m *memStockStore) ReleaseStock(ctx context.Context, variantID, sellerID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[stockKey(variantID, sellerID)]
	if !ok {
		return fmt.Errorf("stock %s/%s: %w", variantID, sellerID, apperr.ErrNotFound)
	}
	rec.Reserved -= quantity
	if rec.Reserved < 0 {
		rec.Reserved = 0
	}
	rec.Version++
	return nil
}

func (m *memStockStore) ConfirmStock(ctx context.Context, variantID, sellerID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[stockKey(variantID, sellerID)]
	if !ok {
		return fmt.Errorf("stock %s/%s: %w", variantID, sellerID, apperr.ErrNotFound)
	}
	rec.Quantity -= quantity
	rec.Reserved -= quantity
	if rec.Reserved < 0 {
		rec.Reserved = 0
	}
	rec.Version++
	return nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]string
	next int
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}}
}

func (l *memLocker) AcquireStockLock(ctx context.Context, variantID, sellerID string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := stockKey(variantID, sellerID)
	if _, ok := l.held[k]; ok {
		return "", apperr.ErrBusy
	}
	l.next++
	token := fmt.Sprintf("tok-%d", l.next)
	l.held[k] = token
	return token, nil
}

func (l *memLocker) ReleaseStockLock(ctx context.Context, variantID, sellerID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := stockKey(variantID, sellerID)
	if l.held[k] == token {
		delete(l.held, k)
	}
	return nil
}

type publishedEvent struct {
	topic string
	event models.Event
}

type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{topic: topic, event: *event})
	return nil
}

func (p *capturePublisher) byType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type memOrderStore struct {
	mu      sync.Mutex
	orders  map[string]*models.Order
	byKey   map[string]string
	items   map[string][]models.OrderItem
	history []models.OrderStatusHistory
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{
		orders: map[string]*models.Order{},
		byKey:  map[string]string{},
		items:  map[string][]models.OrderItem{},
	}
}

func (m *memOrderStore) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem, initial *models.OrderStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.IdempotencyKey != "" {
		if _, ok := m.byKey[order.IdempotencyKey]; ok {
			return apperr.ErrDuplicate
		}
		m.byKey[order.IdempotencyKey] = order.ID
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	copied := *order
	m.orders[order.ID] = &copied
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	h := *initial
	h.CreatedAt = time.Now()
	m.history = append(m.history, h)
	return nil
}

func (m *memOrderStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	copied := *order
	return &copied, nil
}

func (m *memOrderStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == orderNumber {
			copied := *o
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderNumber, apperr.ErrNotFound)
}

func (m *memOrderStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	copied := *m.orders[id]
	return &copied, nil
}

func (m *memOrderStore) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderStore) UpdateOrderStatusTx(ctx context.Context, orderID string, status models.Status, version int, h *models.OrderStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	if order.Version != version {
		return apperr.ErrConflict
	}
	order.Status = status
	order.Version++
	order.UpdatedAt = time.Now()
	copied := *h
	copied.CreatedAt = time.Now()
	m.history = append(m.history, copied)
	return nil
}

func (m *memOrderStore) GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrderStatusHistory
	for _, h := range m.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memOrderStore) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

type memProcessedStore struct {
	mu   sync.Mutex
	seen map[string]string
}

func newMemProcessedStore() *memProcessedStore {
	return &memProcessedStore{seen: map[string]string{}}
}

func (m *memProcessedStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[eventID]
	return ok, nil
}

func (m *memProcessedStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[eventID] = eventType
	return nil
}
