package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderFixture struct {
	orders *memOrderStore
	stocks *memStockStore
	pub    *capturePublisher
	svc    *OrderService
}

func newOrderFixture() *orderFixture {
	stocks := newMemStockStore()
	pub := &capturePublisher{}
	inventory := NewInventoryService(stocks, newMemLocker(), pub, 10*time.Second, 3)
	orders := newMemOrderStore()
	svc := NewOrderService(orders, inventory, pub, nil, 3)
	return &orderFixture{orders: orders, stocks: stocks, pub: pub, svc: svc}
}

func validRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		UserID:        "user-1",
		CustomerEmail: "buyer@example.com",
		Items: []OrderItemRequest{
			{ProductID: "p1", VariantID: "v1", SellerID: "sel1", Quantity: 2, UnitPrice: 500},
		},
		Subtotal:       1000,
		TaxAmount:      180,
		ShippingCost:   50,
		DiscountAmount: 100,
		TotalAmount:    1130,
		ShippingAddress: ShippingAddress{
			Name: "Jane Doe", Line1: "1 Main St", City: "Springfield",
			PostalCode: "12345", Country: "US",
		},
		IdempotencyKey: "key-1",
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.NotEmpty(t, order.OrderNumber)
	assert.Equal(t, int64(1130), order.TotalAmount)

	state := f.stocks.snapshot("v1", "sel1")
	assert.Equal(t, 2, state.Reserved)

	items, err := f.orders.GetOrderItems(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1000), items[0].TotalPrice)

	history, err := f.orders.GetStatusHistory(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, string(models.StatusPending), history[0].ToStatus)

	var addr ShippingAddress
	require.NoError(t, json.Unmarshal([]byte(order.ShippingAddress), &addr))
	assert.Equal(t, "Jane Doe", addr.Name)

	created := f.pub.byType(models.EventOrderCreated)
	require.Len(t, created, 1)
	assert.Equal(t, models.TopicOrderEvents, created[0].topic)
	assert.Equal(t, order.ID, created[0].event.CorrelationID)
	assert.Equal(t, order.ID+":"+models.EventOrderCreated, created[0].event.IdempotencyKey)
	assert.Equal(t, "buyer@example.com", created[0].event.Data["email"])
}

func TestCreateOrderIdempotent(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})

	first, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	second, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// No second reservation, no second event, no second history entry.
	state := f.stocks.snapshot("v1", "sel1")
	assert.Equal(t, 2, state.Reserved)
	assert.Len(t, f.pub.byType(models.EventOrderCreated), 1)
	history, _ := f.orders.GetStatusHistory(context.Background(), first.ID)
	assert.Len(t, history, 1)
}

func TestCreateOrderAmountMismatch(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})

	req := validRequest()
	req.TotalAmount = 1200
	_, err := f.svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrAmountMismatch)

	req = validRequest()
	req.Subtotal = 900
	req.TotalAmount = 1030
	_, err = f.svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrAmountMismatch)

	// Nothing was reserved or persisted.
	state := f.stocks.snapshot("v1", "sel1")
	assert.Equal(t, 0, state.Reserved)
	assert.Empty(t, f.pub.events)
}

func TestCreateOrderReservationFailureReleasesEarlierLines(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})
	f.stocks.seed(models.StockRecord{ID: "s2", VariantID: "v2", SellerID: "sel1", Quantity: 1})

	req := validRequest()
	req.Items = []OrderItemRequest{
		{ProductID: "p1", VariantID: "v1", SellerID: "sel1", Quantity: 2, UnitPrice: 300},
		{ProductID: "p2", VariantID: "v2", SellerID: "sel1", Quantity: 2, UnitPrice: 200},
	}
	req.Subtotal = 1000

	_, err := f.svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)

	// The first line's hold was compensated; no order exists.
	state := f.stocks.snapshot("v1", "sel1")
	assert.Equal(t, 0, state.Reserved)
	orders, _ := f.orders.GetOrdersByUserID(context.Background(), "user-1")
	assert.Empty(t, orders)
	assert.Empty(t, f.pub.byType(models.EventOrderCreated))
}

func TestUpdateStatusValidTransition(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	updated, err := f.svc.UpdateStatus(context.Background(), order.ID, models.StatusConfirmed, "payment-worker", "payment settled")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)

	history, err := f.orders.GetStatusHistory(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(models.StatusPending), history[1].FromStatus)
	assert.Equal(t, string(models.StatusConfirmed), history[1].ToStatus)
	assert.Equal(t, "payment-worker", history[1].ChangedBy)

	confirmed := f.pub.byType(models.EventOrderConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, order.ID+":"+models.EventOrderConfirmed, confirmed[0].event.IdempotencyKey)
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	// PENDING cannot ship directly.
	_, err = f.svc.UpdateStatus(context.Background(), order.ID, models.StatusShipped, "ops", "")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	// Walk to DELIVERED, then try to go backwards.
	for _, st := range []models.Status{models.StatusConfirmed, models.StatusProcessing, models.StatusShipped, models.StatusDelivered} {
		_, err = f.svc.UpdateStatus(context.Background(), order.ID, st, "ops", "")
		require.NoError(t, err)
	}
	_, err = f.svc.UpdateStatus(context.Background(), order.ID, models.StatusPending, "ops", "")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	fresh, err := f.orders.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, fresh.Status)
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	f := newOrderFixture()
	_, err := f.svc.UpdateStatus(context.Background(), "whatever", models.Status("EXPLODED"), "ops", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestUpdateStatusEmitsOnlyForExternalStatuses(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), order.ID, models.StatusConfirmed, "ops", "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(context.Background(), order.ID, models.StatusProcessing, "ops", "")
	require.NoError(t, err)

	// PROCESSING is internal: confirmed yes, processing no.
	assert.Len(t, f.pub.byType(models.EventOrderConfirmed), 1)
	total := 0
	for _, e := range f.pub.events {
		if e.topic == models.TopicOrderEvents {
			total++
		}
	}
	assert.Equal(t, 2, total) // ORDER_CREATED + ORDER_CONFIRMED
}

type failingTxOrderStore struct {
	*memOrderStore
	txFailures int
}

func (f *failingTxOrderStore) UpdateOrderStatusTx(ctx context.Context, orderID string, status models.Status, version int, h *models.OrderStatusHistory) error {
	if f.txFailures > 0 {
		f.txFailures--
		return errors.New("connection reset")
	}
	return f.memOrderStore.UpdateOrderStatusTx(ctx, orderID, status, version, h)
}

// The status row and its history entry commit together: when the
// transaction fails, neither the order nor the timeline may change.
func TestUpdateStatusAndHistoryCommitTogether(t *testing.T) {
	stocks := newMemStockStore()
	stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})
	pub := &capturePublisher{}
	inventory := NewInventoryService(stocks, newMemLocker(), pub, 10*time.Second, 3)
	orders := &failingTxOrderStore{memOrderStore: newMemOrderStore(), txFailures: 1}
	svc := NewOrderService(orders, inventory, pub, nil, 3)

	order, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), order.ID, models.StatusConfirmed, "ops", "")
	require.Error(t, err)

	fresh, err := orders.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, fresh.Status)
	history, err := orders.GetStatusHistory(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// And together means together: a retry lands both.
	_, err = svc.UpdateStatus(context.Background(), order.ID, models.StatusConfirmed, "ops", "")
	require.NoError(t, err)
	history, err = orders.GetStatusHistory(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	f := newOrderFixture()
	_, err := f.svc.UpdateStatus(context.Background(), "missing", models.StatusConfirmed, "ops", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetTimeline(t *testing.T) {
	f := newOrderFixture()
	f.stocks.seed(models.StockRecord{ID: "s1", VariantID: "v1", SellerID: "sel1", Quantity: 10})

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(context.Background(), order.ID, models.StatusCancelled, "buyer", "changed my mind")
	require.NoError(t, err)

	timeline, err := f.svc.GetTimeline(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, string(models.StatusPending), timeline[0].ToStatus)
	assert.Equal(t, string(models.StatusCancelled), timeline[1].ToStatus)

	_, err = f.svc.GetTimeline(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestValidateAmounts(t *testing.T) {
	req := validRequest()
	assert.NoError(t, validateAmounts(req))

	free := validRequest()
	free.Items[0].UnitPrice = 0
	free.Subtotal = 0
	free.TaxAmount = 0
	free.ShippingCost = 0
	free.DiscountAmount = 0
	free.TotalAmount = 0
	assert.NoError(t, validateAmounts(free))
}
