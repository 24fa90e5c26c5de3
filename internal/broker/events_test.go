package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storefront/internal/ledger"
	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key   string
	event interface{}
}

type fakePublisher struct {
	events []published
	err    error
}

func (f *fakePublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, published{key: key, event: event})
	return nil
}

func fixedPublisher(p Publisher) *EventPublisher {
	ep := NewEventPublisher(p)
	ep.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return ep
}

func TestPublishCartUpdated(t *testing.T) {
	fp := &fakePublisher{}
	ep := fixedPublisher(fp)

	snap := ledger.Snapshot{
		Items: []models.CartItem{
			{Product: models.Product{ID: "1", Price: decimal.RequireFromString("10.5")}, Quantity: 2},
		},
		Total:     decimal.NewFromInt(21),
		ItemCount: 2,
		Revision:  7,
	}
	require.NoError(t, ep.PublishCartUpdated(context.Background(), ledger.OpReserve, "1", snap))

	require.Len(t, fp.events, 1)
	assert.Equal(t, "cart", fp.events[0].key)
	event, ok := fp.events[0].event.(*models.CartUpdatedEvent)
	require.True(t, ok)
	assert.Equal(t, models.EventTypeCartUpdated, event.EventType)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "reserve", event.Operation)
	assert.Equal(t, []models.CartItemData{{ProductID: "1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.5")}}, event.Items)
	assert.Equal(t, 2, event.ItemCount)
	assert.Equal(t, int64(7), event.Revision)
}

func TestPublishCheckoutStatus(t *testing.T) {
	fp := &fakePublisher{}
	ep := fixedPublisher(fp)
	ctx := context.Background()

	require.NoError(t, ep.PublishCheckoutStatus(ctx, CheckoutUpdate{
		Version:      2,
		State:        models.TransactionFailed,
		SubmissionID: "abc",
		Amount:       decimal.NewFromInt(5),
		Message:      "invalid card",
	}))
	require.NoError(t, ep.PublishCheckoutStatus(ctx, CheckoutUpdate{State: models.TransactionIdle}))

	require.Len(t, fp.events, 2)
	assert.Equal(t, "checkout-abc", fp.events[0].key)
	failed := fp.events[0].event.(*models.CheckoutEvent)
	assert.Equal(t, models.EventTypeCheckoutFailed, failed.EventType)
	assert.Equal(t, "invalid card", failed.Message)
	assert.Equal(t, int64(2), failed.Version)

	assert.Equal(t, "checkout", fp.events[1].key)
	assert.Equal(t, models.EventTypeCheckoutIdle, fp.events[1].event.(*models.CheckoutEvent).EventType)

	assert.Error(t, ep.PublishCheckoutStatus(ctx, CheckoutUpdate{State: "bogus"}))
}

func TestPublishPropagatesProducerError(t *testing.T) {
	ep := fixedPublisher(&fakePublisher{err: errors.New("broker down")})
	err := ep.PublishCartUpdated(context.Background(), ledger.OpClear, "", ledger.Snapshot{})
	assert.EqualError(t, err, "broker down")
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRoutesCatalogCommands(t *testing.T) {
	eh := NewEventHandler()
	ctx := context.Background()

	var added *models.ProductAddedEvent
	var removed *models.ProductRemovedEvent
	var adjusted *models.StockAdjustedEvent
	eh.OnProductAdded(func(_ context.Context, e *models.ProductAddedEvent) error {
		added = e
		return nil
	})
	eh.OnProductRemoved(func(_ context.Context, e *models.ProductRemovedEvent) error {
		removed = e
		return nil
	})
	eh.OnStockAdjusted(func(_ context.Context, e *models.StockAdjustedEvent) error {
		adjusted = e
		return errors.New("rejected")
	})

	require.NoError(t, eh.HandleMessage(ctx, message(t, models.ProductAddedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeProductAdded},
		Product:   models.Product{ID: "9", Name: "Drone", Price: decimal.NewFromInt(450), AvailableQuantity: 2},
	})))
	require.NotNil(t, added)
	assert.Equal(t, "9", added.Product.ID)
	assert.Equal(t, 2, added.Product.AvailableQuantity)

	require.NoError(t, eh.HandleMessage(ctx, message(t, models.ProductRemovedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeProductRemoved},
		ProductID: "3",
	})))
	require.NotNil(t, removed)
	assert.Equal(t, "3", removed.ProductID)

	err := eh.HandleMessage(ctx, message(t, models.StockAdjustedEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypeStockAdjusted},
		ProductID: "1",
		Quantity:  7,
	}))
	assert.EqualError(t, err, "rejected")
	require.NotNil(t, adjusted)
	assert.Equal(t, 7, adjusted.Quantity)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	eh := NewEventHandler()
	assert.NoError(t, eh.HandleMessage(context.Background(), message(t, models.BaseEvent{EventType: "SOMETHING_ELSE"})))
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	eh := NewEventHandler()
	err := eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
