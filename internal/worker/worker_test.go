package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/broker"
	"storefront/internal/checkout"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryEventStore struct {
	mu        sync.Mutex
	processed map[string]string
	err       error
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{processed: make(map[string]string)}
}

func (s *memoryEventStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *memoryEventStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = eventType
	return nil
}

func newCatalogWorker(t *testing.T, events EventStore) (*CatalogWorker, *service.CartService) {
	t.Helper()
	l, err := ledger.New(service.SampleProducts())
	require.NoError(t, err)
	svc := service.NewCartService(l, nil)
	return NewCatalogWorker(nil, svc, events), svc
}

func encode(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestCatalogWorkerAppliesCommands(t *testing.T) {
	w, svc := newCatalogWorker(t, newMemoryEventStore())
	ctx := context.Background()
	handle := w.Handler().HandleMessage

	require.NoError(t, handle(ctx, encode(t, models.ProductAddedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeProductAdded},
		Product:   models.Product{ID: "6", Name: "Drone", Price: decimal.NewFromInt(450), AvailableQuantity: 2},
	})))
	_, ok := svc.Ledger().Product("6")
	assert.True(t, ok)

	require.NoError(t, handle(ctx, encode(t, models.StockAdjustedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeStockAdjusted},
		ProductID: "6",
		Quantity:  9,
	})))
	p, _ := svc.Ledger().Product("6")
	assert.Equal(t, 9, p.AvailableQuantity)

	require.NoError(t, handle(ctx, encode(t, models.ProductRemovedEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypeProductRemoved},
		ProductID: "6",
	})))
	_, ok = svc.Ledger().Product("6")
	assert.False(t, ok)
}

func TestCatalogWorkerSkipsProcessedEvents(t *testing.T) {
	events := newMemoryEventStore()
	w, svc := newCatalogWorker(t, events)
	ctx := context.Background()

	event := &models.StockAdjustedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeStockAdjusted},
		ProductID: "1",
		Quantity:  10,
	}
	require.NoError(t, w.HandleStockAdjusted(ctx, event))
	assert.Equal(t, models.EventTypeStockAdjusted, events.processed["e1"])

	svc.Reserve(ctx, "1")
	revision := svc.Ledger().Revision()

	// redelivery must not reset the stock again
	require.NoError(t, w.HandleStockAdjusted(ctx, event))
	assert.Equal(t, revision, svc.Ledger().Revision())
	assert.Equal(t, 1, svc.Ledger().Reserved("1"))
}

func TestCatalogWorkerRejectedCommandIsNotMarked(t *testing.T) {
	events := newMemoryEventStore()
	w, _ := newCatalogWorker(t, events)

	err := w.HandleProductAdded(context.Background(), &models.ProductAddedEvent{
		BaseEvent: models.BaseEvent{EventID: "dup", EventType: models.EventTypeProductAdded},
		Product:   models.Product{ID: "1", Name: "Again", AvailableQuantity: 1},
	})
	assert.ErrorIs(t, err, ledger.ErrProductExists)
	assert.NotContains(t, events.processed, "dup")
}

func TestCatalogWorkerEventStoreFailure(t *testing.T) {
	events := newMemoryEventStore()
	events.err = errors.New("db down")
	w, svc := newCatalogWorker(t, events)

	err := w.HandleProductRemoved(context.Background(), &models.ProductRemovedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeProductRemoved},
		ProductID: "1",
	})
	assert.Error(t, err)
	_, ok := svc.Ledger().Product("1")
	assert.True(t, ok)
}

type recordingSink struct {
	mu       sync.Mutex
	changes  []ledger.Change
	statuses []checkout.Status
	carts    []string
	updates  []broker.CheckoutUpdate
	done     chan struct{}
	want     int
	seen     int
}

func newRecordingSink(want int) *recordingSink {
	return &recordingSink{done: make(chan struct{}), want: want}
}

func (s *recordingSink) tick() {
	s.seen++
	if s.seen == s.want {
		close(s.done)
	}
}

func (s *recordingSink) Apply(_ context.Context, c ledger.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return nil
}

func (s *recordingSink) Record(_ context.Context, st checkout.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

func (s *recordingSink) PublishCartUpdated(_ context.Context, op, _ string, _ ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts = append(s.carts, op)
	s.tick()
	return nil
}

func (s *recordingSink) PublishCheckoutStatus(_ context.Context, u broker.CheckoutUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	s.tick()
	return errors.New("broker down")
}

func TestRelayWorkerForwardsInOrder(t *testing.T) {
	sink := newRecordingSink(3)
	w := NewRelayWorker(8, WithStockSink(sink), WithTransactionSink(sink), WithEventSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	w.OnLedgerChange(ledger.Change{Op: ledger.OpReserve, ProductID: "1"})
	w.OnCheckoutStatus(checkout.Status{Version: 1, State: models.TransactionPending, SubmissionID: "s1"})
	w.OnLedgerChange(ledger.Change{Op: ledger.OpClear})

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not forward notifications")
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{ledger.OpReserve, ledger.OpClear}, sink.carts)
	require.Len(t, sink.changes, 2)
	require.Len(t, sink.statuses, 1)
	assert.Equal(t, "s1", sink.updates[0].SubmissionID)
	assert.Equal(t, models.TransactionPending, sink.updates[0].State)
	assert.Equal(t, int64(1), sink.updates[0].Version)
}

func TestRelayWorkerDropsWhenFull(t *testing.T) {
	sink := newRecordingSink(1)
	w := NewRelayWorker(1, WithEventSink(sink))

	w.OnLedgerChange(ledger.Change{Op: ledger.OpReserve})
	w.OnLedgerChange(ledger.Change{Op: ledger.OpRelease})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	assert.Equal(t, []string{ledger.OpReserve}, sink.carts)
}
