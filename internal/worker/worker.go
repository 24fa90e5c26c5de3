package worker

import (
	"context"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// EventStore remembers which commands were already applied
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// CatalogService applies catalog commands to the ledger
type CatalogService interface {
	AddProduct(ctx context.Context, p models.Product) (ledger.Snapshot, error)
	RemoveProduct(ctx context.Context, productID string) (ledger.Snapshot, error)
	SetStock(ctx context.Context, productID string, total int) (ledger.Snapshot, error)
}

// CatalogWorker consumes catalog commands
type CatalogWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	catalog      CatalogService
	events       EventStore
	logger       *zap.Logger
}

// NewCatalogWorker creates a catalog worker. events may be nil, in which
// case redelivered commands are applied again.
func NewCatalogWorker(consumer *broker.Consumer, catalog CatalogService, events EventStore) *CatalogWorker {
	w := &CatalogWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		catalog:      catalog,
		events:       events,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnProductAdded(w.HandleProductAdded)
	w.eventHandler.OnProductRemoved(w.HandleProductRemoved)
	w.eventHandler.OnStockAdjusted(w.HandleStockAdjusted)
	return w
}

// Handler returns the message router of the worker
func (w *CatalogWorker) Handler() *broker.EventHandler {
	return w.eventHandler
}

// Start starts the worker
func (w *CatalogWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting catalog worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CatalogWorker) Stop() error {
	w.logger.Info("Stopping catalog worker")
	return w.consumer.Close()
}

// HandleProductAdded adds the product carried by the command
func (w *CatalogWorker) HandleProductAdded(ctx context.Context, event *models.ProductAddedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		_, err := w.catalog.AddProduct(ctx, event.Product)
		return err
	})
}

// HandleProductRemoved removes the product named by the command
func (w *CatalogWorker) HandleProductRemoved(ctx context.Context, event *models.ProductRemovedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		_, err := w.catalog.RemoveProduct(ctx, event.ProductID)
		return err
	})
}

// HandleStockAdjusted overrides the total stock of a product
func (w *CatalogWorker) HandleStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		_, err := w.catalog.SetStock(ctx, event.ProductID, event.Quantity)
		return err
	})
}

// once applies a command unless its event id was already processed
func (w *CatalogWorker) once(ctx context.Context, base models.BaseEvent, apply func() error) error {
	ctx, span := util.StartSpan(ctx, "CatalogWorker."+base.EventType)
	defer span.End()

	if w.events != nil && base.EventID != "" {
		processed, err := w.events.IsEventProcessed(ctx, base.EventID)
		if err != nil {
			util.CatalogCommandsTotal.WithLabelValues(base.EventType, "error").Inc()
			return fmt.Errorf("failed to check event %s: %w", base.EventID, err)
		}
		if processed {
			util.CatalogCommandsTotal.WithLabelValues(base.EventType, "duplicate").Inc()
			w.logger.Info("Event already processed, skipping", zap.String("event_id", base.EventID))
			return nil
		}
	}

	if err := apply(); err != nil {
		util.CatalogCommandsTotal.WithLabelValues(base.EventType, "rejected").Inc()
		w.logger.Warn("Catalog command rejected",
			zap.String("event_id", base.EventID),
			zap.String("type", base.EventType),
			zap.Error(err))
		return err
	}

	if w.events != nil && base.EventID != "" {
		if err := w.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
			w.logger.Error("Failed to mark event processed",
				zap.String("event_id", base.EventID),
				zap.Error(err))
		}
	}

	util.CatalogCommandsTotal.WithLabelValues(base.EventType, "applied").Inc()
	w.logger.Info("Catalog command applied",
		zap.String("event_id", base.EventID),
		zap.String("type", base.EventType))
	return nil
}
