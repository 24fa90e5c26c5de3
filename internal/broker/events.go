package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cartEventKey = "cart"

// CheckoutUpdate is the part of a checkout status carried by events.
// Version orders updates; consumers drop versions they have already seen.
type CheckoutUpdate struct {
	Version       int64
	State         models.TransactionState
	SubmissionID  string
	TransactionID string
	Amount        decimal.Decimal
	Message       string
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now(),
	}
}

// PublishCartUpdated publishes the cart after a ledger change
func (ep *EventPublisher) PublishCartUpdated(ctx context.Context, op, productID string, snap ledger.Snapshot) error {
	items := make([]models.CartItemData, 0, len(snap.Items))
	for _, item := range snap.Items {
		items = append(items, models.CartItemData{
			ProductID: item.ID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	event := &models.CartUpdatedEvent{
		BaseEvent: ep.base(models.EventTypeCartUpdated),
		Operation: op,
		ProductID: productID,
		Items:     items,
		Total:     snap.Total,
		ItemCount: snap.ItemCount,
		Revision:  snap.Revision,
	}
	return ep.producer.PublishEvent(ctx, cartEventKey, event)
}

// PublishCheckoutStatus publishes a checkout state transition
func (ep *EventPublisher) PublishCheckoutStatus(ctx context.Context, u CheckoutUpdate) error {
	eventType, err := checkoutEventType(u.State)
	if err != nil {
		return err
	}

	event := &models.CheckoutEvent{
		BaseEvent:     ep.base(eventType),
		Version:       u.Version,
		SubmissionID:  u.SubmissionID,
		TransactionID: u.TransactionID,
		Amount:        u.Amount,
		Message:       u.Message,
	}
	key := "checkout"
	if u.SubmissionID != "" {
		key = fmt.Sprintf("checkout-%s", u.SubmissionID)
	}
	return ep.producer.PublishEvent(ctx, key, event)
}

func checkoutEventType(state models.TransactionState) (string, error) {
	switch state {
	case models.TransactionIdle:
		return models.EventTypeCheckoutIdle, nil
	case models.TransactionPending:
		return models.EventTypeCheckoutPending, nil
	case models.TransactionSucceeded:
		return models.EventTypeCheckoutSucceeded, nil
	case models.TransactionFailed:
		return models.EventTypeCheckoutFailed, nil
	}
	return "", fmt.Errorf("unknown checkout state %q", state)
}

// EventHandler routes incoming catalog commands
type EventHandler struct {
	onProductAdded   func(context.Context, *models.ProductAddedEvent) error
	onProductRemoved func(context.Context, *models.ProductRemovedEvent) error
	onStockAdjusted  func(context.Context, *models.StockAdjustedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnProductAdded registers a handler for PRODUCT_ADDED commands
func (eh *EventHandler) OnProductAdded(handler func(context.Context, *models.ProductAddedEvent) error) {
	eh.onProductAdded = handler
}

// OnProductRemoved registers a handler for PRODUCT_REMOVED commands
func (eh *EventHandler) OnProductRemoved(handler func(context.Context, *models.ProductRemovedEvent) error) {
	eh.onProductRemoved = handler
}

// OnStockAdjusted registers a handler for STOCK_ADJUSTED commands
func (eh *EventHandler) OnStockAdjusted(handler func(context.Context, *models.StockAdjustedEvent) error) {
	eh.onStockAdjusted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeProductAdded:
		if eh.onProductAdded != nil {
			var event models.ProductAddedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductAdded event: %w", err)
			}
			return eh.onProductAdded(ctx, &event)
		}

	case models.EventTypeProductRemoved:
		if eh.onProductRemoved != nil {
			var event models.ProductRemovedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductRemoved event: %w", err)
			}
			return eh.onProductRemoved(ctx, &event)
		}

	case models.EventTypeStockAdjusted:
		if eh.onStockAdjusted != nil {
			var event models.StockAdjustedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal StockAdjusted event: %w", err)
			}
			return eh.onStockAdjusted(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
