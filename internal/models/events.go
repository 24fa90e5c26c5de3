package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeCartUpdated       = "CART_UPDATED"
	EventTypeCheckoutIdle      = "CHECKOUT_IDLE"
	EventTypeCheckoutPending   = "CHECKOUT_PENDING"
	EventTypeCheckoutSucceeded = "CHECKOUT_SUCCEEDED"
	EventTypeCheckoutFailed    = "CHECKOUT_FAILED"
	EventTypeProductAdded      = "PRODUCT_ADDED"
	EventTypeProductRemoved    = "PRODUCT_REMOVED"
	EventTypeStockAdjusted     = "STOCK_ADJUSTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartUpdatedEvent published after every ledger change
type CartUpdatedEvent struct {
	BaseEvent
	Operation string          `json:"operation"`
	ProductID string          `json:"product_id,omitempty"`
	Items     []CartItemData  `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
	Revision  int64           `json:"revision"`
}

// CartItemData represents a cart line in events
type CartItemData struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CheckoutEvent published on every checkout status change
type CheckoutEvent struct {
	BaseEvent
	Version       int64           `json:"version"`
	SubmissionID  string          `json:"submission_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Message       string          `json:"message,omitempty"`
}

// ProductAddedEvent is a catalog command adding a product
type ProductAddedEvent struct {
	BaseEvent
	Product Product `json:"product"`
}

// ProductRemovedEvent is a catalog command removing a product
type ProductRemovedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
}

// StockAdjustedEvent is a catalog command overriding total stock
type StockAdjustedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
