package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID                string          `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	Price             decimal.Decimal `db:"price" json:"price"`
	AvailableQuantity int             `db:"available_quantity" json:"quantity"`
	ImageURL          string          `db:"image_url" json:"image_url,omitempty"`
}

// CartItem is a product joined with the quantity reserved in the cart
type CartItem struct {
	Product
	Quantity int `json:"cart_quantity"`
}

// Subtotal returns price * reserved quantity
func (ci CartItem) Subtotal() decimal.Decimal {
	return ci.Price.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// PaymentDraft holds the card details of the active checkout
type PaymentDraft struct {
	CardNumber string `json:"cardNumber"`
	CardHolder string `json:"cardHolder"`
	ExpDate    string `json:"expDate"`
	CVV        string `json:"cvv"`
}

// StoredPayment is the redacted draft kept for pre-filling the card form.
// It never carries the CVV.
type StoredPayment struct {
	CardNumber     string `json:"cardNumber"`
	CardHolder     string `json:"cardHolder"`
	ExpDate        string `json:"expDate"`
	LastFourDigits string `json:"lastFourDigits"`
	TransactionID  string `json:"transactionId"`
	Timestamp      int64  `json:"timestamp"`
}

// ChargeResult is returned by a payment gateway on success
type ChargeResult struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

// TransactionState is the checkout lifecycle state
type TransactionState string

// Transaction states
const (
	TransactionIdle      TransactionState = "idle"
	TransactionPending   TransactionState = "pending"
	TransactionSucceeded TransactionState = "succeeded"
	TransactionFailed    TransactionState = "failed"
)

// IsTerminal reports whether the state ends a submission
func (s TransactionState) IsTerminal() bool {
	return s == TransactionSucceeded || s == TransactionFailed
}

// Transaction is the persisted record of a checkout submission
type Transaction struct {
	SubmissionID  string          `db:"submission_id" json:"submission_id"`
	TransactionID string          `db:"transaction_id" json:"transaction_id,omitempty"`
	Status        string          `db:"status" json:"status"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	ItemCount     int             `db:"item_count" json:"item_count"`
	LastFour      string          `db:"last_four" json:"last_four,omitempty"`
	Message       string          `db:"message" json:"message,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
