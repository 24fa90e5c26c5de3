package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storefront/internal/card"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrSubmissionInProgress = errors.New("a payment is already in progress")
	ErrNotAcknowledged      = errors.New("previous payment must be acknowledged first")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrOperationFailed      = errors.New("operation failed")
)

// Failure messages set by the orchestrator itself
const (
	MessageTimeout         = "payment timed out"
	MessageOperationFailed = "operation failed"
)

// PaymentGateway charges a payment draft
type PaymentGateway interface {
	Charge(ctx context.Context, draft models.PaymentDraft, amount decimal.Decimal) (models.ChargeResult, error)
}

// SecureStore keeps the redacted draft for pre-filling. Load returns nil
// without error when nothing is stored.
type SecureStore interface {
	Save(ctx context.Context, payment models.StoredPayment) error
	Load(ctx context.Context) (*models.StoredPayment, error)
	Delete(ctx context.Context) error
}

// Cart is the part of the ledger checkout freezes while a payment runs.
// Hold reports false when the cart is already held.
type Cart interface {
	Hold() (ledger.Snapshot, bool)
	Unhold()
	Settle() ledger.Snapshot
}

// DraftValidator validates payment drafts
type DraftValidator interface {
	Validate(draft models.PaymentDraft) card.FieldErrors
}

// Status is the observable checkout state. Version increases by one on
// every transition.
type Status struct {
	Version       int64                   `json:"version"`
	State         models.TransactionState `json:"state"`
	SubmissionID  string                  `json:"submission_id,omitempty"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal         `json:"amount"`
	ItemCount     int                     `json:"item_count"`
	LastFour      string                  `json:"last_four,omitempty"`
	Message       string                  `json:"message,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// DraftSummary is the displayable part of the held draft
type DraftSummary struct {
	MaskedNumber string `json:"masked_number"`
	CardHolder   string `json:"card_holder"`
	ExpDate      string `json:"exp_date"`
	CardType     string `json:"card_type,omitempty"`
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithTimeout bounds each payment; zero disables the bound
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator overrides how submission ids are generated
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithLogger overrides the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// Orchestrator runs the checkout state machine:
// idle -> pending -> succeeded|failed -> idle.
type Orchestrator struct {
	cart      Cart
	validator DraftValidator
	gateway   PaymentGateway
	store     SecureStore

	timeout time.Duration
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger

	mu          sync.Mutex
	status      Status
	draft       *models.PaymentDraft
	submittedAt time.Time

	listenersMu sync.Mutex
	listeners   map[int]func(Status)
	nextID      int

	updates *util.Sequencer[Status]
}

// NewOrchestrator creates an idle orchestrator
func NewOrchestrator(
	cart Cart,
	validator DraftValidator,
	gateway PaymentGateway,
	store SecureStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		cart:      cart,
		validator: validator,
		gateway:   gateway,
		store:     store,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		logger:    util.GetLogger(),
		listeners: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.status = Status{State: models.TransactionIdle, Amount: decimal.Zero, UpdatedAt: o.now()}
	o.updates = util.NewSequencer(1, o.notify)
	return o
}

// Subscribe registers a listener for status changes
func (o *Orchestrator) Subscribe(fn func(Status)) func() {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()

	id := o.nextID
	o.nextID++
	o.listeners[id] = fn

	return func() {
		o.listenersMu.Lock()
		defer o.listenersMu.Unlock()
		delete(o.listeners, id)
	}
}

// Status returns the current status
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Draft returns a masked view of the held draft
func (o *Orchestrator) Draft() (DraftSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.draft == nil {
		return DraftSummary{}, false
	}
	return DraftSummary{
		MaskedNumber: card.MaskCardNumber(o.draft.CardNumber),
		CardHolder:   card.NormalizeHolderName(o.draft.CardHolder),
		ExpDate:      o.draft.ExpDate,
		CardType:     card.ClassifyCardNumber(o.draft.CardNumber),
	}, true
}

// Submit validates the draft, holds the cart and starts the payment charging
// the held lines. It returns the pending
// status; the outcome is delivered to subscribers.
func (o *Orchestrator) Submit(ctx context.Context, draft models.PaymentDraft) (Status, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.Submit")
	defer span.End()

	o.mu.Lock()
	switch o.status.State {
	case models.TransactionPending:
		st := o.status
		o.mu.Unlock()
		util.CheckoutRejectedTotal.WithLabelValues("in_progress").Inc()
		return st, ErrSubmissionInProgress
	case models.TransactionSucceeded:
		st := o.status
		o.mu.Unlock()
		util.CheckoutRejectedTotal.WithLabelValues("not_acknowledged").Inc()
		return st, ErrNotAcknowledged
	}

	if errs := o.validator.Validate(draft); errs != nil {
		st := o.status
		o.mu.Unlock()
		for field := range errs {
			util.CardValidationFailuresTotal.WithLabelValues(field).Inc()
		}
		util.CheckoutRejectedTotal.WithLabelValues("invalid_draft").Inc()
		return st, errs
	}

	snap, ok := o.cart.Hold()
	if !ok {
		st := o.status
		o.mu.Unlock()
		util.CheckoutRejectedTotal.WithLabelValues("in_progress").Inc()
		return st, ErrSubmissionInProgress
	}
	if snap.ItemCount == 0 {
		o.cart.Unhold()
		st := o.status
		o.mu.Unlock()
		util.CheckoutRejectedTotal.WithLabelValues("empty_cart").Inc()
		return st, ErrEmptyCart
	}
	amount, count := snap.Total, snap.ItemCount

	id := o.newID()
	held := draft
	o.draft = &held
	o.submittedAt = o.now()
	o.status = Status{
		Version:      o.status.Version + 1,
		State:        models.TransactionPending,
		SubmissionID: id,
		Amount:       amount,
		ItemCount:    count,
		LastFour:     card.LastFour(draft.CardNumber),
		UpdatedAt:    o.submittedAt,
	}
	st := o.status
	o.mu.Unlock()

	util.CheckoutSubmissionsTotal.Inc()
	o.logger.Info("Checkout submitted", append(util.TraceFields(ctx),
		zap.String("submission_id", id),
		zap.String("amount", amount.String()),
		zap.Int("items", count))...)
	go o.run(context.WithoutCancel(ctx), id, held, amount)
	o.updates.Push(st.Version, st)
	return st, nil
}

// Acknowledge returns a finished checkout to idle
func (o *Orchestrator) Acknowledge() Status {
	o.mu.Lock()
	if !o.status.State.IsTerminal() {
		st := o.status
		o.mu.Unlock()
		return st
	}

	o.draft = nil
	o.status = Status{
		Version:   o.status.Version + 1,
		State:     models.TransactionIdle,
		Amount:    decimal.Zero,
		UpdatedAt: o.now(),
	}
	st := o.status
	o.mu.Unlock()

	o.updates.Push(st.Version, st)
	return st
}

// SavedPayment returns the stored redacted draft, or nil when there is none
// or it cannot be read
func (o *Orchestrator) SavedPayment(ctx context.Context) *models.StoredPayment {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.SavedPayment")
	defer span.End()

	saved, err := o.store.Load(ctx)
	if err != nil {
		util.SecureStoreErrorsTotal.WithLabelValues("load").Inc()
		o.logger.Warn("Failed to load saved payment", zap.Error(err))
		return nil
	}
	return saved
}

// ForgetSavedPayment deletes the stored redacted draft
func (o *Orchestrator) ForgetSavedPayment(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.ForgetSavedPayment")
	defer span.End()

	if err := o.store.Delete(ctx); err != nil {
		util.SecureStoreErrorsTotal.WithLabelValues("delete").Inc()
		o.logger.Error("Failed to delete saved payment", zap.Error(err))
		return ErrOperationFailed
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, id string, draft models.PaymentDraft, amount decimal.Decimal) {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.run",
		attribute.String("submission_id", id))
	defer span.End()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()

		timer := time.AfterFunc(o.timeout, func() {
			o.resolve(id, models.TransactionFailed, "", MessageTimeout)
		})
		defer timer.Stop()
	}

	now := o.now()
	stored := models.StoredPayment{
		CardNumber:     draft.CardNumber,
		CardHolder:     card.NormalizeHolderName(draft.CardHolder),
		ExpDate:        draft.ExpDate,
		LastFourDigits: card.LastFour(draft.CardNumber),
		TransactionID:  fmt.Sprintf("TX-%d", now.UnixMilli()),
		Timestamp:      now.UnixMilli(),
	}
	if err := o.store.Save(ctx, stored); err != nil {
		util.SecureStoreErrorsTotal.WithLabelValues("save").Inc()
		util.FailSpan(span, err)
		o.logger.Error("Failed to save payment draft",
			zap.String("submission_id", id),
			zap.Error(err))
		o.resolve(id, models.TransactionFailed, "", MessageOperationFailed)
		return
	}

	result, err := o.gateway.Charge(ctx, draft, amount)
	if err != nil {
		util.FailSpan(span, err)
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = MessageTimeout
		}
		o.resolve(id, models.TransactionFailed, "", msg)
		return
	}

	o.resolve(id, models.TransactionSucceeded, result.TransactionID, "")
}

// resolve applies the terminal transition of a submission. It is a no-op
// unless id is the current submission and it is still pending.
func (o *Orchestrator) resolve(id string, state models.TransactionState, txID, message string) bool {
	o.mu.Lock()
	if o.status.SubmissionID != id || o.status.State != models.TransactionPending {
		o.mu.Unlock()
		return false
	}

	o.status.Version++
	o.status.State = state
	o.status.TransactionID = txID
	o.status.Message = message
	o.status.UpdatedAt = o.now()
	if state == models.TransactionSucceeded {
		o.draft = nil
		o.cart.Settle()
	} else {
		o.cart.Unhold()
	}
	st := o.status
	elapsed := st.UpdatedAt.Sub(o.submittedAt)
	o.mu.Unlock()

	util.CheckoutResultsTotal.WithLabelValues(string(state)).Inc()
	util.CheckoutLatency.Observe(elapsed.Seconds())

	if state == models.TransactionSucceeded {
		o.logger.Info("Checkout succeeded",
			zap.String("submission_id", id),
			zap.String("tx_id", txID))
	} else {
		o.logger.Warn("Checkout failed",
			zap.String("submission_id", id),
			zap.String("reason", message))
	}

	o.updates.Push(st.Version, st)
	return true
}

func (o *Orchestrator) notify(st Status) {
	o.listenersMu.Lock()
	fns := make([]func(Status), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.listenersMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
