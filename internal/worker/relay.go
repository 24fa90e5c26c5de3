package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/checkout"
	"storefront/internal/ledger"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// StockSink mirrors ledger changes
type StockSink interface {
	Apply(ctx context.Context, c ledger.Change) error
}

// TransactionSink records checkout statuses
type TransactionSink interface {
	Record(ctx context.Context, st checkout.Status) error
}

// EventSink publishes cart and checkout events
type EventSink interface {
	PublishCartUpdated(ctx context.Context, op, productID string, snap ledger.Snapshot) error
	PublishCheckoutStatus(ctx context.Context, u broker.CheckoutUpdate) error
}

type relayJob struct {
	change *ledger.Change
	status *checkout.Status
}

// RelayOption configures a RelayWorker
type RelayOption func(*RelayWorker)

// WithStockSink mirrors ledger changes into s
func WithStockSink(s StockSink) RelayOption {
	return func(w *RelayWorker) {
		w.stock = s
	}
}

// WithTransactionSink records checkout statuses into s
func WithTransactionSink(s TransactionSink) RelayOption {
	return func(w *RelayWorker) {
		w.transactions = s
	}
}

// WithEventSink publishes every notification through s
func WithEventSink(s EventSink) RelayOption {
	return func(w *RelayWorker) {
		w.events = s
	}
}

// RelayWorker moves ledger and checkout notifications off the caller's
// goroutine and forwards them to the configured sinks in order
type RelayWorker struct {
	queue        chan relayJob
	stock        StockSink
	transactions TransactionSink
	events       EventSink
	logger       *zap.Logger
}

// NewRelayWorker creates a relay with room for size pending notifications
func NewRelayWorker(size int, opts ...RelayOption) *RelayWorker {
	if size <= 0 {
		size = 1
	}
	w := &RelayWorker{
		queue:  make(chan relayJob, size),
		logger: util.GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnLedgerChange enqueues a ledger change. It never blocks; a full queue
// drops the change.
func (w *RelayWorker) OnLedgerChange(c ledger.Change) {
	w.enqueue(relayJob{change: &c}, "ledger")
}

// OnCheckoutStatus enqueues a checkout status
func (w *RelayWorker) OnCheckoutStatus(st checkout.Status) {
	w.enqueue(relayJob{status: &st}, "checkout")
}

func (w *RelayWorker) enqueue(job relayJob, kind string) {
	select {
	case w.queue <- job:
		util.RelayQueueDepth.Set(float64(len(w.queue)))
	default:
		util.RelayEventsTotal.WithLabelValues(kind, "dropped").Inc()
		w.logger.Warn("Relay queue full, dropping notification", zap.String("kind", kind))
	}
}

// Run forwards queued notifications until ctx is done, then flushes what is
// already queued
func (w *RelayWorker) Run(ctx context.Context) error {
	w.logger.Info("Starting relay worker")
	for {
		select {
		case <-ctx.Done():
			w.drain(context.WithoutCancel(ctx))
			w.logger.Info("Relay worker stopped")
			return ctx.Err()
		case job := <-w.queue:
			util.RelayQueueDepth.Set(float64(len(w.queue)))
			w.handle(ctx, job)
		}
	}
}

func (w *RelayWorker) drain(ctx context.Context) {
	for {
		select {
		case job := <-w.queue:
			w.handle(ctx, job)
		default:
			util.RelayQueueDepth.Set(0)
			return
		}
	}
}

func (w *RelayWorker) handle(ctx context.Context, job relayJob) {
	if job.change != nil {
		w.relayChange(ctx, *job.change)
	}
	if job.status != nil {
		w.relayStatus(ctx, *job.status)
	}
}

func (w *RelayWorker) relayChange(ctx context.Context, c ledger.Change) {
	if w.stock != nil {
		w.report("stock", w.stock.Apply(ctx, c))
	}
	if w.events != nil {
		w.report("cart_event", w.events.PublishCartUpdated(ctx, c.Op, c.ProductID, c.Snapshot))
	}
}

func (w *RelayWorker) relayStatus(ctx context.Context, st checkout.Status) {
	if w.transactions != nil {
		w.report("transaction", w.transactions.Record(ctx, st))
	}
	if w.events != nil {
		w.report("checkout_event", w.events.PublishCheckoutStatus(ctx, broker.CheckoutUpdate{
			Version:       st.Version,
			State:         st.State,
			SubmissionID:  st.SubmissionID,
			TransactionID: st.TransactionID,
			Amount:        st.Amount,
			Message:       st.Message,
		}))
	}
}

func (w *RelayWorker) report(kind string, err error) {
	if err != nil {
		util.RelayEventsTotal.WithLabelValues(kind, "error").Inc()
		w.logger.Error("Failed to relay notification", zap.String("kind", kind), zap.Error(err))
		return
	}
	util.RelayEventsTotal.WithLabelValues(kind, "ok").Inc()
}
