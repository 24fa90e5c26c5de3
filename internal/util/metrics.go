package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Total number of ledger operations by outcome",
	}, []string{"op", "result"})

	CartItemsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_items",
		Help: "Units currently reserved in the cart",
	})

	CartValueGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_value",
		Help: "Current cart total",
	})

	CardValidationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "card_validation_failures_total",
		Help: "Total number of card validation failures by field",
	}, []string{"field"})

	CheckoutSubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_submissions_total",
		Help: "Total number of accepted checkout submissions",
	})

	CheckoutRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rejected_total",
		Help: "Total number of rejected checkout submissions",
	}, []string{"reason"})

	CheckoutResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_results_total",
		Help: "Total number of terminal checkout transitions",
	}, []string{"state"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Time from submission to terminal state",
		Buckets: prometheus.DefBuckets,
	})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"reason"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	SecureStoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secure_store_errors_total",
		Help: "Total number of secure store failures",
	}, []string{"op"})

	CatalogCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_commands_total",
		Help: "Total number of catalog commands consumed",
	}, []string{"type", "result"})

	RelayEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Total number of change notifications relayed to external sinks",
	}, []string{"kind", "result"})

	RelayQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Change notifications waiting to be relayed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
