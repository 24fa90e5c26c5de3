package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"storefront/internal/card"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrCardDeclined    = errors.New("invalid card")
	ErrPaymentDeclined = errors.New("payment declined")
)

// PaymentService is a simulated payment gateway
type PaymentService struct {
	logger      *zap.Logger
	delay       time.Duration
	now         func() time.Time
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64 // Mock success rate (0.0 - 1.0)
}

// NewPaymentService creates a simulated gateway answering after delay
func NewPaymentService(delay time.Duration, successRate float64) *PaymentService {
	return &PaymentService{
		logger:      util.GetLogger(),
		delay:       delay,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: successRate,
	}
}

// SetSuccessRate changes the random success rate
func (ps *PaymentService) SetSuccessRate(rate float64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.successRate = rate
}

// Charge simulates a charge. Card numbers ending in 0 are always declined.
func (ps *PaymentService) Charge(ctx context.Context, draft models.PaymentDraft, amount decimal.Decimal) (models.ChargeResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Charge",
		attribute.String("amount", amount.String()))
	defer span.End()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	ps.logger.Info("Processing payment", append(util.TraceFields(ctx),
		zap.String("card", card.MaskCardNumber(draft.CardNumber)),
		zap.String("amount", amount.String()))...)

	if ps.delay > 0 {
		timer := time.NewTimer(ps.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			util.PaymentFailedTotal.WithLabelValues("cancelled").Inc()
			util.FailSpan(span, ctx.Err())
			return models.ChargeResult{}, ctx.Err()
		}
	}

	if strings.HasSuffix(card.DigitsOnly(draft.CardNumber), "0") {
		ps.logger.Warn("Payment failed", zap.String("reason", "invalid_card"))
		util.PaymentFailedTotal.WithLabelValues("invalid_card").Inc()
		util.FailSpan(span, ErrCardDeclined)
		return models.ChargeResult{}, ErrCardDeclined
	}

	if !ps.roll() {
		ps.logger.Warn("Payment failed", zap.String("reason", "mock_payment_declined"))
		util.PaymentFailedTotal.WithLabelValues("declined").Inc()
		util.FailSpan(span, ErrPaymentDeclined)
		return models.ChargeResult{}, ErrPaymentDeclined
	}

	now := ps.now()
	result := models.ChargeResult{
		TransactionID: fmt.Sprintf("TX-%d", now.UnixMilli()),
		Amount:        amount,
		ProcessedAt:   now,
	}

	util.PaymentSuccessTotal.Inc()
	ps.logger.Info("Payment succeeded", zap.String("tx_id", result.TransactionID))
	return result, nil
}

func (ps *PaymentService) roll() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.rng.Float64() < ps.successRate
}
