package service

import (
	"context"

	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// TransactionStore persists checkout transactions
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx *models.Transaction) error
}

// TransactionLog records every checkout submission and its outcome
type TransactionLog struct {
	store  TransactionStore
	logger *zap.Logger
}

// NewTransactionLog creates a transaction log
func NewTransactionLog(store TransactionStore) *TransactionLog {
	return &TransactionLog{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Record upserts the transaction of a status. Idle statuses carry no
// submission and are ignored.
func (l *TransactionLog) Record(ctx context.Context, st checkout.Status) error {
	if st.SubmissionID == "" || st.State == models.TransactionIdle {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "TransactionLog.Record")
	defer span.End()

	tx := &models.Transaction{
		SubmissionID:  st.SubmissionID,
		TransactionID: st.TransactionID,
		Status:        string(st.State),
		Amount:        st.Amount,
		ItemCount:     st.ItemCount,
		LastFour:      st.LastFour,
		Message:       st.Message,
	}
	if err := l.store.SaveTransaction(ctx, tx); err != nil {
		l.logger.Error("Failed to record transaction",
			zap.String("submission_id", st.SubmissionID),
			zap.String("status", tx.Status),
			zap.Error(err))
		return err
	}

	l.logger.Debug("Transaction recorded",
		zap.String("submission_id", st.SubmissionID),
		zap.String("status", tx.Status))
	return nil
}
