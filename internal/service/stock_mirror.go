package service

import (
	"context"
	"fmt"

	"storefront/internal/ledger"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// StockWriter stores per-product stock keyed by ledger revision
type StockWriter interface {
	MirrorStock(ctx context.Context, productID string, available, reserved int, revision int64) (bool, error)
	DropStock(ctx context.Context, productID string, revision int64) error
}

// StockMirror copies ledger state into an external stock view
type StockMirror struct {
	writer StockWriter
	logger *zap.Logger
}

// NewStockMirror creates a stock mirror
func NewStockMirror(writer StockWriter) *StockMirror {
	return &StockMirror{
		writer: writer,
		logger: util.GetLogger(),
	}
}

// SyncAll writes every product of the snapshot
func (m *StockMirror) SyncAll(ctx context.Context, snap ledger.Snapshot) error {
	ctx, span := util.StartSpan(ctx, "StockMirror.SyncAll")
	defer span.End()

	reserved := reservedByID(snap)
	for _, p := range snap.Products {
		if _, err := m.writer.MirrorStock(ctx, p.ID, p.AvailableQuantity, reserved[p.ID], snap.Revision); err != nil {
			return fmt.Errorf("failed to mirror product %s: %w", p.ID, err)
		}
	}

	m.logger.Info("Stock mirror synced",
		zap.Int("products", len(snap.Products)),
		zap.Int64("revision", snap.Revision))
	return nil
}

// Apply writes the products touched by a ledger change
func (m *StockMirror) Apply(ctx context.Context, c ledger.Change) error {
	ctx, span := util.StartSpan(ctx, "StockMirror.Apply")
	defer span.End()

	if c.Op == ledger.OpRemoveProduct {
		return m.writer.DropStock(ctx, c.ProductID, c.Snapshot.Revision)
	}

	reserved := reservedByID(c.Snapshot)
	for _, p := range c.Snapshot.Products {
		// clear touches every cart line, other ops a single product
		if c.ProductID != "" && p.ID != c.ProductID {
			continue
		}
		applied, err := m.writer.MirrorStock(ctx, p.ID, p.AvailableQuantity, reserved[p.ID], c.Snapshot.Revision)
		if err != nil {
			return fmt.Errorf("failed to mirror product %s: %w", p.ID, err)
		}
		if !applied {
			m.logger.Debug("Stale stock update skipped",
				zap.String("product_id", p.ID),
				zap.Int64("revision", c.Snapshot.Revision))
		}
	}
	return nil
}

func reservedByID(snap ledger.Snapshot) map[string]int {
	reserved := make(map[string]int, len(snap.Items))
	for _, item := range snap.Items {
		reserved[item.ID] = item.Quantity
	}
	return reserved
}
