package service

import (
	"context"
	"fmt"

	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService exposes the ledger to the API and catalog workers
type CartService struct {
	ledger  *ledger.Ledger
	catalog CatalogWriter
	logger  *zap.Logger
}

// NewCartService creates a cart service. catalog may be nil when catalog
// changes are not persisted.
func NewCartService(l *ledger.Ledger, catalog CatalogWriter) *CartService {
	s := &CartService{
		ledger:  l,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
	l.Subscribe(s.observe)
	return s
}

// Ledger returns the underlying ledger
func (s *CartService) Ledger() *ledger.Ledger {
	return s.ledger
}

// Snapshot returns the catalog and cart
func (s *CartService) Snapshot() ledger.Snapshot {
	return s.ledger.Snapshot()
}

// Products returns the catalog
func (s *CartService) Products() []models.Product {
	return s.ledger.Products()
}

// Item returns the cart line of a product
func (s *CartService) Item(productID string) (models.CartItem, bool) {
	return s.ledger.ItemByID(productID)
}

// Reserve adds one unit of a product to the cart
func (s *CartService) Reserve(ctx context.Context, productID string) (ledger.Snapshot, error) {
	_, span := util.StartSpan(ctx, "CartService.Reserve", attribute.String("product_id", productID))
	defer span.End()

	return s.recordCart(ledger.OpReserve, s.ledger.Revision(), s.ledger.Reserve(productID))
}

// SetQuantity sets the reserved quantity of a product
func (s *CartService) SetQuantity(ctx context.Context, productID string, quantity int) (ledger.Snapshot, error) {
	_, span := util.StartSpan(ctx, "CartService.SetQuantity", attribute.String("product_id", productID))
	defer span.End()

	return s.recordCart(ledger.OpSetReserved, s.ledger.Revision(), s.ledger.SetReservedQuantity(productID, quantity))
}

// Release removes a product from the cart
func (s *CartService) Release(ctx context.Context, productID string) (ledger.Snapshot, error) {
	_, span := util.StartSpan(ctx, "CartService.Release", attribute.String("product_id", productID))
	defer span.End()

	return s.recordCart(ledger.OpRelease, s.ledger.Revision(), s.ledger.Release(productID))
}

// Clear empties the cart
func (s *CartService) Clear(ctx context.Context) (ledger.Snapshot, error) {
	_, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	return s.recordCart(ledger.OpClear, s.ledger.Revision(), s.ledger.Clear())
}

// AddProduct adds a product to the catalog and persists it
func (s *CartService) AddProduct(ctx context.Context, p models.Product) (ledger.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddProduct", attribute.String("product_id", p.ID))
	defer span.End()

	snap, err := s.ledger.AddProduct(p)
	if err != nil {
		util.LedgerOperationsTotal.WithLabelValues(ledger.OpAddProduct, "rejected").Inc()
		return snap, err
	}
	util.LedgerOperationsTotal.WithLabelValues(ledger.OpAddProduct, "applied").Inc()

	if s.catalog != nil {
		if err := s.catalog.SaveProduct(ctx, p); err != nil {
			s.logger.Error("Failed to persist product, rolling back",
				zap.String("product_id", p.ID),
				zap.Error(err))
			return s.ledger.RemoveProduct(p.ID), fmt.Errorf("failed to persist product: %w", err)
		}
	}

	s.logger.Info("Product added", zap.String("product_id", p.ID))
	return snap, nil
}

// RemoveProduct deletes a product, releasing any reservation of it
func (s *CartService) RemoveProduct(ctx context.Context, productID string) (ledger.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveProduct", attribute.String("product_id", productID))
	defer span.End()

	snap := s.record(ledger.OpRemoveProduct, s.ledger.Revision(), s.ledger.RemoveProduct(productID))

	if s.catalog != nil {
		if err := s.catalog.DeleteProduct(ctx, productID); err != nil {
			s.logger.Error("Failed to delete product",
				zap.String("product_id", productID),
				zap.Error(err))
			return snap, fmt.Errorf("failed to delete product: %w", err)
		}
	}
	return snap, nil
}

// SetStock overrides the total stock of a product
func (s *CartService) SetStock(ctx context.Context, productID string, total int) (ledger.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "CartService.SetStock", attribute.String("product_id", productID))
	defer span.End()

	before := s.ledger.Revision()
	snap, err := s.ledger.SetAvailableQuantity(productID, total)
	if err != nil {
		util.LedgerOperationsTotal.WithLabelValues(ledger.OpSetAvailable, "rejected").Inc()
		return snap, err
	}
	s.record(ledger.OpSetAvailable, before, snap)

	if _, ok := s.ledger.Product(productID); ok && s.catalog != nil {
		if err := s.catalog.SetTotalStock(ctx, productID, total); err != nil {
			s.logger.Error("Failed to persist stock",
				zap.String("product_id", productID),
				zap.Int("total", total),
				zap.Error(err))
			return snap, fmt.Errorf("failed to persist stock: %w", err)
		}
	}
	return snap, nil
}

// record counts an operation as applied when it moved the ledger revision
func (s *CartService) record(op string, before int64, snap ledger.Snapshot) ledger.Snapshot {
	result := "noop"
	if snap.Revision != before {
		result = "applied"
	}
	util.LedgerOperationsTotal.WithLabelValues(op, result).Inc()
	return snap
}

// recordCart is record for cart operations, which the ledger ignores while a
// checkout holds the cart
func (s *CartService) recordCart(op string, before int64, snap ledger.Snapshot) (ledger.Snapshot, error) {
	if snap.Held {
		util.LedgerOperationsTotal.WithLabelValues(op, "held").Inc()
		return snap, ledger.ErrCartHeld
	}
	return s.record(op, before, snap), nil
}

func (s *CartService) observe(c ledger.Change) {
	total, _ := c.Snapshot.Total.Float64()
	util.CartItemsGauge.Set(float64(c.Snapshot.ItemCount))
	util.CartValueGauge.Set(total)

	s.logger.Debug("Ledger changed",
		zap.String("op", c.Op),
		zap.String("product_id", c.ProductID),
		zap.Int("cart_items", c.Snapshot.ItemCount),
		zap.String("cart_total", c.Snapshot.Total.String()),
		zap.Int64("revision", c.Snapshot.Revision))
}
