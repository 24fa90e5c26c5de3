package service

import (
	"context"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// ProductCatalog supplies the products the ledger is seeded with
type ProductCatalog interface {
	Products(ctx context.Context) ([]models.Product, error)
}

// CatalogWriter persists catalog changes
type CatalogWriter interface {
	SaveProduct(ctx context.Context, p models.Product) error
	DeleteProduct(ctx context.Context, id string) error
	SetTotalStock(ctx context.Context, id string, total int) error
}

// StaticCatalog is an in-memory catalog
type StaticCatalog struct {
	products []models.Product
}

// NewStaticCatalog creates a catalog from a fixed product list
func NewStaticCatalog(products []models.Product) *StaticCatalog {
	return &StaticCatalog{products: products}
}

// Products returns a copy of the product list
func (c *StaticCatalog) Products(context.Context) ([]models.Product, error) {
	out := make([]models.Product, len(c.products))
	copy(out, c.products)
	return out, nil
}

// SampleProducts is the demo catalog
func SampleProducts() []models.Product {
	return []models.Product{
		{ID: "1", Name: "Smartphone Pro X", Price: decimal.RequireFromString("899.99"), AvailableQuantity: 5, ImageURL: "https://picsum.photos/id/1/200"},
		{ID: "2", Name: "Auriculares Bluetooth", Price: decimal.RequireFromString("129.5"), AvailableQuantity: 4, ImageURL: "https://picsum.photos/id/2/200"},
		{ID: "3", Name: "Laptop Gamer XYZ", Price: decimal.RequireFromString("1599.0"), AvailableQuantity: 1, ImageURL: "https://picsum.photos/id/3/200"},
		{ID: "4", Name: "Smartwatch Series 5", Price: decimal.RequireFromString("249.99"), AvailableQuantity: 2, ImageURL: "https://picsum.photos/id/4/200"},
		{ID: "5", Name: "Cámara 4K", Price: decimal.RequireFromString("999.0"), AvailableQuantity: 1, ImageURL: "https://picsum.photos/id/5/200"},
	}
}

// SeedCatalog writes the sample products through w when the catalog is empty
func SeedCatalog(ctx context.Context, catalog ProductCatalog, w CatalogWriter) (int, error) {
	existing, err := catalog.Products(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	products := SampleProducts()
	for _, p := range products {
		if err := w.SaveProduct(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(products), nil
}
