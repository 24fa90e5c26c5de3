package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables when they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const productColumns = "id, name, price, available_quantity, image_url"

// Products retrieves the catalog in insertion order
func (s *Store) Products(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products ORDER BY position")
	return products, err
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// SaveProduct inserts or replaces a product
func (s *Store) SaveProduct(ctx context.Context, p models.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, available_quantity, image_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			available_quantity = EXCLUDED.available_quantity,
			image_url = EXCLUDED.image_url,
			updated_at = NOW()`,
		p.ID, p.Name, p.Price, p.AvailableQuantity, p.ImageURL)
	return err
}

// DeleteProduct removes a product
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	return err
}

// SetTotalStock stores the total stock of a product. The ledger keeps
// reservations in memory, so the catalog row always holds the total.
func (s *Store) SetTotalStock(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET available_quantity = $1, updated_at = NOW() WHERE id = $2",
		total, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveTransaction inserts or updates a checkout transaction
func (s *Store) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO checkout_transactions
			(submission_id, transaction_id, status, amount, item_count, last_four, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (submission_id) DO UPDATE SET
			transaction_id = EXCLUDED.transaction_id,
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		tx.SubmissionID, tx.TransactionID, tx.Status, tx.Amount, tx.ItemCount, tx.LastFour, tx.Message,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
}

// GetTransaction retrieves a checkout transaction
func (s *Store) GetTransaction(ctx context.Context, submissionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.GetContext(ctx, &tx,
		"SELECT * FROM checkout_transactions WHERE submission_id = $1", submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// RecentTransactions retrieves the latest checkout transactions
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.SelectContext(ctx, &txs,
		"SELECT * FROM checkout_transactions ORDER BY created_at DESC LIMIT $1", limit)
	return txs, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
