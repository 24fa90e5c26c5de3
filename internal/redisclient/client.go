package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/mirror_stock.lua
var mirrorStockScript string

//go:embed scripts/drop_stock.lua
var dropStockScript string

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("redis key not found")

type Client struct {
	rdb          *redis.Client
	mirrorScript *redis.Script
	dropScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		mirrorScript: redis.NewScript(mirrorStockScript),
		dropScript:   redis.NewScript(dropStockScript),
	}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID string) string {
	return fmt.Sprintf("inventory:%s", productID)
}

func blobKey(name string) string {
	return fmt.Sprintf("secure:%s", name)
}

// MirrorStock writes the stock of a product unless a newer revision is
// already stored. Returns false when the write was skipped.
func (c *Client) MirrorStock(ctx context.Context, productID string, available, reserved int, revision int64) (bool, error) {
	result, err := c.mirrorScript.Run(ctx, c.rdb, []string{stockKey(productID)}, available, reserved, revision).Result()
	if err != nil {
		return false, fmt.Errorf("mirror stock script failed: %w", err)
	}

	written, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return written == 1, nil
}

// DropStock deletes the stock of a removed product
func (c *Client) DropStock(ctx context.Context, productID string, revision int64) error {
	if _, err := c.dropScript.Run(ctx, c.rdb, []string{stockKey(productID)}, revision).Result(); err != nil {
		return fmt.Errorf("drop stock script failed: %w", err)
	}
	return nil
}

// GetStock retrieves the mirrored stock of a product
func (c *Client) GetStock(ctx context.Context, productID string) (available, reserved int, err error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(productID)).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, fmt.Errorf("stock for product %s: %w", productID, ErrNotFound)
	}

	available, err = strconv.Atoi(result["available"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid available count: %w", err)
	}
	reserved, err = strconv.Atoi(result["reserved"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid reserved count: %w", err)
	}

	return available, reserved, nil
}

// SetBlob stores an opaque value
func (c *Client) SetBlob(ctx context.Context, name string, value []byte) error {
	return c.rdb.Set(ctx, blobKey(name), value, 0).Err()
}

// GetBlob returns an opaque value or ErrNotFound
func (c *Client) GetBlob(ctx context.Context, name string) ([]byte, error) {
	value, err := c.rdb.Get(ctx, blobKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// DeleteBlob removes an opaque value
func (c *Client) DeleteBlob(ctx context.Context, name string) error {
	return c.rdb.Del(ctx, blobKey(name)).Err()
}
