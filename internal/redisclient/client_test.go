package redisclient

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires Redis (set REDIS_TEST_ADDR)")
	}

	c, err := NewClient(addr, "", 15)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMirrorStockKeepsNewestRevision(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	written, err := c.MirrorStock(ctx, "test-1", 4, 1, 10)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = c.MirrorStock(ctx, "test-1", 5, 0, 9)
	require.NoError(t, err)
	assert.False(t, written)

	available, reserved, err := c.GetStock(ctx, "test-1")
	require.NoError(t, err)
	assert.Equal(t, 4, available)
	assert.Equal(t, 1, reserved)

	require.NoError(t, c.DropStock(ctx, "test-1", 11))
	_, _, err = c.GetStock(ctx, "test-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlobRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetBlob(ctx, "test-blob", []byte("sealed")))
	value, err := c.GetBlob(ctx, "test-blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), value)

	require.NoError(t, c.DeleteBlob(ctx, "test-blob"))
	_, err = c.GetBlob(ctx, "test-blob")
	assert.ErrorIs(t, err, ErrNotFound)
}
