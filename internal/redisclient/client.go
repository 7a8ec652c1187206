package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"ecom-coordinator/internal/apperr"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const statusCacheTTL = 5 * time.Minute

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with the lock release script loaded
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

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func lockKey(variantID, sellerID string) string {
	return fmt.Sprintf("lock:inventory:%s:%s", variantID, sellerID)
}

// AcquireStockLock takes the per-SKU-per-seller reservation lock. It never
// waits on contention: a held lock fails fast with apperr.ErrBusy so the
// caller can retry at a higher layer. The TTL is a safety bound against a
// crashed holder.
func (c *Client) AcquireStockLock(ctx context.Context, variantID, sellerID string, ttl time.Duration) (string, error) {
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, lockKey(variantID, sellerID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock failed: %w", err)
	}
	if !ok {
		return "", apperr.ErrBusy
	}
	return token, nil
}

// ReleaseStockLock releases the lock if the token still matches. A mismatch
// means the TTL already expired and someone else holds the key; that is not
// an error for the releasing caller.
func (c *Client) ReleaseStockLock(ctx context.Context, variantID, sellerID, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(variantID, sellerID)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	return nil
}

// CacheOrderStatus stores the latest order status for cheap reads.
func (c *Client) CacheOrderStatus(ctx context.Context, orderID, status string) error {
	return c.rdb.Set(ctx, fmt.Sprintf("order_status:%s", orderID), status, statusCacheTTL).Err()
}

// GetCachedOrderStatus returns the cached status or "" on a miss.
func (c *Client) GetCachedOrderStatus(ctx context.Context, orderID string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("order_status:%s", orderID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
