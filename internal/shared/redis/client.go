package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
)

// InvalidationChannel carries user ids whose routing config changed
const InvalidationChannel = "routing:invalidate"

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores a value with TTL
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CheckRateLimit counts a request against a fixed one-minute window for
// subject. It reports whether the limit is exceeded and how many requests
// remain.
func (c *Client) CheckRateLimit(ctx context.Context, subject string, limit int) (bool, int, error) {
	key := fmt.Sprintf("ratelimit:%s", subject)

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}

	// First request in this window
	if count == 1 {
		if err := c.client.Expire(ctx, key, time.Minute).Err(); err != nil {
			return false, 0, err
		}
	}

	if count > int64(limit) {
		return true, 0, nil
	}
	return false, limit - int(count), nil
}

// PublishInvalidation tells every instance to drop userID's cached config
func (c *Client) PublishInvalidation(ctx context.Context, userID string) error {
	return c.client.Publish(ctx, InvalidationChannel, userID).Err()
}

// SubscribeInvalidations calls fn for every user id published on the
// invalidation channel until ctx is done
func (c *Client) SubscribeInvalidations(ctx context.Context, fn func(userID string)) error {
	sub := c.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", InvalidationChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			logger.Debug("routing invalidation received", "user_id", msg.Payload)
			fn(msg.Payload)
		}
	}
}
