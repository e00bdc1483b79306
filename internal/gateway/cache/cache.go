package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
	"github.com/mrmushfiq/llm0-router/internal/shared/redis"
)

// Store is the key-value backend of the response cache
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Entry is a cached single-tier response
type Entry struct {
	Text     string      `json:"text"`
	Model    string      `json:"model"`
	Tier     models.Tier `json:"tier"`
	CachedAt time.Time   `json:"cached_at"`
}

// Cache is an exact-match response cache keyed by user, tier and prompt.
// Entries are never shared between users.
type Cache struct {
	store Store
	ttl   time.Duration
}

// New creates a new cache instance
func New(store Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// generateCacheKey hashes the user, the tier and the normalized prompt
func generateCacheKey(userID string, tier models.Tier, prompt string) string {
	keyData := fmt.Sprintf("%s\x00%s\x00%s", userID, tier, strings.TrimSpace(prompt))
	hash := sha256.Sum256([]byte(keyData))
	return "cache:exact:" + hex.EncodeToString(hash[:])
}

// Get retrieves a cached response. A miss returns (nil, nil).
func (c *Cache) Get(ctx context.Context, userID string, tier models.Tier, prompt string) (*Entry, error) {
	val, err := c.store.Get(ctx, generateCacheKey(userID, tier, prompt))
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached response: %w", err)
	}
	return &entry, nil
}

// Set stores a completion in the cache
func (c *Cache) Set(ctx context.Context, userID string, tier models.Tier, prompt string, completion *routing.Completion) error {
	data, err := json.Marshal(Entry{
		Text:     completion.Text,
		Model:    completion.Model,
		Tier:     tier,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	return c.store.Set(ctx, generateCacheKey(userID, tier, prompt), string(data), c.ttl)
}
