package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
)

// VerdictCache keeps finalized verdicts in Redis so repeated certificate
// status checks and duplicate submissions are answered without touching
// PostgreSQL.
type VerdictCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewVerdictCache creates a verdict cache with the given TTL.
func NewVerdictCache(client *redis.Client, ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &VerdictCache{client: client, ttl: ttl}
}

func verdictKey(key session.Key) string {
	return PrefixVerdict + key.String()
}

// Put stores a verdict under its session key.
func (c *VerdictCache) Put(ctx context.Context, result *session.Result) error {
	if result == nil {
		return errors.New("cache: verdict cannot be nil")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal verdict: %w", err)
	}

	key := verdictKey(session.Key{UserID: result.UserID, CourseID: result.CourseID})
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to store verdict: %w", err)
	}
	return nil
}

// Get returns the cached verdict for the key, or ErrCacheMiss.
func (c *VerdictCache) Get(ctx context.Context, key session.Key) (*session.Result, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := c.client.Get(ctx, verdictKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache: failed to load verdict: %w", err)
	}

	var result session.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("cache: failed to unmarshal verdict: %w", err)
	}
	return &result, nil
}

// Invalidate removes the cached verdict for the key.
func (c *VerdictCache) Invalidate(ctx context.Context, key session.Key) error {
	return c.client.Del(ctx, verdictKey(key)).Err()
}
