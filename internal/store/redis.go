package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

// NewRedisClient creates and pings a Redis client with optional password auth.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

// SnapshotCache keeps the latest RunState of each run so it can still be
// served after the in-memory run is gone.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func snapshotKey(runID string) string { return "report:run:" + runID }

func ownerKey(runID string) string { return "report:owner:" + runID }

// Save stores state under its run id and records the owning user.
func (c *SnapshotCache) Save(ctx context.Context, userID string, state models.RunState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, snapshotKey(state.RunID), b, c.ttl)
	pipe.Set(ctx, ownerKey(state.RunID), userID, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

// Load returns the cached state of a run owned by userID.
func (c *SnapshotCache) Load(ctx context.Context, userID, runID string) (*models.RunState, error) {
	owner, err := c.rdb.Get(ctx, ownerKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get owner: %w", err)
	}
	if owner != userID {
		return nil, ErrNotFound
	}

	b, err := c.rdb.Get(ctx, snapshotKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	var state models.RunState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &state, nil
}

func (c *SnapshotCache) Delete(ctx context.Context, runID string) error {
	return c.rdb.Del(ctx, snapshotKey(runID), ownerKey(runID)).Err()
}
