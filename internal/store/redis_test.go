package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSnapshotCache(rdb, ttl), mr
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	rdb, err := NewRedisClient(context.Background(), addr, "")
	require.NoError(t, err)
	_ = rdb.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), addr, "")
	assert.Error(t, err)
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	state := models.RunState{
		RunID:      "run-1",
		MainStatus: models.StatusGenerating,
		Topic:      "EV batteries",
		Outline:    &models.Outline{Title: "EV", Chapters: []models.OutlineChapter{{Title: "Market"}}},
		Sections: []models.Section{{
			ID: "s1", Title: "Market", Status: models.SectionWriting, Content: "abc",
			Logs: []string{"Writing section"},
		}},
	}
	require.NoError(t, cache.Save(ctx, "user-1", state))
	assert.True(t, mr.Exists("report:run:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("report:run:run-1"))

	got, err := cache.Load(ctx, "user-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, got.MainStatus)
	require.Len(t, got.Sections, 1)
	assert.Equal(t, "abc", got.Sections[0].Content)
	assert.Equal(t, "Market", got.Outline.Chapters[0].Title)
}

func TestSnapshotCacheOwnerScoped(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, cache.Save(ctx, "user-1", models.RunState{RunID: "run-1"}))

	_, err := cache.Load(ctx, "user-2", "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cache.Load(ctx, "user-1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotCacheExpiryAndDelete(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, "user-1", models.RunState{RunID: "run-1"}))
	mr.FastForward(2 * time.Minute)
	_, err := cache.Load(ctx, "user-1", "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, cache.Save(ctx, "user-1", models.RunState{RunID: "run-2"}))
	require.NoError(t, cache.Delete(ctx, "run-2"))
	_, err = cache.Load(ctx, "user-1", "run-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
