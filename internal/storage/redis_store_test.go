package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, "test")
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "alice", json.RawMessage(`{"id":"alice"}`)))

	value, found, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"id":"alice"}`, string(value))

	require.NoError(t, store.Delete(ctx, "alice"))
	_, found, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStorePreservesInsertionOrder(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	keys := []string{"charlie", "alice", "bob"}
	for _, key := range keys {
		require.NoError(t, store.Set(ctx, key, json.RawMessage(`{}`)))
	}
	// An update must not duplicate or move the order entry.
	require.NoError(t, store.Set(ctx, "charlie", json.RawMessage(`{"updated":true}`)))

	entries, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, key := range keys {
		assert.Equal(t, key, entries[i].Key)
	}
}

func TestRedisStoreSearch(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "p1", json.RawMessage(`{"name":"Website","ownerAddress":"5Abc"}`)))
	require.NoError(t, store.Set(ctx, "p2", json.RawMessage(`{"name":"Backend","ownerAddress":"5Def"}`)))

	entries, err := store.Search(ctx, map[string]string{"name": "web"}, SearchOptions{IgnoreCase: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].Key)
}

func TestRedisStoreCollectionsAreIsolated(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := NewRedisStore(client, "users")
	projects := NewRedisStore(client, "projects")
	ctx := context.Background()

	require.NoError(t, users.Set(ctx, "alice", json.RawMessage(`{}`)))

	_, found, err := projects.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}
