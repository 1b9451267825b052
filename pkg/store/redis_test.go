package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStoreFromClient(client, opts...), mr
}

func TestRedisStore_SaveLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	rs, _ := newRedisStore(t)

	require.NoError(t, rs.Save(ctx, "telegram_7", testRecord("Chat", "hello redis")))

	record, err := rs.Load(ctx, "telegram_7")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Chat", record.Title)
	require.Len(t, record.Messages, 1)
	assert.Equal(t, "hello redis", record.Messages[0].GetTextContent())
}

func TestRedisStore_LoadUnknownKey(t *testing.T) {
	rs, _ := newRedisStore(t)

	record, err := rs.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestRedisStore_Delete(t *testing.T) {
	ctx := context.Background()
	rs, _ := newRedisStore(t)

	require.NoError(t, rs.Save(ctx, "web_1", testRecord("t", "x")))
	require.NoError(t, rs.Delete(ctx, "web_1"))

	record, err := rs.Load(ctx, "web_1")
	require.NoError(t, err)
	assert.Nil(t, record)

	keys, err := rs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisStore_TTLApplied(t *testing.T) {
	ctx := context.Background()
	rs, mr := newRedisStore(t, WithTTL(time.Hour))

	require.NoError(t, rs.Save(ctx, "web_1", testRecord("t", "x")))
	assert.Greater(t, mr.TTL("scholar:session:web_1"), time.Duration(0))
}

func TestRedisStore_NoTTLByDefault(t *testing.T) {
	ctx := context.Background()
	rs, mr := newRedisStore(t)

	require.NoError(t, rs.Save(ctx, "web_1", testRecord("t", "x")))
	assert.Zero(t, mr.TTL("scholar:session:web_1"))
}

func TestRedisStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Two stores over one keyspace with different TTLs give the index
	// strictly increasing expiry scores without sleeping.
	older := NewRedisStoreFromClient(client, WithTTL(time.Hour))
	newer := NewRedisStoreFromClient(client, WithTTL(2*time.Hour))

	require.NoError(t, older.Save(ctx, "web_old", testRecord("t", "x")))
	require.NoError(t, newer.Save(ctx, "web_new", testRecord("t", "y")))

	keys, err := older.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"web_new", "web_old"}, keys)
}

func TestRedisStore_ListPrunesExpiredIndexEntries(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rs := NewRedisStoreFromClient(client, WithTTL(time.Hour))

	require.NoError(t, rs.Save(ctx, "alive", testRecord("t", "x")))

	// Simulate an entry whose record already expired out from under the
	// index: a member with a score in the past.
	stale := backend.Z{Score: float64(time.Now().Add(-time.Minute).Unix()), Member: "stale"}
	require.NoError(t, client.ZAdd(ctx, "scholar:session:index", stale).Err())

	keys, err := rs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, keys)
}

func TestRedisStore_CustomPrefix(t *testing.T) {
	ctx := context.Background()
	rs, mr := newRedisStore(t, WithPrefix("other:"))

	require.NoError(t, rs.Save(ctx, "web_1", testRecord("t", "x")))
	assert.True(t, mr.Exists("other:web_1"))
	assert.False(t, mr.Exists("scholar:session:web_1"))
}
