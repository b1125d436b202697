package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Symbol string  `json:"symbol"`
	Bias   float64 `json:"bias"`
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "model:BTC", payload{Symbol: "BTC", Bias: 0.25}, 0))
	got, err := GetTyped[payload](ctx, mc, "model:BTC")
	require.NoError(t, err)
	assert.Equal(t, payload{Symbol: "BTC", Bias: 0.25}, got)

	var s string
	require.NoError(t, mc.Set(ctx, "raw", "hello", 0))
	require.NoError(t, mc.Get(ctx, "raw", &s))
	assert.Equal(t, "hello", s)

	require.NoError(t, mc.Delete(ctx, "raw"))
	assert.ErrorIs(t, mc.Get(ctx, "raw", &s), ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", 1, time.Minute))
	ok, _ := mc.Exists(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = mc.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_EvictsLRUButNotLocks(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	ok, err := mc.TryLock(ctx, "claim:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mc.Set(ctx, "old", 1, 0))
	require.NoError(t, mc.Set(ctx, "new", 2, 0))

	held, _ := mc.Exists(ctx, "claim:a")
	assert.True(t, held)
	gone, _ := mc.Exists(ctx, "old")
	assert.False(t, gone)
}

func TestMemoryCache_Lock(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	ok, _ := mc.TryLock(ctx, "claim:x", time.Minute)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "claim:x", time.Minute)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "claim:x"))
	assert.ErrorIs(t, mc.Unlock(ctx, "claim:x"), ErrNotOwner)

	ok, _ = mc.TryLock(ctx, "claim:x", time.Minute)
	assert.True(t, ok)
}

func TestRedisCache_SetGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "fs:")
	ctx := context.Background()

	mock.ExpectSet("fs:model:BTC", []byte(`{"symbol":"BTC","bias":1}`), time.Hour).SetVal("OK")
	require.NoError(t, rc.Set(ctx, "model:BTC", payload{Symbol: "BTC", Bias: 1}, time.Hour))

	mock.ExpectGet("fs:model:BTC").SetVal(`{"symbol":"BTC","bias":1}`)
	got, err := GetTyped[payload](ctx, rc, "model:BTC")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Bias)

	mock.ExpectGet("fs:model:ETH").RedisNil()
	_, err = GetTyped[payload](ctx, rc, "model:ETH")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_LockOwnership(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "fs:")
	rc.token = func() string { return "tok-1" }
	ctx := context.Background()

	mock.ExpectSetNX("fs:claim:BTC|1h|1", "tok-1", time.Minute).SetVal(true)
	ok, err := rc.TryLock(ctx, "claim:BTC|1h|1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectEval(unlockScript, []string{"fs:claim:BTC|1h|1"}, "tok-1").SetVal(int64(1))
	require.NoError(t, rc.Unlock(ctx, "claim:BTC|1h|1"))

	assert.ErrorIs(t, rc.Unlock(ctx, "claim:BTC|1h|1"), ErrNotOwner)

	mock.ExpectSetNX("fs:claim:BTC|1h|1", "tok-1", time.Minute).SetVal(false)
	ok, err = rc.TryLock(ctx, "claim:BTC|1h|1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCache_ReadsThroughToRedis(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lc := NewLayeredCache(NewRedisCacheFromClient(db, "fs:"))
	ctx := context.Background()

	mock.ExpectGet("fs:model:SOL").SetVal(`{"symbol":"SOL","bias":2}`)
	got, err := GetTyped[payload](ctx, lc, "model:SOL")
	require.NoError(t, err)
	assert.Equal(t, "SOL", got.Symbol)

	// second read served from L1
	got, err = GetTyped[payload](ctx, lc, "model:SOL")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Bias)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "model:BTC", GenerateKey("model", "BTC"))
}
