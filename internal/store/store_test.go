package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromClient(rdb), mr
}

func TestHGetAllBatch(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	require.NoError(t, c.HSet(ctx, "a", map[string]interface{}{"x": "1"}))
	require.NoError(t, c.HSet(ctx, "c", map[string]interface{}{"y": "2"}))

	got, err := c.HGetAllBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0]["x"])
	assert.Empty(t, got[1])
	assert.Equal(t, "2", got[2]["y"])
}

func TestExecBatch(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	require.NoError(t, c.HSet(ctx, "stats", map[string]interface{}{"count": "5"}))
	require.NoError(t, c.HSet(ctx, "gone", map[string]interface{}{"v": "1"}))

	ops := []Operation{
		HSetOp{HashKey: "stats", Fields: map[string]interface{}{"price": "10.50"}},
		HIncrByOp{HashKey: "stats", Field: "count", Value: 3},
		SetOp{SetKey: "marker", Value: "done"},
		DelOp{DelKey: "gone"},
	}

	perOp, err := c.ExecBatch(ctx, ops)
	require.NoError(t, err)
	for _, e := range perOp {
		assert.NoError(t, e)
	}

	fields, err := c.HGetAll(ctx, "stats")
	require.NoError(t, err)
	assert.Equal(t, "10.50", fields["price"])
	assert.Equal(t, "8", fields["count"])

	exists, err := c.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOperationValidate(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		ok   bool
	}{
		{"hset ok", HSetOp{HashKey: "k", Fields: map[string]interface{}{"f": 1}}, true},
		{"hset missing key", HSetOp{Fields: map[string]interface{}{"f": 1}}, false},
		{"hset missing fields", HSetOp{HashKey: "k"}, false},
		{"hincrby ok", HIncrByOp{HashKey: "k", Field: "f", Value: 1}, true},
		{"hincrby missing field", HIncrByOp{HashKey: "k"}, false},
		{"set ok", SetOp{SetKey: "k", Value: "v"}, true},
		{"set missing key", SetOp{Value: "v"}, false},
		{"del ok", DelOp{DelKey: "k"}, true},
		{"del missing key", DelOp{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLock_MutualExclusion(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	first, err := c.AcquireLock(ctx, "market:batch:42", time.Minute)
	require.NoError(t, err)

	_, err = c.AcquireLock(ctx, "market:batch:42", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, first.Release(ctx))

	second, err := c.AcquireLock(ctx, "market:batch:42", time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestLock_ReleaseChecksOwnership(t *testing.T) {
	c, mr := testClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "guard", time.Minute)
	require.NoError(t, err)

	// Simulate TTL expiry plus re-acquisition by another owner.
	require.NoError(t, mr.Set(LockPrefix+"guard", "someone-else"))

	require.NoError(t, lock.Release(ctx))
	val, err := mr.Get(LockPrefix + "guard")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val, "stale holder must not release another owner's lock")
}

func TestLock_ExpiresByTTL(t *testing.T) {
	c, mr := testClient(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "ttl-lock", 100*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)

	lock, err := c.AcquireLock(ctx, "ttl-lock", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}
