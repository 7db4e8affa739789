package quota

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLedger(t *testing.T, limits map[string]Limits) *RedisLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLedger(client, limits)
}

func TestRedisLedger_Boundary(t *testing.T) {
	l := newTestRedisLedger(t, testLimits())

	for i := 0; i < 9; i++ {
		l.Record("fast", MetricRequests, 1, t0)
	}

	assert.True(t, l.UnderLimit("fast", MetricRequests, 1, t0))
	assert.False(t, l.UnderLimit("fast", MetricRequests, 2, t0))
}

func TestRedisLedger_WindowExpiry(t *testing.T) {
	l := newTestRedisLedger(t, testLimits())

	l.Record("fast", MetricTokens, 1000, t0)
	require.False(t, l.UnderLimit("fast", MetricTokens, 1, t0))

	// Same events read a window later no longer count.
	assert.True(t, l.UnderLimit("fast", MetricTokens, 1000, t0.Add(Window)))
}

func TestRedisLedger_SecondsUntilRetry(t *testing.T) {
	l := newTestRedisLedger(t, testLimits())

	for i := 0; i < 10; i++ {
		l.Record("fast", MetricRequests, 1, t0)
	}

	assert.Equal(t, 60, l.SecondsUntilRetry("fast", t0))
	assert.Equal(t, 20, l.SecondsUntilRetry("fast", t0.Add(40*time.Second)))
	assert.Equal(t, 0, l.SecondsUntilRetry("fast", t0.Add(Window)))
}

func TestRedisLedger_FailsOpenWhenBackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLedger(client, testLimits())

	mr.Close()

	// A dead backend must not block the analysis path.
	assert.True(t, l.UnderLimit("fast", MetricRequests, 1, t0))
	assert.Equal(t, 0, l.SecondsUntilRetry("fast", t0))
}

func TestRedisLedger_UnknownModelUnbounded(t *testing.T) {
	l := newTestRedisLedger(t, testLimits())

	l.Record("mystery", MetricTokens, 5_000_000, t0)
	assert.True(t, l.UnderLimit("mystery", MetricTokens, 1, t0))
}
