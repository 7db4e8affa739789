package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// sumWindowScript prunes aged-out members from a usage sorted set and returns
// the sum of the remaining amounts. Members are "<amount>|<nonce>" with the
// event timestamp (unix milliseconds) as score, so prune and sum happen
// atomically in one round trip.
var sumWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
local sum = 0
for _, m in ipairs(members) do
	local sep = string.find(m, '|', 1, true)
	sum = sum + tonumber(string.sub(m, 1, sep - 1))
end
return sum
`)

// RedisLedger is a Ledger backed by Redis sorted sets, for sharing quota
// state across processes. Backend failures fail open: a ledger that cannot
// be read must not take the analysis path down with it.
type RedisLedger struct {
	client    redis.UniversalClient
	limits    map[string]Limits
	keyPrefix string
	logger    *slog.Logger
	opTimeout time.Duration
}

// RedisLedgerOption configures a RedisLedger.
type RedisLedgerOption func(*RedisLedger)

// WithKeyPrefix overrides the default "claimai:quota" key prefix.
func WithKeyPrefix(prefix string) RedisLedgerOption {
	return func(l *RedisLedger) { l.keyPrefix = prefix }
}

// WithLogger sets the logger used for backend failures.
func WithLogger(logger *slog.Logger) RedisLedgerOption {
	return func(l *RedisLedger) { l.logger = logger }
}

// NewRedisLedger creates a Redis-backed ledger with the given per-model
// limits.
func NewRedisLedger(client redis.UniversalClient, limits map[string]Limits, opts ...RedisLedgerOption) *RedisLedger {
	l := &RedisLedger{
		client:    client,
		limits:    limits,
		keyPrefix: "claimai:quota",
		logger:    slog.Default(),
		opTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// key groups model and metric inside a hash tag so both land on the same
// cluster node.
func (l *RedisLedger) key(model string, metric Metric) string {
	return fmt.Sprintf("%s:{%s}:%s", l.keyPrefix, model, metric)
}

// Record implements Ledger.
func (l *RedisLedger) Record(model string, metric Metric, amount int64, now time.Time) {
	if amount <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
	defer cancel()

	key := l.key(model, metric)
	member := strconv.FormatInt(amount, 10) + "|" + uuid.NewString()
	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.PExpire(ctx, key, 2*Window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("quota redis record failed", "model", model, "metric", metric, "error", err)
	}
}

// UnderLimit implements Ledger.
func (l *RedisLedger) UnderLimit(model string, metric Metric, projected int64, now time.Time) bool {
	if projected < 0 {
		projected = 0
	}
	limit := l.limits[model].forMetric(metric)
	if limit <= 0 {
		return true
	}

	sum, err := l.windowSum(model, metric, now)
	if err != nil {
		l.logger.Warn("quota redis read failed, failing open", "model", model, "metric", metric, "error", err)
		return true
	}
	return sum+projected <= limit
}

// SecondsUntilRetry implements Ledger.
func (l *RedisLedger) SecondsUntilRetry(model string, now time.Time) int {
	lim := l.limits[model]
	under := true
	if lim.RequestsPerMinute > 0 {
		sum, err := l.windowSum(model, MetricRequests, now)
		if err == nil && sum+1 > lim.RequestsPerMinute {
			under = false
		}
	}
	if under && lim.TokensPerMinute > 0 {
		sum, err := l.windowSum(model, MetricTokens, now)
		if err == nil && sum >= lim.TokensPerMinute {
			under = false
		}
	}
	if under {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
	defer cancel()

	oldestMilli := math.MaxFloat64
	for _, metric := range []Metric{MetricRequests, MetricTokens} {
		zs, err := l.client.ZRangeWithScores(ctx, l.key(model, metric), 0, 0).Result()
		if err != nil || len(zs) == 0 {
			continue
		}
		if zs[0].Score < oldestMilli {
			oldestMilli = zs[0].Score
		}
	}
	if oldestMilli == math.MaxFloat64 {
		return 0
	}

	ageOut := time.UnixMilli(int64(oldestMilli)).Add(Window)
	secs := int(math.Ceil(ageOut.Sub(now).Seconds()))
	if secs < 0 {
		secs = 0
	}
	if secs > MaxRetryAfterSeconds {
		secs = MaxRetryAfterSeconds
	}
	return secs
}

func (l *RedisLedger) windowSum(model string, metric Metric, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
	defer cancel()

	cutoff := now.Add(-Window).UnixMilli()
	val, err := sumWindowScript.Run(ctx, l.client, []string{l.key(model, metric)}, cutoff).Result()
	if err != nil {
		return 0, err
	}
	sum, ok := val.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type %T", val)
	}
	return sum, nil
}
