// Package quota tracks per-model request and token usage over a sliding
// window and answers whether a model is under its configured budget.
package quota

import (
	"math"
	"sync"
	"time"
)

// Metric identifies which budget an event counts against.
type Metric string

const (
	MetricRequests Metric = "requests"
	MetricTokens   Metric = "tokens"
)

// Window is the trailing interval over which usage is bounded.
const Window = 60 * time.Second

// MaxRetryAfterSeconds caps the retry hint surfaced to callers.
const MaxRetryAfterSeconds = 60

// Limits holds the per-minute budget for one model. A zero limit means the
// metric is unbounded for that model.
type Limits struct {
	RequestsPerMinute int64
	TokensPerMinute   int64
}

func (l Limits) forMetric(m Metric) int64 {
	if m == MetricRequests {
		return l.RequestsPerMinute
	}
	return l.TokensPerMinute
}

// Ledger is the quota accounting interface shared by all orchestrated call
// chains. Implementations must make Record atomic with respect to UnderLimit
// so concurrent chains cannot jointly exceed a budget on stale reads.
type Ledger interface {
	// Record appends a timestamped usage event.
	Record(model string, metric Metric, amount int64, now time.Time)

	// UnderLimit reports whether recorded usage within the trailing window
	// plus projected stays within the configured limit. Exactly at the limit
	// is under; one unit over is not. Negative projected amounts count as
	// zero. A model with no recorded events is always under limit.
	UnderLimit(model string, metric Metric, projected int64, now time.Time) bool

	// SecondsUntilRetry returns how long until the oldest in-window event
	// ages out, or 0 if the model is already under both budgets.
	SecondsUntilRetry(model string, now time.Time) int
}

type event struct {
	at     time.Time
	amount int64
}

// MemoryLedger is the in-process Ledger. Events are pruned lazily on read;
// pruning is an optimization and never removes events younger than the
// window.
type MemoryLedger struct {
	mu     sync.Mutex
	limits map[string]Limits
	events map[string]map[Metric][]event
}

// NewMemoryLedger creates a ledger with the given per-model limits.
func NewMemoryLedger(limits map[string]Limits) *MemoryLedger {
	l := &MemoryLedger{
		limits: make(map[string]Limits, len(limits)),
		events: make(map[string]map[Metric][]event),
	}
	for model, lim := range limits {
		l.limits[model] = lim
	}
	return l
}

// Record implements Ledger.
func (l *MemoryLedger) Record(model string, metric Metric, amount int64, now time.Time) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	byMetric, ok := l.events[model]
	if !ok {
		byMetric = make(map[Metric][]event, 2)
		l.events[model] = byMetric
	}
	byMetric[metric] = append(byMetric[metric], event{at: now, amount: amount})
}

// UnderLimit implements Ledger.
func (l *MemoryLedger) UnderLimit(model string, metric Metric, projected int64, now time.Time) bool {
	if projected < 0 {
		projected = 0
	}

	limit := l.limits[model].forMetric(metric)
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sum := l.pruneAndSumLocked(model, metric, now)
	return sum+projected <= limit
}

// SecondsUntilRetry implements Ledger.
func (l *MemoryLedger) SecondsUntilRetry(model string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim := l.limits[model]
	under := true
	if lim.RequestsPerMinute > 0 && l.pruneAndSumLocked(model, MetricRequests, now)+1 > lim.RequestsPerMinute {
		under = false
	}
	if lim.TokensPerMinute > 0 && l.pruneAndSumLocked(model, MetricTokens, now) >= lim.TokensPerMinute {
		under = false
	}
	if under {
		return 0
	}

	var oldest time.Time
	for _, evs := range l.events[model] {
		if len(evs) > 0 && (oldest.IsZero() || evs[0].at.Before(oldest)) {
			oldest = evs[0].at
		}
	}
	if oldest.IsZero() {
		return 0
	}

	secs := int(math.Ceil(Window.Seconds() - now.Sub(oldest).Seconds()))
	if secs < 0 {
		secs = 0
	}
	if secs > MaxRetryAfterSeconds {
		secs = MaxRetryAfterSeconds
	}
	return secs
}

// pruneAndSumLocked drops events that aged out of the window and returns the
// sum of what remains. Events are appended in time order, so the slice stays
// sorted and pruning is a prefix cut.
func (l *MemoryLedger) pruneAndSumLocked(model string, metric Metric, now time.Time) int64 {
	evs := l.events[model][metric]
	cut := 0
	for cut < len(evs) && now.Sub(evs[cut].at) >= Window {
		cut++
	}
	if cut > 0 {
		evs = append([]event(nil), evs[cut:]...)
		l.events[model][metric] = evs
	}

	var sum int64
	for _, e := range evs {
		sum += e.amount
	}
	return sum
}
