// Package selector picks the upstream model for an analysis attempt under a
// tiered priority order, consulting the quota ledger for budget headroom.
package selector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Marius555/insuranceSaas-sub000/internal/quota"
)

// Tiers is the fixed model priority configuration. The fast model absorbs
// the bulk of traffic; the standard tier is scanned in declared order only
// when the fast model is excluded or out of budget.
type Tiers struct {
	Fast     string
	Standard []string
}

// All returns every configured model, fast tier first, preserving order.
func (t Tiers) All() []string {
	models := make([]string, 0, 1+len(t.Standard))
	if t.Fast != "" {
		models = append(models, t.Fast)
	}
	return append(models, t.Standard...)
}

// Contains reports whether model is configured in any tier.
func (t Tiers) Contains(model string) bool {
	for _, m := range t.All() {
		if m == model {
			return true
		}
	}
	return false
}

// UnavailableError is returned when every configured model is excluded or
// over budget. RetryAfter is the seconds until the earliest model regains
// headroom, capped at 60.
type UnavailableError struct {
	RetryAfter int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("all models at capacity, retry in %ds", e.RetryAfter)
}

// Selector chooses the next model for an orchestrated attempt.
type Selector struct {
	ledger quota.Ledger
	tiers  Tiers
	forced string
	logger *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithForcedModel forces every selection to the given model, bypassing quota
// checks. Escape hatch for testing and ops.
func WithForcedModel(model string) Option {
	return func(s *Selector) { s.forced = model }
}

// WithLogger sets the selector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) { s.logger = logger }
}

// New creates a Selector over the given tiers and ledger.
func New(ledger quota.Ledger, tiers Tiers, opts ...Option) *Selector {
	s := &Selector{
		ledger: ledger,
		tiers:  tiers,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Models returns every configured model in priority order.
func (s *Selector) Models() []string {
	return s.tiers.All()
}

// Select returns the highest-priority model that is not excluded and has
// budget headroom for one request plus estimatedTokens. The returned model is
// never a member of exclude, forced override included: an excluded forced
// model means the attempt chain already failed on it, and re-selecting it
// could never terminate.
func (s *Selector) Select(estimatedTokens int64, exclude map[string]struct{}, now time.Time) (string, error) {
	if s.forced != "" {
		if _, tried := exclude[s.forced]; !tried {
			s.logger.Warn("model override active, rate limiting bypassed", "model", s.forced)
			return s.forced, nil
		}
		return "", &UnavailableError{RetryAfter: s.retryAfter(now)}
	}

	for _, model := range s.tiers.All() {
		if _, tried := exclude[model]; tried {
			continue
		}
		if s.underBudget(model, estimatedTokens, now) {
			return model, nil
		}
		s.logger.Debug("model over budget, trying next tier", "model", model)
	}

	return "", &UnavailableError{RetryAfter: s.retryAfter(now)}
}

func (s *Selector) underBudget(model string, estimatedTokens int64, now time.Time) bool {
	return s.ledger.UnderLimit(model, quota.MetricRequests, 1, now) &&
		s.ledger.UnderLimit(model, quota.MetricTokens, estimatedTokens, now)
}

// retryAfter is the minimum wait across all configured models, capped.
func (s *Selector) retryAfter(now time.Time) int {
	min := quota.MaxRetryAfterSeconds
	for _, model := range s.tiers.All() {
		if secs := s.ledger.SecondsUntilRetry(model, now); secs < min {
			min = secs
		}
	}
	if min < 0 {
		min = 0
	}
	return min
}
