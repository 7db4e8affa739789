package claimai

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Marius555/insuranceSaas-sub000/internal/audit"
	"github.com/Marius555/insuranceSaas-sub000/internal/quota"
	"github.com/Marius555/insuranceSaas-sub000/internal/validation"
)

// config holds all orchestrator configuration assembled from options.
type config struct {
	fastModel      string
	standardModels []string
	limits         map[string]quota.Limits

	ledger      quota.Ledger
	thresholds  validation.Thresholds
	auditLogger *audit.Logger
	logger      *slog.Logger
	tracer      trace.Tracer

	forcedModel string

	cacheEnabled bool
	cacheTTL     time.Duration
}

func defaultOrchestratorConfig() *config {
	return &config{
		limits:     make(map[string]quota.Limits),
		thresholds: validation.DefaultThresholds(),
		logger:     slog.Default(),
		cacheTTL:   15 * time.Minute,
	}
}

// Option configures an Orchestrator.
type Option func(*config)

// WithFastModel sets the tier-1 model tried first for every analysis.
func WithFastModel(name string, limits Limits) Option {
	return func(c *config) {
		c.fastModel = name
		c.limits[name] = limits
	}
}

// WithStandardModel appends a tier-2 fallback model. Fallbacks are tried in
// registration order.
func WithStandardModel(name string, limits Limits) Option {
	return func(c *config) {
		c.standardModels = append(c.standardModels, name)
		c.limits[name] = limits
	}
}

// WithLedger replaces the default in-memory quota ledger, e.g. with the
// Redis-backed ledger for multi-instance deployments.
func WithLedger(ledger quota.Ledger) Option {
	return func(c *config) { c.ledger = ledger }
}

// WithThresholds overrides the default validation thresholds.
func WithThresholds(t validation.Thresholds) Option {
	return func(c *config) { c.thresholds = t }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAuditLogger sets the audit trail sink. Without one, invocation
// attempts are not audited.
func WithAuditLogger(a *audit.Logger) Option {
	return func(c *config) { c.auditLogger = a }
}

// WithForcedModel pins every selection to one model, bypassing quota checks.
// Escape hatch for testing and incident response.
func WithForcedModel(model string) Option {
	return func(c *config) { c.forcedModel = model }
}

// WithResultCache enables the content-hash result cache with the given TTL.
// Identical uploads within the TTL are served without a model invocation.
func WithResultCache(ttl time.Duration) Option {
	return func(c *config) {
		c.cacheEnabled = true
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithTracer sets the OpenTelemetry tracer for per-chain spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) { c.tracer = tracer }
}
