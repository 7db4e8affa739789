package claimai

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Marius555/insuranceSaas-sub000/internal/audit"
	"github.com/Marius555/insuranceSaas-sub000/internal/metrics"
	"github.com/Marius555/insuranceSaas-sub000/internal/observability"
	"github.com/Marius555/insuranceSaas-sub000/internal/quota"
	"github.com/Marius555/insuranceSaas-sub000/internal/selector"
	"github.com/Marius555/insuranceSaas-sub000/internal/validation"
	claimerrors "github.com/Marius555/insuranceSaas-sub000/pkg/errors"
	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

// InvokeFunc performs one model invocation. The orchestrator supplies the
// model it selected; the callback owns prompt construction and transport.
type InvokeFunc func(ctx context.Context, model string) (*types.ModelResponse, error)

// Request describes one analysis to orchestrate.
type Request struct {
	Action          Action
	ContentHashes   []string
	EstimatedTokens int64
	RequestID       string
}

// Outcome is the result of a completed analysis chain.
type Outcome struct {
	Result     *types.AnalysisResult
	Validation types.ValidationResult
	ModelUsed  string
	Usage      *types.TokenUsage
	Attempts   int
	CacheHit   bool
}

// ExhaustedError is returned when every configured model was attempted or at
// capacity. RetryAfter is the seconds until the earliest model regains
// headroom.
type ExhaustedError struct {
	Models     []string
	RetryAfter int
	Last       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("analysis capacity exhausted across %d models, retry in %ds",
		len(e.Models), e.RetryAfter)
}

// Unwrap exposes the last attempt's classified error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Orchestrator drives the select/invoke/classify/fallback loop for claim
// analyses.
type Orchestrator struct {
	sel     *selector.Selector
	ledger  quota.Ledger
	engine  *validation.Engine
	auditor *audit.Logger
	logger  *observability.Logger
	tracer  trace.Tracer
	cache   *gocache.Cache

	// now is swappable for tests.
	now func() time.Time
}

// New creates an Orchestrator from the given options. At least one model must
// be registered.
func New(opts ...Option) (*Orchestrator, error) {
	cfg := defaultOrchestratorConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	tiers := selector.Tiers{Fast: cfg.fastModel, Standard: cfg.standardModels}
	if len(tiers.All()) == 0 {
		return nil, fmt.Errorf("at least one model must be registered")
	}
	if cfg.forcedModel != "" && !tiers.Contains(cfg.forcedModel) {
		return nil, fmt.Errorf("forced model %q is not registered", cfg.forcedModel)
	}

	ledger := cfg.ledger
	if ledger == nil {
		ledger = quota.NewMemoryLedger(cfg.limits)
	}

	selOpts := []selector.Option{selector.WithLogger(cfg.logger)}
	if cfg.forcedModel != "" {
		selOpts = append(selOpts, selector.WithForcedModel(cfg.forcedModel))
	}

	tracer := cfg.tracer
	if tracer == nil {
		tracer = otel.Tracer(observability.TracerName)
	}

	var cache *gocache.Cache
	if cfg.cacheEnabled {
		cache = gocache.New(cfg.cacheTTL, cfg.cacheTTL)
	}

	return &Orchestrator{
		sel:     selector.New(ledger, tiers, selOpts...),
		ledger:  ledger,
		engine:  validation.NewEngine(cfg.thresholds),
		auditor: cfg.auditLogger,
		logger:  &observability.Logger{Logger: cfg.logger},
		tracer:  tracer,
		cache:   cache,
		now:     time.Now,
	}, nil
}

// Models returns every registered model in priority order.
func (o *Orchestrator) Models() []string {
	return o.sel.Models()
}

// Analyze runs one orchestrated analysis chain. Each failed retryable attempt
// falls back to the next model in tier order; the loop is bounded by the
// number of registered models. Fatal failures return immediately. Every
// attempt produces an audit entry.
func (o *Orchestrator) Analyze(ctx context.Context, req Request, invoke InvokeFunc) (*Outcome, error) {
	if invoke == nil {
		return nil, fmt.Errorf("invoke callback is required")
	}

	log := o.logger.WithRequestID(ctx)

	if out, ok := o.cachedOutcome(req); ok {
		metrics.ResultCacheHits.Inc()
		metrics.AnalysesTotal.WithLabelValues(string(req.Action), "cache_hit").Inc()
		log.Debug("analysis served from result cache", "action", req.Action)
		return out, nil
	}

	attempted := make(map[string]struct{})
	var lastErr error

	for attempt := 1; ; attempt++ {
		now := o.now()

		model, err := o.sel.Select(req.EstimatedTokens, attempted, now)
		if err != nil {
			var unav *selector.UnavailableError
			if stderrors.As(err, &unav) {
				metrics.QuotaExhaustions.Inc()
				metrics.AnalysesTotal.WithLabelValues(string(req.Action), "exhausted").Inc()
				log.Warn("analysis capacity exhausted",
					"action", req.Action,
					"attempted", len(attempted),
					"retry_after", unav.RetryAfter,
				)
				return nil, &ExhaustedError{
					Models:     attemptedList(o.sel.Models(), attempted),
					RetryAfter: unav.RetryAfter,
					Last:       lastErr,
				}
			}
			return nil, err
		}
		attempted[model] = struct{}{}

		// Reserve quota before invoking. Reservations are not rolled back on
		// failure; a failed upstream call still consumed a request slot.
		o.ledger.Record(model, quota.MetricRequests, 1, now)
		o.ledger.Record(model, quota.MetricTokens, req.EstimatedTokens, now)

		result, usage, err := o.attempt(ctx, req, model, attempt, invoke)
		if err != nil {
			ae := claimerrors.Classify(err, model)
			lastErr = ae

			if !ae.Retryable {
				metrics.AnalysesTotal.WithLabelValues(string(req.Action), "fatal").Inc()
				log.Error("analysis failed",
					"action", req.Action,
					"model", model,
					"kind", ae.Kind,
					"error", ae.Message,
				)
				return nil, ae
			}

			metrics.ModelFallbacks.WithLabelValues(model, string(ae.Kind)).Inc()
			log.Warn("model attempt failed, falling back",
				"action", req.Action,
				"model", model,
				"kind", ae.Kind,
				"attempt", attempt,
			)
			continue
		}

		vr := o.engine.Validate(result)
		for _, reason := range vr.FlaggedReasons {
			metrics.ValidationFlags.WithLabelValues(reason).Inc()
		}
		o.auditOutcome(ctx, req, model, usage, vr)

		out := &Outcome{
			Result:     result,
			Validation: vr,
			ModelUsed:  model,
			Usage:      usage,
			Attempts:   attempt,
		}
		o.storeOutcome(req, out)

		metrics.AnalysesTotal.WithLabelValues(string(req.Action), "success").Inc()
		log.Info("analysis complete",
			"action", req.Action,
			"model", model,
			"attempts", attempt,
			"valid", vr.IsValid,
		)
		return out, nil
	}
}

// attempt performs a single model invocation and decodes the analysis.
// Truncated responses, by finish reason or undecodable JSON, are returned as
// retryable classified errors.
func (o *Orchestrator) attempt(ctx context.Context, req Request, model string, attempt int, invoke InvokeFunc) (*types.AnalysisResult, *types.TokenUsage, error) {
	ctx, span := observability.StartAnalysisSpan(ctx, o.tracer, "claimai.invoke", observability.AnalysisSpanAttributes{
		Action:          string(req.Action),
		Model:           model,
		EstimatedTokens: int(req.EstimatedTokens),
		Attempt:         attempt,
	})
	defer span.End()

	start := time.Now()
	resp, err := invoke(ctx, model)
	metrics.InvocationLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err != nil {
		ae := claimerrors.Classify(err, model)
		observability.RecordError(span, ae)
		metrics.InvocationAttempts.WithLabelValues(model, "error").Inc()
		o.auditFailure(ctx, req, model, ae)
		return nil, nil, ae
	}
	if resp == nil {
		ae := claimerrors.NewFatalError(model, "invocation returned no response")
		observability.RecordError(span, ae)
		metrics.InvocationAttempts.WithLabelValues(model, "error").Inc()
		o.auditFailure(ctx, req, model, ae)
		return nil, nil, ae
	}

	usage := resp.Usage
	if usage != nil {
		metrics.TokensConsumed.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
		metrics.TokensConsumed.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
		observability.RecordModelResponse(span, usage.PromptTokens, usage.CompletionTokens, resp.FinishReason)
	}

	if types.IsTokenCapFinish(resp.FinishReason) {
		ae := claimerrors.NewTruncatedError(model, "response cut off at token cap: "+resp.FinishReason)
		observability.RecordError(span, ae)
		metrics.InvocationAttempts.WithLabelValues(model, "truncated").Inc()
		o.auditFailure(ctx, req, model, ae)
		return nil, nil, ae
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(resp.Text), &result); err != nil {
		ae := claimerrors.NewTruncatedError(model, "analysis JSON incomplete: "+err.Error())
		observability.RecordError(span, ae)
		metrics.InvocationAttempts.WithLabelValues(model, "truncated").Inc()
		o.auditFailure(ctx, req, model, ae)
		return nil, nil, ae
	}

	metrics.InvocationAttempts.WithLabelValues(model, "success").Inc()
	return &result, usage, nil
}

func (o *Orchestrator) auditFailure(ctx context.Context, req Request, model string, ae *claimerrors.AnalysisError) {
	o.auditor.Record(ctx, &audit.Entry{
		Action:     req.Action,
		FileHashes: req.ContentHashes,
		Result:     audit.ResultError,
		Model:      model,
		RequestID:  req.RequestID,
		Error:      ae.Error(),
	})
}

func (o *Orchestrator) auditOutcome(ctx context.Context, req Request, model string, usage *types.TokenUsage, vr types.ValidationResult) {
	entry := &audit.Entry{
		Action:     req.Action,
		FileHashes: req.ContentHashes,
		Result:     audit.ResultSuccess,
		Model:      model,
		TokenUsage: usage,
		RequestID:  req.RequestID,
	}
	if len(vr.FlaggedReasons) > 0 {
		entry.Result = audit.ResultFlagged
		entry.SecurityFlags = vr.FlaggedReasons
	}
	o.auditor.Record(ctx, entry)
}

func (o *Orchestrator) cacheKey(req Request) (string, bool) {
	if o.cache == nil || len(req.ContentHashes) == 0 {
		return "", false
	}
	return string(req.Action) + ":" + strings.Join(req.ContentHashes, "|"), true
}

func (o *Orchestrator) cachedOutcome(req Request) (*Outcome, bool) {
	key, ok := o.cacheKey(req)
	if !ok {
		return nil, false
	}
	cached, found := o.cache.Get(key)
	if !found {
		return nil, false
	}
	prev, ok := cached.(*Outcome)
	if !ok {
		return nil, false
	}
	out := *prev
	out.CacheHit = true
	out.Attempts = 0
	return &out, true
}

func (o *Orchestrator) storeOutcome(req Request, out *Outcome) {
	if key, ok := o.cacheKey(req); ok {
		o.cache.SetDefault(key, out)
	}
}

// attemptedList returns attempted models in configured priority order.
func attemptedList(all []string, attempted map[string]struct{}) []string {
	out := make([]string, 0, len(attempted))
	for _, m := range all {
		if _, ok := attempted[m]; ok {
			out = append(out, m)
		}
	}
	return out
}
