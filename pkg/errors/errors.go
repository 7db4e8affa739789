// Package errors defines the unified error taxonomy for AI-analysis
// orchestration. Every upstream failure is classified exactly once at the
// invocation boundary into a closed set of kinds; the rest of the system
// consumes the kind instead of re-deriving error meaning.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the closed classification of an invocation failure.
type Kind string

const (
	// KindRateLimited covers quota exhaustion and upstream overload.
	KindRateLimited Kind = "rate_limited"
	// KindTruncated covers responses cut off by a token cap or returned as
	// incomplete structured output.
	KindTruncated Kind = "truncated"
	// KindFatal covers everything that must not be retried: auth failures,
	// malformed requests, content-safety blocks, network errors.
	KindFatal Kind = "fatal"
)

// AnalysisError is a classified error from an upstream model invocation.
type AnalysisError struct {
	StatusCode int    `json:"status_code"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	return fmt.Sprintf("[%s] %s (model=%s, code=%d)", e.Kind, e.Message, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the status code to surface for this error.
func (e *AnalysisError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Sanitized returns a user-safe message with no upstream internals.
func (e *AnalysisError) Sanitized() string {
	switch e.Kind {
	case KindRateLimited, KindTruncated:
		return "analysis service is at capacity, please retry shortly"
	default:
		return "analysis could not be completed"
	}
}

// NewRateLimitError creates a rate-limit error (429).
func NewRateLimitError(model, message string) *AnalysisError {
	return &AnalysisError{
		StatusCode: http.StatusTooManyRequests,
		Kind:       KindRateLimited,
		Message:    message,
		Model:      model,
		Retryable:  true,
	}
}

// NewOverloadedError creates an upstream-overload error (503).
func NewOverloadedError(model, message string) *AnalysisError {
	return &AnalysisError{
		StatusCode: http.StatusServiceUnavailable,
		Kind:       KindRateLimited,
		Message:    message,
		Model:      model,
		Retryable:  true,
	}
}

// NewTruncatedError creates a truncated-response error.
func NewTruncatedError(model, message string) *AnalysisError {
	return &AnalysisError{
		StatusCode: http.StatusBadGateway,
		Kind:       KindTruncated,
		Message:    message,
		Model:      model,
		Retryable:  true,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(model, message string) *AnalysisError {
	return &AnalysisError{
		StatusCode: http.StatusUnauthorized,
		Kind:       KindFatal,
		Message:    message,
		Model:      model,
		Retryable:  false,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(model, message string) *AnalysisError {
	return &AnalysisError{
		StatusCode: http.StatusBadRequest,
		Kind:       KindFatal,
		Message:    message,
		Model:      model,
		Retryable:  false,
	}
}

// NewContentPolicyError creates a content-safety block error.
func NewContentPolicyError(model, message string) *AnalysisError {
	return &AnalysisError{
		StatusCode: http.StatusBadRequest,
		Kind:       KindFatal,
		Message:    message,
		Model:      model,
		Retryable:  false,
	}
}

// NewFatalError creates a generic non-retryable error (500).
func NewFatalError(model, message string) *AnalysisError {
	return &AnalysisError{
		StatusCode: http.StatusInternalServerError,
		Kind:       KindFatal,
		Message:    message,
		Model:      model,
		Retryable:  false,
	}
}

// retryableStatusCodes are the HTTP status codes treated as transient.
var retryableStatusCodes = map[int]Kind{
	http.StatusTooManyRequests:    KindRateLimited, // 429
	http.StatusServiceUnavailable: KindRateLimited, // 503
	http.StatusBadGateway:         KindRateLimited, // 502
	529:                           KindRateLimited, // anthropic overloaded
}

// overloadMarkers are upstream status strings that indicate capacity problems
// regardless of the HTTP code they arrived with.
var overloadMarkers = []string{
	"RESOURCE_EXHAUSTED",
	"UNAVAILABLE",
	"rate limit",
	"rate_limit",
	"quota exceeded",
	"overloaded",
	"too many requests",
}

// Classify maps an arbitrary invocation error to an AnalysisError. It never
// panics; ambiguous shapes fail closed as KindFatal so a real defect is not
// masked behind a retry loop. A nil input returns nil.
func Classify(err error, model string) *AnalysisError {
	if err == nil {
		return nil
	}

	var ae *AnalysisError
	if stderrors.As(err, &ae) {
		return ae
	}

	msg := err.Error()
	if kind, ok := classifyStatusCode(statusCodeOf(err)); ok {
		return &AnalysisError{
			StatusCode: statusCodeOf(err),
			Kind:       kind,
			Message:    msg,
			Model:      model,
			Retryable:  true,
		}
	}

	lower := strings.ToLower(msg)
	for _, marker := range overloadMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return NewOverloadedError(model, msg)
		}
	}
	if strings.Contains(msg, "429") {
		return NewRateLimitError(model, msg)
	}
	if strings.Contains(msg, "503") {
		return NewOverloadedError(model, msg)
	}

	return &AnalysisError{
		StatusCode: http.StatusInternalServerError,
		Kind:       KindFatal,
		Message:    msg,
		Model:      model,
		Retryable:  false,
	}
}

// IsRetryable reports whether an error is classified as transient.
// It never panics; unknown shapes are non-retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err, "").Retryable
}

func classifyStatusCode(code int) (Kind, bool) {
	kind, ok := retryableStatusCodes[code]
	return kind, ok
}

// statusCoder is implemented by errors that carry an HTTP status code.
type statusCoder interface {
	HTTPStatusCode() int
}

func statusCodeOf(err error) int {
	var sc statusCoder
	if stderrors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}
