package types

import "strings"

// TokenUsage contains token accounting for a single model invocation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelResponse is the raw result of one upstream model call, before the
// analysis JSON inside Text has been decoded.
type ModelResponse struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// tokenCapFinishReasons are the finish reasons providers report when output
// was cut off by a token cap. Truncated output usually means an overloaded
// model, so callers treat it as retryable.
var tokenCapFinishReasons = map[string]bool{
	"length":     true,
	"max_tokens": true,
}

// IsTokenCapFinish reports whether a finish reason indicates the response hit
// an output token cap.
func IsTokenCapFinish(reason string) bool {
	return tokenCapFinishReasons[strings.ToLower(reason)]
}
