// Package tokenizer provides token estimation for analysis requests.
// Estimates feed the quota ledger before an invocation is made, so they only
// need to be close enough for budget projection, not exact.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ImageTokenCost is the flat per-attachment token charge for vehicle photos
// and scanned documents sent to vision models.
const ImageTokenCost = 765

// promptOverhead covers role and formatting tokens added by chat framing.
const promptOverhead = 3

var (
	encodingCache sync.Map
	defaultOnce   sync.Once
	defaultEnc    *tiktoken.Tiktoken
)

// CountTextTokens returns the token count for the given text using tiktoken.
// If no encoding is available, it falls back to a conservative len/4 estimate.
func CountTextTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := getEncoding(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateAnalysisTokens estimates the prompt-side token cost of an analysis
// request: the instruction prompt plus a flat cost per attached image.
func EstimateAnalysisTokens(model, prompt string, imageCount int) int {
	total := CountTextTokens(model, prompt)
	if imageCount > 0 {
		total += imageCount * ImageTokenCost
	}
	total += promptOverhead
	return total
}

func getEncoding(model string) *tiktoken.Tiktoken {
	base := normalizeModelName(model)
	if cached, ok := encodingCache.Load(base); ok {
		if enc, ok := cached.(*tiktoken.Tiktoken); ok {
			return enc
		}
		return getDefaultEncoding()
	}

	enc, err := tiktoken.EncodingForModel(base)
	if err != nil {
		enc = getDefaultEncoding()
	}
	if enc != nil {
		encodingCache.Store(base, enc)
	}
	return enc
}

func getDefaultEncoding() *tiktoken.Tiktoken {
	defaultOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			defaultEnc = enc
		}
	})
	return defaultEnc
}

func normalizeModelName(model string) string {
	if model == "" {
		return model
	}
	if idx := strings.LastIndex(model, "/"); idx >= 0 && idx+1 < len(model) {
		return model[idx+1:]
	}
	return model
}
