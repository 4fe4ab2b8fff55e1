// Package tokenizer estimates token counts per model family (C1). Real BPE
// encoders are not vendored here; each family uses the conservative
// characters-per-token ratio that family's tokenizer is known to average,
// a chars/4 heuristic generalized per-family.
package tokenizer

import (
	"strings"
	"unicode/utf8"

	"github.com/coregate/gateway/internal/gwtypes"
)

// family is the per-LogicalModelId prefix used to pick an encoder.
type family string

const (
	familyGPT     family = "openai"
	familyClaude  family = "anthropic"
	familyCohere  family = "cohere"
	familyLlama   family = "llama"
	familyUnknown family = ""
)

// charsPerToken is the fallback ratio for each encoder. GPT-family BPE
// averages ~4 chars/token on English prose; Claude is slightly denser.
var charsPerToken = map[family]float64{
	familyGPT:     4.0,
	familyClaude:  3.5,
	familyCohere:  4.0,
	familyLlama:   3.8,
	familyUnknown: 4.0, // conservative default for unrecognized families
}

// defaultCompletionTokens is used when a request doesn't set MaxTokens.
var defaultCompletionTokens = map[family]int{
	familyGPT:     256,
	familyClaude:  512,
	familyCohere:  256,
	familyLlama:   256,
	familyUnknown: 256,
}

func familyOf(logicalModelID string) family {
	prefix, _, ok := strings.Cut(logicalModelID, ".")
	if !ok {
		return familyUnknown
	}
	switch family(prefix) {
	case familyGPT, familyClaude, familyCohere, familyLlama:
		return family(prefix)
	default:
		return familyUnknown
	}
}

// CountTokens estimates the token count of text under the encoder selected
// for logicalModelID. Never panics on malformed UTF-8: invalid byte
// sequences are still counted as runes via utf8.RuneCountInString, which
// treats each invalid byte as one replacement rune.
func CountTokens(text, logicalModelID string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	ratio := charsPerToken[familyOf(logicalModelID)]
	tokens := float64(n) / ratio
	if tokens < 1 {
		return 1
	}
	return int(tokens + 0.5)
}

// Estimate is the result of estimating token usage for a whole request.
type Estimate struct {
	PromptTokens        int
	EstCompletionTokens int
	TotalTokens         int
	// Clamped reports whether MaxTokens was reduced to fit the context
	// window; callers surface this in response metadata (§8 boundary rule)
	// but never fail the call because of it.
	Clamped bool
}

// EstimateForRequest sums prompt tokens across all messages and derives an
// expected completion token count, clamped to the mapping's context window.
func EstimateForRequest(req gwtypes.Request, contextWindow int) Estimate {
	fam := familyOf(req.LogicalModelID)
	prompt := 0
	for _, m := range req.Messages {
		prompt += CountTokens(m.Content, req.LogicalModelID)
	}

	completion := req.Parameters.MaxTokens
	if completion <= 0 {
		completion = defaultCompletionTokens[fam]
	}

	clamped := false
	if contextWindow > 0 {
		headroom := contextWindow - prompt
		if headroom < 0 {
			headroom = 0
		}
		if completion > headroom {
			completion = headroom
			clamped = true
		}
	}

	return Estimate{
		PromptTokens:        prompt,
		EstCompletionTokens: completion,
		TotalTokens:         prompt + completion,
		Clamped:             clamped,
	}
}
