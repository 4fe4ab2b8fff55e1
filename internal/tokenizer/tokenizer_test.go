package tokenizer

import (
	"testing"

	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokensEmpty(t *testing.T) {
	assert.Equal(t, 0, CountTokens("", "openai.gpt-4"))
}

func TestCountTokensDeterministic(t *testing.T) {
	a := CountTokens("the quick brown fox jumps", "openai.gpt-4")
	b := CountTokens("the quick brown fox jumps", "openai.gpt-4")
	require.Equal(t, a, b)
	assert.Greater(t, a, 0)
}

func TestCountTokensUnknownFamilyFallsBackToDefaultRatio(t *testing.T) {
	known := CountTokens("hello world this is a test", "openai.gpt-4")
	unknown := CountTokens("hello world this is a test", "mystery.model-x")
	assert.Equal(t, known, unknown)
}

func TestCountTokensNeverPanicsOnMalformedUnicode(t *testing.T) {
	malformed := string([]byte{0xff, 0xfe, 0x80, 'a', 'b'})
	assert.NotPanics(t, func() {
		CountTokens(malformed, "anthropic.claude-3-sonnet")
	})
}

func TestEstimateForRequestClampsToContextWindow(t *testing.T) {
	req := gwtypes.Request{
		LogicalModelID: "openai.gpt-4",
		Messages: []gwtypes.Message{
			{Role: gwtypes.RoleUser, Content: "short prompt"},
		},
		Parameters: gwtypes.Parameters{MaxTokens: 100000},
	}
	est := EstimateForRequest(req, 50)
	assert.True(t, est.Clamped)
	assert.LessOrEqual(t, est.EstCompletionTokens, 50)
}

func TestEstimateForRequestUsesFamilyDefaultWhenMaxTokensUnset(t *testing.T) {
	req := gwtypes.Request{
		LogicalModelID: "anthropic.claude-3-sonnet",
		Messages:       []gwtypes.Message{{Role: gwtypes.RoleUser, Content: "hi"}},
	}
	est := EstimateForRequest(req, 200000)
	assert.Equal(t, 512, est.EstCompletionTokens)
	assert.False(t, est.Clamped)
}
