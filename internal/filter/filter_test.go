package filter

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckPromptAllowsCleanText(t *testing.T) {
	f := New()
	r := f.CheckPrompt("what is the capital of France?")
	assert.True(t, r.Allowed)
}

func TestCheckPromptBlocksBlockedTerm(t *testing.T) {
	f := New(WithBlockedTerms("offensive-term"))
	r := f.CheckPrompt("Tell me about offensive-term")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Categories, CategoryBlockedTerm)
}

func TestCheckPromptBlocksPatternBeforeHeuristic(t *testing.T) {
	f := New(WithBlockedPatterns(regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)))
	r := f.CheckPrompt("my ssn is 123-45-6789")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Categories, CategoryBlockedPattern)
}

func TestCheckPromptIsIdempotent(t *testing.T) {
	f := New(WithBlockedTerms("bad"))
	a := f.CheckPrompt("this is bad")
	b := f.CheckPrompt("this is bad")
	assert.Equal(t, a, b)
}

func TestMLFilteringFailsOpenWhenConfigured(t *testing.T) {
	f := New(WithMLClassifier(true, true, func(string) (Result, error) {
		return Result{}, errors.New("classifier down")
	}))
	r := f.CheckCompletion("anything")
	assert.True(t, r.Allowed)
}

func TestMLFilteringBlocksWhenNotFailOpen(t *testing.T) {
	f := New(WithMLClassifier(true, false, func(string) (Result, error) {
		return Result{}, errors.New("classifier down")
	}))
	r := f.CheckCompletion("anything")
	assert.False(t, r.Allowed)
	assert.Equal(t, "moderation_unavailable", r.Reason)
}
