// Package filter implements the content filter (C2): a short-circuiting
// pipeline of predicates applied to prompts and completions.
package filter

import (
	"regexp"
	"strings"
)

// Category is one of the closed set of block reasons.
type Category string

const (
	CategoryHate           Category = "hate"
	CategoryHarassment     Category = "harassment"
	CategorySelfHarm       Category = "self_harm"
	CategorySexual         Category = "sexual"
	CategoryViolence       Category = "violence"
	CategoryBlockedTerm    Category = "blocked_term"
	CategoryBlockedPattern Category = "blocked_pattern"
	CategoryPII            Category = "pii"
)

// Result is the outcome of checking one piece of text.
type Result struct {
	Allowed    bool
	Reason     string
	Categories []Category
}

func allow() Result { return Result{Allowed: true} }

func block(reason string, cats ...Category) Result {
	return Result{Allowed: false, Reason: reason, Categories: cats}
}

// Thresholds are the per-category heuristic scoring cutoffs, each in [0,1].
type Thresholds struct {
	Hate       float64
	Harassment float64
	SelfHarm   float64
	Sexual     float64
	Violence   float64
}

// DefaultThresholds returns conservative defaults for all categories.
func DefaultThresholds() Thresholds {
	return Thresholds{Hate: 0.5, Harassment: 0.5, SelfHarm: 0.5, Sexual: 0.5, Violence: 0.5}
}

// keywordBucket backs the heuristic category scorer: each hit against a
// bucket's keyword list nudges that category's score up by 1/len(keywords),
// capped at 1.0 — a cheap stand-in for a real moderation classifier.
type keywordBucket struct {
	category Category
	keywords []string
}

var defaultBuckets = []keywordBucket{
	{CategoryHate, []string{"hate", "slur", "subhuman"}},
	{CategoryHarassment, []string{"harass", "stalk", "threaten"}},
	{CategorySelfHarm, []string{"suicide", "self-harm", "cutting"}},
	{CategorySexual, []string{"explicit sexual", "porn"}},
	{CategoryViolence, []string{"kill", "bomb", "massacre"}},
}

// MLClassifier is invoked only when UseMLFiltering is on. A real deployment
// wires in whatever moderation model/service it has; nil means ML filtering
// cannot run and failOpenOnModerationError governs the outcome.
type MLClassifier func(text string) (Result, error)

// Config configures a Filter. Zero value is a usable filter with no
// blocked terms/patterns and ML filtering off.
type Config struct {
	BlockedTerms    []string
	BlockedPatterns []*regexp.Regexp
	Thresholds      Thresholds
	Buckets         []keywordBucket

	UseMLFiltering           bool
	FailOpenOnModerationError bool
	Classifier               MLClassifier
}

// Option configures a Filter at construction time.
type Option func(*Config)

func WithBlockedTerms(terms ...string) Option {
	return func(c *Config) { c.BlockedTerms = append(c.BlockedTerms, terms...) }
}

func WithBlockedPatterns(patterns ...*regexp.Regexp) Option {
	return func(c *Config) { c.BlockedPatterns = append(c.BlockedPatterns, patterns...) }
}

func WithThresholds(t Thresholds) Option {
	return func(c *Config) { c.Thresholds = t }
}

func WithMLClassifier(useML, failOpen bool, classifier MLClassifier) Option {
	return func(c *Config) {
		c.UseMLFiltering = useML
		c.FailOpenOnModerationError = failOpen
		c.Classifier = classifier
	}
}

// Filter is idempotent and stateless: repeated calls on the same text
// always produce the same Result, and no call mutates the Filter.
type Filter struct {
	cfg Config
}

// New builds a Filter from options.
func New(opts ...Option) *Filter {
	cfg := Config{Thresholds: DefaultThresholds(), Buckets: defaultBuckets}
	for _, o := range opts {
		o(&cfg)
	}
	return &Filter{cfg: cfg}
}

// CheckPrompt runs the predicate pipeline against an inbound prompt.
func (f *Filter) CheckPrompt(text string) Result { return f.check(text) }

// CheckCompletion runs the predicate pipeline against a completion.
func (f *Filter) CheckCompletion(text string) Result { return f.check(text) }

// check is the short-circuiting predicate chain from §4.2.
func (f *Filter) check(text string) Result {
	if r, blocked := f.checkBlockedTerms(text); blocked {
		return r
	}
	if r, blocked := f.checkBlockedPatterns(text); blocked {
		return r
	}
	if r, blocked := f.checkHeuristicCategories(text); blocked {
		return r
	}
	if f.cfg.UseMLFiltering {
		return f.checkML(text)
	}
	return allow()
}

// checkBlockedTerms does a case-insensitive, whole-word-preferred match.
func (f *Filter) checkBlockedTerms(text string) (Result, bool) {
	lower := strings.ToLower(text)
	for _, term := range f.cfg.BlockedTerms {
		t := strings.ToLower(term)
		if isWholeWordMatch(lower, t) || strings.Contains(lower, t) {
			return block("blocked_term:"+term, CategoryBlockedTerm), true
		}
	}
	return Result{}, false
}

func isWholeWordMatch(haystack, needle string) bool {
	idx := strings.Index(haystack, needle)
	if idx < 0 {
		return false
	}
	before := idx == 0 || !isWordChar(rune(haystack[idx-1]))
	afterIdx := idx + len(needle)
	after := afterIdx >= len(haystack) || !isWordChar(rune(haystack[afterIdx]))
	return before && after
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func (f *Filter) checkBlockedPatterns(text string) (Result, bool) {
	for _, re := range f.cfg.BlockedPatterns {
		if re.MatchString(text) {
			return block("blocked_pattern:"+re.String(), CategoryBlockedPattern), true
		}
	}
	return Result{}, false
}

// checkHeuristicCategories scores keyword buckets and blocks on the first
// category whose score crosses its configured threshold.
func (f *Filter) checkHeuristicCategories(text string) (Result, bool) {
	lower := strings.ToLower(text)
	for _, bucket := range f.cfg.Buckets {
		score := bucketScore(lower, bucket.keywords)
		if score >= thresholdFor(f.cfg.Thresholds, bucket.category) {
			return block("category_threshold:"+string(bucket.category), bucket.category), true
		}
	}
	return Result{}, false
}

func bucketScore(lower string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score := float64(hits) / float64(len(keywords))
	if score > 1 {
		score = 1
	}
	return score
}

func thresholdFor(t Thresholds, c Category) float64 {
	switch c {
	case CategoryHate:
		return t.Hate
	case CategoryHarassment:
		return t.Harassment
	case CategorySelfHarm:
		return t.SelfHarm
	case CategorySexual:
		return t.Sexual
	case CategoryViolence:
		return t.Violence
	default:
		return 1.0 // unreachable category never blocks via threshold
	}
}

// checkML invokes the optional classifier; a nil classifier or a classifier
// error fails open iff FailOpenOnModerationError, otherwise blocks with
// reason "moderation_unavailable" per §4.2.
func (f *Filter) checkML(text string) Result {
	if f.cfg.Classifier == nil {
		if f.cfg.FailOpenOnModerationError {
			return allow()
		}
		return block("moderation_unavailable")
	}
	result, err := f.cfg.Classifier(text)
	if err != nil {
		if f.cfg.FailOpenOnModerationError {
			return allow()
		}
		return block("moderation_unavailable")
	}
	return result
}
