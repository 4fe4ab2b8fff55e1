// Package router resolves a logical model request to a concrete provider
// call (C8), grounded on eugener-gandalf's internal/app/router.go model-
// alias resolution and its own fallback-ordering RouterService, redesigned
// per the tagged-strategy-variant guidance: Strategy is a closed enum, and
// choosing one is a lookup, not a dynamic-dispatch container call.
package router

import (
	"sort"
	"strings"

	"github.com/coregate/gateway/internal/events"
	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/tokenizer"
)

const maxAliasDepth = 4

// HealthSource supplies the latency samples LatencyOptimized reads from
// C7's health snapshot.
type HealthSource interface {
	AvgLatencyMs(providerName string) float64
	IsAvailable(providerName string) bool
}

// Catalog is the routing-relevant slice of configuration: mappings,
// aliases, fallback rules, and user preferences. Hot-reloadable as a whole
// (atomic swap of an immutable snapshot), per §3's Lifecycle note.
type Catalog struct {
	Mappings        []gwtypes.ModelMapping
	Aliases         []gwtypes.Alias
	FallbackRules   []gwtypes.FallbackRule
	UserPreferences []gwtypes.UserPreference

	EnableContentBased     bool
	EnableCostOptimized    bool
	EnableLatencyOptimized bool
	MaxFallbackAttempts    int
}

// Router resolves requests to RoutingDecisions against a Catalog snapshot.
type Router struct {
	catalog Catalog
	health  HealthSource
	bus     *events.Bus
}

// Option configures a Router.
type Option func(*Router)

func WithEventBus(bus *events.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

func New(catalog Catalog, health HealthSource, opts ...Option) *Router {
	r := &Router{catalog: catalog, health: health}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reload atomically swaps the routing catalog, per §3's hot-reload note.
func (r *Router) Reload(catalog Catalog) { r.catalog = catalog }

func (r *Router) mappingByLogicalID(id string) (gwtypes.ModelMapping, bool) {
	for _, m := range r.catalog.Mappings {
		if m.LogicalModelID == id {
			return m, true
		}
	}
	return gwtypes.ModelMapping{}, false
}

func (r *Router) aliasTarget(id string) (string, bool) {
	for _, a := range r.catalog.Aliases {
		if a.From == id {
			return a.To, true
		}
	}
	return "", false
}

// resolveAlias repeatedly replaces logicalModelId via configured aliases
// until fixpoint or depth 4; a cycle (exceeding depth without stabilizing
// at a non-aliased id) fails with routing_loop.
func (r *Router) resolveAlias(id string) (string, error) {
	seen := map[string]bool{id: true}
	current := id
	for i := 0; i < maxAliasDepth; i++ {
		next, ok := r.aliasTarget(current)
		if !ok {
			return current, nil
		}
		if seen[next] {
			return "", gwerrors.New(gwerrors.KindRoutingLoop, "alias cycle at "+next)
		}
		seen[next] = true
		current = next
	}
	if _, ok := r.aliasTarget(current); ok {
		return "", gwerrors.New(gwerrors.KindRoutingLoop, "alias depth exceeded from "+id)
	}
	return current, nil
}

// ResolveAlias exposes alias resolution to the pipeline, which needs the
// effective logical model id before asking for a routing decision (§4.10
// step 1).
func (r *Router) ResolveAlias(id string) (string, error) {
	return r.resolveAlias(id)
}

// MappingPricing returns the configured pricing for a logical model id, for
// the pipeline's pre-routing budget estimate (§4.10 step 3). Reports ok=false
// if id is not a known mapping (e.g. it will be resolved purely by a
// content-based or cost-optimized strategy instead of a direct entry).
func (r *Router) MappingPricing(id string) (gwtypes.Pricing, bool) {
	m, ok := r.mappingByLogicalID(id)
	if !ok {
		return gwtypes.Pricing{}, false
	}
	return m.Pricing, true
}

func (r *Router) userPreference(userID string) (gwtypes.UserPreference, bool) {
	for _, p := range r.catalog.UserPreferences {
		if p.UserID == userID {
			return p, true
		}
	}
	return gwtypes.UserPreference{}, false
}

// Route implements the §4.8 resolution order and emits the decision to the
// trace sink before returning it.
func (r *Router) Route(req gwtypes.Request) (gwtypes.RoutingDecision, error) {
	decision, err := r.route(req)
	r.emit(decision)
	return decision, err
}

func (r *Router) route(req gwtypes.Request) (gwtypes.RoutingDecision, error) {
	logicalID, err := r.resolveAlias(req.LogicalModelID)
	if err != nil {
		return gwtypes.RoutingDecision{LogicalModelID: req.LogicalModelID, Success: false, Reason: err.Error()}, err
	}

	// User preference override, unless disabled for this request.
	if req.User != "" {
		if pref, ok := r.userPreference(req.User); ok && !pref.DisableOverride && pref.PreferredModel != "" {
			resolved, err := r.resolveAlias(pref.PreferredModel)
			if err == nil {
				logicalID = resolved
			}
		}
	}

	// Direct mapping.
	if m, ok := r.mappingByLogicalID(logicalID); ok {
		d := gwtypes.RoutingDecision{
			Provider:        m.ProviderName,
			LogicalModelID:  m.LogicalModelID,
			ProviderModelID: m.ProviderModelID,
			Strategy:        gwtypes.StrategyDirectMapping,
			Reason:          "direct mapping",
			Success:         true,
		}
		return d, nil
	}

	// Strategy selection: per-user preference dominates, else per-model
	// override, else default falls through to ContentBased.
	strategy := gwtypes.StrategyContentBased
	if pref, ok := r.userPreference(req.User); ok && pref.RoutingStrategy != "" {
		strategy = gwtypes.Strategy(pref.RoutingStrategy)
	} else if m, ok := r.mappingByLogicalID(logicalID); ok && m.RoutingStrategy != "" {
		strategy = gwtypes.Strategy(m.RoutingStrategy)
	} else if strategy == gwtypes.StrategyDirectMapping {
		strategy = gwtypes.StrategyContentBased
	}

	d, err := r.executeStrategy(strategy, req, logicalID)
	return d, err
}

func (r *Router) executeStrategy(strategy gwtypes.Strategy, req gwtypes.Request, logicalID string) (gwtypes.RoutingDecision, error) {
	candidates := r.completionCapableMappings()
	if len(candidates) == 0 {
		err := gwerrors.New(gwerrors.KindModelNotFound, logicalID)
		return gwtypes.RoutingDecision{LogicalModelID: logicalID, Strategy: strategy, Success: false, Reason: err.Error()}, err
	}

	var chosen gwtypes.ModelMapping
	var reason string
	switch strategy {
	case gwtypes.StrategyCostOptimized:
		chosen, reason = r.chooseCostOptimized(candidates, req)
	case gwtypes.StrategyLatencyOptimized:
		chosen, reason = r.chooseLatencyOptimized(candidates, req)
	default: // ContentBased, and the DirectMapping-falls-through case
		chosen, reason = r.chooseContentBased(candidates, req)
		strategy = gwtypes.StrategyContentBased
	}

	return gwtypes.RoutingDecision{
		Provider:        chosen.ProviderName,
		LogicalModelID:  chosen.LogicalModelID,
		ProviderModelID: chosen.ProviderModelID,
		Strategy:        strategy,
		Reason:          reason,
		Success:         true,
	}, nil
}

func (r *Router) completionCapableMappings() []gwtypes.ModelMapping {
	out := make([]gwtypes.ModelMapping, 0, len(r.catalog.Mappings))
	for _, m := range r.catalog.Mappings {
		if m.Capabilities.SupportsCompletions {
			out = append(out, m)
		}
	}
	return out
}

// bucket is a content-based routing rule: first match (in listed order)
// wins, per §4.8 step 5.
type bucket struct {
	name    string
	matches func(text string) bool
	wants   func(gwtypes.ModelMapping) bool
}

var codeKeywords = []string{"```", "func ", "def ", "class ", "import ", "SELECT ", "console.log"}
var mathMarkers = []string{"\\int", "\\sum", "\\frac", "equation", "derivative", "integral"}
var creativeVerbs = []string{"write a story", "write a poem", "write fiction", "compose a poem"}
var analyticalVerbs = []string{"analyze", "evaluate", "compare"}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func concatText(req gwtypes.Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Content)
		b.WriteString(" ")
	}
	return b.String()
}

func buckets() []bucket {
	return []bucket{
		{name: "code", matches: func(t string) bool { return containsAny(t, codeKeywords) },
			wants: func(m gwtypes.ModelMapping) bool { return strings.Contains(strings.ToLower(m.DisplayName), "code") }},
		{name: "math", matches: func(t string) bool { return containsAny(t, mathMarkers) },
			wants: func(m gwtypes.ModelMapping) bool { return strings.Contains(strings.ToLower(m.DisplayName), "math") }},
		{name: "creative", matches: func(t string) bool { return containsAny(t, creativeVerbs) },
			wants: func(m gwtypes.ModelMapping) bool { return strings.Contains(strings.ToLower(m.DisplayName), "creative") }},
		{name: "analytical", matches: func(t string) bool { return containsAny(t, analyticalVerbs) },
			wants: func(m gwtypes.ModelMapping) bool { return strings.Contains(strings.ToLower(m.DisplayName), "analytical") }},
		{name: "long-context", matches: func(t string) bool { return len(t) >= 16000 },
			wants: func(m gwtypes.ModelMapping) bool { return m.ContextWindow >= 100000 }},
	}
}

// chooseContentBased inspects the concatenated message text against the
// bucket list (first match wins) and picks the best-tagged mapping from the
// candidate pool; ties broken by ModelMapping order.
func (r *Router) chooseContentBased(candidates []gwtypes.ModelMapping, req gwtypes.Request) (gwtypes.ModelMapping, string) {
	text := concatText(req)
	for _, b := range buckets() {
		if !b.matches(text) {
			continue
		}
		for _, m := range candidates {
			if b.wants(m) {
				return m, "content-based: " + b.name + " bucket"
			}
		}
	}
	return candidates[0], "content-based: no bucket matched, default"
}

// chooseCostOptimized minimizes promptTokens·inputPrice +
// estCompletionTokens·outputPrice; ties broken by lower latency estimate.
func (r *Router) chooseCostOptimized(candidates []gwtypes.ModelMapping, req gwtypes.Request) (gwtypes.ModelMapping, string) {
	type scored struct {
		m    gwtypes.ModelMapping
		cost float64
		lat  float64
	}
	scores := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		est := tokenizer.EstimateForRequest(req, m.ContextWindow)
		cost := float64(est.PromptTokens)*m.Pricing.InputPerToken + float64(est.EstCompletionTokens)*m.Pricing.OutputPerToken
		lat := r.latencyEstimate(m)
		scores = append(scores, scored{m, cost, lat})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].cost != scores[j].cost {
			return scores[i].cost < scores[j].cost
		}
		return scores[i].lat < scores[j].lat
	})
	return scores[0].m, "cost-optimized: lowest estimated cost"
}

// chooseLatencyOptimized minimizes recent average response time, falling
// back to a per-model default when no samples exist. Long requests adjust
// by adding a per-token factor.
func (r *Router) chooseLatencyOptimized(candidates []gwtypes.ModelMapping, req gwtypes.Request) (gwtypes.ModelMapping, string) {
	est := tokenizer.EstimateForRequest(req, 0)
	type scored struct {
		m   gwtypes.ModelMapping
		lat float64
	}
	scores := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		lat := r.latencyEstimate(m)
		// ~0.5ms per estimated completion token accounts for long requests.
		lat += float64(est.EstCompletionTokens) * 0.5
		scores = append(scores, scored{m, lat})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].lat < scores[j].lat })
	return scores[0].m, "latency-optimized: lowest estimated response time"
}

func (r *Router) latencyEstimate(m gwtypes.ModelMapping) float64 {
	if r.health != nil {
		if avg := r.health.AvgLatencyMs(m.ProviderName); avg > 0 {
			return avg
		}
	}
	if m.AvgLatencyMs > 0 {
		return float64(m.AvgLatencyMs)
	}
	return 1000 // default table entry when no samples exist
}

// FallbackChain returns the ordered fallback LogicalModelIds configured for
// modelID on the given error kind, bounded by maxFallbackAttempts and
// excluding models already attempted in this invocation.
func (r *Router) FallbackChain(modelID string, kind gwerrors.Kind, alreadyTried map[string]bool) []string {
	maxAttempts := r.catalog.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var rule *gwtypes.FallbackRule
	for i := range r.catalog.FallbackRules {
		if r.catalog.FallbackRules[i].ModelID == modelID {
			rule = &r.catalog.FallbackRules[i]
			break
		}
	}
	if rule == nil {
		return nil
	}
	matchesKind := false
	for _, c := range rule.ErrorCodes {
		if gwerrors.Kind(c) == kind {
			matchesKind = true
			break
		}
	}
	if !matchesKind {
		return nil
	}
	out := make([]string, 0, len(rule.FallbackModels))
	for _, candidate := range rule.FallbackModels {
		if alreadyTried[candidate] {
			continue
		}
		out = append(out, candidate)
		if len(out) >= maxAttempts {
			break
		}
	}
	return out
}

func (r *Router) emit(d gwtypes.RoutingDecision) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Type:       events.EventRouteSuccess,
		ModelID:    d.LogicalModelID,
		ProviderID: d.Provider,
		Reason:     d.Reason,
	})
}
