package router

import (
	"testing"

	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
)

func baseMapping(logicalID, providerName string) gwtypes.ModelMapping {
	return gwtypes.ModelMapping{
		LogicalModelID:  logicalID,
		ProviderName:    providerName,
		ProviderModelID: providerName + "-model",
		ContextWindow:   8192,
		Pricing:         gwtypes.Pricing{InputPerToken: 0.00001, OutputPerToken: 0.00003},
		Capabilities:    gwtypes.Capabilities{SupportsCompletions: true},
	}
}

func TestDirectMapping(t *testing.T) {
	r := New(Catalog{Mappings: []gwtypes.ModelMapping{baseMapping("openai.gpt-4", "openai")}}, nil)
	d, err := r.Route(gwtypes.Request{LogicalModelID: "openai.gpt-4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Strategy != gwtypes.StrategyDirectMapping || d.Provider != "openai" {
		t.Fatalf("decision = %+v, want direct mapping to openai", d)
	}
}

func TestAliasResolution(t *testing.T) {
	r := New(Catalog{
		Mappings: []gwtypes.ModelMapping{baseMapping("openai.gpt-4", "openai")},
		Aliases:  []gwtypes.Alias{{From: "fast", To: "openai.gpt-4"}},
	}, nil)
	d, err := r.Route(gwtypes.Request{LogicalModelID: "fast"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.LogicalModelID != "openai.gpt-4" {
		t.Fatalf("expected alias resolved to openai.gpt-4, got %s", d.LogicalModelID)
	}
}

func TestAliasCycleFailsWithRoutingLoop(t *testing.T) {
	r := New(Catalog{
		Aliases: []gwtypes.Alias{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}, nil)
	_, err := r.Route(gwtypes.Request{LogicalModelID: "a"})
	ge, ok := gwerrors.As(err)
	if !ok || ge.Kind != gwerrors.KindRoutingLoop {
		t.Fatalf("expected routing_loop, got %v", err)
	}
}

func TestUserPreferenceOverride(t *testing.T) {
	r := New(Catalog{
		Mappings: []gwtypes.ModelMapping{
			baseMapping("openai.gpt-4", "openai"),
			baseMapping("anthropic.claude-3", "anthropic"),
		},
		UserPreferences: []gwtypes.UserPreference{{UserID: "u1", PreferredModel: "anthropic.claude-3"}},
	}, nil)
	d, err := r.Route(gwtypes.Request{LogicalModelID: "openai.gpt-4", User: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Provider != "anthropic" {
		t.Fatalf("expected user preference override to anthropic, got %s", d.Provider)
	}
}

func TestUserPreferenceDisabledOverrideIsIgnored(t *testing.T) {
	r := New(Catalog{
		Mappings: []gwtypes.ModelMapping{
			baseMapping("openai.gpt-4", "openai"),
			baseMapping("anthropic.claude-3", "anthropic"),
		},
		UserPreferences: []gwtypes.UserPreference{{UserID: "u1", PreferredModel: "anthropic.claude-3", DisableOverride: true}},
	}, nil)
	d, err := r.Route(gwtypes.Request{LogicalModelID: "openai.gpt-4", User: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Provider != "openai" {
		t.Fatalf("expected disabled override to keep openai, got %s", d.Provider)
	}
}

func TestContentBasedCodeBucket(t *testing.T) {
	codeModel := baseMapping("code.model", "openai")
	codeModel.DisplayName = "Code Specialist"
	generalModel := baseMapping("general.model", "anthropic")
	r := New(Catalog{Mappings: []gwtypes.ModelMapping{generalModel, codeModel}}, nil)
	d, err := r.Route(gwtypes.Request{
		LogicalModelID: "unmapped",
		Messages:       []gwtypes.Message{{Content: "```go\nfunc main() {}\n```"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Provider != "openai" || d.Strategy != gwtypes.StrategyContentBased {
		t.Fatalf("expected content-based routing to code model, got %+v", d)
	}
}

func TestCostOptimizedPicksCheapest(t *testing.T) {
	cheap := baseMapping("cheap", "provA")
	cheap.Pricing = gwtypes.Pricing{InputPerToken: 0.000001, OutputPerToken: 0.000001}
	expensive := baseMapping("pricey", "provB")
	expensive.Pricing = gwtypes.Pricing{InputPerToken: 0.001, OutputPerToken: 0.001}

	r2 := New(Catalog{
		Mappings:        []gwtypes.ModelMapping{expensive, cheap},
		UserPreferences: []gwtypes.UserPreference{{UserID: "u2", RoutingStrategy: string(gwtypes.StrategyCostOptimized)}},
	}, nil)
	d2, err := r2.Route(gwtypes.Request{LogicalModelID: "unmapped", User: "u2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d2.Provider != "provA" {
		t.Fatalf("expected cheapest provA, got %s", d2.Provider)
	}
}

type fakeHealth struct{ latency map[string]float64 }

func (f fakeHealth) AvgLatencyMs(name string) float64 { return f.latency[name] }
func (f fakeHealth) IsAvailable(name string) bool      { return true }

func TestLatencyOptimizedPicksFastest(t *testing.T) {
	slow := baseMapping("slow", "provSlow")
	fast := baseMapping("fast", "provFast")
	health := fakeHealth{latency: map[string]float64{"provSlow": 900, "provFast": 100}}
	r := New(Catalog{
		Mappings:        []gwtypes.ModelMapping{slow, fast},
		UserPreferences: []gwtypes.UserPreference{{UserID: "u3", RoutingStrategy: string(gwtypes.StrategyLatencyOptimized)}},
	}, health)
	d, err := r.Route(gwtypes.Request{LogicalModelID: "unmapped", User: "u3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Provider != "provFast" {
		t.Fatalf("expected fastest provFast, got %s", d.Provider)
	}
}

func TestFallbackChainExcludesAlreadyTried(t *testing.T) {
	r := New(Catalog{
		FallbackRules: []gwtypes.FallbackRule{
			{ModelID: "openai.gpt-4-turbo", FallbackModels: []string{"openai.gpt-3.5-turbo", "anthropic.claude-3-sonnet"}, ErrorCodes: []string{"rate_limit_exceeded"}},
		},
		MaxFallbackAttempts: 3,
	}, nil)
	chain := r.FallbackChain("openai.gpt-4-turbo", gwerrors.KindRateLimitExceeded, map[string]bool{"openai.gpt-3.5-turbo": true})
	if len(chain) != 1 || chain[0] != "anthropic.claude-3-sonnet" {
		t.Fatalf("expected remaining fallback [anthropic.claude-3-sonnet], got %v", chain)
	}
}

func TestFallbackChainNoMatchOnUnlistedErrorCode(t *testing.T) {
	r := New(Catalog{
		FallbackRules: []gwtypes.FallbackRule{
			{ModelID: "m1", FallbackModels: []string{"m2"}, ErrorCodes: []string{"rate_limit_exceeded"}},
		},
	}, nil)
	chain := r.FallbackChain("m1", gwerrors.KindAuthFailed, nil)
	if len(chain) != 0 {
		t.Fatalf("expected no fallback for unlisted error code, got %v", chain)
	}
}
