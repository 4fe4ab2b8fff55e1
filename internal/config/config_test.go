package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/coregate/gateway/internal/gwtypes"
)

func writeTempConfig(t *testing.T, cfg *Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	cfg := Default()
	cfg.Providers = []ProviderConfig{{Name: "openai", Type: "openai", APIKeyEnv: "TEST_OPENAI_KEY"}}
	path := writeTempConfig(t, cfg)

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("expected APIKey resolved from env, got %q", loaded.Providers[0].APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json", nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestManagerReloadSwapsSnapshotAtomically(t *testing.T) {
	cfg := Default()
	cfg.Global.CacheExpirationMinutes = 5
	path := writeTempConfig(t, cfg)

	m, err := NewManagerFromFile(path, nil)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if got := m.Current().Global.CacheExpirationMinutes; got != 5 {
		t.Fatalf("expected initial snapshot with 5 min cache, got %d", got)
	}

	held := m.Current()

	cfg.Global.CacheExpirationMinutes = 30
	if err := os.WriteFile(path, mustMarshal(t, cfg), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if held.Global.CacheExpirationMinutes != 5 {
		t.Error("expected previously-held snapshot to remain unchanged after reload")
	}
	if got := m.Current().Global.CacheExpirationMinutes; got != 30 {
		t.Errorf("expected reloaded snapshot with 30 min cache, got %d", got)
	}
}

func mustMarshal(t *testing.T, cfg *Config) []byte {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestToCatalogMergesRoutingStrategyOverrides(t *testing.T) {
	cfg := Default()
	cfg.Routing.ModelMappings = []gwtypes.ModelMapping{
		{LogicalModelID: "gpt-4", ProviderName: "openai", ProviderModelID: "gpt-4-0613"},
	}
	cfg.Routing.ModelRoutingStrategies = map[string]gwtypes.Strategy{
		"gpt-4": gwtypes.StrategyCostOptimized,
	}

	catalog := cfg.ToCatalog()
	if len(catalog.Mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(catalog.Mappings))
	}
	if catalog.Mappings[0].RoutingStrategy != string(gwtypes.StrategyCostOptimized) {
		t.Errorf("expected overridden routing strategy, got %q", catalog.Mappings[0].RoutingStrategy)
	}
}

func TestToCatalogZeroesFallbackAttemptsWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Fallbacks.EnableFallbacks = false
	cfg.Fallbacks.MaxFallbackAttempts = 5

	catalog := cfg.ToCatalog()
	if catalog.MaxFallbackAttempts != 0 {
		t.Errorf("expected 0 fallback attempts when disabled, got %d", catalog.MaxFallbackAttempts)
	}
}

func TestMergedUserPreferencesCombinesModelAndRoutingEntries(t *testing.T) {
	cfg := Default()
	cfg.UserPreferences.UserModelPreferences = []gwtypes.UserPreference{
		{UserID: "user-1", PreferredModel: "gpt-4"},
	}
	cfg.UserPreferences.UserRoutingPreferences = []gwtypes.UserPreference{
		{UserID: "user-1", RoutingStrategy: string(gwtypes.StrategyLatencyOptimized)},
	}

	merged := cfg.mergedUserPreferences()
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged preference, got %d", len(merged))
	}
	if merged[0].PreferredModel != "gpt-4" {
		t.Errorf("expected preferred model preserved, got %q", merged[0].PreferredModel)
	}
	if merged[0].RoutingStrategy != string(gwtypes.StrategyLatencyOptimized) {
		t.Errorf("expected routing strategy merged in, got %q", merged[0].RoutingStrategy)
	}
}

func TestPricingForLookup(t *testing.T) {
	cfg := Default()
	cfg.CostManagement.Pricing = map[string]map[string]ModelPricing{
		"openai": {"gpt-4": {InputPricePerToken: 0.00001, OutputPricePerToken: 0.00003}},
	}

	p, ok := cfg.PricingFor("openai", "gpt-4")
	if !ok {
		t.Fatal("expected pricing entry to be found")
	}
	if p.InputPerToken != 0.00001 || p.OutputPerToken != 0.00003 {
		t.Errorf("unexpected pricing: %+v", p)
	}

	if _, ok := cfg.PricingFor("openai", "unknown-model"); ok {
		t.Error("expected no pricing entry for unknown model")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.Global.CacheExpirationMinutes = 10
	cfg.Global.DefaultTimeoutSeconds = 30
	cfg.Global.DefaultStreamTimeoutSeconds = 120

	if cfg.CacheExpiration().Minutes() != 10 {
		t.Errorf("expected 10 minute cache expiration, got %v", cfg.CacheExpiration())
	}
	if cfg.DefaultTimeout().Seconds() != 30 {
		t.Errorf("expected 30s default timeout, got %v", cfg.DefaultTimeout())
	}
	if cfg.DefaultStreamTimeout().Seconds() != 120 {
		t.Errorf("expected 120s stream timeout, got %v", cfg.DefaultStreamTimeout())
	}
}
