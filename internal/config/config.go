// Package config loads the gateway's hot-reloadable configuration (§6):
// global options, routing (model mappings/aliases/strategies), user
// preferences, fallback rules, rate limiting, content filtering, retry
// policy, per-provider credentials, and cost/pricing: a JSON-file loader
// with environment-variable resolution for provider credentials.
//
// Reload produces a new immutable *Config snapshot and swaps it in atomically
// (atomic.Pointer), per the design note that in-flight requests never
// observe a reload mid-request.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/router"
	"github.com/coregate/gateway/internal/vault"
)

// GlobalOptions are process-wide feature toggles and default timeouts.
type GlobalOptions struct {
	EnableCaching               bool `json:"enableCaching"`
	CacheExpirationMinutes      int  `json:"cacheExpirationMinutes"`
	TrackTokenUsage             bool `json:"trackTokenUsage"`
	EnableCostTracking          bool `json:"enableCostTracking"`
	EnableBudgetEnforcement     bool `json:"enableBudgetEnforcement"`
	DefaultTimeoutSeconds       int  `json:"defaultTimeoutSeconds"`
	DefaultStreamTimeoutSeconds int  `json:"defaultStreamTimeoutSeconds"`
}

// RoutingConfig configures C8's strategy toggles and the model catalog.
type RoutingConfig struct {
	EnableSmart              bool                   `json:"enableSmart"`
	EnableContentBased       bool                   `json:"enableContentBased"`
	EnableCostOptimized      bool                   `json:"enableCostOptimized"`
	EnableLatencyOptimized   bool                   `json:"enableLatencyOptimized"`
	ExperimentalSamplingRate float64                `json:"experimentalSamplingRate"`
	ModelMappings            []gwtypes.ModelMapping `json:"modelMappings"`
	// ModelRoutingStrategies carries per-model strategy overrides, keyed by
	// LogicalModelID, as a supplement to ModelMapping.RoutingStrategy for
	// mappings that otherwise come from elsewhere (e.g. the durable store).
	ModelRoutingStrategies map[string]gwtypes.Strategy `json:"modelRoutingStrategies"`
	// Aliases is not named in the enumerated option list but is required to
	// populate router.Catalog.Aliases; supplements the documented schema.
	Aliases []gwtypes.Alias `json:"aliases"`
}

// UserPreferencesConfig holds per-user routing overrides.
type UserPreferencesConfig struct {
	UserModelPreferences   []gwtypes.UserPreference `json:"userModelPreferences"`
	UserRoutingPreferences []gwtypes.UserPreference `json:"userRoutingPreferences"`
}

// FallbacksConfig configures C8's bounded fallback chains.
type FallbacksConfig struct {
	EnableFallbacks     bool                    `json:"enableFallbacks"`
	MaxFallbackAttempts int                     `json:"maxFallbackAttempts"`
	Rules               []gwtypes.FallbackRule  `json:"rules"`
}

// RateLimitConfig configures the inbound token-bucket limiter.
type RateLimitConfig struct {
	TokenLimit                int `json:"tokenLimit"`
	TokensPerPeriod           int `json:"tokensPerPeriod"`
	ReplenishmentPeriodSeconds int `json:"replenishmentPeriodSeconds"`
	QueueLimit                int `json:"queueLimit"`
}

// ContentFilteringConfig configures C2.
type ContentFilteringConfig struct {
	Enable                bool                    `json:"enable"`
	FilterPrompts         bool                    `json:"filterPrompts"`
	FilterCompletions     bool                    `json:"filterCompletions"`
	UseMLFiltering        bool                    `json:"useMLFiltering"`
	FailOpenOnModerationError bool                `json:"failOpenOnModerationError"`
	Thresholds            map[string]float64      `json:"thresholds"`
	BlockedTerms          []string                `json:"blockedTerms"`
	BlockedPatterns       []string                `json:"blockedPatterns"`
}

// RetryPolicyConfig configures C5.
type RetryPolicyConfig struct {
	MaxRetryAttempts         int     `json:"maxRetryAttempts"`
	MaxProviderRetryAttempts int     `json:"maxProviderRetryAttempts"`
	BaseRetryIntervalSeconds float64 `json:"baseRetryIntervalSeconds"`
}

// ProviderConfig is per-provider connection/credential configuration.
type ProviderConfig struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"` // openai, anthropic, vllm, cohere
	APIKeyEnv      string   `json:"apiKeyEnv,omitempty"`
	APIKey         string   `json:"apiKey,omitempty"`
	APIURL         string   `json:"apiUrl,omitempty"`
	APIVersion     string   `json:"apiVersion,omitempty"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
	Deployments    []string `json:"deployments,omitempty"`
}

// ModelPricing is a single model's per-token pricing entry.
type ModelPricing struct {
	InputPricePerToken  float64 `json:"inputPricePerToken"`
	OutputPricePerToken float64 `json:"outputPricePerToken"`
}

// CostManagementConfig holds per-provider, per-model pricing.
type CostManagementConfig struct {
	Pricing          map[string]map[string]ModelPricing `json:"pricing"` // provider -> modelId -> pricing
	FineTuningPricing map[string]map[string]ModelPricing `json:"fineTuningPricing"`
}

// Config is the full recognized configuration document (§6).
type Config struct {
	Global           GlobalOptions          `json:"globalOptions"`
	Routing          RoutingConfig          `json:"routing"`
	UserPreferences  UserPreferencesConfig  `json:"userPreferences"`
	Fallbacks        FallbacksConfig        `json:"fallbacks"`
	RateLimit        RateLimitConfig        `json:"rateLimit"`
	ContentFiltering ContentFilteringConfig `json:"contentFiltering"`
	RetryPolicy      RetryPolicyConfig      `json:"retryPolicy"`
	Providers        []ProviderConfig       `json:"providers"`
	CostManagement   CostManagementConfig   `json:"costManagement"`
}

// Load reads and parses a configuration document from path, resolving
// per-provider API keys from the environment. If v is non-nil and unlocked,
// a provider whose key is absent from the environment is instead looked up
// in the vault by provider name.
func Load(path string, v *vault.Vault) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}
		if p.APIKeyEnv != "" {
			if v := os.Getenv(p.APIKeyEnv); v != "" {
				p.APIKey = v
				continue
			}
		}
		if v != nil && !v.IsLocked() {
			if key, err := v.Get(p.Name); err == nil {
				p.APIKey = key
			}
		}
	}

	return &cfg, nil
}

// Default returns a minimal configuration suitable for local development.
func Default() *Config {
	return &Config{
		Global: GlobalOptions{
			EnableCaching:               true,
			CacheExpirationMinutes:      10,
			TrackTokenUsage:             true,
			EnableCostTracking:          true,
			EnableBudgetEnforcement:     true,
			DefaultTimeoutSeconds:       30,
			DefaultStreamTimeoutSeconds: 120,
		},
		Routing: RoutingConfig{
			EnableSmart:         true,
			EnableContentBased:  false,
			EnableCostOptimized: false,
		},
		Fallbacks: FallbacksConfig{
			EnableFallbacks:     true,
			MaxFallbackAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			TokenLimit:                 60,
			TokensPerPeriod:            60,
			ReplenishmentPeriodSeconds: 60,
			QueueLimit:                 0,
		},
		ContentFiltering: ContentFilteringConfig{
			Enable:        true,
			FilterPrompts: true,
		},
		RetryPolicy: RetryPolicyConfig{
			MaxRetryAttempts:         3,
			MaxProviderRetryAttempts: 2,
			BaseRetryIntervalSeconds: 0.5,
		},
	}
}

// Manager owns the current immutable Config snapshot and atomically swaps
// it on Reload, so in-flight requests never observe a partial reload.
type Manager struct {
	ptr   atomic.Pointer[Config]
	vault *vault.Vault
	path  string
}

// NewManager constructs a Manager seeded with the given initial config.
func NewManager(initial *Config) *Manager {
	m := &Manager{}
	m.ptr.Store(initial)
	return m
}

// NewManagerFromFile loads path and constructs a Manager around it.
// Subsequent Reload calls re-read the same path.
func NewManagerFromFile(path string, v *vault.Vault) (*Manager, error) {
	cfg, err := Load(path, v)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, vault: v}
	m.ptr.Store(cfg)
	return m, nil
}

// Current returns the active configuration snapshot. Safe for concurrent use.
func (m *Manager) Current() *Config {
	return m.ptr.Load()
}

// Reload re-reads the configuration from disk (if constructed via
// NewManagerFromFile) and atomically swaps in the new snapshot. Requests
// already in flight continue to see the snapshot pointer they started with.
func (m *Manager) Reload() error {
	if m.path == "" {
		return fmt.Errorf("config: manager has no backing file to reload from")
	}
	cfg, err := Load(m.path, m.vault)
	if err != nil {
		return err
	}
	m.ptr.Store(cfg)
	return nil
}

// ReplaceWith atomically installs an already-constructed snapshot, for
// programmatic reload paths (e.g. an admin endpoint that pushes a new
// catalog rather than re-reading a file).
func (m *Manager) ReplaceWith(cfg *Config) {
	m.ptr.Store(cfg)
}

// CacheExpiration returns the configured cache TTL as a time.Duration.
func (c *Config) CacheExpiration() time.Duration {
	return time.Duration(c.Global.CacheExpirationMinutes) * time.Minute
}

// DefaultTimeout returns the configured non-streaming request timeout.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Global.DefaultTimeoutSeconds) * time.Second
}

// DefaultStreamTimeout returns the configured streaming request timeout.
func (c *Config) DefaultStreamTimeout() time.Duration {
	return time.Duration(c.Global.DefaultStreamTimeoutSeconds) * time.Second
}

// ToCatalog builds a router.Catalog snapshot from the configuration, for
// handing to router.New or for an atomic catalog swap on reload. Per-model
// strategy overrides from Routing.ModelRoutingStrategies are merged onto
// the matching ModelMapping before the snapshot is returned.
func (c *Config) ToCatalog() router.Catalog {
	mappings := make([]gwtypes.ModelMapping, len(c.Routing.ModelMappings))
	copy(mappings, c.Routing.ModelMappings)
	for i := range mappings {
		if s, ok := c.Routing.ModelRoutingStrategies[mappings[i].LogicalModelID]; ok {
			mappings[i].RoutingStrategy = string(s)
		}
	}

	maxFallback := c.Fallbacks.MaxFallbackAttempts
	if !c.Fallbacks.EnableFallbacks {
		maxFallback = 0
	}

	return router.Catalog{
		Mappings:               mappings,
		Aliases:                c.Routing.Aliases,
		FallbackRules:          c.Fallbacks.Rules,
		UserPreferences:        c.mergedUserPreferences(),
		EnableContentBased:     c.Routing.EnableContentBased,
		EnableCostOptimized:    c.Routing.EnableCostOptimized,
		EnableLatencyOptimized: c.Routing.EnableLatencyOptimized,
		MaxFallbackAttempts:    maxFallback,
	}
}

// mergedUserPreferences combines the separately-configured model and
// routing preference lists into one gwtypes.UserPreference per user, since
// the router consumes a single preference entry per UserID.
func (c *Config) mergedUserPreferences() []gwtypes.UserPreference {
	byUser := make(map[string]gwtypes.UserPreference)
	for _, p := range c.UserPreferences.UserModelPreferences {
		byUser[p.UserID] = p
	}
	for _, p := range c.UserPreferences.UserRoutingPreferences {
		existing := byUser[p.UserID]
		existing.UserID = p.UserID
		if p.RoutingStrategy != "" {
			existing.RoutingStrategy = p.RoutingStrategy
		}
		if p.PreferredModel != "" {
			existing.PreferredModel = p.PreferredModel
		}
		existing.DisableOverride = existing.DisableOverride || p.DisableOverride
		byUser[p.UserID] = existing
	}
	out := make([]gwtypes.UserPreference, 0, len(byUser))
	for _, p := range byUser {
		out = append(out, p)
	}
	return out
}

// PricingFor looks up the configured pricing for a provider/model pair.
func (c *Config) PricingFor(providerName, modelID string) (gwtypes.Pricing, bool) {
	byModel, ok := c.CostManagement.Pricing[providerName]
	if !ok {
		return gwtypes.Pricing{}, false
	}
	p, ok := byModel[modelID]
	if !ok {
		return gwtypes.Pricing{}, false
	}
	return gwtypes.Pricing{InputPerToken: p.InputPricePerToken, OutputPerToken: p.OutputPricePerToken}, true
}
