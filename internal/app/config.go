package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BootConfig is the process-level bootstrap configuration: everything
// needed before the hot-reloadable config.Manager document can be loaded
// (listen address, where that document lives, vault/credentials, CORS and
// the outer rate-limit/admin-auth knobs), env-var-driven the way
// eugener-gandalf's cmd/gandalf/main.go resolves its own flags and
// environment before calling run(cfgPath).
type BootConfig struct {
	ListenAddr string
	LogLevel   string

	ConfigPath string // path to the config.Manager JSON document

	VaultEnabled  bool
	VaultPassword string // auto-unlock vault at startup if set

	AdminToken     string
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
	RequireAPIKey  bool

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	CredentialsFile string

	// TemporalEnabled turns on durable batch dispatch for
	// POST /completions/batch via internal/temporal. Left off by default
	// since it requires a running Temporal server.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
}

func LoadBootConfig() (BootConfig, error) {
	cfg := BootConfig{
		ListenAddr: getEnv("GATEWAY_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("GATEWAY_LOG_LEVEL", "info"),

		ConfigPath: getEnv("GATEWAY_CONFIG_PATH", ""),

		VaultEnabled:  getEnvBool("GATEWAY_VAULT_ENABLED", true),
		VaultPassword: getEnv("GATEWAY_VAULT_PASSWORD", ""),

		AdminToken:     getEnv("GATEWAY_ADMIN_TOKEN", ""),
		CORSOrigins:    getEnvStringSlice("GATEWAY_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("GATEWAY_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("GATEWAY_RATE_LIMIT_BURST", 120),
		RequireAPIKey:  getEnvBool("GATEWAY_REQUIRE_API_KEY", false),

		OTelEnabled:     getEnvBool("GATEWAY_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("GATEWAY_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("GATEWAY_OTEL_SERVICE_NAME", "gateway"),

		CredentialsFile: getEnv("GATEWAY_CREDENTIALS_FILE", defaultCredentialsPath()),

		TemporalEnabled:   getEnvBool("GATEWAY_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("GATEWAY_TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalNamespace: getEnv("GATEWAY_TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("GATEWAY_TEMPORAL_TASK_QUEUE", "gateway-batch"),
	}
	if err := cfg.Validate(); err != nil {
		return BootConfig{}, err
	}
	return cfg, nil
}

// Validate checks values for obviously invalid settings.
func (c BootConfig) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

func defaultCredentialsPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gateway", "credentials")
	}
	return ""
}
