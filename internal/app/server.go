// Package app wires the gateway's components (config, registry, router,
// pipeline, store, metrics, events) into one process, following the same
// load-config/open-store/wire-providers/serve sequence as
// eugener-gandalf's cmd/gandalf/run.go, adapted to this gateway's
// internal/config, internal/registry, internal/router and
// internal/pipeline packages.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coregate/gateway/internal/breaker"
	"github.com/coregate/gateway/internal/cache"
	"github.com/coregate/gateway/internal/config"
	"github.com/coregate/gateway/internal/events"
	"github.com/coregate/gateway/internal/filter"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/httpapi"
	"github.com/coregate/gateway/internal/ledger"
	"github.com/coregate/gateway/internal/logging"
	"github.com/coregate/gateway/internal/metrics"
	"github.com/coregate/gateway/internal/pipeline"
	"github.com/coregate/gateway/internal/provider"
	"github.com/coregate/gateway/internal/provider/anthropic"
	"github.com/coregate/gateway/internal/provider/cohere"
	"github.com/coregate/gateway/internal/provider/openai"
	"github.com/coregate/gateway/internal/provider/vllm"
	"github.com/coregate/gateway/internal/ratelimit"
	"github.com/coregate/gateway/internal/registry"
	"github.com/coregate/gateway/internal/retry"
	"github.com/coregate/gateway/internal/router"
	"github.com/coregate/gateway/internal/store"
	"github.com/coregate/gateway/internal/temporal"
	"github.com/coregate/gateway/internal/tracing"
	"github.com/coregate/gateway/internal/vault"
)

// Server owns every long-lived collaborator and exposes the composed
// chi.Router for the process's http.Server.
type Server struct {
	boot BootConfig

	r *chi.Mux

	logger       *slog.Logger
	vault        *vault.Vault
	store        store.Store
	configMgr    *config.Manager
	router       *router.Router
	registry     *registry.Registry
	breakers     *breaker.Table
	metrics      *metrics.Registry
	eventBus     *events.Bus
	rateLimiter  *ratelimit.Limiter
	pipeline     *pipeline.Pipeline
	temporal     *temporal.Manager
	otelShutdown func(context.Context) error
}

// NewServer builds every collaborator and mounts the §6 HTTP/WS surface.
func NewServer(boot BootConfig) (*Server, error) {
	logger := logging.Setup(boot.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     boot.OTelEnabled,
		Endpoint:    boot.OTelEndpoint,
		ServiceName: boot.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}

	v, err := vault.New(boot.VaultEnabled)
	if err != nil {
		return nil, fmt.Errorf("vault init: %w", err)
	}
	if boot.VaultPassword != "" {
		if err := v.Unlock([]byte(boot.VaultPassword)); err != nil {
			logger.Warn("vault auto-unlock failed", slog.String("error", err.Error()))
		}
	}

	var configMgr *config.Manager
	if boot.ConfigPath != "" {
		configMgr, err = config.NewManagerFromFile(boot.ConfigPath, v)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		configMgr = config.NewManager(config.Default())
		logger.Info("GATEWAY_CONFIG_PATH unset, running with a minimal default configuration")
	}
	cfg := configMgr.Current()

	dsn := getEnv("GATEWAY_DB_DSN", "file:/data/gateway.sqlite")
	st, err := store.NewSQLite(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("store initialized", slog.String("dsn", dsn))

	bus := events.NewBus()
	m := metrics.New()

	reg := registry.New(registry.DefaultConfig(), registry.WithEventBus(bus), registry.WithLogger(logger))
	for _, a := range buildAdapters(cfg, logger) {
		reg.Register(a)
	}
	reg.Start()

	rtr := router.New(cfg.ToCatalog(), reg)

	brk := breaker.New(breaker.DefaultConfig())

	f := filter.New(buildFilterOptions(cfg, logger)...)

	c := cache.New(10000, cfg.CacheExpiration())

	ldg := ledger.New(st, ledger.WithMetricsSink(m))

	retryCfg := retry.DefaultConfig()
	if cfg.RetryPolicy.MaxRetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryPolicy.MaxRetryAttempts
	}
	if cfg.RetryPolicy.BaseRetryIntervalSeconds > 0 {
		retryCfg.BaseDelay = time.Duration(cfg.RetryPolicy.BaseRetryIntervalSeconds * float64(time.Second))
	}

	pl := pipeline.New(f, c, rtr, reg, ldg, brk,
		pipeline.WithEventBus(bus),
		pipeline.WithLogger(logger),
		pipeline.WithRetryConfig(retryCfg),
	)

	rl := ratelimit.New(boot.RateLimitRPS, boot.RateLimitBurst, time.Second, ratelimit.WithCounter(m.RateLimitedTotal))

	var tm *temporal.Manager
	if boot.TemporalEnabled {
		tm, err = temporal.New(temporal.Config{
			HostPort:  boot.TemporalHostPort,
			Namespace: boot.TemporalNamespace,
			TaskQueue: boot.TemporalTaskQueue,
		}, &temporal.Activities{Pipeline: pl})
		if err != nil {
			logger.Warn("temporal dispatch disabled: client init failed", slog.String("error", err.Error()))
			tm = nil
		} else if err := tm.Start(); err != nil {
			logger.Warn("temporal dispatch disabled: worker start failed", slog.String("error", err.Error()))
			tm = nil
		}
	}

	r := chi.NewRouter()
	httpapi.MountRoutes(r, httpapi.Dependencies{
		Pipeline:      pl,
		Config:        configMgr,
		Registry:      reg,
		Breakers:      brk,
		Metrics:       m,
		Store:         st,
		EventBus:      bus,
		RateLimiter:   rl,
		Logger:        logger,
		Temporal:      tm,
		RequireAPIKey: boot.RequireAPIKey,
		AdminToken:    boot.AdminToken,
	})

	return &Server{
		boot:         boot,
		r:            r,
		logger:       logger,
		vault:        v,
		store:        st,
		configMgr:    configMgr,
		router:       rtr,
		registry:     reg,
		breakers:     brk,
		metrics:      m,
		eventBus:     bus,
		rateLimiter:  rl,
		pipeline:     pl,
		temporal:     tm,
		otelShutdown: otelShutdown,
	}, nil
}

// buildAdapters constructs one provider.Adapter per configured provider,
// grouping the catalog's model mappings by provider name to build each
// adapter's advertised model list.
func buildAdapters(cfg *config.Config, logger *slog.Logger) []provider.Adapter {
	modelsByProvider := map[string][]provider.ModelInfo{}
	for _, mp := range cfg.Routing.ModelMappings {
		modelsByProvider[mp.ProviderName] = append(modelsByProvider[mp.ProviderName], provider.ModelInfo{
			LogicalModelID:  mp.LogicalModelID,
			ProviderModelID: mp.ProviderModelID,
			ContextWindow:   mp.ContextWindow,
			Pricing:         mp.Pricing,
			Capabilities:    gwtypes.Capabilities{SupportsCompletions: true, SupportsStreaming: true, SupportsEmbeddings: true},
		})
	}

	adapters := make([]provider.Adapter, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		models := modelsByProvider[pc.Name]
		timeout := time.Duration(pc.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		switch pc.Type {
		case "openai":
			adapters = append(adapters, openai.New(pc.Name, pc.APIKey, pc.APIURL, models, openai.WithTimeout(timeout)))
		case "anthropic":
			adapters = append(adapters, anthropic.New(pc.Name, pc.APIKey, pc.APIURL, models, anthropic.WithTimeout(timeout)))
		case "vllm":
			var opts []vllm.Option
			opts = append(opts, vllm.WithTimeout(timeout))
			endpoint := pc.APIURL
			extra := pc.Deployments
			if endpoint == "" && len(extra) > 0 {
				endpoint = extra[0]
				extra = extra[1:]
			}
			if len(extra) > 0 {
				opts = append(opts, vllm.WithEndpoints(extra...))
			}
			adapters = append(adapters, vllm.New(pc.Name, endpoint, models, opts...))
		case "cohere":
			adapters = append(adapters, cohere.New(pc.Name, pc.APIKey, pc.APIURL, models, cohere.WithTimeout(timeout)))
		default:
			logger.Warn("unknown provider type, skipping", slog.String("provider", pc.Name), slog.String("type", pc.Type))
		}
	}
	return adapters
}

// buildFilterOptions translates config.ContentFilteringConfig into
// filter.Option values, compiling each configured regular expression and
// skipping (with a warning) any that fail to parse rather than aborting
// startup over one bad pattern.
func buildFilterOptions(cfg *config.Config, logger *slog.Logger) []filter.Option {
	cf := cfg.ContentFiltering
	opts := []filter.Option{
		filter.WithBlockedTerms(cf.BlockedTerms...),
		filter.WithMLClassifier(cf.UseMLFiltering, cf.FailOpenOnModerationError, nil),
	}

	var patterns []*regexp.Regexp
	for _, raw := range cf.BlockedPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			logger.Warn("skipping invalid blocked pattern", slog.String("pattern", raw), slog.String("error", err.Error()))
			continue
		}
		patterns = append(patterns, re)
	}
	if len(patterns) > 0 {
		opts = append(opts, filter.WithBlockedPatterns(patterns...))
	}

	if len(cf.Thresholds) > 0 {
		t := filter.DefaultThresholds()
		for category, v := range cf.Thresholds {
			switch category {
			case "hate":
				t.Hate = v
			case "harassment":
				t.Harassment = v
			case "self_harm":
				t.SelfHarm = v
			case "sexual":
				t.Sexual = v
			case "violence":
				t.Violence = v
			}
		}
		opts = append(opts, filter.WithThresholds(t))
	}
	return opts
}

// Router returns the composed handler for the process's http.Server.
func (s *Server) Router() http.Handler { return s.r }

// Reload re-reads the configuration document and swaps the router's
// catalog. In-flight requests keep using the snapshot they already read.
func (s *Server) Reload() error {
	if err := s.configMgr.Reload(); err != nil {
		return err
	}
	s.router.Reload(s.configMgr.Current().ToCatalog())
	s.logger.Info("configuration reloaded")
	return nil
}

// Close drains and releases every long-lived collaborator.
func (s *Server) Close() error {
	s.registry.Stop()
	s.rateLimiter.Stop()
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	return s.store.Close()
}
