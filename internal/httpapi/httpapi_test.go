package httpapi

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coregate/gateway/internal/breaker"
	"github.com/coregate/gateway/internal/cache"
	"github.com/coregate/gateway/internal/config"
	"github.com/coregate/gateway/internal/events"
	"github.com/coregate/gateway/internal/filter"
	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/ledger"
	"github.com/coregate/gateway/internal/metrics"
	"github.com/coregate/gateway/internal/pipeline"
	"github.com/coregate/gateway/internal/provider"
	"github.com/coregate/gateway/internal/registry"
	"github.com/coregate/gateway/internal/retry"
	"github.com/coregate/gateway/internal/router"
	"github.com/coregate/gateway/internal/store"
)

// fakeAdapter is a scriptable provider.Adapter test double, mirroring the
// pipeline package's own fake (see internal/pipeline/pipeline_test.go).
type fakeAdapter struct {
	mu        sync.Mutex
	name      string
	model     provider.ModelInfo
	results   []func() (gwtypes.Response, error)
	streams   []string
	embedResp gwtypes.EmbeddingResponse
	embedErr  error
	calls     int
}

func (f *fakeAdapter) Name() string                 { return f.name }
func (f *fakeAdapter) Models() []provider.ModelInfo { return []provider.ModelInfo{f.model} }
func (f *fakeAdapter) Model(id string) (provider.ModelInfo, error) {
	if id != f.model.LogicalModelID {
		return provider.ModelInfo{}, gwerrors.New(gwerrors.KindModelNotFound, id)
	}
	return f.model, nil
}
func (f *fakeAdapter) Complete(ctx context.Context, req gwtypes.Request, m provider.ModelInfo) (gwtypes.Response, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if i >= len(f.results) {
		return gwtypes.Response{}, gwerrors.New(gwerrors.KindUpstreamError, "no more scripted results")
	}
	return f.results[i]()
}
func (f *fakeAdapter) CompleteStream(ctx context.Context, req gwtypes.Request, m provider.ModelInfo) (io.ReadCloser, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if i >= len(f.streams) {
		return nil, gwerrors.New(gwerrors.KindUpstreamError, "no more scripted streams")
	}
	return io.NopCloser(strings.NewReader(f.streams[i])), nil
}
func (f *fakeAdapter) Embed(ctx context.Context, req gwtypes.EmbeddingRequest, m provider.ModelInfo) (gwtypes.EmbeddingResponse, error) {
	return f.embedResp, f.embedErr
}
func (f *fakeAdapter) IsAvailable(ctx context.Context) bool { return true }
func (f *fakeAdapter) SupportsStreaming() bool              { return true }
func (f *fakeAdapter) SupportsMultiModal() bool              { return false }

func testModel(logicalID, provName string) provider.ModelInfo {
	return provider.ModelInfo{
		LogicalModelID:  logicalID,
		ProviderModelID: logicalID,
		ContextWindow:   8192,
		Pricing:         gwtypes.Pricing{InputPerToken: 0.00001, OutputPerToken: 0.00002},
		Capabilities:    gwtypes.Capabilities{SupportsCompletions: true, SupportsStreaming: true},
	}
}

func successResult(content string) func() (gwtypes.Response, error) {
	return func() (gwtypes.Response, error) {
		return gwtypes.Response{
			Choices: []gwtypes.Choice{{Message: gwtypes.ChoiceMessage{Role: gwtypes.RoleAssistant, Content: content}}},
			Usage:   gwtypes.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
}

// newTestRouter builds a fully wired chi.Router + Dependencies around one
// fake adapter for handler-level tests.
func newTestRouter(t *testing.T, a *fakeAdapter) (chi.Router, Dependencies) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig())
	reg.Register(a)

	catalog := router.Catalog{
		Mappings: []gwtypes.ModelMapping{
			{LogicalModelID: "test.model", ProviderName: a.name, Pricing: a.model.Pricing},
		},
		MaxFallbackAttempts: 3,
	}
	rtr := router.New(catalog, reg)
	st := store.NewMemory()
	ldg := ledger.New(st)
	f := filter.New(filter.WithBlockedTerms("forbidden-term"))
	c := cache.New(100, time.Hour)
	brk := breaker.New(breaker.DefaultConfig())
	pl := pipeline.New(f, c, rtr, reg, ldg, brk, pipeline.WithRetryConfig(retry.Config{BaseDelay: time.Millisecond, MaxAttempts: 2}))

	d := Dependencies{
		Pipeline: pl,
		Config:   config.NewManager(config.Default()),
		Registry: reg,
		Breakers: brk,
		Metrics:  metrics.New(),
		Store:    st,
		EventBus: events.NewBus(),
		Logger:   slog.Default(),
	}

	r := chi.NewRouter()
	MountRoutes(r, d)
	return r, d
}
