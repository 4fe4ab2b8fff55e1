package registry

import (
	"context"
	"io"
	"testing"

	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/provider"
)

type fakeAdapter struct {
	name      string
	available bool
}

func (f *fakeAdapter) Name() string                 { return f.name }
func (f *fakeAdapter) Models() []provider.ModelInfo { return nil }
func (f *fakeAdapter) Model(id string) (provider.ModelInfo, error) {
	return provider.ModelInfo{}, gwerrors.New(gwerrors.KindModelNotFound, id)
}
func (f *fakeAdapter) Complete(ctx context.Context, req gwtypes.Request, m provider.ModelInfo) (gwtypes.Response, error) {
	return gwtypes.Response{}, nil
}
func (f *fakeAdapter) CompleteStream(ctx context.Context, req gwtypes.Request, m provider.ModelInfo) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeAdapter) Embed(ctx context.Context, req gwtypes.EmbeddingRequest, m provider.ModelInfo) (gwtypes.EmbeddingResponse, error) {
	return gwtypes.EmbeddingResponse{}, nil
}
func (f *fakeAdapter) IsAvailable(ctx context.Context) bool { return f.available }
func (f *fakeAdapter) SupportsStreaming() bool              { return false }
func (f *fakeAdapter) SupportsMultiModal() bool              { return false }

func TestGetMissingProvider(t *testing.T) {
	r := New(DefaultConfig())
	_, err := r.Get("nope")
	ge, ok := gwerrors.As(err)
	if !ok || ge.Kind != gwerrors.KindProviderNotFound {
		t.Fatalf("expected provider_not_found, got %v", err)
	}
}

func TestAllIsNameSorted(t *testing.T) {
	r := New(DefaultConfig())
	r.Register(&fakeAdapter{name: "zeta"})
	r.Register(&fakeAdapter{name: "alpha"})
	all := r.All()
	if len(all) != 2 || all[0].Name() != "alpha" || all[1].Name() != "zeta" {
		t.Fatalf("expected sorted [alpha zeta], got %v", all)
	}
}

func TestProbeTransitionsToDownAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecErrorsForDown = 3
	cfg.ConsecErrorsForDegraded = 1
	r := New(cfg)
	r.Register(&fakeAdapter{name: "flaky", available: false})

	for i := 0; i < 3; i++ {
		r.probeAll()
	}
	if r.IsAvailable("flaky") {
		t.Fatalf("expected provider in cooldown to be unavailable")
	}
	stats := r.Stats("flaky")
	if stats.State != StateDown {
		t.Errorf("state = %s, want down", stats.State)
	}
}

func TestProbeRecoversToHealthy(t *testing.T) {
	a := &fakeAdapter{name: "recovering", available: false}
	cfg := DefaultConfig()
	cfg.ConsecErrorsForDown = 2
	r := New(cfg)
	r.Register(a)
	r.probeAll()
	r.probeAll()
	if r.Stats("recovering").State != StateDown {
		t.Fatalf("expected down after 2 failures")
	}
	a.available = true
	r.probeAll()
	if r.Stats("recovering").State != StateHealthy {
		t.Errorf("expected healthy after recovery probe")
	}
}
