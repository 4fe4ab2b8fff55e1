package vllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/provider"
)

func testModel() provider.ModelInfo {
	return provider.ModelInfo{LogicalModelID: "local.llama3-8b", ProviderModelID: "meta-llama/Meta-Llama-3-8B"}
}

func TestRoundRobinAcrossEndpoints(t *testing.T) {
	var hits [2]int
	ts0 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[0]++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "a", "choices": []map[string]any{}})
	}))
	defer ts0.Close()
	ts1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[1]++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "b", "choices": []map[string]any{}})
	}))
	defer ts1.Close()

	a := New("vllm", ts0.URL, []provider.ModelInfo{testModel()}, WithEndpoints(ts1.URL))
	for i := 0; i < 4; i++ {
		if _, err := a.Complete(context.Background(), gwtypes.Request{}, testModel()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if hits[0] != 2 || hits[1] != 2 {
		t.Errorf("hits = %v, want evenly split round robin", hits)
	}
}

func TestEmbedNotSupported(t *testing.T) {
	a := New("vllm", "http://localhost", []provider.ModelInfo{testModel()})
	_, err := a.Embed(context.Background(), gwtypes.EmbeddingRequest{}, testModel())
	ge, ok := gwerrors.As(err)
	if !ok || ge.Kind != gwerrors.KindNotSupported {
		t.Fatalf("expected not_supported, got %v", err)
	}
}

func TestClassifyServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`down for maintenance`))
	}))
	defer ts.Close()

	a := New("vllm", ts.URL, []provider.ModelInfo{testModel()})
	_, err := a.Complete(context.Background(), gwtypes.Request{}, testModel())
	ge, ok := gwerrors.As(err)
	if !ok || ge.Kind != gwerrors.KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
}
