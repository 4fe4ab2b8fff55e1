// Package vllm adapts a self-hosted vLLM (OpenAI-compatible) deployment to
// the gateway's provider.Adapter contract, round-robining across multiple
// configured endpoints.
package vllm

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"io"

	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/provider"
)

// Adapter calls one or more OpenAI-compatible vLLM endpoints in round-robin
// order, so a single logical deployment can fan out across replicas.
type Adapter struct {
	id        string
	endpoints []string
	counter   atomic.Uint64
	client    *http.Client
	models    []provider.ModelInfo
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// WithEndpoints adds additional endpoints for round-robin balancing.
func WithEndpoints(endpoints ...string) Option {
	return func(a *Adapter) {
		for _, e := range endpoints {
			a.endpoints = append(a.endpoints, strings.TrimRight(e, "/"))
		}
	}
}

// New creates a vLLM adapter with one or more endpoints. Its HTTP client
// times out after 30s unless WithTimeout sets another value; WithTimeout(0)
// disables the timeout.
func New(id, endpoint string, models []provider.ModelInfo, opts ...Option) *Adapter {
	a := &Adapter{
		id:        id,
		endpoints: []string{strings.TrimRight(endpoint, "/")},
		client:    &http.Client{Timeout: 30 * time.Second},
		models:    models,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string                 { return a.id }
func (a *Adapter) Models() []provider.ModelInfo { return a.models }

func (a *Adapter) Model(logicalID string) (provider.ModelInfo, error) {
	for _, m := range a.models {
		if m.LogicalModelID == logicalID {
			return m, nil
		}
	}
	return provider.ModelInfo{}, gwerrors.New(gwerrors.KindModelNotFound, logicalID)
}

func (a *Adapter) SupportsStreaming() bool  { return true }
func (a *Adapter) SupportsMultiModal() bool { return false }

// nextEndpoint returns the next endpoint in round-robin order.
func (a *Adapter) nextEndpoint() string {
	idx := a.counter.Add(1) - 1
	return a.endpoints[idx%uint64(len(a.endpoints))]
}

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.nextEndpoint()+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

type chatPayload struct {
	Model       string            `json:"model"`
	Messages    []gwtypes.Message `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	TopP        float64           `json:"top_p,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Complete(ctx context.Context, req gwtypes.Request, model provider.ModelInfo) (gwtypes.Response, error) {
	payload := chatPayload{
		Model:       model.ProviderModelID,
		Messages:    req.Messages,
		Temperature: req.Parameters.Temperature,
		TopP:        req.Parameters.TopP,
		MaxTokens:   req.Parameters.MaxTokens,
	}
	var out chatResponse
	headers := map[string]string{"Content-Type": "application/json"}
	err := provider.DoRequest(ctx, a.client, http.MethodPost, a.nextEndpoint()+"/v1/chat/completions", headers, payload, &out)
	if err != nil {
		return gwtypes.Response{}, a.classify(err)
	}
	resp := gwtypes.Response{ID: out.ID, Model: model.LogicalModelID, Provider: a.id}
	for _, c := range out.Choices {
		resp.Choices = append(resp.Choices, gwtypes.Choice{
			Index:        c.Index,
			Message:      gwtypes.ChoiceMessage{Role: gwtypes.RoleAssistant, Content: c.Message.Content},
			FinishReason: gwtypes.FinishReason(c.FinishReason),
		})
	}
	resp.Usage = gwtypes.Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}
	return resp, nil
}

func (a *Adapter) CompleteStream(ctx context.Context, req gwtypes.Request, model provider.ModelInfo) (io.ReadCloser, error) {
	payload := chatPayload{
		Model:       model.ProviderModelID,
		Messages:    req.Messages,
		Temperature: req.Parameters.Temperature,
		TopP:        req.Parameters.TopP,
		MaxTokens:   req.Parameters.MaxTokens,
		Stream:      true,
	}
	headers := map[string]string{"Content-Type": "application/json", "Accept": "text/event-stream"}
	body, err := provider.DoStreamRequest(ctx, a.client, http.MethodPost, a.nextEndpoint()+"/v1/chat/completions", headers, payload)
	if err != nil {
		return nil, a.classify(err)
	}
	return body, nil
}

// Embed fails: this adapter only targets vLLM's chat completions server.
func (a *Adapter) Embed(ctx context.Context, req gwtypes.EmbeddingRequest, model provider.ModelInfo) (gwtypes.EmbeddingResponse, error) {
	return gwtypes.EmbeddingResponse{}, gwerrors.New(gwerrors.KindNotSupported, "vllm adapter configured for chat completions only")
}

func (a *Adapter) classify(err error) error {
	se, ok := err.(*gwerrors.StatusError)
	if !ok {
		return gwerrors.Wrap(gwerrors.KindUpstreamError, err)
	}
	ge := classifyStatus(se)
	ge.Provider = a.id
	return ge
}

func classifyStatus(se *gwerrors.StatusError) *gwerrors.GatewayError {
	switch {
	case se.StatusCode == 429:
		ge := gwerrors.New(gwerrors.KindRateLimitExceeded, se.Body)
		ge.RetryAfterSecs = se.RetryAfterSecs
		return ge
	case se.StatusCode >= 500:
		return gwerrors.New(gwerrors.KindProviderUnavailable, se.Body)
	case se.StatusCode == 400:
		return gwerrors.New(gwerrors.KindBadRequest, se.Body)
	default:
		return gwerrors.New(gwerrors.KindUpstreamError, se.Body)
	}
}
