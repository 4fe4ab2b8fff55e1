// Package cohere adapts Cohere's embeddings API to the gateway's
// provider.Adapter contract: the same transport helpers and
// classify-on-StatusError pattern as provider/openai and provider/anthropic,
// applied to an embeddings-only upstream that returns
// gwerrors.KindNotSupported on the completions path.
package cohere

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/provider"
)

// Adapter calls the Cohere embeddings endpoint.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
	models  []provider.ModelInfo
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

func New(id, apiKey, baseURL string, models []provider.ModelInfo, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		models:  models,
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

func (a *Adapter) SupportsStreaming() bool  { return false }
func (a *Adapter) SupportsMultiModal() bool { return false }

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// Complete fails: this adapter only exercises Cohere's embeddings surface,
// demonstrating the §4.6 contract for a provider that cannot serve an
// operation.
func (a *Adapter) Complete(ctx context.Context, req gwtypes.Request, model provider.ModelInfo) (gwtypes.Response, error) {
	return gwtypes.Response{}, gwerrors.New(gwerrors.KindNotSupported, "cohere adapter is configured for embeddings only")
}

func (a *Adapter) CompleteStream(ctx context.Context, req gwtypes.Request, model provider.ModelInfo) (io.ReadCloser, error) {
	return nil, gwerrors.New(gwerrors.KindNotSupported, "cohere adapter is configured for embeddings only")
}

type embedPayload struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type embedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float64 `json:"embeddings"`
	Meta       struct {
		BilledUnits struct {
			InputTokens int `json:"input_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

func (a *Adapter) Embed(ctx context.Context, req gwtypes.EmbeddingRequest, model provider.ModelInfo) (gwtypes.EmbeddingResponse, error) {
	var out embedResponse
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + a.apiKey,
	}
	payload := embedPayload{Model: model.ProviderModelID, Texts: req.Input, InputType: "search_document"}
	err := provider.DoRequest(ctx, a.client, http.MethodPost, a.baseURL+"/v1/embed", headers, payload, &out)
	if err != nil {
		return gwtypes.EmbeddingResponse{}, a.classify(err)
	}
	return gwtypes.EmbeddingResponse{
		Model:    model.LogicalModelID,
		Provider: a.id,
		Data:     out.Embeddings,
		Usage:    gwtypes.Usage{PromptTokens: out.Meta.BilledUnits.InputTokens, TotalTokens: out.Meta.BilledUnits.InputTokens},
	}, nil
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
	case se.StatusCode == 401 || se.StatusCode == 403:
		return gwerrors.New(gwerrors.KindAuthFailed, se.Body)
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
