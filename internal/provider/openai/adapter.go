// Package openai adapts the OpenAI chat completions API to the gateway's
// uniform provider.Adapter contract.
package openai

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

// Adapter calls an OpenAI-compatible chat completions endpoint.
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

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New builds an OpenAI adapter advertising the given static model catalog
// (OpenAI's completions API has no discovery endpoint worth depending on
// for routing decisions, so the catalog is supplied by configuration).
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

func (a *Adapter) Name() string { return a.id }

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
func (a *Adapter) SupportsMultiModal() bool { return true }

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
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

type chatPayload struct {
	Model       string            `json:"model"`
	Messages    []gwtypes.Message `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	TopP        float64           `json:"top_p,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) payload(req gwtypes.Request, model provider.ModelInfo, stream bool) chatPayload {
	return chatPayload{
		Model:       model.ProviderModelID,
		Messages:    req.Messages,
		Temperature: req.Parameters.Temperature,
		TopP:        req.Parameters.TopP,
		MaxTokens:   req.Parameters.MaxTokens,
		Stop:        req.Parameters.Stop,
		Stream:      stream,
	}
}

func (a *Adapter) Complete(ctx context.Context, req gwtypes.Request, model provider.ModelInfo) (gwtypes.Response, error) {
	var out chatResponse
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + a.apiKey,
	}
	err := provider.DoRequest(ctx, a.client, http.MethodPost, a.baseURL+"/chat/completions", headers, a.payload(req, model, false), &out)
	if err != nil {
		return gwtypes.Response{}, a.classify(err)
	}

	resp := gwtypes.Response{ID: out.ID, Created: out.Created, Model: model.LogicalModelID, Provider: a.id}
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
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + a.apiKey,
		"Accept":        "text/event-stream",
	}
	body, err := provider.DoStreamRequest(ctx, a.client, http.MethodPost, a.baseURL+"/chat/completions", headers, a.payload(req, model, true))
	if err != nil {
		return nil, a.classify(err)
	}
	return body, nil
}

func (a *Adapter) Embed(ctx context.Context, req gwtypes.EmbeddingRequest, model provider.ModelInfo) (gwtypes.EmbeddingResponse, error) {
	type embedPayload struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	type embedResponse struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}
	var out embedResponse
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + a.apiKey,
	}
	err := provider.DoRequest(ctx, a.client, http.MethodPost, a.baseURL+"/embeddings", headers,
		embedPayload{Model: model.ProviderModelID, Input: req.Input}, &out)
	if err != nil {
		return gwtypes.EmbeddingResponse{}, a.classify(err)
	}
	resp := gwtypes.EmbeddingResponse{Model: model.LogicalModelID, Provider: a.id}
	for _, d := range out.Data {
		resp.Data = append(resp.Data, d.Embedding)
	}
	resp.Usage = gwtypes.Usage{PromptTokens: out.Usage.PromptTokens, TotalTokens: out.Usage.TotalTokens}
	return resp, nil
}

// classify maps a *gwerrors.StatusError (or other transport error) to a
// classified gwerrors.GatewayError, per §4.6/§7.
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
	case strings.Contains(se.Body, "context_length_exceeded"):
		return gwerrors.New(gwerrors.KindBadRequest, se.Body)
	case se.StatusCode == 400:
		return gwerrors.New(gwerrors.KindBadRequest, se.Body)
	default:
		return gwerrors.New(gwerrors.KindUpstreamError, se.Body)
	}
}

// ParseSSELine extracts the JSON payload of one OpenAI-style `data: ...`
// SSE frame, reporting done=true on the `[DONE]` terminator.
func ParseSSELine(line string) (payload []byte, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return nil, false, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return nil, true, true
	}
	return []byte(data), false, true
}
