// Package anthropic adapts the Anthropic Messages API to the gateway's
// provider.Adapter contract: x-api-key/anthropic-version headers and
// status classification on top of the common provider.DoRequest/
// DoStreamRequest transport helpers.
package anthropic

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

const anthropicVersion = "2023-06-01"

// Adapter calls the Anthropic Messages API.
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

// New creates an Anthropic adapter. Its HTTP client times out after 30s
// unless WithTimeout sets another value; WithTimeout(0) disables the timeout.
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

func (a *Adapter) SupportsStreaming() bool  { return true }
func (a *Adapter) SupportsMultiModal() bool { return true }

// IsAvailable probes the messages endpoint; Anthropic has no dedicated
// health endpoint so a bare GET (405 Method Not Allowed) proves reachability.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/messages", nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesPayload struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
	Temperature float64           `json:"temperature,omitempty"`
	TopP        float64           `json:"top_p,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// toPayload splits out system messages, since Anthropic takes them as a
// top-level field rather than a role within the message list.
func toPayload(req gwtypes.Request, model provider.ModelInfo, stream bool) messagesPayload {
	var system strings.Builder
	var messages []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == gwtypes.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	maxTokens := req.Parameters.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return messagesPayload{
		Model:       model.ProviderModelID,
		System:      system.String(),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Parameters.Temperature,
		TopP:        req.Parameters.TopP,
		Stream:      stream,
	}
}

func finishReasonOf(stopReason string) gwtypes.FinishReason {
	switch stopReason {
	case "max_tokens":
		return gwtypes.FinishLength
	case "tool_use":
		return gwtypes.FinishToolCalls
	case "end_turn", "stop_sequence":
		return gwtypes.FinishStop
	default:
		return gwtypes.FinishStop
	}
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"Content-Type":      "application/json",
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (a *Adapter) Complete(ctx context.Context, req gwtypes.Request, model provider.ModelInfo) (gwtypes.Response, error) {
	var out messagesResponse
	err := provider.DoRequest(ctx, a.client, http.MethodPost, a.baseURL+"/v1/messages", a.headers(), toPayload(req, model, false), &out)
	if err != nil {
		return gwtypes.Response{}, a.classify(err)
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return gwtypes.Response{
		ID:       out.ID,
		Model:    model.LogicalModelID,
		Provider: a.id,
		Choices: []gwtypes.Choice{{
			Index:        0,
			Message:      gwtypes.ChoiceMessage{Role: gwtypes.RoleAssistant, Content: text.String()},
			FinishReason: finishReasonOf(out.StopReason),
		}},
		Usage: gwtypes.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

func (a *Adapter) CompleteStream(ctx context.Context, req gwtypes.Request, model provider.ModelInfo) (io.ReadCloser, error) {
	headers := a.headers()
	headers["Accept"] = "text/event-stream"
	body, err := provider.DoStreamRequest(ctx, a.client, http.MethodPost, a.baseURL+"/v1/messages", headers, toPayload(req, model, true))
	if err != nil {
		return nil, a.classify(err)
	}
	return body, nil
}

// Embed fails: Anthropic does not expose an embeddings API, per §4.6's
// "adapters unable to support an operation return gwerrors.KindNotSupported"
// rule.
func (a *Adapter) Embed(ctx context.Context, req gwtypes.EmbeddingRequest, model provider.ModelInfo) (gwtypes.EmbeddingResponse, error) {
	return gwtypes.EmbeddingResponse{}, gwerrors.New(gwerrors.KindNotSupported, "anthropic does not support embeddings")
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
	case se.StatusCode == 429 || se.StatusCode == 529:
		ge := gwerrors.New(gwerrors.KindRateLimitExceeded, se.Body)
		ge.RetryAfterSecs = se.RetryAfterSecs
		return ge
	case se.StatusCode >= 500:
		return gwerrors.New(gwerrors.KindProviderUnavailable, se.Body)
	case strings.Contains(se.Body, "prompt is too long") || strings.Contains(se.Body, "prompt_too_long"):
		return gwerrors.New(gwerrors.KindBadRequest, se.Body)
	case se.StatusCode == 400:
		return gwerrors.New(gwerrors.KindBadRequest, se.Body)
	default:
		return gwerrors.New(gwerrors.KindUpstreamError, se.Body)
	}
}
