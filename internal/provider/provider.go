// Package provider defines the uniform contract every upstream adapter
// implements (C6): a request-id context helper plus a shared HTTP call
// helper, on top of the gwtypes.Request/Response model.
package provider

import (
	"context"
	"io"

	"github.com/coregate/gateway/internal/gwtypes"
)

// ModelInfo describes one model a provider exposes.
type ModelInfo struct {
	LogicalModelID  string
	ProviderModelID string
	ContextWindow   int
	Pricing         gwtypes.Pricing
	Capabilities    gwtypes.Capabilities
}

// Adapter is the common contract every upstream (OpenAI, Anthropic, vLLM,
// Cohere, ...) implements, per §4.6.
type Adapter interface {
	Name() string
	Models() []ModelInfo
	// Model fails with gwerrors.KindModelNotFound if logicalID is unknown.
	Model(logicalID string) (ModelInfo, error)
	Complete(ctx context.Context, req gwtypes.Request, model ModelInfo) (gwtypes.Response, error)
	// CompleteStream returns a reader of provider-native SSE/chunk bytes;
	// Fan-out (C11) parses it into the uniform chunk sequence. Safe to
	// cancel mid-stream: canceling ctx drains and closes the upstream
	// connection.
	CompleteStream(ctx context.Context, req gwtypes.Request, model ModelInfo) (io.ReadCloser, error)
	Embed(ctx context.Context, req gwtypes.EmbeddingRequest, model ModelInfo) (gwtypes.EmbeddingResponse, error)
	IsAvailable(ctx context.Context) bool
	SupportsStreaming() bool
	SupportsMultiModal() bool
}

// requestIDKey is a private context key.
type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// WithRequestID attaches a request id to ctx for adapters to forward as a
// correlation header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request id set by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
