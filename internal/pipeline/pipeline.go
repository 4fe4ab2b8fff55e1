// Package pipeline composes the gateway's per-request components (C10):
// filter, cache, router, registry, retry, circuit breaker, ledger, and
// streaming fan-out, into the single completion/embedding flow described in
// §4.10. It owns orchestration only — every policy decision (what counts
// as retryable, how fallback candidates are chosen, what a cache key is)
// lives in the component that implements it.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/coregate/gateway/internal/breaker"
	"github.com/coregate/gateway/internal/cache"
	"github.com/coregate/gateway/internal/events"
	"github.com/coregate/gateway/internal/filter"
	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/ledger"
	"github.com/coregate/gateway/internal/provider"
	"github.com/coregate/gateway/internal/registry"
	"github.com/coregate/gateway/internal/retry"
	"github.com/coregate/gateway/internal/router"
	"github.com/coregate/gateway/internal/streamfanout"
	"github.com/coregate/gateway/internal/tokenizer"
)

// Pipeline wires the request-handling components together. Construct with
// New; all fields are otherwise unexported.
type Pipeline struct {
	filter   *filter.Filter
	cache    *cache.Cache
	router   *router.Router
	registry *registry.Registry
	ledger   *ledger.Ledger
	breakers *breaker.Table
	retryCfg retry.Config
	bus      *events.Bus
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithEventBus(bus *events.Bus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Pipeline) { p.retryCfg = cfg }
}

func New(f *filter.Filter, c *cache.Cache, r *router.Router, reg *registry.Registry, l *ledger.Ledger, brk *breaker.Table, opts ...Option) *Pipeline {
	p := &Pipeline{
		filter:   f,
		cache:    c,
		router:   r,
		registry: reg,
		ledger:   l,
		breakers: brk,
		retryCfg: retry.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func concatMessages(msgs []gwtypes.Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// Complete runs the non-streaming pipeline (§4.10, steps 1-9).
func (p *Pipeline) Complete(ctx context.Context, req gwtypes.Request) (gwtypes.Response, error) {
	effectiveID, err := p.router.ResolveAlias(req.LogicalModelID)
	if err != nil {
		return gwtypes.Response{}, err
	}
	effective := req
	effective.LogicalModelID = effectiveID

	if res := p.filter.CheckPrompt(concatMessages(effective.Messages)); !res.Allowed {
		return gwtypes.Response{}, gwerrors.New(gwerrors.KindContentFiltered, res.Reason)
	}

	tried := map[string]bool{}
	candidate := effectiveID
	var lastErr error

	for {
		tried[candidate] = true
		resp, hit, decision, model, err := p.attempt(ctx, effective, candidate)
		if err == nil {
			if !hit {
				mapping := gwtypes.ModelMapping{LogicalModelID: candidate, ProviderName: decision.Provider, Pricing: model.Pricing}
				p.recordUsageAsync(mapping, resp, req)
			} else if p.bus != nil {
				p.bus.Publish(events.Event{Type: events.EventRouteSuccess, ModelID: candidate, ProviderID: decision.Provider, Reason: "cache_hit"})
			}
			return resp, nil
		}

		lastErr = err
		kind := gwerrors.KindUpstreamError
		if ge, ok := gwerrors.As(err); ok {
			kind = ge.Kind
		}
		// budget_exceeded and content_filtered are terminal: never
		// fallback-eligible, per §4.10 steps 2-3 and §7.
		if kind == gwerrors.KindBudgetExceeded || kind == gwerrors.KindContentFiltered {
			return gwtypes.Response{}, err
		}

		chain := p.router.FallbackChain(candidate, kind, tried)
		if len(chain) == 0 {
			return gwtypes.Response{}, lastErr
		}
		candidate = chain[0]
	}
}

// attempt performs one routing+call cycle for a single candidate model:
// route, resolve adapter and model info, check budget, then cache-or-call.
func (p *Pipeline) attempt(ctx context.Context, req gwtypes.Request, candidate string) (gwtypes.Response, bool, gwtypes.RoutingDecision, provider.ModelInfo, error) {
	routeReq := req
	routeReq.LogicalModelID = candidate

	decision, err := p.router.Route(routeReq)
	if err != nil {
		return gwtypes.Response{}, false, decision, provider.ModelInfo{}, err
	}
	adapter, err := p.registry.Get(decision.Provider)
	if err != nil {
		return gwtypes.Response{}, false, decision, provider.ModelInfo{}, err
	}
	model, err := adapter.Model(decision.LogicalModelID)
	if err != nil {
		return gwtypes.Response{}, false, decision, model, err
	}

	if req.User != "" {
		if err := p.checkBudget(ctx, routeReq, req.User, req.ProjectID, model); err != nil {
			return gwtypes.Response{}, false, decision, model, err
		}
	}

	key := cache.Fingerprint(decision.Provider, routeReq)
	resp, hit, err := p.cache.GetOrFill(key, routeReq, func() (gwtypes.Response, error) {
		return p.callAdapter(ctx, adapter, decision.Provider, routeReq, model)
	})
	return resp, hit, decision, model, err
}

func (p *Pipeline) checkBudget(ctx context.Context, req gwtypes.Request, userID, projectID string, model provider.ModelInfo) error {
	est := tokenizer.EstimateForRequest(req, model.ContextWindow)
	cost := float64(est.PromptTokens)*model.Pricing.InputPerToken + float64(est.EstCompletionTokens)*model.Pricing.OutputPerToken
	ok, _, err := p.ledger.IsWithinBudget(ctx, userID, projectID, cost)
	if err != nil {
		// A budget-store read failure fails open: it never blocks a call
		// that would otherwise be allowed.
		return nil
	}
	if !ok {
		return gwerrors.New(gwerrors.KindBudgetExceeded, "projected spend exceeds enforced budget")
	}
	return nil
}

// callAdapter executes the adapter call inside the retry loop wrapped by
// the circuit breaker (§4.10 step 7), then applies the completion filter
// (step 8). Cache admission happens in the caller's GetOrFill closure.
func (p *Pipeline) callAdapter(ctx context.Context, a provider.Adapter, providerName string, req gwtypes.Request, model provider.ModelInfo) (gwtypes.Response, error) {
	if !p.breakers.Allow(providerName) {
		return gwtypes.Response{}, gwerrors.New(gwerrors.KindCircuitOpen, "circuit open for "+providerName)
	}

	resp, err := retry.Do(ctx, p.retryCfg, func(ctx context.Context) (gwtypes.Response, error) {
		return a.Complete(ctx, req, model)
	})
	if err != nil {
		p.breakers.RecordFailure(providerName, err.Error())
		return gwtypes.Response{}, err
	}
	p.breakers.RecordSuccess(providerName)

	for i := range resp.Choices {
		res := p.filter.CheckCompletion(resp.Choices[i].Message.Content)
		if !res.Allowed {
			resp.Choices[i].Message.Content = "[Content filtered]"
			resp.Choices[i].FinishReason = gwtypes.FinishContentFilter
		}
	}
	return resp, nil
}

// Embed runs the non-streaming embedding pipeline: alias resolution,
// routing, budget check, breaker-guarded call, async ledger write. Mirrors
// Complete but skips content filtering and response caching — neither
// applies to an embedding vector per §4.6's embeddings note.
func (p *Pipeline) Embed(ctx context.Context, req gwtypes.EmbeddingRequest) (gwtypes.EmbeddingResponse, error) {
	effectiveID, err := p.router.ResolveAlias(req.LogicalModelID)
	if err != nil {
		return gwtypes.EmbeddingResponse{}, err
	}

	tried := map[string]bool{}
	candidate := effectiveID
	var lastErr error

	for {
		tried[candidate] = true
		resp, decision, model, err := p.attemptEmbed(ctx, req, candidate)
		if err == nil {
			mapping := gwtypes.ModelMapping{LogicalModelID: candidate, ProviderName: decision.Provider, Pricing: model.Pricing}
			p.recordEmbeddingUsageAsync(mapping, resp, req)
			return resp, nil
		}

		lastErr = err
		kind := gwerrors.KindUpstreamError
		if ge, ok := gwerrors.As(err); ok {
			kind = ge.Kind
		}
		if kind == gwerrors.KindBudgetExceeded {
			return gwtypes.EmbeddingResponse{}, err
		}

		chain := p.router.FallbackChain(candidate, kind, tried)
		if len(chain) == 0 {
			return gwtypes.EmbeddingResponse{}, lastErr
		}
		candidate = chain[0]
	}
}

func (p *Pipeline) attemptEmbed(ctx context.Context, req gwtypes.EmbeddingRequest, candidate string) (gwtypes.EmbeddingResponse, gwtypes.RoutingDecision, provider.ModelInfo, error) {
	routeReq := gwtypes.Request{LogicalModelID: candidate, User: req.User, ProjectID: req.ProjectID, RequestID: req.RequestID}
	decision, err := p.router.Route(routeReq)
	if err != nil {
		return gwtypes.EmbeddingResponse{}, decision, provider.ModelInfo{}, err
	}
	adapter, err := p.registry.Get(decision.Provider)
	if err != nil {
		return gwtypes.EmbeddingResponse{}, decision, provider.ModelInfo{}, err
	}
	model, err := adapter.Model(decision.LogicalModelID)
	if err != nil {
		return gwtypes.EmbeddingResponse{}, decision, model, err
	}

	if req.User != "" {
		if err := p.checkBudget(ctx, routeReq, req.User, req.ProjectID, model); err != nil {
			return gwtypes.EmbeddingResponse{}, decision, model, err
		}
	}

	if !p.breakers.Allow(decision.Provider) {
		return gwtypes.EmbeddingResponse{}, decision, model, gwerrors.New(gwerrors.KindCircuitOpen, "circuit open for "+decision.Provider)
	}
	embedReq := req
	embedReq.LogicalModelID = candidate
	resp, err := retry.Do(ctx, p.retryCfg, func(ctx context.Context) (gwtypes.EmbeddingResponse, error) {
		return adapter.Embed(ctx, embedReq, model)
	})
	if err != nil {
		p.breakers.RecordFailure(decision.Provider, err.Error())
		return gwtypes.EmbeddingResponse{}, decision, model, err
	}
	p.breakers.RecordSuccess(decision.Provider)
	return resp, decision, model, nil
}

func (p *Pipeline) recordEmbeddingUsageAsync(mapping gwtypes.ModelMapping, resp gwtypes.EmbeddingResponse, req gwtypes.EmbeddingRequest) {
	if p.ledger == nil {
		return
	}
	go func() {
		ctx := context.Background()
		if _, err := p.ledger.TrackEmbedding(ctx, mapping, resp, req.User, req.RequestID, req.ProjectID, nil); err != nil {
			p.logger.Error("ledger write failed", "error", err, "requestId", req.RequestID)
		}
	}()
}

// recordUsageAsync writes the cost record and accrues budget spend off the
// request's critical path, per §5: "callers do not block on the write."
func (p *Pipeline) recordUsageAsync(mapping gwtypes.ModelMapping, resp gwtypes.Response, req gwtypes.Request) {
	if p.ledger == nil {
		return
	}
	go func() {
		ctx := context.Background()
		if _, err := p.ledger.TrackCompletion(ctx, mapping, resp, req.User, req.RequestID, req.ProjectID, nil); err != nil {
			p.logger.Error("ledger write failed", "error", err, "requestId", req.RequestID)
		}
	}()
}

// openStream establishes the upstream connection for a single candidate
// model: route, resolve adapter/model, budget check, breaker-guarded
// connect. No retry happens once bytes have started flowing — only the
// connect step itself is inside the retry loop, per §4.11's "retry is a
// policy of the caller on the first byte only."
func (p *Pipeline) openStream(ctx context.Context, req gwtypes.Request, candidate string) (io.ReadCloser, gwtypes.RoutingDecision, provider.ModelInfo, error) {
	routeReq := req
	routeReq.LogicalModelID = candidate
	routeReq.Stream = true

	decision, err := p.router.Route(routeReq)
	if err != nil {
		return nil, decision, provider.ModelInfo{}, err
	}
	adapter, err := p.registry.Get(decision.Provider)
	if err != nil {
		return nil, decision, provider.ModelInfo{}, err
	}
	model, err := adapter.Model(decision.LogicalModelID)
	if err != nil {
		return nil, decision, model, err
	}
	if req.User != "" {
		if err := p.checkBudget(ctx, routeReq, req.User, req.ProjectID, model); err != nil {
			return nil, decision, model, err
		}
	}
	if !p.breakers.Allow(decision.Provider) {
		return nil, decision, model, gwerrors.New(gwerrors.KindCircuitOpen, "circuit open for "+decision.Provider)
	}

	body, err := retry.Do(ctx, p.retryCfg, func(ctx context.Context) (io.ReadCloser, error) {
		return adapter.CompleteStream(ctx, routeReq, model)
	})
	if err != nil {
		p.breakers.RecordFailure(decision.Provider, err.Error())
		return nil, decision, model, err
	}
	p.breakers.RecordSuccess(decision.Provider)
	return body, decision, model, nil
}

// CompleteStream runs the streaming pipeline. It returns a channel of
// uniform chunks; the channel always receives a terminal chunk (finishReason
// set) before closing, even on upstream failure mid-stream.
func (p *Pipeline) CompleteStream(ctx context.Context, req gwtypes.Request) (<-chan gwtypes.ResponseChunk, error) {
	effectiveID, err := p.router.ResolveAlias(req.LogicalModelID)
	if err != nil {
		return nil, err
	}
	effective := req
	effective.LogicalModelID = effectiveID
	effective.Stream = true

	if res := p.filter.CheckPrompt(concatMessages(effective.Messages)); !res.Allowed {
		return nil, gwerrors.New(gwerrors.KindContentFiltered, res.Reason)
	}

	tried := map[string]bool{}
	candidate := effectiveID
	var body io.ReadCloser
	var decision gwtypes.RoutingDecision
	var model provider.ModelInfo
	var lastErr error

	for {
		tried[candidate] = true
		var err error
		body, decision, model, err = p.openStream(ctx, effective, candidate)
		if err == nil {
			break
		}
		lastErr = err
		kind := gwerrors.KindUpstreamError
		if ge, ok := gwerrors.As(err); ok {
			kind = ge.Kind
		}
		if kind == gwerrors.KindBudgetExceeded || kind == gwerrors.KindContentFiltered {
			return nil, err
		}
		chain := p.router.FallbackChain(candidate, kind, tried)
		if len(chain) == 0 {
			return nil, lastErr
		}
		candidate = chain[0]
	}

	out := make(chan gwtypes.ResponseChunk)
	mapping := gwtypes.ModelMapping{LogicalModelID: decision.LogicalModelID, ProviderName: decision.Provider, Pricing: model.Pricing}
	go p.drainStream(ctx, body, mapping, req, out)
	return out, nil
}

// drainStream forwards Fan-out's uniform chunks, applying the completion
// filter per delta and accumulating usage for the end-of-stream ledger
// write (§4.10's streaming paragraph).
func (p *Pipeline) drainStream(ctx context.Context, body io.ReadCloser, mapping gwtypes.ModelMapping, req gwtypes.Request, out chan<- gwtypes.ResponseChunk) {
	defer close(out)

	raw := streamfanout.Fanout(ctx, body)
	var usage gwtypes.Usage
	partial := false

	for chunk := range raw {
		if chunk.Delta.Content != "" {
			res := p.filter.CheckCompletion(chunk.Delta.Content)
			if !res.Allowed {
				chunk.Delta.Content = "[Content filtered]"
				chunk.FinishReason = gwtypes.FinishContentFilter
			}
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.FinishReason == gwtypes.FinishError {
			partial = true
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			partial = true
			p.recordStreamUsage(mapping, usage, req, true)
			return
		}
	}
	p.recordStreamUsage(mapping, usage, req, partial)
}

func (p *Pipeline) recordStreamUsage(mapping gwtypes.ModelMapping, usage gwtypes.Usage, req gwtypes.Request, partial bool) {
	if p.ledger == nil {
		return
	}
	go func() {
		ctx := context.Background()
		var err error
		if partial {
			_, err = p.ledger.TrackPartial(ctx, mapping, usage.PromptTokens, usage.CompletionTokens, req.User, req.RequestID, req.ProjectID, nil)
		} else {
			resp := gwtypes.Response{Usage: usage}
			_, err = p.ledger.TrackCompletion(ctx, mapping, resp, req.User, req.RequestID, req.ProjectID, nil)
		}
		if err != nil {
			p.logger.Error("ledger stream write failed", "error", err, "requestId", req.RequestID)
		}
	}()
}
