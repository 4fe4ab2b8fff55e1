package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.temporal.io/sdk/client"

	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/coregate/gateway/internal/temporal"
)

// temporalBreakerKey is the breaker.Table key guarding durable batch
// dispatch: a run of Temporal dial/start failures trips it open and batch
// requests fall back to the in-process dispatcher until it recovers.
const temporalBreakerKey = "temporal-batch-dispatch"

// requestFromBody decodes a gwtypes.Request and stamps in the request id
// and resolved API key, matching §6's "RequestID echoed or generated" and
// user attribution for routing/budget/ledger.
func requestFromBody(r *http.Request, req *gwtypes.Request) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return gwerrors.New(gwerrors.KindBadRequest, "invalid request body: "+err.Error())
	}
	if len(req.Messages) == 0 {
		return gwerrors.New(gwerrors.KindBadRequest, "messages required")
	}
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = middleware.GetReqID(r.Context())
	}
	req.RequestID = reqID
	if req.User == "" {
		req.User = apiKeyFrom(r.Context())
	}
	return nil
}

// CompletionsHandler implements POST /api/v1/completions.
func CompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gwtypes.Request
		if err := requestFromBody(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		req.Stream = false

		resp, err := d.Pipeline.Complete(r.Context(), req)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// CompletionsStreamHandler implements POST /api/v1/completions/stream,
// framing each ResponseChunk as an SSE event terminated by "data:
// [DONE]\n\n" per §6's SSE framing note.
func CompletionsStreamHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gwtypes.Request
		if err := requestFromBody(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		req.Stream = true

		chunks, err := d.Pipeline.CompleteStream(r.Context(), req)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeProblem(w, r, problemFor(http.StatusInternalServerError, string(gwerrors.KindInternalError), "streaming unsupported"))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		for chunk := range chunks {
			data, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
				d.Logger.Warn("sse write failed", slog.String("error", werr.Error()), slog.String("requestId", req.RequestID))
				return
			}
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}
}

// maxBatchSize is §6's "Batch of <=100 completion requests" cap.
const maxBatchSize = 100

// defaultBatchConcurrency is §6's "bounded concurrency (default 5)".
const defaultBatchConcurrency = 5

type batchRequest struct {
	Requests []gwtypes.Request `json:"requests"`
}

type batchResult struct {
	Index    int               `json:"index"`
	Response *gwtypes.Response `json:"response,omitempty"`
	Error    *Problem          `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
}

// dispatchBatchViaTemporal runs the batch through BatchCompletionWorkflow
// instead of the in-process goroutine+semaphore path, trading in-process
// simplicity for Temporal's durability and visibility on a batch.
// Per-item failures still surface as batchResult.Error, never as a workflow
// error; only a Temporal-level failure (dial, start, workflow execution
// error) returns an error here, which trips temporalBreakerKey.
func dispatchBatchViaTemporal(ctx context.Context, d Dependencies, baseReqID, apiKey string, reqs []gwtypes.Request) ([]batchResult, error) {
	items := make([]temporal.BatchItemInput, len(reqs))
	for i, req := range reqs {
		req.Stream = false
		req.RequestID = fmt.Sprintf("%s-%d", baseReqID, i)
		if req.User == "" {
			req.User = apiKey
		}
		items[i] = temporal.BatchItemInput{Index: i, Request: req}
	}

	run, err := d.Temporal.Client().ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("batch-%s", baseReqID),
		TaskQueue: d.Temporal.TaskQueue(),
	}, temporal.BatchCompletionWorkflow, items)
	if err != nil {
		return nil, fmt.Errorf("start batch workflow: %w", err)
	}

	var outputs []temporal.BatchItemOutput
	if err := run.Get(ctx, &outputs); err != nil {
		return nil, fmt.Errorf("batch workflow execution: %w", err)
	}

	results := make([]batchResult, len(outputs))
	for i, out := range outputs {
		if out.ErrorMessage != "" {
			p := problemFor(http.StatusBadGateway, string(gwerrors.KindUpstreamError), out.ErrorMessage)
			results[i] = batchResult{Index: out.Index, Error: &p}
			continue
		}
		results[i] = batchResult{Index: out.Index, Response: out.Response}
	}
	return results, nil
}

// CompletionsBatchHandler implements POST /api/v1/completions/batch: each
// item runs independently through the same pipeline, bounded to
// defaultBatchConcurrency in flight at once, so one slow/failed item never
// blocks the others' completion.
func CompletionsBatchHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body batchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, r, gwerrors.New(gwerrors.KindBadRequest, "invalid batch body: "+err.Error()))
			return
		}
		if len(body.Requests) == 0 {
			writeErr(w, r, gwerrors.New(gwerrors.KindBadRequest, "requests must be non-empty"))
			return
		}
		if len(body.Requests) > maxBatchSize {
			writeErr(w, r, gwerrors.New(gwerrors.KindBadRequest, fmt.Sprintf("batch exceeds max size %d", maxBatchSize)))
			return
		}

		apiKey := apiKeyFrom(r.Context())
		baseReqID := r.Header.Get("X-Request-ID")
		if baseReqID == "" {
			baseReqID = middleware.GetReqID(r.Context())
		}

		if d.Temporal != nil && (d.Breakers == nil || d.Breakers.Allow(temporalBreakerKey)) {
			results, err := dispatchBatchViaTemporal(r.Context(), d, baseReqID, apiKey, body.Requests)
			if err == nil {
				if d.Breakers != nil {
					d.Breakers.RecordSuccess(temporalBreakerKey)
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(batchResponse{Results: results})
				return
			}
			d.Logger.Warn("temporal batch dispatch failed, falling back to in-process dispatch", slog.String("error", err.Error()))
			if d.Breakers != nil {
				d.Breakers.RecordFailure(temporalBreakerKey, err.Error())
			}
		}

		results := make([]batchResult, len(body.Requests))
		sem := make(chan struct{}, defaultBatchConcurrency)
		var wg sync.WaitGroup
		for i, req := range body.Requests {
			wg.Add(1)
			go func(i int, req gwtypes.Request) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				req.Stream = false
				req.RequestID = fmt.Sprintf("%s-%d", baseReqID, i)
				if req.User == "" {
					req.User = apiKey
				}
				if len(req.Messages) == 0 {
					p := problemFor(http.StatusBadRequest, string(gwerrors.KindBadRequest), "messages required")
					results[i] = batchResult{Index: i, Error: &p}
					return
				}

				ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
				defer cancel()
				resp, err := d.Pipeline.Complete(ctx, req)
				if err != nil {
					p := classifyErr(err)
					results[i] = batchResult{Index: i, Error: &p}
					return
				}
				results[i] = batchResult{Index: i, Response: &resp}
			}(i, req)
		}
		wg.Wait()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(batchResponse{Results: results})
	}
}
