package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coregate/gateway/internal/gwtypes"
)

// AdminCircuitsHandler exposes the per-provider circuit breaker state
// (§6's read-only admin surface), grounded on breaker.Table.Snapshot.
func AdminCircuitsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := map[string]any{}
		if d.Breakers != nil {
			for key, st := range d.Breakers.Snapshot() {
				snap[key] = st
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"circuits": snap})
	}
}

// AdminHealthHandler exposes the full per-provider health snapshot,
// including consecutive-error counts the unauthenticated /api/v1/health
// endpoint omits.
func AdminHealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"providers": d.Registry.AllStats()})
	}
}

// AdminCacheHandler exposes the metrics registry's cache hit/miss counters,
// without requiring callers to scrape Prometheus text format. The pipeline
// does not increment these counters, so both values read 0.
func AdminCacheHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cacheHitTotal":  testutil.ToFloat64(d.Metrics.CacheHitTotal),
			"cacheMissTotal": testutil.ToFloat64(d.Metrics.CacheMissTotal),
		})
	}
}

// AdminBudgetsHandler lists current budgets and accrued spend for a
// user/project pair, per §6's "current budgets and spend" admin item.
func AdminBudgetsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"budgets": []gwtypes.Budget{}})
			return
		}
		userID := r.URL.Query().Get("userId")
		projectID := r.URL.Query().Get("projectId")
		budgets, err := d.Store.ListBudgets(r.Context(), userID, projectID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"budgets": budgets})
	}
}

// AdminEventsHandler streams the routing trace sink (the same events.Bus
// the router/pipeline publish to) as Server-Sent Events, per §6's "routing
// trace sink" admin item.
func AdminEventsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeProblem(w, r, problemFor(http.StatusInternalServerError, "internal_error", "streaming unsupported"))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := d.EventBus.Subscribe(64)
		defer d.EventBus.Unsubscribe(sub)

		_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e := <-sub.C:
				_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.JSON())
				flusher.Flush()
			}
		}
	}
}
