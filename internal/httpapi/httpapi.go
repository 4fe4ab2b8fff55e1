// Package httpapi binds the gateway's pipeline to the §6 HTTP/WS surface:
// chi routing, request-id/correlation-id propagation, API-key auth, rate
// limiting, and problem-document error translation, grounded on
// eugener-gandalf's cmd/gandalf/run.go chi.Router wiring and middleware
// layering.
package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/coregate/gateway/internal/config"
	"github.com/coregate/gateway/internal/events"
	"github.com/coregate/gateway/internal/logging"
	"github.com/coregate/gateway/internal/metrics"
	"github.com/coregate/gateway/internal/pipeline"
	"github.com/coregate/gateway/internal/ratelimit"
	"github.com/coregate/gateway/internal/registry"
	"github.com/coregate/gateway/internal/breaker"
	"github.com/coregate/gateway/internal/store"
	"github.com/coregate/gateway/internal/temporal"
	"github.com/coregate/gateway/internal/tracing"
)

// Dependencies are the collaborators MountRoutes wires into the handlers.
// Every field but Pipeline/Config is optional; a nil collaborator disables
// the behavior it backs (e.g. nil RateLimiter means no rate limiting, nil
// EventBus means the admin trace stream and WS /ws carry no cross-request
// events).
type Dependencies struct {
	Pipeline    *pipeline.Pipeline
	Config      *config.Manager
	Registry    *registry.Registry
	Breakers    *breaker.Table
	Metrics     *metrics.Registry
	Store       store.Store
	EventBus    *events.Bus
	RateLimiter *ratelimit.Limiter
	Logger      *slog.Logger

	// Temporal, when non-nil, routes POST /completions/batch through a
	// durable BatchCompletionWorkflow instead of the in-process
	// goroutine+semaphore dispatch. A nil Temporal is the default and keeps
	// the simpler in-process path.
	Temporal *temporal.Manager

	// RequireAPIKey, when true, rejects requests to the completion/
	// embedding endpoints that carry neither X-API-Key nor a Bearer token.
	// Per §1's non-goal, full JWT/API-key permission-scoping (the
	// Completion/Embedding permission distinction in §6's auth column) is
	// out of scope; this is the thin presence check that remains.
	RequireAPIKey bool

	// AdminToken, when non-empty, protects /admin/v1 with a constant-time
	// Bearer comparison.
	AdminToken string
}

// maxRequestBodySize bounds POST/PUT/PATCH bodies to 10 MiB.
const maxRequestBodySize = 10 << 20

func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// correlationMiddleware propagates X-Correlation-ID end to end per §6: echo it if
// the caller supplied one, otherwise mint a fresh one. The chi request id
// (X-Request-ID) is scoped to this process's in-memory counter, so a caller
// with no X-Correlation-ID gets a globally unique uuid instead rather than
// reusing an id that collides across gateway instances.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get("X-Correlation-ID")
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", cid)
		w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(withCorrelationID(r.Context(), cid)))
	})
}

// apiKeyAuthMiddleware enforces the thin presence check described on
// Dependencies.RequireAPIKey and attaches the resolved key to context so
// handlers can attribute requests to a caller (gwtypes.Request.User).
func apiKeyAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key == "" {
			writeProblem(w, r, problemFor(http.StatusUnauthorized, "auth_failed", "missing API key"))
			return
		}
		next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), key)))
	})
}

func adminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, "Bearer ")), []byte(token)) != 1 {
				slog.Warn("admin auth rejected", slog.String("path", r.URL.Path))
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MountRoutes attaches the full §6 surface to r.
func MountRoutes(r chi.Router, d Dependencies) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r.Use(middleware.RequestID)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(d.Logger))
	r.Use(correlationMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID", "X-Correlation-ID"},
		MaxAge:           300,
	}))

	r.Get("/api/v1/health", HealthHandler(d))
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		if d.RequireAPIKey {
			r.Use(apiKeyAuthMiddleware)
		}
		r.Get("/models", ModelsHandler(d))
		r.Post("/completions", CompletionsHandler(d))
		r.Post("/completions/stream", CompletionsStreamHandler(d))
		r.Post("/completions/batch", CompletionsBatchHandler(d))
		r.Post("/embeddings", EmbeddingsHandler(d))
	})

	r.Handle("/ws", WebSocketHandler(d))

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != "" {
			r.Use(adminAuthMiddleware(d.AdminToken))
		}
		r.Get("/circuits", AdminCircuitsHandler(d))
		r.Get("/health", AdminHealthHandler(d))
		r.Get("/cache", AdminCacheHandler(d))
		r.Get("/budgets", AdminBudgetsHandler(d))
		if d.EventBus != nil {
			r.Get("/events", AdminEventsHandler(d))
		}
	})
}
