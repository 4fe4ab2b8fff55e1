package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/coregate/gateway/internal/registry"
)

type healthProviderDTO struct {
	Provider     string  `json:"provider"`
	State        string  `json:"state"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	LastError    string  `json:"lastError,omitempty"`
}

type healthResponse struct {
	Status    string              `json:"status"`
	Providers []healthProviderDTO `json:"providers"`
}

// HealthHandler implements GET /api/v1/health: unauthenticated aggregate
// health over providers (§6). Overall status is "ok" unless every
// registered provider is down.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := d.Registry.AllStats()
		out := make([]healthProviderDTO, 0, len(stats))
		allDown := len(stats) > 0
		for _, s := range stats {
			if s.State != registry.StateDown {
				allDown = false
			}
			out = append(out, healthProviderDTO{
				Provider:     s.ProviderName,
				State:        string(s.State),
				AvgLatencyMs: s.AvgLatencyMs,
				LastError:    s.LastError,
			})
		}
		status := "ok"
		httpStatus := http.StatusOK
		if allDown {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Providers: out})
	}
}
