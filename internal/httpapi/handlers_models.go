package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/coregate/gateway/internal/gwtypes"
)

type modelInfoDTO struct {
	LogicalModelID string              `json:"logicalModelId"`
	Provider       string              `json:"provider"`
	DisplayName    string              `json:"displayName,omitempty"`
	ContextWindow  int                 `json:"contextWindow"`
	Capabilities   gwtypes.Capabilities `json:"capabilities"`
}

// ModelsHandler implements GET /api/v1/models: the known LogicalModelIds
// with capabilities, drawn from every registered adapter (§6).
func ModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out []modelInfoDTO
		for _, a := range d.Registry.All() {
			for _, m := range a.Models() {
				out = append(out, modelInfoDTO{
					LogicalModelID: m.LogicalModelID,
					Provider:       a.Name(),
					ContextWindow:  m.ContextWindow,
					Capabilities:   m.Capabilities,
				})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"models": out})
	}
}
