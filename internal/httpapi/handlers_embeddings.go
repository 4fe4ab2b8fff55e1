package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/coregate/gateway/internal/gwerrors"
	"github.com/coregate/gateway/internal/gwtypes"
)

// EmbeddingsHandler implements POST /api/v1/embeddings.
func EmbeddingsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gwtypes.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, r, gwerrors.New(gwerrors.KindBadRequest, "invalid request body: "+err.Error()))
			return
		}
		if len(req.Input) == 0 {
			writeErr(w, r, gwerrors.New(gwerrors.KindBadRequest, "input required"))
			return
		}
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = middleware.GetReqID(r.Context())
		}
		req.RequestID = reqID
		if req.User == "" {
			req.User = apiKeyFrom(r.Context())
		}

		resp, err := d.Pipeline.Embed(r.Context(), req)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
