package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/coregate/gateway/internal/gwerrors"
)

// Problem is the §6 error body: {title, detail, status, code,
// extensions{correlationId, provider?, providerErrorCode?}}.
type Problem struct {
	Title      string          `json:"title"`
	Detail     string          `json:"detail"`
	Status     int             `json:"status"`
	Code       string          `json:"code"`
	Extensions ProblemExtensions `json:"extensions"`
}

type ProblemExtensions struct {
	CorrelationID     string `json:"correlationId"`
	Provider          string `json:"provider,omitempty"`
	ProviderErrorCode string `json:"providerErrorCode,omitempty"`
}

func problemFor(status int, code, detail string) Problem {
	return Problem{Title: http.StatusText(status), Detail: detail, Status: status, Code: code}
}

// classifyErr converts a pipeline/router/adapter error into a Problem,
// consulting gwerrors.GatewayError for the taxonomy kind when the error
// was classified at the adapter boundary (§7), and falling back to
// internal_error otherwise.
func classifyErr(err error) Problem {
	if ge, ok := gwerrors.As(err); ok {
		p := problemFor(ge.Kind.HTTPStatus(), string(ge.Kind), ge.Error())
		p.Extensions.Provider = ge.Provider
		return p
	}
	return problemFor(http.StatusInternalServerError, string(gwerrors.KindInternalError), err.Error())
}

// writeProblem writes p as the JSON response body, stamping the request's
// correlation id into the extensions and setting the status line.
func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.Extensions.CorrelationID = correlationIDFrom(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeErr classifies err and writes the resulting Problem.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	writeProblem(w, r, classifyErr(err))
}
