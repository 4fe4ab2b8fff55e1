package temporal

import "github.com/coregate/gateway/internal/gwtypes"

// BatchItemInput is one /completions/batch element dispatched as a Temporal
// activity invocation.
type BatchItemInput struct {
	Index   int             `json:"index"`
	Request gwtypes.Request `json:"request"`
}

// BatchItemOutput carries either a successful Response or an error message,
// never both. A failed item never fails BatchCompletionWorkflow — each item
// runs independently, matching the HTTP batch endpoint's own semantics.
type BatchItemOutput struct {
	Index        int               `json:"index"`
	Response     *gwtypes.Response `json:"response,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}
