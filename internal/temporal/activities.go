package temporal

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/coregate/gateway/internal/pipeline"
)

// Activities holds dependencies for Temporal activity implementations.
type Activities struct {
	Pipeline *pipeline.Pipeline
}

// CompleteActivity runs one batch item through the completion pipeline —
// filtering, caching, routing, retry and circuit breaking all apply exactly
// as they do for a direct /completions call. Provider or policy failures are
// folded into BatchItemOutput.ErrorMessage rather than returned as an
// activity error, so one bad item never aborts the workflow or triggers
// Temporal's own retry policy for the whole batch.
func (a *Activities) CompleteActivity(ctx context.Context, input BatchItemInput) (BatchItemOutput, error) {
	activity.RecordHeartbeat(ctx, "completing")

	resp, err := a.Pipeline.Complete(ctx, input.Request)
	if err != nil {
		return BatchItemOutput{
			Index:        input.Index,
			ErrorMessage: err.Error(),
		}, nil
	}

	return BatchItemOutput{
		Index:    input.Index,
		Response: &resp,
	}, nil
}
