package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const activityTimeout = 60 * time.Second

// BatchCompletionWorkflow replaces the in-process goroutine+semaphore
// dispatch of CompletionsBatchHandler with a durable one: each item is
// dispatched as its own activity and the workflow waits on every future
// before returning, preserving the "each item runs independently" batch
// semantics — a single failing item never fails its siblings or the
// workflow itself.
func BatchCompletionWorkflow(ctx workflow.Context, items []BatchItemInput) ([]BatchItemOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	futures := make([]workflow.Future, len(items))
	for i, item := range items {
		futures[i] = workflow.ExecuteActivity(ctx, (*Activities).CompleteActivity, item)
	}

	outputs := make([]BatchItemOutput, len(items))
	for i, f := range futures {
		var out BatchItemOutput
		if err := f.Get(ctx, &out); err != nil {
			outputs[i] = BatchItemOutput{Index: items[i].Index, ErrorMessage: err.Error()}
			continue
		}
		outputs[i] = out
	}

	return outputs, nil
}
