package engine

import (
	"context"

	"procflow/runtime"
)

// conditionalBody routes without producing variables: first matching
// CONDITIONAL edge, else the DEFAULT edge, else the flow runs off the graph
// and completes.
type conditionalBody struct {
	t *taskRuntime
}

func (b *conditionalBody) run(_ context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	next, err := b.t.resolveNext(inst)
	if err != nil {
		return TaskResult{}, err
	}
	return overrideResult(next.Transitions), nil
}
