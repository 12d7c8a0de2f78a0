package engine

import (
	"context"

	"procflow/runtime"
)

// returnBody ends the process or branch with its evaluated input as the
// return value. Without an input it is a plain fall-through.
type returnBody struct {
	t *taskRuntime
}

func (b *returnBody) run(_ context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	if b.t.input == nil {
		return continueResult(), nil
	}
	value, err := b.t.input.Evaluate(inst.Variables)
	if err != nil {
		return TaskResult{}, err
	}
	return completedResult(value,
		runtime.Variable{TaskID: b.t.def.ID, Type: runtime.VariableOutput, Payload: value}), nil
}
