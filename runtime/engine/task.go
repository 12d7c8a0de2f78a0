package engine

import (
	"context"
	"errors"
	"fmt"

	"procflow/runtime"
)

// taskBody runs a registered handler against the evaluated input template.
// A nil handler makes the task a pass-through that only materializes its
// INPUT variable.
type taskBody struct {
	t       *taskRuntime
	handler runtime.TaskHandler
}

func newTaskBody(t *taskRuntime) (*taskBody, error) {
	b := &taskBody{t: t}
	if t.def.Handler != "" {
		h, ok := t.eng.registry.Handler(t.def.Handler)
		if !ok {
			return nil, fmt.Errorf("task %s: unknown handler %q", t.def.ID, t.def.Handler)
		}
		b.handler = h
	}
	return b, nil
}

func (b *taskBody) run(ctx context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	var vars []runtime.Variable
	input := map[string]any{}

	if b.t.input != nil {
		raw, err := b.t.input.Evaluate(inst.Variables)
		if err != nil {
			return TaskResult{}, err
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return TaskResult{}, fmt.Errorf("task %s: input evaluated to %T, want map", b.t.def.ID, raw)
		}
		input = m
		vars = append(vars, runtime.Variable{TaskID: b.t.def.ID, Type: runtime.VariableInput, Payload: input})
	}

	if b.handler == nil {
		return continueResult(vars...), nil
	}

	out, err := b.handler.Execute(ctx, input)
	if err != nil {
		var susp *runtime.SuspendExecution
		if errors.As(err, &susp) {
			r := waitResult(susp.Callback, susp.Payload)
			r.Variables = vars
			return r, nil
		}
		return TaskResult{}, err
	}

	if out != nil {
		vars = append(vars, runtime.Variable{TaskID: b.t.def.ID, Type: runtime.VariableOutput, Payload: out})
	}
	return continueResult(vars...), nil
}
