package engine

import (
	"context"
	"fmt"

	"procflow/runtime"
)

// subProcessBody starts a child instance of another definition and parks the
// parent in WAIT. The child's completion signals the parent: Resume carrying
// the child's return value, StopFailed on failure. The child is persisted
// before the parent's WAIT state; starting it is deferred until after.
type subProcessBody struct {
	t      *taskRuntime
	target *ProcessRuntime
}

func newSubProcessBody(t *taskRuntime) (*subProcessBody, error) {
	target, err := t.eng.runtimeFor(t.def.SubProcessID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.def.ID, err)
	}
	return &subProcessBody{t: t, target: target}, nil
}

func (b *subProcessBody) run(ctx context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	payload := map[string]any{}
	var vars []runtime.Variable
	if b.t.input != nil {
		raw, err := b.t.input.Evaluate(inst.Variables)
		if err != nil {
			return TaskResult{}, err
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return TaskResult{}, fmt.Errorf("task %s: input evaluated to %T, want map", b.t.def.ID, raw)
		}
		payload = m
		vars = append(vars, runtime.Variable{TaskID: b.t.def.ID, Type: runtime.VariableInput, Payload: payload})
	}

	if err := b.target.checkStart(payload); err != nil {
		return TaskResult{}, err
	}

	child := runtime.NewProcessInstance(b.target.def, b.target.env)
	child.ParentID = inst.ID
	child.RootID = inst.RootID
	child.ExecutionStrategy = inst.ExecutionStrategy
	child.Variables.Put(runtime.ProcessTaskID, runtime.VariableInput, payload)

	if err := b.t.eng.instances.Save(ctx, child); err != nil {
		return TaskResult{}, runtime.NewFatalError("SUBPROCESS_PERSIST",
			"persisting sub-process %s of %s: %v", child.ID, inst.ID, err)
	}
	if flushed := child.Variables.Flush(); len(flushed) > 0 {
		if err := b.t.eng.variables.SaveMany(ctx, child.ID, flushed); err != nil {
			return TaskResult{}, runtime.NewFatalError("SUBPROCESS_PERSIST",
				"persisting sub-process input of %s: %v", child.ID, err)
		}
	}

	b.t.l.InfoContext(ctx, "sub-process created", "instance", inst.ID, "child", child.ID, "process", b.target.def.ID)

	r := waitResult("subprocess", map[string]any{"instance": child.ID})
	r.Variables = vars
	r.After = StartInstancesCommand{InstanceIDs: []string{child.ID}}
	return r, nil
}
