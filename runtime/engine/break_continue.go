package engine

import (
	"context"
	"fmt"

	"procflow/runtime"
	"procflow/runtime/resolvable"
)

// jumpBody implements BREAK and CONTINUE. Both evaluate an optional condition
// and record whether the jump was taken as a STATE variable. BREAK routes to
// the owning loop's completion transition after clearing the loop state;
// CONTINUE routes back to the loop task for the next iteration.
type jumpBody struct {
	t       *taskRuntime
	cond    *resolvable.Predicate
	loopDef *runtime.TaskDefinition
	brk     bool
}

func newJumpBody(t *taskRuntime, brk bool) (*jumpBody, error) {
	loopDef, ok := t.proc.def.Tasks[t.def.ScopeID]
	if !ok || loopDef.Operator != runtime.OperatorLoop {
		return nil, fmt.Errorf("task %s: scope %q is not a loop task", t.def.ID, t.def.ScopeID)
	}

	b := &jumpBody{t: t, loopDef: loopDef, brk: brk}
	if t.def.Condition != "" {
		cond, err := resolvable.BuildPredicate(t.def.Condition)
		if err != nil {
			return nil, fmt.Errorf("task %s condition: %w", t.def.ID, err)
		}
		b.cond = cond
	}
	return b, nil
}

func (b *jumpBody) deps() []runtime.VariableKey {
	if b.cond == nil {
		return nil
	}
	return b.cond.Deps()
}

func (b *jumpBody) run(_ context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	taken := true
	if b.cond != nil {
		var err error
		taken, err = b.cond.Evaluate(inst.Variables)
		if err != nil {
			return TaskResult{}, err
		}
	}

	// the jump decision is recorded as a bare boolean STATE
	state := runtime.Variable{
		TaskID:  b.t.def.ID,
		Type:    runtime.VariableState,
		Payload: taken,
	}

	if !taken {
		return continueResult(state), nil
	}

	if b.brk {
		// leave the loop: drop its iteration state and take its completion edge
		inst.Variables.Delete(b.loopDef.ID, runtime.VariableTransient)
		r := overrideResult(nil, state,
			runtime.Variable{TaskID: b.loopDef.ID, Type: runtime.VariableState, Payload: nil})
		if def, ok := b.loopDef.DefaultTransition(); ok {
			r.Override = []runtime.Transition{def}
		}
		return r, nil
	}

	next := runtime.Transition{Type: runtime.TransitionDefault, TargetTaskID: b.loopDef.ID}
	return overrideResult([]runtime.Transition{next}, state), nil
}
