package engine

import (
	"context"

	"procflow/runtime"
)

// forkBody fans execution out over every matching CONDITIONAL transition
// (DEFAULT when none is declared). With 0 or 1 selected branches execution
// proceeds inline; otherwise one child instance per branch is batch-persisted
// before the parent parks in WAIT, and the children are started only after
// that WAIT state is durable.
type forkBody struct {
	t *taskRuntime
}

func (b *forkBody) run(ctx context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	branches, err := b.selectBranches(inst)
	if err != nil {
		return TaskResult{}, err
	}

	if len(branches) <= 1 {
		return overrideResult(branches), nil
	}

	children := make([]*runtime.ProcessInstance, 0, len(branches))
	ids := make([]string, 0, len(branches))
	for _, br := range branches {
		child := runtime.NewProcessInstance(b.t.proc.def, inst.Env)
		child.CurrTaskID = br.TargetTaskID
		child.TerminateAtTaskID = b.t.def.JoinTaskID
		child.Concurrent = true
		child.ParentID = inst.ID
		child.RootID = inst.RootID
		child.ExecutionStrategy = inst.ExecutionStrategy
		// parent durables are visible to the branch without re-persisting
		child.Variables.Restore(inst.Variables.Variables()...)
		children = append(children, child)
		ids = append(ids, child.ID)
	}

	if err := b.t.eng.instances.SaveMany(ctx, children); err != nil {
		return TaskResult{}, runtime.NewFatalError("FORK_PERSIST",
			"persisting %d forked children of %s: %v", len(children), inst.ID, err)
	}
	if err := b.t.eng.instances.AddWaitingOnInstanceIDs(ctx, inst.ID, ids); err != nil {
		return TaskResult{}, runtime.NewFatalError("FORK_PERSIST",
			"registering waiting set of %s: %v", inst.ID, err)
	}

	b.t.l.InfoContext(ctx, "forked", "instance", inst.ID, "branches", len(ids))

	r := waitResult("fork", map[string]any{"instances": ids})
	r.After = StartInstancesCommand{InstanceIDs: ids}
	return r, nil
}

// selectBranches evaluates every CONDITIONAL transition and keeps all that
// match, falling back to the DEFAULT edge when none does.
func (b *forkBody) selectBranches(inst *runtime.ProcessInstance) ([]runtime.Transition, error) {
	var selected []runtime.Transition
	for i, tr := range b.t.def.Transitions {
		if tr.Type != runtime.TransitionConditional {
			continue
		}
		if b.t.preds[i] != nil {
			match, err := b.t.preds[i].Evaluate(inst.Variables)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		selected = append(selected, tr)
	}
	if len(selected) == 0 {
		if def, ok := b.t.def.DefaultTransition(); ok {
			selected = append(selected, def)
		}
	}
	return selected, nil
}

// signalNext resumes the parent at its join task once all branches reported.
func (b *forkBody) signalNext(_ *runtime.ProcessInstance) (Next, error) {
	return nextTo(runtime.Transition{
		Type:         runtime.TransitionDefault,
		TargetTaskID: b.t.def.JoinTaskID,
	}), nil
}
