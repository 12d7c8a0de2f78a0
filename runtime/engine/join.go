package engine

import (
	"context"
	"log/slog"

	"procflow/runtime"
)

// joinBody runs in the parent after the fork resumed there. It can evaluate
// an input template over the merged branch variables into an OUTPUT variable;
// without one it is a pass-through.
type joinBody struct {
	t *taskRuntime
}

func (b *joinBody) run(_ context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	if b.t.input == nil {
		return continueResult(), nil
	}
	merged, err := b.t.input.Evaluate(inst.Variables)
	if err != nil {
		return TaskResult{}, err
	}
	return continueResult(runtime.Variable{
		TaskID:  b.t.def.ID,
		Type:    runtime.VariableOutput,
		Payload: merged,
	}), nil
}

// joiner coordinates branch completion. The atomic idempotent removal of the
// child id from the parent's waiting set is the only serialization point:
// whichever caller observes the removal owns the follow-up actions, so the
// parent is signaled exactly once even under concurrent sibling completion.
type joiner struct {
	eng *Engine
	l   *slog.Logger
}

// Join finalizes one branch. flowStatus is how the branch ended; result is
// non-nil only for an explicit early return (COMPLETED) or a failure payload
// (FAILED).
func (j *joiner) Join(ctx context.Context, child *runtime.ProcessInstance, flowStatus runtime.ProcessFlowStatus, result any) error {
	parentID := child.ParentID

	removed, err := j.eng.instances.RemoveCompletedInstanceID(ctx, parentID, child.ID)
	if err != nil {
		return err
	}
	if !removed {
		// a sibling short-circuited the join first; this branch is moot
		j.l.InfoContext(ctx, "join already settled", "instance", child.ID, "parent", parentID)
		return nil
	}

	// persist the branch's buffered variables, then copy everything it
	// produced into the parent's key space
	if flushed := child.Variables.Flush(); len(flushed) > 0 {
		if err := j.eng.variables.SaveMany(ctx, child.ID, flushed); err != nil {
			return err
		}
	}
	produced, err := j.eng.variables.FindForInstance(ctx, child.ID)
	if err != nil {
		return err
	}
	if len(produced) > 0 {
		if err := j.eng.variables.SaveMany(ctx, parentID, produced); err != nil {
			return err
		}
	}

	child.Status = flowStatus.InstanceStatus()
	if err := j.eng.instances.Save(ctx, child); err != nil {
		j.l.ErrorContext(ctx, "saving finished branch failed", "instance", child.ID, "error", err)
	}

	remaining, err := j.eng.instances.GetRemainingChildren(ctx, parentID)
	if err != nil {
		return err
	}

	earlyReturn := flowStatus == runtime.FlowCompleted && result != nil
	shortCircuit := flowStatus != runtime.FlowCompleted || earlyReturn

	if !shortCircuit && len(remaining) > 0 {
		j.cleanupBranch(ctx, child)
		return nil
	}

	if shortCircuit && len(remaining) > 0 {
		j.suspendSiblings(ctx, parentID, remaining)
	}

	var sig runtime.Signal
	switch {
	case earlyReturn:
		sig = runtime.Return(result)
	case flowStatus == runtime.FlowCompleted:
		sig = runtime.Resume(nil)
	case flowStatus == runtime.FlowFailed:
		sig = runtime.StopFailed(result)
	default:
		sig = runtime.StopSuspended()
	}
	j.eng.lifecycle.SignalProcess(parentID, sig)
	j.l.InfoContext(ctx, "join settled", "parent", parentID, "signal", sig.Type, "last", child.ID)

	j.cleanupBranch(ctx, child)
	return nil
}

// suspendSiblings stops still-running branches after a short-circuit. Their
// waiting-set entries are swept so a late Join call from any of them is a
// no-op, and their next guarded save aborts the in-flight pass.
func (j *joiner) suspendSiblings(ctx context.Context, parentID string, ids []string) {
	for _, id := range ids {
		if _, err := j.eng.instances.RemoveCompletedInstanceID(ctx, parentID, id); err != nil {
			j.l.ErrorContext(ctx, "sweeping sibling from waiting set failed", "instance", id, "error", err)
			continue
		}
		sibling, err := j.eng.instances.FindByID(ctx, id)
		if err != nil {
			j.l.ErrorContext(ctx, "loading sibling failed", "instance", id, "error", err)
			continue
		}
		sibling.Status = runtime.StatusSuspended
		if err := j.eng.instances.Save(ctx, sibling, runtime.StatusContinue, runtime.StatusWait); err != nil {
			j.l.WarnContext(ctx, "suspending sibling raced", "instance", id, "error", err)
		}
	}
}

// cleanupBranch drops the per-branch records of a completed branch. Failed
// and suspended branches are kept for inspection.
func (j *joiner) cleanupBranch(ctx context.Context, child *runtime.ProcessInstance) {
	if child.Status != runtime.StatusCompleted {
		return
	}
	if err := j.eng.variables.DeleteProcessVariables(ctx, child.ID); err != nil {
		j.l.ErrorContext(ctx, "deleting branch variables failed", "instance", child.ID, "error", err)
	}
	if err := j.eng.instances.DeleteByID(ctx, child.ID); err != nil {
		j.l.ErrorContext(ctx, "deleting branch instance failed", "instance", child.ID, "error", err)
	}
}
