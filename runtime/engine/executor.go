package engine

import (
	"context"
	"errors"
	"log/slog"

	"procflow/runtime"
)

// ProcessExecutor drives one instance through a synchronous chain of task
// executions. A single logical thread walks a FIFO queue of pending
// transitions; two tasks of the same instance never run concurrently.
// Suspension is explicit: a task leaves the instance in WAIT and the walk
// unwinds, to be re-entered later through Signal.
type ProcessExecutor struct {
	eng *Engine
	l   *slog.Logger
}

// Run executes the instance from its current task until it waits, terminates
// or runs off the graph (which completes it).
func (e *ProcessExecutor) Run(ctx context.Context, inst *runtime.ProcessInstance) error {
	proc, err := e.eng.runtimeFor(inst.ProcessID)
	if err != nil {
		return err
	}
	entry := runtime.Transition{Type: runtime.TransitionDefault, TargetTaskID: inst.CurrTaskID}
	return e.walk(ctx, proc, inst, nextTo(entry))
}

// Signal re-enters the instance's waiting task, then resumes the walk.
func (e *ProcessExecutor) Signal(ctx context.Context, inst *runtime.ProcessInstance, sig runtime.Signal) error {
	proc, err := e.eng.runtimeFor(inst.ProcessID)
	if err != nil {
		return err
	}
	t, err := proc.taskRuntimeFor(inst.CurrTaskID)
	if err != nil {
		return err
	}
	next, err := t.HandleSignal(ctx, inst, sig)
	if err != nil {
		return err
	}
	return e.walk(ctx, proc, inst, next)
}

func (e *ProcessExecutor) walk(ctx context.Context, proc *ProcessRuntime, inst *runtime.ProcessInstance, next Next) error {
	queue := next.Transitions
	for len(queue) > 0 {
		tr := queue[0]
		queue = queue[1:]

		t, err := proc.taskRuntimeFor(tr.TargetTaskID)
		if err != nil {
			return e.failInstance(ctx, inst, err)
		}
		produced, err := t.Execute(ctx, inst)
		if err != nil {
			return e.failInstance(ctx, inst, err)
		}
		queue = append(queue, produced.Transitions...)

		if inst.Status != runtime.StatusContinue {
			return nil
		}
	}

	if inst.Status == runtime.StatusContinue {
		// the flow ran off the graph
		return e.eng.completeInstance(ctx, inst, runtime.FlowCompleted, nil)
	}
	return nil
}

// failInstance converts an execution-machinery error (fatal persistence,
// hydration, compilation) into a failed process. Task-logic failures never
// reach here; they are routed through ERROR transitions inside the runtime.
func (e *ProcessExecutor) failInstance(ctx context.Context, inst *runtime.ProcessInstance, cause error) error {
	e.l.ErrorContext(ctx, "execution aborted", "instance", inst.ID, "task", inst.CurrTaskID, "error", cause)

	var payload map[string]any
	var ee *runtime.EngineError
	if errors.As(cause, &ee) {
		payload = ee.ToMap()
	} else {
		payload = map[string]any{"error": cause.Error()}
	}

	inst.Status = runtime.StatusFailed
	if err := e.eng.instances.Save(ctx, inst); err != nil {
		e.l.ErrorContext(ctx, "saving failed instance", "instance", inst.ID, "error", err)
	}
	return e.eng.completeInstance(ctx, inst, runtime.FlowFailed, payload)
}
