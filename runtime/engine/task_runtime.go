package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procflow/runtime"
	"procflow/runtime/resolvable"
)

// TaskRuntime is the executable behavior bound to one task id within a
// process runtime. Execute drives one pass of the task's state machine;
// HandleSignal re-enters a task previously parked in WAIT.
type TaskRuntime interface {
	TaskID() string
	Execute(ctx context.Context, inst *runtime.ProcessInstance) (Next, error)
	HandleSignal(ctx context.Context, inst *runtime.ProcessInstance, sig runtime.Signal) (Next, error)
}

// operatorBody is the operator-specific logic invoked between the shared
// before/after phases of the task state machine.
type operatorBody interface {
	run(ctx context.Context, inst *runtime.ProcessInstance) (TaskResult, error)
}

// signalRouter lets an operator override where execution continues after a
// Resume signal (fork resumes at its join task, not its branch entries).
type signalRouter interface {
	signalNext(inst *runtime.ProcessInstance) (Next, error)
}

// extraDeps lets an operator contribute dependency keys beyond the shared
// input/skip/transition predicates (loop and break conditions).
type extraDeps interface {
	deps() []runtime.VariableKey
}

// taskRuntime implements the shared execution state machine:
// before -> doExecute (optionally skipped) -> after -> onCompletion.
type taskRuntime struct {
	def  *runtime.TaskDefinition
	proc *ProcessRuntime
	eng  *Engine
	l    *slog.Logger

	input resolvable.Resolvable
	skip  *resolvable.Predicate
	// preds is parallel to def.Transitions; nil entries are unconditional.
	preds []*resolvable.Predicate

	body operatorBody
}

func newTaskRuntime(proc *ProcessRuntime, def *runtime.TaskDefinition) (*taskRuntime, error) {
	t := &taskRuntime{
		def:  def,
		proc: proc,
		eng:  proc.eng,
		l:    proc.eng.l.With("process", proc.def.ID, "task", def.ID),
	}

	if len(def.Input) > 0 {
		input, err := resolvable.Build(def.Input)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", def.ID, err)
		}
		t.input = input
	}

	if def.SkipCondition != "" {
		skip, err := resolvable.BuildPredicate(def.SkipCondition)
		if err != nil {
			return nil, fmt.Errorf("task %s skip condition: %w", def.ID, err)
		}
		t.skip = skip
	}

	t.preds = make([]*resolvable.Predicate, len(def.Transitions))
	for i, tr := range def.Transitions {
		if tr.Predicate == "" {
			continue
		}
		p, err := resolvable.BuildPredicate(tr.Predicate)
		if err != nil {
			return nil, fmt.Errorf("task %s transition %d: %w", def.ID, i, err)
		}
		t.preds[i] = p
	}

	return t, nil
}

func (t *taskRuntime) TaskID() string { return t.def.ID }

func (t *taskRuntime) Execute(ctx context.Context, inst *runtime.ProcessInstance) (Next, error) {
	proceed, err := t.before(ctx, inst)
	if err != nil || !proceed {
		return noNext(), err
	}

	result := t.doExecute(ctx, inst)

	for _, v := range result.Variables {
		inst.Variables.PutVariable(v)
	}

	if result.Status != runtime.StatusContinue {
		if !t.after(ctx, inst, result) {
			return noNext(), nil
		}
	}

	return t.onCompletion(ctx, inst, result)
}

// before handles shutdown parking, the fork-branch join point, bookkeeping
// and periodic checkpointing. A false return stands the pass down.
func (t *taskRuntime) before(ctx context.Context, inst *runtime.ProcessInstance) (bool, error) {
	if t.eng.draining.Load() {
		inst.Status = runtime.StatusWait
		if err := t.eng.instances.Save(ctx, inst); err != nil {
			t.l.ErrorContext(ctx, "parking instance for shutdown failed", "instance", inst.ID, "error", err)
		}
		t.flushVariables(ctx, inst)
		t.eng.lifecycle.ContinueProcessFromTask(inst.ID, t.def.ID)
		t.l.InfoContext(ctx, "instance parked for shutdown", "instance", inst.ID)
		return false, nil
	}

	if inst.TerminateAtTaskID != "" && inst.TerminateAtTaskID == t.def.ID {
		// branch reached its join point
		return false, t.eng.joiner.Join(ctx, inst, runtime.FlowCompleted, nil)
	}

	inst.PrevTaskID = inst.CurrTaskID
	inst.CurrTaskID = t.def.ID
	inst.CurrTaskStart = time.Now().UTC()
	inst.TaskCounter++

	if inst.TaskCounter%t.eng.cfg.CheckpointInterval == 0 {
		if err := t.eng.instances.Save(ctx, inst, runtime.StatusContinue); err != nil {
			// Instance left CONTINUE under us (concurrently suspended or
			// stopped). Flush what was produced and stand down.
			t.l.WarnContext(ctx, "checkpoint save rejected, aborting pass", "instance", inst.ID, "error", err)
			t.flushVariables(ctx, inst)
			return false, nil
		}
		t.flushVariables(ctx, inst)
	}

	return true, nil
}

// doExecute hydrates missing dependencies, applies the skip predicate and
// runs the operator body. Failures become terminal ERROR results.
func (t *taskRuntime) doExecute(ctx context.Context, inst *runtime.ProcessInstance) TaskResult {
	if err := t.hydrate(ctx, inst); err != nil {
		return t.toFailure(err)
	}

	if t.skip != nil {
		skipped, err := t.skip.Evaluate(inst.Variables)
		if err != nil {
			return t.toFailure(err)
		}
		if skipped {
			t.l.InfoContext(ctx, "task skipped", "instance", inst.ID)
			return continueResult(runtime.Variable{
				TaskID:  t.def.ID,
				Type:    runtime.VariableInput,
				Payload: map[string]any{"skipped": true},
			})
		}
	}

	result, err := t.body.run(ctx, inst)
	if err != nil {
		return t.toFailure(err)
	}
	return result
}

// toFailure converts a failure into a terminal ERROR result carrying the
// canonical error payload as the task's ERROR variable, so ERROR transition
// predicates can match on it.
func (t *taskRuntime) toFailure(err error) TaskResult {
	var ee *runtime.EngineError
	if !errors.As(err, &ee) {
		ee = runtime.NewTaskFailure(t.def.ID, err)
	}
	payload := ee.ToMap()
	t.l.Error("task failed", "error", err)
	return failedResult(payload, runtime.Variable{
		TaskID:  t.def.ID,
		Type:    runtime.VariableError,
		Payload: payload,
	})
}

// hydrate batch-loads every declared dependency missing from the container.
// Forked branches climb the parent chain for variables produced before their
// spawn: the root holds the process input, an intermediate branch holds its
// own tasks' results.
func (t *taskRuntime) hydrate(ctx context.Context, inst *runtime.ProcessInstance) error {
	var missing []runtime.VariableKey
	seen := make(map[runtime.VariableKey]struct{})

	add := func(keys []runtime.VariableKey) {
		for _, k := range keys {
			if !k.Type.Durable() {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if !inst.Variables.Has(k) {
				missing = append(missing, k)
			}
		}
	}

	if t.input != nil {
		add(t.input.Deps())
	}
	if t.skip != nil {
		add(t.skip.Deps())
	}
	for _, p := range t.preds {
		if p != nil {
			add(p.Deps())
		}
	}
	if body, ok := t.body.(extraDeps); ok {
		add(body.deps())
	}

	if len(missing) == 0 {
		return nil
	}

	found, err := t.eng.variables.FindByIDs(ctx, inst.ID, missing)
	if err != nil {
		return fmt.Errorf("hydrating variables of %s: %w", inst.ID, err)
	}
	for _, v := range found {
		inst.Variables.Restore(v)
	}

	remaining := make([]runtime.VariableKey, 0, len(missing)-len(found))
	for _, k := range missing {
		if _, ok := found[k]; !ok {
			remaining = append(remaining, k)
		}
	}

	for ancestor := inst.ParentID; ancestor != "" && len(remaining) > 0; {
		more, err := t.eng.variables.FindByIDs(ctx, ancestor, remaining)
		if err != nil {
			return fmt.Errorf("hydrating ancestor variables of %s: %w", inst.ID, err)
		}
		var rest []runtime.VariableKey
		for _, k := range remaining {
			if v, ok := more[k]; ok {
				inst.Variables.Restore(v)
			} else {
				rest = append(rest, k)
			}
		}
		remaining = rest

		if ancestor == inst.RootID {
			break
		}
		rec, err := t.eng.instances.FindByID(ctx, ancestor)
		if err != nil {
			// ancestor already cleaned up; nothing further up the chain
			break
		}
		ancestor = rec.ParentID
	}

	return nil
}

// after persists a non-CONTINUE status together with the buffered variables,
// then dispatches the result's after-save command. Persisting first keeps the
// side effect behind the durable state transition.
func (t *taskRuntime) after(ctx context.Context, inst *runtime.ProcessInstance, result TaskResult) bool {
	prev := runtime.StatusContinue
	inst.Status = result.Status

	if err := t.eng.instances.Save(ctx, inst, prev); err != nil {
		t.l.WarnContext(ctx, "status save rejected, aborting pass", "instance", inst.ID, "status", result.Status, "error", err)
		t.flushVariables(ctx, inst)
		return false
	}
	t.flushVariables(ctx, inst)

	t.dispatchAfter(result.After)
	return true
}

func (t *taskRuntime) dispatchAfter(cmd Command) {
	switch c := cmd.(type) {
	case nil:
	case StartInstancesCommand:
		for _, id := range c.InstanceIDs {
			t.eng.lifecycle.StartInstance(id)
		}
	}
}

// flushVariables drains the container's buffered variables to the store.
func (t *taskRuntime) flushVariables(ctx context.Context, inst *runtime.ProcessInstance) {
	flushed := inst.Variables.Flush()
	if len(flushed) == 0 {
		return
	}
	if err := t.eng.variables.SaveMany(ctx, inst.ID, flushed); err != nil {
		t.l.ErrorContext(ctx, "flushing variables failed", "instance", inst.ID, "error", err)
	}
}

// onCompletion turns the operator result into the ordered transitions the
// executor runs next.
func (t *taskRuntime) onCompletion(ctx context.Context, inst *runtime.ProcessInstance, result TaskResult) (Next, error) {
	switch result.Status {
	case runtime.StatusContinue:
		if result.overridden {
			return nextTo(result.Override...), nil
		}
		return t.resolveNext(inst)
	case runtime.StatusCompleted:
		return noNext(), t.eng.completeInstance(ctx, inst, runtime.FlowCompleted, result.Payload)
	case runtime.StatusFailed:
		return t.routeFailure(ctx, inst, result)
	default: // WAIT, SUSPENDED: the call stack unwinds
		return noNext(), nil
	}
}

// routeFailure evaluates ERROR transitions in declared order against the
// failure payload. The first match continues execution there; no match fails
// the process.
func (t *taskRuntime) routeFailure(ctx context.Context, inst *runtime.ProcessInstance, result TaskResult) (Next, error) {
	for i, tr := range t.def.Transitions {
		if tr.Type != runtime.TransitionError {
			continue
		}
		if p := t.preds[i]; p != nil {
			match, err := p.Evaluate(inst.Variables)
			if err != nil {
				t.l.ErrorContext(ctx, "error-transition predicate failed", "predicate", tr.Predicate, "error", err)
				continue
			}
			if !match {
				continue
			}
		}
		inst.Status = runtime.StatusContinue
		if err := t.eng.instances.Save(ctx, inst, runtime.StatusFailed); err != nil {
			t.l.WarnContext(ctx, "resume-after-error save rejected", "instance", inst.ID, "error", err)
			return noNext(), nil
		}
		t.l.InfoContext(ctx, "failure routed to error transition", "instance", inst.ID, "target", tr.TargetTaskID)
		return nextTo(tr), nil
	}
	return noNext(), t.eng.completeInstance(ctx, inst, runtime.FlowFailed, result.Payload)
}

// resolveNext is the static transition resolver: CONDITIONAL edges in
// declared order, first match wins, DEFAULT as fallback.
func (t *taskRuntime) resolveNext(inst *runtime.ProcessInstance) (Next, error) {
	return t.resolveNextIn(inst.Variables)
}

func (t *taskRuntime) resolveNextIn(scope runtime.Scope) (Next, error) {
	tr, ok, err := t.matchConditional(scope)
	if err != nil {
		return noNext(), err
	}
	if ok {
		return nextTo(tr), nil
	}
	if def, ok := t.def.DefaultTransition(); ok {
		return nextTo(def), nil
	}
	return noNext(), nil
}

// matchConditional returns the first CONDITIONAL transition whose predicate
// holds under scope.
func (t *taskRuntime) matchConditional(scope runtime.Scope) (runtime.Transition, bool, error) {
	for i, tr := range t.def.Transitions {
		if tr.Type != runtime.TransitionConditional {
			continue
		}
		if t.preds[i] == nil {
			return tr, true, nil
		}
		match, err := t.preds[i].Evaluate(scope)
		if err != nil {
			return runtime.Transition{}, false, err
		}
		if match {
			return tr, true, nil
		}
	}
	return runtime.Transition{}, false, nil
}

// HandleSignal re-enters a waiting task. The expected-status guarded save is
// what makes duplicate signals a suppressed race rather than a double
// delivery.
func (t *taskRuntime) HandleSignal(ctx context.Context, inst *runtime.ProcessInstance, sig runtime.Signal) (Next, error) {
	if inst.Status != runtime.StatusWait {
		return noNext(), runtime.NewConflictError("NOT_WAITING",
			"instance %s is %s, signals require WAIT", inst.ID, inst.Status)
	}

	switch sig.Type {
	case runtime.SignalResume:
		if sig.Payload != nil {
			inst.Variables.Put(t.def.ID, runtime.VariableOutput, sig.Payload)
		}
		inst.Status = runtime.StatusContinue
		if err := t.eng.instances.Save(ctx, inst, runtime.StatusWait); err != nil {
			t.l.WarnContext(ctx, "resume save rejected", "instance", inst.ID, "error", err)
			return noNext(), nil
		}
		t.flushVariables(ctx, inst)
		if router, ok := t.body.(signalRouter); ok {
			return router.signalNext(inst)
		}
		return t.resolveNext(inst)

	case runtime.SignalStopFailed:
		inst.Status = runtime.StatusFailed
		if err := t.eng.instances.Save(ctx, inst, runtime.StatusWait); err != nil {
			return noNext(), nil
		}
		t.flushVariables(ctx, inst)
		return noNext(), t.eng.completeInstance(ctx, inst, runtime.FlowFailed, sig.Payload)

	case runtime.SignalStopSuspended:
		inst.Status = runtime.StatusSuspended
		if err := t.eng.instances.Save(ctx, inst, runtime.StatusWait); err != nil {
			return noNext(), nil
		}
		t.flushVariables(ctx, inst)
		return noNext(), nil

	case runtime.SignalReturn:
		if sig.Payload != nil {
			inst.Variables.Put(t.def.ID, runtime.VariableOutput, sig.Payload)
		}
		inst.Status = runtime.StatusCompleted
		if err := t.eng.instances.Save(ctx, inst, runtime.StatusWait); err != nil {
			return noNext(), nil
		}
		t.flushVariables(ctx, inst)
		return noNext(), t.eng.completeInstance(ctx, inst, runtime.FlowCompleted, sig.Payload)
	}

	return noNext(), runtime.NewValidationError("BAD_SIGNAL", "unknown signal type %q", sig.Type)
}
