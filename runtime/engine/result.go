// Package engine implements the task-orchestration runtime: the per-task
// execution state machine, the control-flow operator variants, fork/join
// coordination, dependency-driven variable hydration and the process
// executor that drives one instance through its task graph.
package engine

import (
	"procflow/runtime"
)

// Next is the ordered list of transitions an execution step schedules.
// An empty Next unwinds the executor loop: the instance waits, terminated,
// or was parked.
type Next struct {
	Transitions []runtime.Transition
}

func noNext() Next { return Next{} }

func nextTo(trs ...runtime.Transition) Next {
	return Next{Transitions: trs}
}

// TaskResult is the discriminated outcome of one operator execution.
//
//   - StatusContinue carries produced variables and, for control-flow
//     operators, an explicit next-transition override.
//   - StatusWait carries a named callback type and payload for async
//     resumption.
//   - StatusCompleted / StatusFailed / StatusSuspended are terminal for this
//     instance and carry the return or failure payload.
type TaskResult struct {
	Status    runtime.ProcessStatus
	Variables []runtime.Variable

	// Override short-circuits transition resolution when set.
	Override []runtime.Transition
	// overridden distinguishes "override with zero transitions" (stop) from
	// "no override" (resolve normally).
	overridden bool

	// Callback names the signal entry point a WAIT expects, with its payload.
	Callback        string
	CallbackPayload any

	// Payload is the terminal return or failure value.
	Payload any

	// After is a side effect the executor dispatches only once the state
	// transition implied by this result is durable (commit-then-act).
	After Command
}

func continueResult(vars ...runtime.Variable) TaskResult {
	return TaskResult{Status: runtime.StatusContinue, Variables: vars}
}

func overrideResult(trs []runtime.Transition, vars ...runtime.Variable) TaskResult {
	return TaskResult{
		Status:     runtime.StatusContinue,
		Variables:  vars,
		Override:   trs,
		overridden: true,
	}
}

func waitResult(callback string, payload any) TaskResult {
	return TaskResult{Status: runtime.StatusWait, Callback: callback, CallbackPayload: payload}
}

func completedResult(payload any, vars ...runtime.Variable) TaskResult {
	return TaskResult{Status: runtime.StatusCompleted, Payload: payload, Variables: vars}
}

func failedResult(payload any, vars ...runtime.Variable) TaskResult {
	return TaskResult{Status: runtime.StatusFailed, Payload: payload, Variables: vars}
}

// Command is an after-save side-effect descriptor. Keeping it a first-class
// return value, not a hidden callback, makes the commit-then-act ordering
// testable.
type Command interface {
	isCommand()
}

// StartInstancesCommand kicks off already-persisted instances (forked
// children, sub-process instances) via the lifecycle dispatcher.
type StartInstancesCommand struct {
	InstanceIDs []string
}

func (StartInstancesCommand) isCommand() {}
