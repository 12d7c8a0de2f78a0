package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"procflow/runtime"
	"procflow/runtime/store"
)

// Engine owns the executable process runtimes, the persistence collaborators
// and the lifecycle dispatcher. One engine serves many definitions and many
// concurrent instances; single-instance execution stays sequential inside
// the executor.
type Engine struct {
	cfg       runtime.EngineConfig
	props     map[string]any
	defs      map[string]*runtime.ProcessDefinition
	procs     map[string]*ProcessRuntime
	instances store.InstanceStore
	variables store.VariableStore
	registry  *runtime.Registry
	sinks     *runtime.SinkRegistry
	lifecycle Lifecycle
	exec      *ProcessExecutor
	joiner    *joiner
	l         *slog.Logger
	draining  atomic.Bool
}

// Options carries the collaborators an Engine is built from.
type Options struct {
	Config      runtime.EngineConfig
	Properties  map[string]any
	Definitions []*runtime.ProcessDefinition
	Instances   store.InstanceStore
	Variables   store.VariableStore
	Registry    *runtime.Registry
	Sinks       *runtime.SinkRegistry
	Logger      *slog.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = runtime.NewRegistry()
	}
	if opts.Sinks == nil {
		opts.Sinks = runtime.NewSinkRegistry()
	}

	e := &Engine{
		cfg:       opts.Config,
		props:     opts.Properties,
		defs:      make(map[string]*runtime.ProcessDefinition),
		procs:     make(map[string]*ProcessRuntime),
		instances: opts.Instances,
		variables: opts.Variables,
		registry:  opts.Registry,
		sinks:     opts.Sinks,
		l:         opts.Logger,
	}
	e.exec = &ProcessExecutor{eng: e, l: e.l}
	e.joiner = &joiner{eng: e, l: e.l}
	e.lifecycle = newDispatcher(e, opts.Config.Workers, opts.Config.QueueSize)

	for _, def := range opts.Definitions {
		if err := e.register(def); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// register validates a definition and builds its runtime.
func (e *Engine) register(def *runtime.ProcessDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, dup := e.defs[def.ID]; dup {
		return fmt.Errorf("process %s registered twice", def.ID)
	}

	services := &runtime.Services{Handlers: e.registry, Sinks: e.sinks}
	env := runtime.NewProcessEnv(e.props, def.Properties, services)
	proc, err := newProcessRuntime(e, def, env)
	if err != nil {
		return err
	}

	e.defs[def.ID] = def
	e.procs[def.ID] = proc
	e.l.Info("process registered", "process", def.ID, "version", def.Version, "tasks", len(def.TaskList))
	return nil
}

func (e *Engine) runtimeFor(processID string) (*ProcessRuntime, error) {
	proc, ok := e.procs[processID]
	if !ok {
		return nil, runtime.NewValidationError("UNKNOWN_PROCESS", "unknown process %q", processID)
	}
	return proc, nil
}

// Initialize readies the handler registry. Definitions were registered at
// construction.
func (e *Engine) Initialize(ctx context.Context) error {
	return e.registry.Initialize(ctx)
}

// Shutdown drains: in-flight passes park their instances at the next task
// boundary, then the dispatcher and the registry are stopped.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.draining.Store(true)
	if err := e.lifecycle.Shutdown(ctx); err != nil {
		return err
	}
	return e.registry.Shutdown(ctx)
}

// StartProcess validates the start payload, persists a fresh root instance
// and schedules it. The instance id is returned immediately; the outcome is
// delivered to the named sink.
func (e *Engine) StartProcess(ctx context.Context, processID string, payload map[string]any, sinkID string) (string, error) {
	if e.draining.Load() {
		return "", runtime.NewConflictError("SHUTTING_DOWN", "engine is shutting down")
	}
	proc, err := e.runtimeFor(processID)
	if err != nil {
		return "", err
	}
	if err := proc.checkStart(payload); err != nil {
		return "", err
	}

	inst := runtime.NewProcessInstance(proc.def, proc.env)
	inst.OutcomeSinkID = sinkID
	inst.Variables.Put(runtime.ProcessTaskID, runtime.VariableInput, payload)

	if err := e.instances.Save(ctx, inst); err != nil {
		return "", runtime.NewFatalError("START_PERSIST", "persisting instance of %s: %v", processID, err)
	}
	if flushed := inst.Variables.Flush(); len(flushed) > 0 {
		if err := e.variables.SaveMany(ctx, inst.ID, flushed); err != nil {
			return "", runtime.NewFatalError("START_PERSIST", "persisting start payload of %s: %v", inst.ID, err)
		}
	}

	e.l.InfoContext(ctx, "process started", "process", processID, "instance", inst.ID)
	e.lifecycle.StartInstance(inst.ID)
	return inst.ID, nil
}

// startInstance loads a scheduled instance and runs it. Only instances still
// in CONTINUE are eligible; anything else is a suppressed race.
func (e *Engine) startInstance(ctx context.Context, instanceID string) error {
	inst, err := e.loadInstance(ctx, instanceID, runtime.StatusContinue)
	if err != nil {
		return err
	}
	return e.exec.Run(ctx, inst)
}

// SignalInstance delivers a signal to the instance's waiting task.
func (e *Engine) SignalInstance(ctx context.Context, instanceID string, sig runtime.Signal) error {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	return e.exec.Signal(ctx, inst, sig)
}

// ContinueInstance resumes an instance parked during shutdown at the given
// task.
func (e *Engine) ContinueInstance(ctx context.Context, instanceID, taskID string) error {
	inst, err := e.loadInstance(ctx, instanceID, runtime.StatusWait)
	if err != nil {
		return err
	}
	inst.Status = runtime.StatusContinue
	inst.CurrTaskID = taskID
	if err := e.instances.Save(ctx, inst, runtime.StatusWait); err != nil {
		return err
	}
	return e.exec.Run(ctx, inst)
}

// FindInstance exposes a read-only load for the HTTP surface.
func (e *Engine) FindInstance(ctx context.Context, instanceID string) (*runtime.ProcessInstance, error) {
	return e.loadInstance(ctx, instanceID)
}

// loadInstance fetches an instance and rebinds the non-persisted runtime
// state (empty variable container, definition environment).
func (e *Engine) loadInstance(ctx context.Context, instanceID string, expected ...runtime.ProcessStatus) (*runtime.ProcessInstance, error) {
	inst, err := e.instances.FindByID(ctx, instanceID, expected...)
	if err != nil {
		return nil, err
	}
	if inst.Variables == nil {
		inst.Variables = runtime.NewVariableContainer()
	}
	if proc, ok := e.procs[inst.ProcessID]; ok {
		inst.Env = proc.env
	}
	return inst, nil
}

// completeInstance settles a finished instance. Concurrent branches go
// through the join coordinator; sub-processes signal their parent; roots
// deliver their outcome to the registered sink. Completed records are
// dropped, failed ones kept for inspection.
func (e *Engine) completeInstance(ctx context.Context, inst *runtime.ProcessInstance, flowStatus runtime.ProcessFlowStatus, payload any) error {
	if inst.Concurrent {
		return e.joiner.Join(ctx, inst, flowStatus, payload)
	}

	if !inst.Root() {
		var sig runtime.Signal
		switch flowStatus {
		case runtime.FlowCompleted:
			sig = runtime.Resume(payload)
		case runtime.FlowFailed:
			sig = runtime.StopFailed(payload)
		default:
			sig = runtime.StopSuspended()
		}
		e.lifecycle.SignalProcess(inst.ParentID, sig)
		e.cleanup(ctx, inst, flowStatus)
		e.l.InfoContext(ctx, "sub-process finished", "instance", inst.ID, "parent", inst.ParentID, "status", flowStatus)
		return nil
	}

	var outcome runtime.ProcessOutcome
	if flowStatus == runtime.FlowCompleted {
		outcome = runtime.SuccessOutcome(payload)
	} else {
		outcome = runtime.FailureOutcome(payload)
	}
	e.lifecycle.NotifyCompletion(inst.ID, inst.OutcomeSinkID, outcome)
	e.cleanup(ctx, inst, flowStatus)
	e.l.InfoContext(ctx, "process finished", "process", inst.ProcessID, "instance", inst.ID, "status", flowStatus)
	return nil
}

func (e *Engine) cleanup(ctx context.Context, inst *runtime.ProcessInstance, flowStatus runtime.ProcessFlowStatus) {
	if flowStatus != runtime.FlowCompleted {
		return
	}
	if err := e.variables.DeleteProcessVariables(ctx, inst.ID); err != nil {
		e.l.ErrorContext(ctx, "deleting variables failed", "instance", inst.ID, "error", err)
	}
	if err := e.instances.DeleteByID(ctx, inst.ID); err != nil {
		e.l.ErrorContext(ctx, "deleting instance failed", "instance", inst.ID, "error", err)
	}
}
