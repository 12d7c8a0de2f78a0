package engine

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"procflow/runtime"
	"procflow/runtime/resolvable"
)

// ProcessRuntime is the executable form of one definition snapshot: compiled
// start predicate, per-definition environment and an LRU of built task
// runtimes (templates and predicates are compiled once per cached entry).
type ProcessRuntime struct {
	eng   *Engine
	def   *runtime.ProcessDefinition
	env   *runtime.ProcessEnv
	start *resolvable.Predicate
	cache *lru.Cache[string, TaskRuntime]
}

func newProcessRuntime(eng *Engine, def *runtime.ProcessDefinition, env *runtime.ProcessEnv) (*ProcessRuntime, error) {
	cache, err := lru.New[string, TaskRuntime](eng.cfg.TaskRuntimeCache)
	if err != nil {
		return nil, err
	}

	p := &ProcessRuntime{eng: eng, def: def, env: env, cache: cache}
	if def.StartPredicate != "" {
		start, err := resolvable.BuildPredicate(def.StartPredicate)
		if err != nil {
			return nil, fmt.Errorf("process %s start predicate: %w", def.ID, err)
		}
		p.start = start
	}
	return p, nil
}

// checkStart gates instance creation on the compiled start predicate,
// evaluated against the start payload as ${process.input.*}.
func (p *ProcessRuntime) checkStart(payload map[string]any) error {
	if p.start == nil {
		return nil
	}
	scope := runtime.NewVariableContainer()
	scope.Put(runtime.ProcessTaskID, runtime.VariableInput, payload)
	ok, err := p.start.Evaluate(scope)
	if err != nil {
		return runtime.NewValidationError("START_PREDICATE",
			"process %s start predicate: %v", p.def.ID, err)
	}
	if !ok {
		return runtime.NewValidationError("START_REJECTED",
			"process %s rejected the start payload", p.def.ID)
	}
	return nil
}

// taskRuntimeFor returns the cached runtime for a task id, building it on a
// miss.
func (p *ProcessRuntime) taskRuntimeFor(taskID string) (TaskRuntime, error) {
	if t, ok := p.cache.Get(taskID); ok {
		return t, nil
	}

	def, ok := p.def.Tasks[taskID]
	if !ok {
		return nil, runtime.NewValidationError("UNKNOWN_TASK",
			"process %s has no task %q", p.def.ID, taskID)
	}

	t, err := newTaskRuntime(p, def)
	if err != nil {
		return nil, err
	}
	t.body, err = p.buildBody(t)
	if err != nil {
		return nil, err
	}

	p.cache.Add(taskID, t)
	return t, nil
}

func (p *ProcessRuntime) buildBody(t *taskRuntime) (operatorBody, error) {
	switch t.def.Operator {
	case runtime.OperatorTask:
		return newTaskBody(t)
	case runtime.OperatorConditional:
		return &conditionalBody{t: t}, nil
	case runtime.OperatorLoop:
		return newLoopBody(t)
	case runtime.OperatorBreak:
		return newJumpBody(t, true)
	case runtime.OperatorContinue:
		return newJumpBody(t, false)
	case runtime.OperatorFork:
		return &forkBody{t: t}, nil
	case runtime.OperatorJoin:
		return &joinBody{t: t}, nil
	case runtime.OperatorReturn:
		return &returnBody{t: t}, nil
	case runtime.OperatorSubProcess:
		return newSubProcessBody(t)
	}
	return nil, fmt.Errorf("task %s: unknown operator %q", t.def.ID, t.def.Operator)
}
