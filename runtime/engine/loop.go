package engine

import (
	"context"
	"fmt"

	"procflow/runtime"
)

// itemBinding is the overlay name the current element is exposed under while
// resolving loop transitions.
const itemBinding = "item"

// loopIterator is the live iteration handle. It is cached as a TRANSIENT
// variable, so it survives only within one in-memory pass; across suspension
// it is rebuilt from the durable STATE index.
type loopIterator struct {
	items []any
	pos   int
}

func (it *loopIterator) hasNext() bool { return it.pos < len(it.items) }

func (it *loopIterator) next() any {
	v := it.items[it.pos]
	it.pos++
	return v
}

// loopBody iterates the evaluated input list. Each pass emits the current
// element as OUTPUT, advances the STATE index and routes per element: the
// first matching CONDITIONAL edge under an "item" overlay, or the loop task
// itself when no CONDITIONAL edges are declared. Exhaustion or a non-matching
// element clears the loop state and takes the DEFAULT (completion) transition.
type loopBody struct {
	t *taskRuntime
}

func newLoopBody(t *taskRuntime) (*loopBody, error) {
	if t.input == nil {
		return nil, fmt.Errorf("loop task %s: input required", t.def.ID)
	}
	return &loopBody{t: t}, nil
}

func (b *loopBody) deps() []runtime.VariableKey {
	return []runtime.VariableKey{{TaskID: b.t.def.ID, Type: runtime.VariableState}}
}

func (b *loopBody) run(_ context.Context, inst *runtime.ProcessInstance) (TaskResult, error) {
	it, err := b.iterator(inst)
	if err != nil {
		return TaskResult{}, err
	}

	if !it.hasNext() {
		return b.finish(inst), nil
	}

	item := it.next()
	output := runtime.Variable{TaskID: b.t.def.ID, Type: runtime.VariableOutput, Payload: item}

	tr, ok, err := b.route(inst, item)
	if err != nil {
		return TaskResult{}, err
	}
	if !ok {
		// the element still lands as OUTPUT even when no edge takes it
		r := b.finish(inst)
		r.Variables = append([]runtime.Variable{output}, r.Variables...)
		return r, nil
	}

	inst.Variables.Put(b.t.def.ID, runtime.VariableTransient, it)
	r := overrideResult([]runtime.Transition{tr}, output,
		runtime.Variable{TaskID: b.t.def.ID, Type: runtime.VariableState, Payload: map[string]any{"index": it.pos}},
	)
	return r, nil
}

// route picks the per-element transition. A loop without CONDITIONAL edges
// re-runs itself for every element and leaves via DEFAULT on exhaustion.
func (b *loopBody) route(inst *runtime.ProcessInstance, item any) (runtime.Transition, bool, error) {
	if len(b.t.def.TransitionsOfType(runtime.TransitionConditional)) == 0 {
		return runtime.Transition{Type: runtime.TransitionDefault, TargetTaskID: b.t.def.ID}, true, nil
	}
	return b.t.matchConditional(runtime.NewOverlay(inst.Variables, itemBinding, item))
}

// finish clears the iteration state and takes the completion transition.
func (b *loopBody) finish(inst *runtime.ProcessInstance) TaskResult {
	inst.Variables.Delete(b.t.def.ID, runtime.VariableTransient)
	r := overrideResult(nil,
		runtime.Variable{TaskID: b.t.def.ID, Type: runtime.VariableState, Payload: nil})
	if def, ok := b.t.def.DefaultTransition(); ok {
		r.Override = []runtime.Transition{def}
	}
	return r
}

// iterator reuses the cached TRANSIENT handle when present, otherwise
// rebuilds one from the evaluated input and the persisted STATE index.
func (b *loopBody) iterator(inst *runtime.ProcessInstance) (*loopIterator, error) {
	if v, ok := inst.Variables.Get(runtime.VariableKey{TaskID: b.t.def.ID, Type: runtime.VariableTransient}); ok {
		if it, ok := v.(*loopIterator); ok {
			return it, nil
		}
	}

	raw, err := b.t.input.Evaluate(inst.Variables)
	if err != nil {
		return nil, err
	}
	items, err := loopItems(raw)
	if err != nil {
		return nil, fmt.Errorf("loop task %s: %w", b.t.def.ID, err)
	}

	it := &loopIterator{items: items}
	if st, ok := inst.Variables.Get(runtime.VariableKey{TaskID: b.t.def.ID, Type: runtime.VariableState}); ok && st != nil {
		if m, ok := st.(map[string]any); ok {
			if pos, ok := asInt(m["index"]); ok && pos >= 0 && pos <= len(items) {
				it.pos = pos
			}
		}
	}
	return it, nil
}

func loopItems(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		if items, ok := v["items"]; ok {
			return loopItems(items)
		}
	}
	return nil, fmt.Errorf("input evaluated to %T, want a list", raw)
}

// asInt normalizes the numeric types a JSON round trip can produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
