// Package resolvable compiles raw task-input templates (nested maps, lists
// and strings containing variable references and embedded expressions) into
// evaluation trees. A tree is built once per definition snapshot and
// re-evaluated per execution against an instance's variable scope. Every node
// reports the set of (taskId, type) variables it reads, which drives lazy
// hydration of suspended instances.
package resolvable

import (
	"procflow/runtime"
)

// Resolvable is one node of a compiled input template.
type Resolvable interface {
	// Evaluate resolves the node against a variable scope.
	Evaluate(scope runtime.Scope) (any, error)
	// Deps returns the variable keys the node reads, transitively.
	Deps() []runtime.VariableKey
}

// depSet accumulates dependency keys while building composite nodes.
type depSet struct {
	order []runtime.VariableKey
	seen  map[runtime.VariableKey]struct{}
}

func newDepSet() *depSet {
	return &depSet{seen: make(map[runtime.VariableKey]struct{})}
}

func (d *depSet) add(keys ...runtime.VariableKey) {
	for _, k := range keys {
		if _, ok := d.seen[k]; ok {
			continue
		}
		d.seen[k] = struct{}{}
		d.order = append(d.order, k)
	}
}

func (d *depSet) addFrom(nodes ...Resolvable) {
	for _, n := range nodes {
		if n != nil {
			d.add(n.Deps()...)
		}
	}
}

func (d *depSet) keys() []runtime.VariableKey {
	return d.order
}
