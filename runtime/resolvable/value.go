package resolvable

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/vm"

	"procflow/runtime"
	"procflow/runtime/expression"
)

// staticValue is a leaf holding fully static content.
type staticValue struct {
	value any
}

func (s staticValue) Evaluate(runtime.Scope) (any, error) { return s.value, nil }
func (s staticValue) Deps() []runtime.VariableKey         { return nil }

// variableRef is a leaf resolving a structural path read against the
// variable container (or an overlay binding such as "item").
type variableRef struct {
	ref  string
	deps []runtime.VariableKey
}

func newVariableRef(ref string) *variableRef {
	v := &variableRef{ref: ref}
	if key, _, err := runtime.SplitRef(ref); err == nil {
		v.deps = []runtime.VariableKey{key}
	}
	// A ref whose second segment is not a variable type (e.g. "item.price")
	// resolves through an overlay scope and carries no container dependency.
	return v
}

func (v *variableRef) Evaluate(scope runtime.Scope) (any, error) {
	return scope.ResolvePath(v.ref)
}

func (v *variableRef) Deps() []runtime.VariableKey { return v.deps }

// refBinding pairs a synthetic local name with the reference it stands for
// inside a compiled expression.
type refBinding struct {
	name string
	ref  *variableRef
}

// expressionValue is a leaf holding a compiled expression. Captured
// sub-references were replaced with synthetic locals before compilation, so
// the expression engine never sees raw path syntax.
type expressionValue struct {
	source   string
	program  *vm.Program
	bindings []refBinding
	deps     []runtime.VariableKey
}

func newExpressionValue(source string) (*expressionValue, error) {
	rewritten, bindings := rewriteRefs(source)
	program, err := expression.Compile(rewritten)
	if err != nil {
		return nil, err
	}

	deps := newDepSet()
	for _, b := range bindings {
		deps.add(b.ref.Deps()...)
	}
	return &expressionValue{
		source:   source,
		program:  program,
		bindings: bindings,
		deps:     deps.keys(),
	}, nil
}

func (e *expressionValue) Evaluate(scope runtime.Scope) (any, error) {
	binding := make(map[string]any, len(e.bindings))
	for _, b := range e.bindings {
		v, err := b.ref.Evaluate(scope)
		if err != nil {
			return nil, err
		}
		binding[b.name] = v
	}
	result, err := expression.Run(e.program, binding)
	if err != nil {
		return nil, fmt.Errorf("error evaluating expression %q: %w", e.source, err)
	}
	return result, nil
}

func (e *expressionValue) Deps() []runtime.VariableKey { return e.deps }

// compositeString concatenates literal fragments and resolved tokens in
// declared order into one string.
type compositeString struct {
	parts []Resolvable
	deps  []runtime.VariableKey
}

func newCompositeString(parts []Resolvable) *compositeString {
	deps := newDepSet()
	deps.addFrom(parts...)
	return &compositeString{parts: parts, deps: deps.keys()}
}

func (c *compositeString) Evaluate(scope runtime.Scope) (any, error) {
	var sb strings.Builder
	for _, part := range c.parts {
		v, err := part.Evaluate(scope)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(v))
	}
	return sb.String(), nil
}

func (c *compositeString) Deps() []runtime.VariableKey { return c.deps }

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// listValue evaluates each element in order.
type listValue struct {
	items []Resolvable
	deps  []runtime.VariableKey
}

func newListValue(items []Resolvable) *listValue {
	deps := newDepSet()
	deps.addFrom(items...)
	return &listValue{items: items, deps: deps.keys()}
}

func (l *listValue) Evaluate(scope runtime.Scope) (any, error) {
	out := make([]any, len(l.items))
	for i, item := range l.items {
		v, err := item.Evaluate(scope)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (l *listValue) Deps() []runtime.VariableKey { return l.deps }

// optimizedMap keeps static entries verbatim and re-evaluates only the
// dynamic subset per call. Keys preserve template order; a key whose dynamic
// value evaluates to nil is removed from the result, not emitted as null.
type optimizedMap struct {
	keys    []string
	static  map[string]any
	dynamic map[string]Resolvable
	deps    []runtime.VariableKey
}

func (m *optimizedMap) Evaluate(scope runtime.Scope) (any, error) {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		if v, ok := m.static[k]; ok {
			out[k] = v
			continue
		}
		v, err := m.dynamic[k].Evaluate(scope)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (m *optimizedMap) Deps() []runtime.VariableKey { return m.deps }

// Keys exposes the evaluation order of the map's keys.
func (m *optimizedMap) Keys() []string { return m.keys }
