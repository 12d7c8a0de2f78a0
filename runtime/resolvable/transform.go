package resolvable

import (
	"fmt"

	"procflow/runtime"
)

// itemBinding is the name under which the current element is visible while a
// transform evaluates its per-element template.
const itemBinding = "item"

// buildTransform compiles a map discriminated by the reserved "@transform"
// key into a named transform node.
func buildTransform(t map[string]any) (Resolvable, error) {
	name, _ := t[TransformKey].(string)

	source, ok := t["source"].(string)
	if !ok {
		return nil, fmt.Errorf("transform %q requires a string \"source\"", name)
	}
	src, err := BuildString(source)
	if err != nil {
		return nil, err
	}

	switch name {
	case "arrayMap":
		tmpl, err := Build(t["template"])
		if err != nil {
			return nil, err
		}
		return newTransform(name, src, tmpl, nil), nil

	case "arrayFilter":
		predSrc, ok := t["predicate"].(string)
		if !ok {
			return nil, fmt.Errorf("arrayFilter requires a string \"predicate\"")
		}
		pred, err := BuildPredicate(predSrc)
		if err != nil {
			return nil, err
		}
		return newTransform(name, src, nil, pred), nil

	case "arrayToMap":
		keySrc, ok := t["key"].(string)
		if !ok {
			return nil, fmt.Errorf("arrayToMap requires a string \"key\"")
		}
		keyTmpl, err := BuildString(keySrc)
		if err != nil {
			return nil, err
		}
		valTmpl, err := Build(t["value"])
		if err != nil {
			return nil, err
		}
		return &arrayToMap{source: src, key: keyTmpl, value: valTmpl,
			deps: unionDeps(src, keyTmpl, valTmpl)}, nil

	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

func unionDeps(nodes ...Resolvable) []runtime.VariableKey {
	deps := newDepSet()
	deps.addFrom(nodes...)
	return deps.keys()
}

// arrayTransform covers arrayMap and arrayFilter: it evaluates the source
// expression, iterates its list result and re-evaluates a template (or
// predicate) per element under a temporary "item" overlay scope. The outer
// scope is untouched; each element gets a fresh overlay.
type arrayTransform struct {
	name      string
	source    Resolvable
	template  Resolvable
	predicate *Predicate
	deps      []runtime.VariableKey
}

func newTransform(name string, source, template Resolvable, predicate *Predicate) *arrayTransform {
	deps := newDepSet()
	deps.addFrom(source, template)
	if predicate != nil {
		deps.add(predicate.Deps()...)
	}
	return &arrayTransform{name: name, source: source, template: template,
		predicate: predicate, deps: deps.keys()}
}

func (t *arrayTransform) Evaluate(scope runtime.Scope) (any, error) {
	items, err := sourceList(t.name, t.source, scope)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		overlay := runtime.NewOverlay(scope, itemBinding, item)
		switch {
		case t.predicate != nil:
			keep, err := t.predicate.Evaluate(overlay)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, item)
			}
		default:
			v, err := t.template.Evaluate(overlay)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *arrayTransform) Deps() []runtime.VariableKey { return t.deps }

// arrayToMap evaluates key and value templates per element and assembles a
// map. Later elements win on key collision.
type arrayToMap struct {
	source Resolvable
	key    Resolvable
	value  Resolvable
	deps   []runtime.VariableKey
}

func (t *arrayToMap) Evaluate(scope runtime.Scope) (any, error) {
	items, err := sourceList("arrayToMap", t.source, scope)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(items))
	for _, item := range items {
		overlay := runtime.NewOverlay(scope, itemBinding, item)
		k, err := t.key.Evaluate(overlay)
		if err != nil {
			return nil, err
		}
		v, err := t.value.Evaluate(overlay)
		if err != nil {
			return nil, err
		}
		out[stringify(k)] = v
	}
	return out, nil
}

func (t *arrayToMap) Deps() []runtime.VariableKey { return t.deps }

func sourceList(name string, source Resolvable, scope runtime.Scope) ([]any, error) {
	v, err := source.Evaluate(scope)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("transform %s: source evaluated to %T, expected list", name, v)
	}
	return items, nil
}
