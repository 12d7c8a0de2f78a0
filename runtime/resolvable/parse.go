package resolvable

import (
	"fmt"
	"sort"
	"strings"

	"procflow/runtime"
)

// TransformKey is the reserved map key that marks a template map as a named
// transform instead of a literal map template.
const TransformKey = "@transform"

// Build compiles a raw input template into an evaluation tree. The template
// is walked exactly once; evaluation happens per execution.
func Build(template any) (Resolvable, error) {
	switch t := template.(type) {
	case string:
		return BuildString(t)
	case map[string]any:
		if _, ok := t[TransformKey]; ok {
			return buildTransform(t)
		}
		return buildMap(t)
	case []any:
		return buildList(t)
	default:
		return staticValue{value: template}, nil
	}
}

// buildMap compiles a map template. A map with no dynamic content collapses
// to a static leaf; a mixed map compiles to an optimized node that keeps
// static entries verbatim and re-evaluates only the dynamic subset.
//
// Go maps carry no declared order, so key order is fixed lexicographically at
// build time and stays stable across evaluations.
func buildMap(t map[string]any) (Resolvable, error) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	static := make(map[string]any)
	dynamic := make(map[string]Resolvable)
	deps := newDepSet()

	for _, k := range keys {
		node, err := Build(t[k])
		if err != nil {
			return nil, fmt.Errorf("error building template key %q: %w", k, err)
		}
		if sv, ok := node.(staticValue); ok {
			static[k] = sv.value
			continue
		}
		dynamic[k] = node
		deps.addFrom(node)
	}

	if len(dynamic) == 0 {
		collapsed := make(map[string]any, len(static))
		for k, v := range static {
			collapsed[k] = v
		}
		return staticValue{value: collapsed}, nil
	}

	return &optimizedMap{keys: keys, static: static, dynamic: dynamic, deps: deps.keys()}, nil
}

func buildList(t []any) (Resolvable, error) {
	items := make([]Resolvable, len(t))
	allStatic := true
	for i, raw := range t {
		node, err := Build(raw)
		if err != nil {
			return nil, fmt.Errorf("error building template index %d: %w", i, err)
		}
		items[i] = node
		if _, ok := node.(staticValue); !ok {
			allStatic = false
		}
	}

	if allStatic {
		collapsed := make([]any, len(items))
		for i, n := range items {
			collapsed[i] = n.(staticValue).value
		}
		return staticValue{value: collapsed}, nil
	}
	return newListValue(items), nil
}

// BuildString scans a string left-to-right for the two token families —
// variable references ${taskId.type.path} and expression blocks #{ ... } —
// interleaved with literal text. A single token spanning the whole string is
// returned directly; otherwise all fragments composite into one string
// evaluator.
func BuildString(s string) (Resolvable, error) {
	parts, err := scanString(s)
	if err != nil {
		return nil, err
	}

	if len(parts) == 0 {
		return staticValue{value: s}, nil
	}
	if len(parts) == 1 {
		if _, ok := parts[0].(staticValue); !ok {
			return parts[0], nil
		}
	}
	return newCompositeString(parts), nil
}

// BuildPredicate compiles a boolean predicate. The whole source is an
// expression; ${...} references inside it resolve through the variable scope.
func BuildPredicate(source string) (*Predicate, error) {
	node, err := newExpressionValue(source)
	if err != nil {
		return nil, err
	}
	return &Predicate{source: source, node: node}, nil
}

// Predicate is a compiled boolean filter over an instance's variable scope.
type Predicate struct {
	source string
	node   Resolvable
}

func (p *Predicate) Evaluate(scope runtime.Scope) (bool, error) {
	v, err := p.node.Evaluate(scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q evaluated to %T, expected boolean", p.source, v)
	}
	return b, nil
}

func (p *Predicate) Deps() []runtime.VariableKey { return p.node.Deps() }

func (p *Predicate) String() string { return p.source }

// scanString splits a template string into literal and token fragments.
// Returns nil when the string contains no tokens.
func scanString(s string) ([]Resolvable, error) {
	var parts []Resolvable
	lit := strings.Builder{}
	found := false

	flushLiteral := func() {
		if lit.Len() > 0 {
			parts = append(parts, staticValue{value: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); {
		if tok, rest, ok := cutToken(s[i:], "${"); ok {
			found = true
			flushLiteral()
			ref := strings.TrimSpace(tok)
			if ref == "" {
				return nil, fmt.Errorf("empty variable reference in template %q", s)
			}
			parts = append(parts, newVariableRef(ref))
			i = len(s) - len(rest)
			continue
		}
		if tok, rest, ok := cutToken(s[i:], "#{"); ok {
			found = true
			flushLiteral()
			node, err := newExpressionValue(strings.TrimSpace(tok))
			if err != nil {
				return nil, err
			}
			parts = append(parts, node)
			i = len(s) - len(rest)
			continue
		}
		lit.WriteByte(s[i])
		i++
	}

	if !found {
		return nil, nil
	}
	flushLiteral()
	return parts, nil
}

// cutToken matches a leading token of the given opener ("${" or "#{") and
// returns its inner source and the remainder. Brace depth is tracked so
// expression blocks may contain map literals; quoted sections are opaque.
func cutToken(s, opener string) (token, rest string, ok bool) {
	if !strings.HasPrefix(s, opener) {
		return "", "", false
	}
	depth := 1
	var quote byte
	for i := len(opener); i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote && s[i-1] != '\\' {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[len(opener):i], s[i+1:], true
			}
		}
	}
	return "", "", false
}

// rewriteRefs replaces every ${...} reference inside an expression source
// with a synthetic local name (v0, v1, ...) so the expression engine never
// sees raw path syntax. Repeated references share one binding.
func rewriteRefs(source string) (string, []refBinding) {
	var bindings []refBinding
	byRef := make(map[string]string)

	var sb strings.Builder
	for i := 0; i < len(source); {
		if tok, rest, ok := cutToken(source[i:], "${"); ok {
			ref := strings.TrimSpace(tok)
			name, seen := byRef[ref]
			if !seen {
				name = fmt.Sprintf("v%d", len(bindings))
				byRef[ref] = name
				bindings = append(bindings, refBinding{name: name, ref: newVariableRef(ref)})
			}
			sb.WriteString(name)
			i = len(source) - len(rest)
			continue
		}
		sb.WriteByte(source[i])
		i++
	}
	return sb.String(), bindings
}
