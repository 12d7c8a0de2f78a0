package resolvable

import (
	"reflect"
	"sort"
	"testing"

	"procflow/runtime"
)

func testScope() *runtime.VariableContainer {
	c := runtime.NewVariableContainer()
	c.Put("order", runtime.VariableInput, map[string]any{
		"id":       "ord-1",
		"amount":   250,
		"currency": "usd",
		"lines": []any{
			map[string]any{"sku": "a", "price": 100},
			map[string]any{"sku": "b", "price": 150},
		},
	})
	c.Put("charge", runtime.VariableOutput, map[string]any{
		"status": "succeeded",
	})
	return c
}

func TestBuildStaticCollapse(t *testing.T) {
	node, err := Build(map[string]any{
		"retries": 3,
		"nested":  map[string]any{"flag": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := node.(staticValue); !ok {
		t.Fatalf("expected static collapse, got %T", node)
	}
	if len(node.Deps()) != 0 {
		t.Errorf("static node reported deps %v", node.Deps())
	}
}

func TestBuildStringSingleToken(t *testing.T) {
	node, err := BuildString("${order.input.amount}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := node.Evaluate(testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a single whole-string token keeps its native type
	if v != 250 {
		t.Errorf("got %v (%T), want 250", v, v)
	}
}

func TestBuildStringComposite(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected string
	}{
		{
			name:     "reference and literal",
			template: "order ${order.input.id} is ${charge.output.status}",
			expected: "order ord-1 is succeeded",
		},
		{
			name:     "expression block",
			template: "total: #{ ${order.input.amount} * 2 }",
			expected: "total: 500",
		},
		{
			name:     "missing reference renders empty",
			template: "got [${order.input.nope}]",
			expected: "got []",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := BuildString(tt.template)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			v, err := node.Evaluate(testScope())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v != tt.expected {
				t.Errorf("got %q, want %q", v, tt.expected)
			}
		})
	}
}

func TestExpressionWithReferences(t *testing.T) {
	node, err := BuildString(`#{ ${order.input.amount} > 100 ? "large" : "small" }`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := node.Evaluate(testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "large" {
		t.Errorf("got %v, want large", v)
	}
}

func TestOptimizedMapKeyOrderAndNullDrop(t *testing.T) {
	node, err := Build(map[string]any{
		"delta":  "static",
		"alpha":  "${order.input.currency}",
		"zeta":   1,
		"absent": "${order.input.nope}",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	om, ok := node.(*optimizedMap)
	if !ok {
		t.Fatalf("expected optimized map, got %T", node)
	}
	if !sort.StringsAreSorted(om.Keys()) {
		t.Errorf("keys not in fixed order: %v", om.Keys())
	}

	v, err := node.Evaluate(testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["alpha"] != "usd" || m["zeta"] != 1 {
		t.Errorf("unexpected map content: %v", m)
	}
	if _, present := m["absent"]; present {
		t.Errorf("null-valued dynamic key should be dropped, got %v", m)
	}
}

func TestListCollapseAndDynamic(t *testing.T) {
	static, err := Build([]any{1, "two", map[string]any{"three": 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := static.(staticValue); !ok {
		t.Fatalf("expected static collapse, got %T", static)
	}

	dynamic, err := Build([]any{"${order.input.id}", "fixed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := dynamic.Evaluate(testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(v, []any{"ord-1", "fixed"}) {
		t.Errorf("got %v", v)
	}
}

func TestDeps(t *testing.T) {
	node, err := Build(map[string]any{
		"id":     "${order.input.id}",
		"status": "#{ ${charge.output.status} == \"succeeded\" }",
		"fixed":  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deps := node.Deps()
	want := map[runtime.VariableKey]bool{
		{TaskID: "order", Type: runtime.VariableInput}:   true,
		{TaskID: "charge", Type: runtime.VariableOutput}: true,
	}
	if len(deps) != len(want) {
		t.Fatalf("got deps %v, want %v", deps, want)
	}
	for _, d := range deps {
		if !want[d] {
			t.Errorf("unexpected dep %v", d)
		}
	}
}

func TestPredicate(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected bool
	}{
		{"comparison", `${order.input.amount} >= 200`, true},
		{"string equality", `${charge.output.status} == "succeeded"`, true},
		{"negative", `${order.input.amount} < 100`, false},
		{"missing is null", `${order.input.nope} == null`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildPredicate(tt.source)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := p.Evaluate(testScope())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestArrayMap(t *testing.T) {
	node, err := Build(map[string]any{
		TransformKey: "arrayMap",
		"source":     "${order.input.lines}",
		"template": map[string]any{
			"sku":     "${item.sku}",
			"doubled": "#{ ${item.price} * 2 }",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := node.Evaluate(testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, ok := v.([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("got %v", v)
	}
	first, ok := items[0].(map[string]any)
	if !ok || first["sku"] != "a" || first["doubled"] != 200 {
		t.Errorf("got %v", items[0])
	}
}

func TestArrayFilter(t *testing.T) {
	node, err := Build(map[string]any{
		TransformKey: "arrayFilter",
		"source":     "${order.input.lines}",
		"predicate":  "${item.price} > 120",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := node.Evaluate(testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, ok := v.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("got %v", v)
	}
	kept, _ := items[0].(map[string]any)
	if kept["sku"] != "b" {
		t.Errorf("got %v", kept)
	}
}

func TestArrayToMap(t *testing.T) {
	node, err := Build(map[string]any{
		TransformKey: "arrayToMap",
		"source":     "${order.input.lines}",
		"key":        "${item.sku}",
		"value":      "${item.price}",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := node.Evaluate(testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("got %T", v)
	}
	if m["a"] != 100 || m["b"] != 150 {
		t.Errorf("got %v", m)
	}
}

func TestTransformDepsIncludeSource(t *testing.T) {
	node, err := Build(map[string]any{
		TransformKey: "arrayFilter",
		"source":     "${order.input.lines}",
		"predicate":  "${item.price} > 0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deps := node.Deps()
	if len(deps) != 1 || deps[0].TaskID != "order" {
		t.Errorf("got deps %v", deps)
	}
}
