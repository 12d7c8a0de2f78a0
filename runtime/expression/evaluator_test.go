package expression

import (
	"testing"
)

func eval(t *testing.T, source string, binding map[string]any) any {
	t.Helper()
	program, err := Compile(source)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	result, err := Run(program, binding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestBase64Encode(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		expected string
	}{
		{
			name:     "simple string",
			expr:     `base64_encode("hello")`,
			expected: "aGVsbG8=",
		},
		{
			name:     "empty string",
			expr:     `base64_encode("")`,
			expected: "",
		},
		{
			name:     "with special chars",
			expr:     `base64_encode("user:password")`,
			expected: "dXNlcjpwYXNzd29yZA==",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, map[string]any{})
			if result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestBase64Decode(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		expected string
	}{
		{
			name:     "simple string",
			expr:     `base64_decode("aGVsbG8=")`,
			expected: "hello",
		},
		{
			name:     "credentials",
			expr:     `base64_decode("dXNlcjpwYXNzd29yZA==")`,
			expected: "user:password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, map[string]any{})
			if result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		binding  map[string]any
		expected any
	}{
		{
			name:     "first non-null",
			expr:     `coalesce(a, b, "fallback")`,
			binding:  map[string]any{"a": nil, "b": "value"},
			expected: "value",
		},
		{
			name:     "all null",
			expr:     `coalesce(a, b)`,
			binding:  map[string]any{"a": nil, "b": nil},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, tt.binding)
			if result != tt.expected {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestUndefinedVariablesAllowed(t *testing.T) {
	result := eval(t, `missing == null`, map[string]any{})
	if result != true {
		t.Errorf("got %v", result)
	}
}

func TestEvalBool(t *testing.T) {
	// "total", not "count": count is an expr builtin, so a binding by that
	// name never resolves as a variable
	program, err := Compile(`total > 2`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}

	ok, err := EvalBool(program, map[string]any{"total": 3})
	if err != nil || !ok {
		t.Errorf("got %v %v", ok, err)
	}

	_, err = EvalBool(program, map[string]any{"total": "three"})
	if err == nil {
		t.Error("expected error for non-numeric operand")
	}
}

func TestBuiltinNamesAreNotBindings(t *testing.T) {
	// identifiers like count/filter/map compile as expr builtins, so bare
	// bindings must avoid them
	if _, err := Compile(`count > 2`); err == nil {
		t.Error("expected compile error for builtin used as a bare binding")
	}
}
