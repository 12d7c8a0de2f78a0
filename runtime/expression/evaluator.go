// Package expression wraps the expr-lang evaluator used inside resolved
// values and predicates. Programs are compiled once per definition snapshot
// and evaluated per execution against a flat variable binding.
package expression

import (
	"encoding/base64"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Custom expression functions available in all templates
var exprFunctions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}),
	expr.Function("coalesce", func(params ...any) (any, error) {
		for _, p := range params {
			if p != nil {
				return p, nil
			}
		}
		return nil, nil
	}),
}

// Compile compiles an expression once. Variable references have already been
// replaced with synthetic local names by the caller, so missing bindings
// evaluate to nil rather than failing compilation.
func Compile(source string) (*vm.Program, error) {
	opts := []expr.Option{
		expr.AllowUndefinedVariables(),
	}
	opts = append(opts, exprFunctions...)

	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, fmt.Errorf("error compiling expression %q: %w", source, err)
	}
	return program, nil
}

// Run evaluates a compiled program against a binding.
func Run(program *vm.Program, binding map[string]any) (any, error) {
	if binding == nil {
		binding = map[string]any{}
	}
	// null as alias for nil (JSON/YAML compatibility)
	binding["null"] = nil
	return expr.Run(program, binding)
}

// EvalBool evaluates a compiled predicate program, requiring a boolean result.
func EvalBool(program *vm.Program, binding map[string]any) (bool, error) {
	result, err := Run(program, binding)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("predicate evaluated to %T, expected boolean", result)
	}
	return b, nil
}
