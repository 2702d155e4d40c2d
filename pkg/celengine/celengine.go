package celengine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// BuildEnvFromAttributes declares one CEL variable per attribute, typed from
// the Go value it carries.
func BuildEnvFromAttributes(attrs map[string]interface{}) (*cel.Env, error) {
	var variables []cel.EnvOption

	for key, val := range attrs {
		switch val.(type) {
		case string:
			variables = append(variables, cel.Variable(key, cel.StringType))
		case int, int32, int64, float32, float64:
			variables = append(variables, cel.Variable(key, cel.IntType))
		case bool:
			variables = append(variables, cel.Variable(key, cel.BoolType))
		case []string, []interface{}:
			variables = append(variables, cel.Variable(key, cel.ListType(cel.DynType)))
		case map[string]interface{}:
			variables = append(variables, cel.Variable(key, cel.MapType(cel.StringType, cel.DynType)))
		default:
			variables = append(variables, cel.Variable(key, cel.DynType))
		}
	}

	return cel.NewEnv(variables...)
}

// ValidateExpression compiles the expression without running it.
func ValidateExpression(env *cel.Env, expr string) error {
	_, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	return nil
}

// Evaluate compiles and runs a boolean expression against the attributes.
func Evaluate(env *cel.Env, expr string, attrs map[string]interface{}) (bool, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}
