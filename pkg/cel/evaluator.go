package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and runs flag-rule expressions against a listing
// snapshot. Rules see the listing fields as top-level variables plus the
// computed auto score.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("title", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("city", cel.StringType),
		cel.Variable("locality", cel.StringType),
		cel.Variable("contact_phone", cel.StringType),
		cel.Variable("image_count", cel.IntType),
		cel.Variable("score", cel.IntType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateRuleExpression compiles the expression and checks it yields a bool.
func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// CompileExpression builds a reusable program. Callers cache the result so a
// rule is compiled once per reload, not per event.
func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// EvaluateRule runs a compiled program against the listing variables.
func (e *Evaluator) EvaluateRule(ctx context.Context, program cel.Program, vars map[string]interface{}) (bool, error) {
	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
