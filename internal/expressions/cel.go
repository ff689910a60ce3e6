package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rappen/RappSack/pkg/schema"
)

// CELEngine evaluates Common Expression Language conditions, the default
// condition language. Programs are cached and shared across goroutines.
type CELEngine struct {
	env      *cel.Env
	programs programs[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares the condition
// variables, each a map(string, dyn):
//   - target, pre, post, complete: attribute maps of the record views
//   - context: invocation metadata (message, stage, entity, ...)
func NewCELEngine() (*CELEngine, error) {
	attrs := cel.MapType(cel.StringType, cel.DynType)
	decls := make([]cel.EnvOption, 0, len(Variables))
	for _, name := range Variables {
		decls = append(decls, cel.Variable(name, attrs))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env}, nil
}

func (e *CELEngine) Name() string { return LanguageCEL }

// Evaluate runs expression against data. Long-running comprehensions stop
// when ctx is done.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	prg, err := e.programs.load(expression, e.compile)
	if err != nil {
		return nil, err
	}
	val, _, err := prg.ContextEval(ctx, activation(data))
	if err != nil {
		return nil, evalError("CEL", expression, err)
	}
	return val.Value(), nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if err := issues.Err(); err != nil {
		return nil, compileError("CEL", expression, err)
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, compileError("CEL", expression, err)
	}
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
