package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rappen/RappSack/pkg/schema"
)

// ExprEngine evaluates expr-lang conditions. Besides plain comparisons it
// offers nil coalescing (??), optional chaining (?.) and builtins such as
// any, all and len over attribute maps.
type ExprEngine struct {
	programs programs[*vm.Program]
}

// NewExprEngine creates an expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{}
}

func (e *ExprEngine) Name() string { return LanguageExpr }

// Evaluate runs expression with the condition variables as environment.
// Unknown identifiers evaluate to nil rather than failing compilation.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	env := activation(data)
	prg, err := e.programs.load(expression, func(src string) (*vm.Program, error) {
		p, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError("expr", src, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
