package expressions

import "context"

// Engine evaluates one expression language against condition data.
// Three implementations: CEL (default), Expr (logic) and GoJQ (JSON queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Top-level variables available to condition expressions.
const (
	VarTarget   = "target"
	VarPre      = "pre"
	VarPost     = "post"
	VarComplete = "complete"
	VarContext  = "context"
)

// Variables lists the condition variables in a stable order.
var Variables = []string{VarTarget, VarPre, VarPost, VarComplete, VarContext}
