package expressions

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rappen/RappSack/pkg/schema"
)

// Condition languages.
const (
	LanguageCEL  = "cel"
	LanguageExpr = "expr"
	LanguageJQ   = "jq"
)

// Languages lists the supported condition languages.
var Languages = []string{LanguageCEL, LanguageExpr, LanguageJQ}

// Conditions dispatches boolean conditions to the engine of their language.
// It is safe for concurrent use.
type Conditions struct {
	engines map[string]Engine
}

// NewConditions returns an evaluator backed by the CEL, expr and jq engines.
func NewConditions() (*Conditions, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewConditionsWith(celEngine, NewExprEngine(), NewGoJQEngine()), nil
}

// NewConditionsWith returns an evaluator over the given engines, keyed by Name.
func NewConditionsWith(engines ...Engine) *Conditions {
	c := &Conditions{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		c.engines[e.Name()] = e
	}
	return c
}

// Evaluate runs expression in language (CEL when empty) and requires a
// boolean result.
func (c *Conditions) Evaluate(ctx context.Context, language, expression string, data map[string]any) (bool, error) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = LanguageCEL
	}
	engine, ok := c.engines[lang]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition language %q, expected one of %s", language, strings.Join(c.languages(), ", "))
	}

	out, err := engine.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"condition %q returned %s, expected a boolean", expression, describe(out)).
			WithDetails(map[string]any{"expression": expression, "language": lang})
	}
	return b, nil
}

func (c *Conditions) languages() []string {
	names := make([]string, 0, len(c.engines))
	for name := range c.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func describe(v any) string {
	if v == nil {
		return "no value"
	}
	return fmt.Sprintf("%T", v)
}
