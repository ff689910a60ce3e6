package expressions

import (
	"sync"

	"github.com/rappen/RappSack/pkg/schema"
)

// programs caches compiled expressions of one language by source text.
type programs[P any] struct {
	mu     sync.RWMutex
	byText map[string]P
}

// load returns the cached program for expression, compiling it on a miss.
// Compile failures are not cached.
func (c *programs[P]) load(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	prg, ok := c.byText[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.byText[expression]; ok {
		return prg, nil
	}
	prg, err := compile(expression)
	if err != nil {
		return prg, err
	}
	if c.byText == nil {
		c.byText = make(map[string]P)
	}
	c.byText[expression] = prg
	return prg, nil
}

func (c *programs[P]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byText)
}

// compileError reports an expression that does not parse or type-check.
func compileError(label, expression string, err error) *schema.PluginError {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s compile error in %q: %s", label, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

// evalError reports an expression that failed at run time.
func evalError(label, expression string, err error) *schema.PluginError {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s evaluation failed for %q: %s", label, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

// activation fills absent variables with empty maps so that a missing image
// reads as an empty record instead of an unbound variable.
func activation(data map[string]any) map[string]any {
	vars := make(map[string]any, len(Variables))
	for _, key := range Variables {
		if v, ok := data[key]; ok && v != nil {
			vars[key] = v
		} else {
			vars[key] = map[string]any{}
		}
	}
	return vars
}
