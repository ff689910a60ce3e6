package identity

import (
	"context"
	"os"
	"strings"

	"github.com/rappen/RappSack/pkg/plugin"
)

// ProcessEnv reads environment variables from the process environment,
// for local runs. Name is upper-cased and prefixed with Prefix.
type ProcessEnv struct {
	Prefix string
	Lookup func(string) (string, bool)
}

func (p ProcessEnv) EnvironmentVariable(_ context.Context, name string) (string, bool, error) {
	lookup := p.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(p.Prefix + strings.ToUpper(name))
	return v, ok, nil
}

// VariableChain consults sources in order; the first source holding the
// variable wins. An error from any source stops the lookup.
type VariableChain []plugin.EnvironmentVariables

func (c VariableChain) EnvironmentVariable(ctx context.Context, name string) (string, bool, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		v, ok, err := src.EnvironmentVariable(ctx, name)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}
