package handlers

import "github.com/rappen/RappSack/pkg/plugin"

// Builtins returns the plugins shipped with the module.
func Builtins() []plugin.Plugin {
	return []plugin.Plugin{Inspect{}, Changes{}}
}

// RegisterBuiltins registers all built-in plugins in the given registry.
func RegisterBuiltins(reg *plugin.Registry) error {
	for _, p := range Builtins() {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}
