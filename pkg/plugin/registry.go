package plugin

import (
	"sort"
	"sync"

	"github.com/rappen/RappSack/pkg/schema"
)

// Info describes a registered plugin.
type Info struct {
	Name      string `json:"name"`
	ServiceAs string `json:"service_as"`
	Needs     Needs  `json:"needs"`
}

// Registry is a thread-safe set of plugins keyed by name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin. Returns error on duplicate name.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "plugin is nil")
	}
	name := p.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "plugin name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already registered", name)
	}

	r.plugins[name] = p
	return nil
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not registered", name)
	}
	return p, nil
}

// List returns info for all registered plugins, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		as, _ := identityOf(p)
		infos = append(infos, Info{
			Name:      p.Name(),
			ServiceAs: as.String(),
			Needs:     p.Needs(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// ApplyOverrides replaces the needs of registered plugins with the given
// declarations. Names that match no plugin are reported as warnings.
func (r *Registry) ApplyOverrides(overrides map[string]Needs) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, ok := r.plugins[name]
		if !ok {
			result.AddWarning("plugins."+name, "unknown_plugin", "no plugin registered with this name")
			continue
		}
		if c, isConfigured := p.(*configured); isConfigured {
			p = c.Plugin
		}
		r.plugins[name] = WithNeedsOverride(p, overrides[name])
	}
	return result
}

// Has checks if a plugin is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[name]
	return ok
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
