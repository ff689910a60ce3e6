package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rappen/RappSack/pkg/schema"
)

// NeedsFile is the YAML document that overrides the needs declared in code.
//
//	plugins:
//	  account-sync:
//	    throw_if_not_match: true
//	    messages: [Create, Update]
//	    stages: [40]
//	    entity: account
//	    attributes: [name, accountnumber]
type NeedsFile struct {
	Plugins map[string]Needs `yaml:"plugins"`
}

// LoadNeedsOverrides reads and validates a needs override file.
func LoadNeedsOverrides(path string) (map[string]Needs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read needs overrides: %w", err)
	}
	return ParseNeedsOverrides(data)
}

// ParseNeedsOverrides decodes a needs override document. Unknown keys are
// rejected; every declaration is validated and all problems are reported at
// once under paths like "plugins.<name>.stages[0]".
func ParseNeedsOverrides(data []byte) (map[string]Needs, error) {
	var file NeedsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "needs overrides: %s", err.Error()).WithCause(err)
	}

	names := make([]string, 0, len(file.Plugins))
	for name := range file.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &schema.ValidationResult{}
	for _, name := range names {
		if name == "" {
			result.AddError("plugins", "required", "plugin name must not be empty")
			continue
		}
		result.Merge(validateNeeds("plugins."+name, file.Plugins[name]))
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}

	if file.Plugins == nil {
		return map[string]Needs{}, nil
	}
	return file.Plugins, nil
}
