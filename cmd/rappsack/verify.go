package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rappen/RappSack/internal/expressions"
	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/schema"
)

type verifyOptions struct {
	NeedsFile string
	Plugin    string
}

type verifyOutput struct {
	Passed     bool               `json:"passed"`
	Strict     bool               `json:"strict"`
	Diagnostic string             `json:"diagnostic,omitempty"`
	Violations []plugin.Violation `json:"violations,omitempty"`
}

func newVerifyCommand(root *rootOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify [context-file]",
		Short: "Check needs against an execution context",
		Long: `Check a needs declaration against an execution context read from a file or
stdin. The needs come from a YAML file (--needs) or from a registered plugin
(--plugin), including overrides from the configured needs file. Exits non-zero
when a need is not met.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			needs, err := resolveNeeds(root.cfg, opts)
			if err != nil {
				return err
			}
			ec, err := readContext(cmd, args)
			if err != nil {
				return err
			}
			conditions, err := expressions.NewConditions()
			if err != nil {
				return err
			}

			verdict := plugin.Gate{Needs: needs, Conditions: conditions}.Verify(cmd.Context(), ec, contextentity.New(ec))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(verifyOutput{
				Passed:     verdict.Passed(),
				Strict:     verdict.Strict,
				Diagnostic: verdict.Diagnostic(),
				Violations: verdict.Violations,
			}); err != nil {
				return err
			}
			if !verdict.Passed() {
				return schema.NewError(schema.ErrCodeNeedsNotMet, "needs not met")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.NeedsFile, "needs", "", "YAML needs declaration")
	cmd.Flags().StringVar(&opts.Plugin, "plugin", "", "use the needs of this registered plugin")
	cmd.MarkFlagsMutuallyExclusive("needs", "plugin")
	return cmd
}

func resolveNeeds(cfg Config, opts *verifyOptions) (plugin.Needs, error) {
	switch {
	case opts.Plugin != "":
		reg, err := newRegistry(cfg)
		if err != nil {
			return plugin.Needs{}, err
		}
		p, err := reg.Get(opts.Plugin)
		if err != nil {
			return plugin.Needs{}, err
		}
		return p.Needs(), nil
	case opts.NeedsFile != "":
		return loadNeeds(opts.NeedsFile)
	}
	return plugin.Needs{}, errors.New("one of --needs or --plugin is required")
}

// loadNeeds reads a single needs declaration from a YAML file.
func loadNeeds(path string) (plugin.Needs, error) {
	var needs plugin.Needs
	data, err := os.ReadFile(path)
	if err != nil {
		return needs, fmt.Errorf("read needs: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&needs); err != nil {
		return needs, schema.NewErrorf(schema.ErrCodeValidation, "parse needs %s: %s", path, err.Error()).WithCause(err)
	}
	if err := needs.Validate(); err != nil {
		return needs, err
	}
	return needs, nil
}
