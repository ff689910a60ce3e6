package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags and the configuration loaded for every
// command.
type rootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg     Config
	logger  *slog.Logger
	environ map[string]string // nil reads the process environment
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&rootOptions{})
}

func newRootCommandWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rappsack",
		Short: "RappSack - Dataverse plugin helper",
		Long: `Resolve and gate Dataverse plugin execution contexts.

Runs registered plugins behind a webhook, exposes the resolver and the gate
as MCP tools, and checks contexts from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.ConfigPath, opts.environ)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
				if err := cfg.validate(); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			opts.logger = newLogger(cmd.ErrOrStderr(), cfg.slogLevel())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", settingsPath(), "settings file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMCPCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newEnvCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}
