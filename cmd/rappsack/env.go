package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rappen/RappSack/internal/secrets"
	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/pkg/schema"
)

func newEnvCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage the environment variables plugins read",
	}
	cmd.AddCommand(newEnvSetCommand(opts))
	cmd.AddCommand(newEnvGetCommand(opts))
	cmd.AddCommand(newEnvListCommand(opts))
	cmd.AddCommand(newEnvDeleteCommand(opts))
	return cmd
}

// withVault opens the store and runs fn with a vault over it.
func withVault(ctx context.Context, cfg Config, fn func(secrets.Vault) error) error {
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	v, err := newVault(st, cfg)
	if err != nil {
		return err
	}
	return fn(v)
}

func newEnvSetCommand(opts *rootOptions) *cobra.Command {
	var secret bool
	cmd := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Create or replace a variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd.Context(), opts.cfg, func(v secrets.Vault) error {
				return v.Set(cmd.Context(), args[0], args[1], secret)
			})
		},
	}
	cmd.Flags().BoolVar(&secret, "secret", false, "encrypt the value at rest")
	return cmd
}

func newEnvGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Print the value of a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd.Context(), opts.cfg, func(v secrets.Vault) error {
				value, ok, err := v.EnvironmentVariable(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return schema.NewErrorf(schema.ErrCodeNotFound, "environment variable %q not found", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}

func newEnvListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List variable names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withVault(cmd.Context(), opts.cfg, func(v secrets.Vault) error {
				vars, err := v.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSECRET\tUPDATED")
				for _, ev := range vars {
					fmt.Fprintf(tw, "%s\t%t\t%s\n", ev.Name, ev.Secret, ev.UpdatedAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newEnvDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd.Context(), opts.cfg, func(v secrets.Vault) error {
				return v.Delete(cmd.Context(), args[0])
			})
		},
	}
}
