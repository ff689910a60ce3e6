package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	rsmcp "github.com/rappen/RappSack/pkg/mcp"
)

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the resolve, verify, run and invocations tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := rsmcp.NewServer(rsmcp.ServerDeps{
				Registry:   a.registry,
				Runner:     a.runner,
				Decoder:    a.decoder,
				Conditions: a.conditions,
				Journal:    a.store,
				Logger:     opts.logger,
				Version:    version,
			})
			opts.logger.Info("mcp server ready", "plugins", a.registry.Count())
			return srv.Serve(ctx)
		},
	}
}
