package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the Habu tools to an MCP client over stdio",
		Long: `Serve the Habu tools over the Model Context Protocol on stdin/stdout.
Logs go to stderr so the protocol stream stays clean.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load("")
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// a blocked stdin read does not observe ctx
			done := make(chan error, 1)
			go func() { done <- a.mcp.Run(ctx, os.Stdin, os.Stdout) }()

			logger.Info("mcp server ready on stdio")
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return nil
			}
		},
	}
}
