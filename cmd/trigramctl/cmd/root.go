// Package cmd provides the trigramctl commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/logger"
)

var logLevel string

// NewRootCmd creates the root command for trigramctl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigramctl",
		Short: "Operator tools for the trigram search service",
		Long: `trigramctl inspects tokenization, queries a running trigram search
service, pretty-prints changefeed rows, and replays change events against an
in-memory index.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(logLevel, "text")
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	cmd.AddCommand(newTokenizeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newPrettyCmd())
	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newLoadTestCmd())
	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
