// Package main is the dispenser server binary: it serves the HTTPS API and
// offers maintenance commands for the database and the stock pools.
package main

import (
	"cmp"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/config"
	"github.com/novaxell/dispenser/internal/logger"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Default()

	root := &cobra.Command{
		Use:           "dispenser",
		Short:         "Credential dispenser and payment reconciliation server",
		Version:       fmt.Sprintf("%s (built %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Load(cmd.Flags())
		},
	}
	opts.BindFlags(root.PersistentFlags())

	root.AddCommand(serveCmd(opts))
	root.AddCommand(migrateCmd(opts))
	root.AddCommand(stockCmd(opts))
	return root
}

// newLogger builds the process logger at the configured level.
func newLogger(opts *config.Options) (*zap.Logger, error) {
	log := logger.New()
	if err := log.Init(opts.LogLevel); err != nil {
		return nil, err
	}
	return log.Log, nil
}
