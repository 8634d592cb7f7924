// Package cmd holds the seny command line: the HTTP server and the
// one-shot maintenance commands that share its wiring.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/config"
	"github.com/uralreduktor/seny/pkg/logging"
)

var (
	version = "dev"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "seny",
	Short: "Nomenclature classifier and product catalog service",
	Long: `seny serves the classification tree, its versioned attribute schemas and
the nomenclature cards validated against them.

Running seny without a subcommand starts the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath,
		"path to the configuration file")
}

// Execute runs the command line until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute(v string) error {
	version = v
	rootCmd.Version = v

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// bootstrap loads the configuration and builds the logger.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(cfgFile, version)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}
