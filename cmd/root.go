package cmd

import (
	"fmt"
	"os"

	"affiliate-commission-system/config"
	"affiliate-commission-system/logging"

	"github.com/spf13/cobra"
)

var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "affiliate",
		Short:        "Ministry affiliate commission engine",
		Version:      Version,
		SilenceUsage: true,
		// Running the binary without a subcommand serves the API.
		RunE: runServe,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(payoutCmd())
	root.AddCommand(earningsCmd())
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and the process logger.
func bootstrap() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.InitLogger(cfg.Production()); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}
