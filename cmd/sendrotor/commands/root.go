package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sendrotor/sendrotor/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "sendrotor",
		Short: "Sendrotor cold-email delivery daemon",
		Long: `A command line tool for running and managing the Sendrotor delivery
pipeline: sending-account rotation, retry queues, rate limiting, and
deliverability validation.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" {
				return
			}

			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}

			setupLogging(cfg.Logging)
		},
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
}

func setupLogging(lc config.LoggingConfig) {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
