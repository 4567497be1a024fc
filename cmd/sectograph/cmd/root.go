package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sectograph/internal/config"
	appLog "sectograph/internal/log"
)

// version is overridden via -ldflags at build time.
var version = "0.1.0-dev"

var (
	configPath string
	listen     string
	once       bool
	output     string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "sectograph",
		Short: "Serve a 24-hour radial dial of today's calendar events.",
		Long: `Fetches today's events from the configured calendar entities (Home Assistant
calendars or ICS feeds), lays them out as arcs on a 24-hour dial and serves the
dial as an HTML page, a JSON API and a PNG preview.

With --once the dial is rendered a single time to --output and the program
exits: a .json output gets the layout snapshot, anything else a PNG captured
with headless Chromium.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			lvl, ok := appLog.ParseLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			appLog.SetLevel(lvl)
			defer appLog.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, runOptions{
				ConfigPath: configPath,
				Listen:     listen,
				Once:       once,
				Output:     output,
			})
		},
	}
)

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			appLog.Error("invalid configuration", err, "field", cfgErr.Field, "config_path", configPath)
		} else {
			appLog.Error("sectograph failed", err)
		}
		appLog.Sync()
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "/etc/sectograph/config.yaml", "path to configuration file")
	rootCmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.Flags().BoolVar(&once, "once", false, "render the dial once to --output and exit")
	rootCmd.Flags().StringVarP(&output, "output", "o", "./sectograph.png", "output file for --once (.json or .png)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info or error")
}
