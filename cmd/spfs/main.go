// Command spfs drives the sync, clean, check, and render engines against
// any pair of storage.Repository backends, plus the ocibridge exporter.
// Grounded in cmd/registry/main.go's configuration-then-logging wiring
// order, rebuilt on cobra/pflag instead of the teacher's raw flag package
// since this binary is a set of subcommands, not one long-running server.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spkenv/spfs/config"
	"github.com/spkenv/spfs/internal/logging"
)

var configPath string

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "spfs",
		Short:         "sync, check, clean, and render SPFS content-addressed stores",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a spfs config file (overridden by SPFS_ env vars)")

	root.AddCommand(
		newSyncCommand(),
		newCheckCommand(),
		newCleanCommand(),
		newRenderCommand(),
		newExportCommand(),
	)
	return root
}

// loadConfig reads configPath if set (falling back to an empty
// Configuration so SPFS_ env vars alone are enough to run), then
// configures the package-wide logger from it before returning.
func loadConfig() (*config.Configuration, error) {
	var cfg *config.Configuration
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.NewParser("SPFS").Parse([]byte("version: 1.0\n"))
	}
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	configureLogging(cfg)
	return cfg, nil
}

func configureLogging(cfg *config.Configuration) {
	base := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		base.SetLevel(level)
	}
	if cfg.Log.Formatter == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{})
	}
	logging.SetDefault(logging.New(base))
}
