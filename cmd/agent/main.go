package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pingsantohq/peerscope/internal/config"
	"github.com/pingsantohq/peerscope/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "peerscope-agent: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "peerscope-agent",
		Short: "Monitor reachability and latency of P2P network peers",
		Long: "peerscope-agent asks a node's JSON-RPC endpoint for its peers, measures " +
			"TCP connect latency to each of them and reports the results to a collector " +
			"or to standard output.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to agent configuration file (YAML, or TOML with a .toml extension)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Load PEERSCOPE_* variables from a dotenv file before reading config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(opts),
		newDiscoverCmd(opts),
		newProbeCmd(opts),
		newInitConfigCmd(),
		newDiagCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig layers defaults, the config file, PEERSCOPE_* environment
// variables and finally command flags.
func (o *rootOptions) loadConfig(ctx context.Context) (config.Config, error) {
	if o.envFile != "" {
		if err := config.LoadEnvFile(o.envFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Resolve(ctx, o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("failed to apply environment: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	return logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}
