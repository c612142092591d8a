package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/pingsantohq/peerscope/internal/config"
	"github.com/pingsantohq/peerscope/internal/diag"
	"github.com/pingsantohq/peerscope/internal/discovery"
	"github.com/pingsantohq/peerscope/internal/probe"
	"github.com/pingsantohq/peerscope/pkg/types"
)

func newDiscoverCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Query the node once and print its probeable peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyRunOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger := newLogger(cfg)

			client, err := discovery.NewClient(discovery.Config{
				URL:       cfg.Agent.RPCURL,
				ProbePort: cfg.Probe.Port,
				AgentID:   cfg.Agent.AgentID,
			}, discovery.Dependencies{
				HTTPClient: newHTTPClient(cfg),
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			peers, err := client.Discover(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, peer := range peers {
				fmt.Fprintf(out, "%s\t%s\n", peer.IP, peer.PeerID)
			}
			logger.WithField("peers", len(peers)).Info("discovery complete")
			return nil
		},
	}
	cmd.Flags().String("rpc-url", config.DefaultRPCURL, "Node JSON-RPC endpoint")
	cmd.Flags().Uint16("port", config.DefaultProbePort, "P2P port recorded on each peer")
	return cmd
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe ADDR",
		Short: "Measure TCP connect latency to a single address",
		Long:  "ADDR is an IP literal or any slash-delimited peer address containing one, such as /ip4/10.0.0.1/tcp/30333.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyRunOverrides(cmd, &cfg); err != nil {
				return err
			}

			ip, ok := discovery.ExtractAddress(args[0])
			if !ok {
				return fmt.Errorf("no IP address in %q", args[0])
			}

			prober := probe.NewProber(probe.Config{
				Port:             cfg.Probe.Port,
				Timeout:          cfg.Probe.Timeout,
				FailureLatencyMs: cfg.Probe.FailureLatencyMs,
			}, probe.Dependencies{
				Dialer: &net.Dialer{},
				Logger: newLogger(cfg),
			})
			res := prober.Probe(cmd.Context(), types.Peer{PeerID: args[0], IP: ip, Port: cfg.Probe.Port})

			status := "OK"
			if !res.Success {
				status = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %dms (%s)\n", res.Peer.IP, res.LatencyMs, status)
			if !res.Success {
				return fmt.Errorf("%s:%d unreachable", ip, cfg.Probe.Port)
			}
			return nil
		},
	}
	cmd.Flags().Uint16("port", config.DefaultProbePort, "Port to connect to")
	cmd.Flags().Duration("timeout", config.DefaultProbeTimeout, "Connect timeout")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config PATH",
		Short: "Write a default configuration file",
		Long:  "Write a configuration with every default filled in and a fresh agent id. A .toml extension selects TOML, anything else YAML.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Agent.AgentID = newAgentID()
			if err := config.Write(args[0], cfg, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (agent_id=%s)\n", args[0], cfg.Agent.AgentID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newDiagCmd(root *rootOptions) *cobra.Command {
	opts := diag.Options{}
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Collect a diagnostics bundle",
		Long:  "Bundle the configuration, log files, journal output and a scrape of the monitoring endpoints into a tar.gz archive.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = root.configPath
			path, err := diag.Collect(cmd.Context(), opts, diag.Dependencies{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "diagnostics written to %s\n", path)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.OutputPath, "output", "", "Bundle path (default ./peerscope_diag_<ts>.tar.gz)")
	flags.StringVar(&opts.LogsDir, "logs", "", "Directory of log files to include (default: directory of logging.file)")
	flags.StringVar(&opts.MonitorURL, "monitor-url", "", "Base URL of the monitoring server (default: http://<agent.metrics_addr>)")
	flags.DurationVar(&opts.Timeout, "timeout", 3*time.Second, "HTTP timeout for monitoring scrapes")
	flags.StringSliceVar(&opts.JournalUnits, "journal-unit", nil, "Systemd unit to capture via journalctl (repeatable)")
	flags.DurationVar(&opts.JournalSince, "journal-since", time.Hour, "How far back to collect journalctl logs")
	flags.BoolVar(&opts.RedactLogs, "redact-logs", true, "Redact credentials in logs (disable for raw capture)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "peerscope-agent %s\n", version)
		},
	}
}
