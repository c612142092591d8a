package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/peerscope/internal/agent"
	"github.com/pingsantohq/peerscope/internal/config"
	"github.com/pingsantohq/peerscope/internal/health"
	"github.com/pingsantohq/peerscope/internal/metrics"
	"github.com/pingsantohq/peerscope/pkg/types"
)

const readinessStaleIntervals = 3

func newRunCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring loop",
		Long:  "Discover peers, probe them and report results every interval until interrupted or delivery fails.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyRunOverrides(cmd, &cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("rpc-url", config.DefaultRPCURL, "Node JSON-RPC endpoint")
	flags.Uint16("port", config.DefaultProbePort, "P2P port to probe on every peer")
	flags.Duration("interval", config.DefaultProbeInterval, "Minimum time between discovery attempts")
	flags.Duration("timeout", config.DefaultProbeTimeout, "Per-peer connect timeout")
	flags.String("backend", "", "Collector URL; results are printed when unset")
	flags.Int("workers", 1, "Concurrent probes; 1 probes peers one at a time")
	flags.Bool("discover-on-start", false, "Discover immediately instead of waiting one interval after startup")
	flags.String("metrics-addr", config.DefaultMetricsAddr, "Monitoring listen address; empty disables it")
	return cmd
}

// applyRunOverrides copies explicitly set flags over the file configuration.
func applyRunOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("rpc-url") {
		cfg.Agent.RPCURL, err = flags.GetString("rpc-url")
		if err != nil {
			return err
		}
	}
	if flags.Changed("port") {
		cfg.Probe.Port, err = flags.GetUint16("port")
		if err != nil {
			return err
		}
	}
	if flags.Changed("interval") {
		cfg.Probe.Interval, err = flags.GetDuration("interval")
		if err != nil {
			return err
		}
	}
	if flags.Changed("timeout") {
		cfg.Probe.Timeout, err = flags.GetDuration("timeout")
		if err != nil {
			return err
		}
	}
	if flags.Changed("backend") {
		cfg.Agent.CollectorURL, err = flags.GetString("backend")
		if err != nil {
			return err
		}
	}
	if flags.Changed("workers") {
		cfg.Probe.Workers, err = flags.GetInt("workers")
		if err != nil {
			return err
		}
	}
	if flags.Changed("discover-on-start") {
		cfg.Probe.DiscoverOnStart, err = flags.GetBool("discover-on-start")
		if err != nil {
			return err
		}
	}
	if flags.Changed("metrics-addr") {
		cfg.Agent.MetricsAddr, err = flags.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.Agent.MetricsDisabled = cfg.Agent.MetricsAddr == ""
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Agent.AgentID == "" {
		cfg.Agent.AgentID = newAgentID()
	}

	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{
		"agent_id": cfg.Agent.AgentID,
		"version":  version,
	}).Info("agent starting")

	metricsStore := metrics.NewStore()
	healthChecker := health.NewChecker(metricsStore, readinessStaleIntervals*cfg.Probe.Interval)

	ag, err := agent.New(cfg.AgentConfig(), agent.Dependencies{
		HTTPClient: newHTTPClient(cfg),
		Output:     out,
		Logger:     logger,
		Metrics:    metricsStore,
	})
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		if err := ag.Run(groupCtx); err != nil {
			return err
		}
		// Unblock the monitoring server when the loop ends without error.
		stop()
		return nil
	})

	if !cfg.Agent.MetricsDisabled && cfg.Agent.MetricsAddr != "" {
		router := newMonitoringRouter(metricsStore, healthChecker, ag, time.Now)
		grp.Go(func() error {
			return serveMonitoring(groupCtx, cfg.Agent.MetricsAddr, router, logger)
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("agent stopped")
		return err
	}

	logger.Info("agent stopped")
	return nil
}

// newHTTPClient builds the client shared by discovery and delivery.
func newHTTPClient(cfg config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	transport.Proxy = http.ProxyFromEnvironment
	return &http.Client{
		Timeout:   cfg.HTTP.RequestTimeout,
		Transport: transport,
	}
}

func newAgentID() string {
	return "agt_" + uuid.NewString()
}

type statusSource interface {
	Phase() agent.Phase
	KnownPeers() []types.Peer
	Results() []types.ProbeResult
	LastDiscovery() time.Time
}

type statusResponse struct {
	Phase         string              `json:"phase"`
	LastDiscovery *time.Time          `json:"last_discovery,omitempty"`
	KnownPeers    []types.Peer        `json:"known_peers"`
	Results       []types.ProbeResult `json:"results"`
}

func newMonitoringRouter(store *metrics.Store, checker *health.Checker, src statusSource, now func() time.Time) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.NewHTTPHandler(store))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := checker.Ready(now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Phase:      src.Phase().String(),
			KnownPeers: src.KnownPeers(),
			Results:    src.Results(),
		}
		if resp.KnownPeers == nil {
			resp.KnownPeers = []types.Peer{}
		}
		if resp.Results == nil {
			resp.Results = []types.ProbeResult{}
		}
		if last := src.LastDiscovery(); !last.IsZero() {
			last = last.UTC()
			resp.LastDiscovery = &last
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, "status unavailable", http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)
	return r
}

func serveMonitoring(ctx context.Context, addr string, handler http.Handler, logger logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("monitoring listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitoring server: %w", err)
	}
}
