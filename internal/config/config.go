package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/peerscope/internal/agent"
	"github.com/pingsantohq/peerscope/pkg/types"
)

const (
	envConfigPath     = "PEERSCOPE_AGENT_CONFIG"
	DefaultConfigPath = "/etc/peerscope/agent.yaml"
)

const (
	DefaultRPCURL        = "http://localhost:9933"
	DefaultProbePort     = 30333
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5000 * time.Millisecond
	DefaultMetricsAddr   = "127.0.0.1:9310"
)

type Config struct {
	Agent   AgentConfig   `yaml:"agent" toml:"agent"`
	Probe   ProbeConfig   `yaml:"probe" toml:"probe"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

type AgentConfig struct {
	RPCURL          string `yaml:"rpc_url" toml:"rpc_url"`
	CollectorURL    string `yaml:"collector_url" toml:"collector_url"`
	AgentID         string `yaml:"agent_id" toml:"agent_id"`
	MetricsAddr     string `yaml:"metrics_addr" toml:"metrics_addr"`
	MetricsDisabled bool   `yaml:"metrics_disabled" toml:"metrics_disabled"`
}

type ProbeConfig struct {
	Port             uint16        `yaml:"port" toml:"port"`
	Interval         time.Duration `yaml:"interval" toml:"interval"`
	Timeout          time.Duration `yaml:"timeout" toml:"timeout"`
	Workers          int           `yaml:"workers" toml:"workers"`
	RatePerSec       float64       `yaml:"rate_per_sec" toml:"rate_per_sec"`
	FailureLatencyMs uint64        `yaml:"failure_latency_ms" toml:"failure_latency_ms"`
	DiscoverOnStart  bool          `yaml:"discover_on_start" toml:"discover_on_start"`
}

type HTTPConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML configuration file, or TOML when the path ends in .toml,
// and fills in defaults for anything left unset.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// Resolve loads path when given, otherwise the file named by
// PEERSCOPE_AGENT_CONFIG, otherwise DefaultConfigPath. Only a missing default
// file is tolerated; the agent then runs on Default().
func Resolve(ctx context.Context, path string) (Config, error) {
	return resolve(ctx, path, DefaultConfigPath)
}

func resolve(ctx context.Context, path, fallback string) (Config, error) {
	if path != "" {
		return Load(ctx, path)
	}
	if env := os.Getenv(envConfigPath); env != "" {
		return Load(ctx, env)
	}
	cfg, err := Load(ctx, fallback)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) ApplyDefaults() {
	if c.Agent.RPCURL == "" {
		c.Agent.RPCURL = DefaultRPCURL
	}
	if c.Agent.MetricsAddr == "" {
		c.Agent.MetricsAddr = DefaultMetricsAddr
	}
	if c.Probe.Port == 0 {
		c.Probe.Port = DefaultProbePort
	}
	if c.Probe.Interval <= 0 {
		c.Probe.Interval = DefaultProbeInterval
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = DefaultProbeTimeout
	}
	if c.Probe.Workers <= 0 {
		c.Probe.Workers = 1
	}
	if c.Probe.FailureLatencyMs == 0 {
		c.Probe.FailureLatencyMs = types.FailureLatencyMs
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports the first problem that would stop the agent from running.
func (c Config) Validate() error {
	if err := validateURL("agent.rpc_url", c.Agent.RPCURL); err != nil {
		return err
	}
	if c.Agent.CollectorURL != "" {
		if err := validateURL("agent.collector_url", c.Agent.CollectorURL); err != nil {
			return err
		}
	}
	if c.Probe.Port == 0 {
		return fmt.Errorf("probe.port must be set")
	}
	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe.interval must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive")
	}
	if c.Probe.RatePerSec < 0 {
		return fmt.Errorf("probe.rate_per_sec must not be negative")
	}
	if c.HTTP.RequestTimeout < 0 {
		return fmt.Errorf("http.request_timeout must not be negative")
	}
	return nil
}

// AgentConfig converts the file representation into the controller's
// immutable configuration.
func (c Config) AgentConfig() agent.Config {
	return agent.Config{
		DiscoveryURL:     c.Agent.RPCURL,
		ProbePort:        c.Probe.Port,
		ProbeInterval:    c.Probe.Interval,
		ProbeTimeout:     c.Probe.Timeout,
		CollectorURL:     c.Agent.CollectorURL,
		FailureLatencyMs: c.Probe.FailureLatencyMs,
		ProbeWorkers:     c.Probe.Workers,
		ProbeRate:        c.Probe.RatePerSec,
		RequestTimeout:   c.HTTP.RequestTimeout,
		AgentID:          c.Agent.AgentID,
		DiscoverOnStart:  c.Probe.DiscoverOnStart,
	}
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", field)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
