package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override file values. Flags still win over
// these.
const (
	EnvRPCURL        = "PEERSCOPE_RPC_URL"
	EnvCollectorURL  = "PEERSCOPE_COLLECTOR_URL"
	EnvAgentID       = "PEERSCOPE_AGENT_ID"
	EnvProbePort     = "PEERSCOPE_PROBE_PORT"
	EnvProbeInterval = "PEERSCOPE_PROBE_INTERVAL"
	EnvProbeTimeout  = "PEERSCOPE_PROBE_TIMEOUT"
	EnvLogLevel      = "PEERSCOPE_LOG_LEVEL"
)

// LoadEnvFile exports the KEY=VALUE pairs in path into the process
// environment. Variables that are already set are left alone.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found via lookup,
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRPCURL); ok && v != "" {
		c.Agent.RPCURL = v
	}
	if v, ok := lookup(EnvCollectorURL); ok {
		c.Agent.CollectorURL = v
	}
	if v, ok := lookup(EnvAgentID); ok && v != "" {
		c.Agent.AgentID = v
	}
	if v, ok := lookup(EnvProbePort); ok && v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProbePort, err)
		}
		c.Probe.Port = uint16(port)
	}
	if v, ok := lookup(EnvProbeInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProbeInterval, err)
		}
		c.Probe.Interval = d
	}
	if v, ok := lookup(EnvProbeTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProbeTimeout, err)
		}
		c.Probe.Timeout = d
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	return nil
}
