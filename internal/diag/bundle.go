package diag

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pingsantohq/peerscope/internal/config"
)

const (
	defaultOutputPrefix = "peerscope_diag_"
	infoFileName        = "diagnostics/info.json"
	configDirName       = "config"
	logsDirName         = "logs"
	observabilityDir    = "observability"
	redactedMarker      = "REDACTED"
)

var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(token=)([^&\s"']+)`),
	regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)([A-Za-z0-9\._\-]+)`),
	regexp.MustCompile(`(?i)(api[_-]?key=)([^&\s"']+)`),
	regexp.MustCompile(`(?i)(secret=)([^&\s"']+)`),
	regexp.MustCompile(`(?i)(password=)([^&\s"']+)`),
	regexp.MustCompile(`(?i)(://[^:/\s"']+:)([^@/\s"']+)(@)`),
}

// Options selects what goes into a bundle. Zero values fall back to the
// agent configuration.
type Options struct {
	ConfigPath   string
	OutputPath   string
	LogsDir      string
	MonitorURL   string
	Timeout      time.Duration
	JournalUnits []string
	JournalSince time.Duration
	RedactLogs   bool
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	HTTPClient *http.Client
	RunCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Collect writes a tar.gz bundle with the configuration, logs, and a scrape
// of the running agent's monitoring endpoints. Missing sources become
// warnings in diagnostics/info.json. It returns the bundle path.
func Collect(ctx context.Context, opts Options, deps Dependencies) (string, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RunCommand == nil {
		deps.RunCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.JournalSince <= 0 {
		opts.JournalSince = time.Hour
	}

	now := deps.Now().UTC()
	info := bundleInfo{
		GeneratedAt:  now.Format(time.RFC3339),
		LogsRedacted: opts.RedactLogs,
		GoVersion:    runtime.Version(),
		Warnings:     make([]string, 0, 4),
	}

	cfg, err := config.Resolve(ctx, opts.ConfigPath)
	if err != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf("config unavailable: %v", err))
		cfg = config.Default()
	}
	info.ConfigPath = opts.ConfigPath
	info.AgentID = cfg.Agent.AgentID
	info.RPCURL = redactText(cfg.Agent.RPCURL)
	info.CollectorConfigured = cfg.Agent.CollectorURL != ""

	outPath := opts.OutputPath
	if outPath == "" {
		outPath = fmt.Sprintf("%s%s.tar.gz", defaultOutputPrefix, now.Format("20060102T150405Z"))
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure output directory %q: %w", filepath.Dir(outPath), err)
	}
	info.OutputPath = outPath

	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create diagnostics file %q: %w", outPath, err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		switch {
		case err == nil:
			name := filepath.ToSlash(filepath.Join(configDirName, filepath.Base(opts.ConfigPath)))
			if err := addBytes(tw, []byte(redactText(string(data))), name); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include config: %v", err))
			}
		case !errors.Is(err, os.ErrNotExist):
			info.Warnings = append(info.Warnings, fmt.Sprintf("unable to read config %q: %v", opts.ConfigPath, err))
		}
	}

	logsDir, logPrefix := opts.LogsDir, ""
	if logsDir == "" && cfg.Logging.File != "" {
		logsDir = filepath.Dir(cfg.Logging.File)
		base := filepath.Base(cfg.Logging.File)
		logPrefix = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if logsDir != "" {
		count, err := addLogFiles(tw, logsDir, logPrefix, opts.RedactLogs)
		if err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include logs from %q: %v", logsDir, err))
		}
		info.LogFiles = count
	}

	monitorURL := strings.TrimRight(opts.MonitorURL, "/")
	if monitorURL == "" && !cfg.Agent.MetricsDisabled && cfg.Agent.MetricsAddr != "" {
		monitorURL = "http://" + cfg.Agent.MetricsAddr
	}
	if monitorURL != "" {
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: opts.Timeout}
		}
		scrapeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		if data, err := fetch(scrapeCtx, client, monitorURL+"/metrics"); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("metrics scrape failed: %v", err))
		} else {
			if err := addBytes(tw, data, observabilityDir+"/metrics.prom"); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include metrics snapshot: %v", err))
			}
			summary, warns := summarizeMetrics(data, monitorURL)
			info.Metrics = summary
			info.Warnings = append(info.Warnings, warns...)
		}

		if data, err := fetch(scrapeCtx, client, monitorURL+"/status"); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("status fetch failed: %v", err))
		} else if err := addBytes(tw, data, observabilityDir+"/status.json"); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include status: %v", err))
		}
	}

	if len(opts.JournalUnits) > 0 {
		sinceArg := now.Add(-opts.JournalSince).Format(time.RFC3339)
		info.Journal = &journalSummary{
			Units: append([]string(nil), opts.JournalUnits...),
			Since: sinceArg,
		}
		for _, unit := range opts.JournalUnits {
			data, err := deps.RunCommand(ctx, "journalctl", "--unit", unit, "--since", sinceArg, "--no-pager")
			if err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("journalctl for unit %s failed: %v", unit, err))
				continue
			}
			if opts.RedactLogs {
				data = []byte(redactText(string(data)))
			}
			name := filepath.ToSlash(filepath.Join(logsDirName, "journalctl", sanitizeFilename(unit)+".log"))
			if err := addBytes(tw, data, name); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include journal for unit %s: %v", unit, err))
			}
		}
	}

	if err := writeInfo(tw, info); err != nil {
		return "", err
	}
	return outPath, nil
}

func writeInfo(tw *tar.Writer, info bundleInfo) error {
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal diagnostics info: %w", err)
	}
	return addBytes(tw, payload, infoFileName)
}

func addBytes(tw *tar.Writer, data []byte, name string) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

// addLogFiles copies regular files from dir whose names start with prefix,
// which picks up rotated backups next to the active log.
func addLogFiles(tw *tar.Writer, dir, prefix string, redact bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return count, err
		}
		if redact && shouldRedactFile(path) {
			data = []byte(redactText(string(data)))
		}
		if err := addBytes(tw, data, logsDirName+"/"+entry.Name()); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func shouldRedactFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".log", ".txt", ".json", ".yaml", ".yml", ".toml":
		return true
	default:
		return false
	}
}

func redactText(text string) string {
	for _, pattern := range redactPatterns {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			if len(sub) >= 4 {
				return sub[1] + redactedMarker + sub[3]
			}
			if len(sub) >= 2 {
				return sub[1] + redactedMarker
			}
			return redactedMarker
		})
	}
	return text
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func summarizeMetrics(data []byte, url string) (*metricsSummary, []string) {
	summary := &metricsSummary{URL: url}
	var warnings []string
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name, labels, _ := strings.Cut(fields[0], "{")
		switch name {
		case "peerscope_agent_phase_info":
			if _, phase, ok := strings.Cut(labels, `phase="`); ok {
				summary.Phase = strings.TrimSuffix(phase, `"}`)
			}
		case "peerscope_agent_peers_known":
			val, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("parse peers known: %v", err))
				continue
			}
			summary.PeersKnown = &val
		case "peerscope_agent_discovery_failures_total":
			val, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("parse discovery failures: %v", err))
				continue
			}
			summary.DiscoveryFailures += val
		case "peerscope_agent_reports_total":
			if !strings.Contains(labels, `outcome="failed"`) {
				continue
			}
			val, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("parse reports failed: %v", err))
				continue
			}
			summary.ReportsFailed = &val
		}
	}
	return summary, warnings
}

func sanitizeFilename(input string) string {
	safe := strings.ReplaceAll(input, "/", "_")
	safe = strings.ReplaceAll(safe, "..", "_")
	if safe == "" {
		return "unknown"
	}
	return safe
}

type bundleInfo struct {
	GeneratedAt         string          `json:"generated_at"`
	OutputPath          string          `json:"output_path"`
	ConfigPath          string          `json:"config_path,omitempty"`
	AgentID             string          `json:"agent_id,omitempty"`
	RPCURL              string          `json:"rpc_url,omitempty"`
	CollectorConfigured bool            `json:"collector_configured"`
	LogFiles            int             `json:"log_files"`
	LogsRedacted        bool            `json:"logs_redacted"`
	Metrics             *metricsSummary `json:"metrics,omitempty"`
	Journal             *journalSummary `json:"journal,omitempty"`
	Warnings            []string        `json:"warnings,omitempty"`
	GoVersion           string          `json:"go_version"`
}

type metricsSummary struct {
	URL               string  `json:"url"`
	Phase             string  `json:"phase,omitempty"`
	PeersKnown        *int64  `json:"peers_known,omitempty"`
	DiscoveryFailures uint64  `json:"discovery_failures_total"`
	ReportsFailed     *uint64 `json:"reports_failed_total,omitempty"`
}

type journalSummary struct {
	Units []string `json:"units"`
	Since string   `json:"since"`
}
