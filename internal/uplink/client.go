package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/peerscope/internal/logging"
	"github.com/pingsantohq/peerscope/pkg/types"
)

// Config holds the static configuration for an uplink client.
type Config struct {
	CollectorURL string
	AgentID      string
}

// Dependencies allow test overrides for HTTP client, clock, and logging.
type Dependencies struct {
	HTTPClient   *http.Client
	Now          func() time.Time
	Logger       logrus.FieldLogger
	NewRequestID func() string
}

// DeliveryError reports a failed upload. Status is zero when no response was
// received.
type DeliveryError struct {
	Status     int
	StatusText string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("results delivery failed: status %s", e.StatusText)
	}
	return fmt.Sprintf("results delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Client publishes probe results to the collector.
type Client struct {
	httpClient   *http.Client
	collectorURL string
	agentID      string
	now          func() time.Time
	logger       logrus.FieldLogger
	newRequestID func() string
}

// NewClient builds an uplink client from configuration and dependencies.
func NewClient(cfg Config, deps Dependencies) (*Client, error) {
	if cfg.CollectorURL == "" {
		return nil, fmt.Errorf("collector URL is required")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	newRequestID := deps.NewRequestID
	if newRequestID == nil {
		newRequestID = uuid.NewString
	}

	return &Client{
		httpClient:   httpClient,
		collectorURL: cfg.CollectorURL,
		agentID:      cfg.AgentID,
		now:          now,
		logger:       logger,
		newRequestID: newRequestID,
	}, nil
}

// Send delivers results, stamped with the current time, in a single POST.
// It does not retry. Every failure is a *DeliveryError.
func (c *Client) Send(ctx context.Context, results []types.ProbeResult) error {
	envelope := types.ReportEnvelope{
		Timestamp: c.now().Unix(),
		Results:   cloneResults(results),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("marshal report envelope: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectorURL, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("build results request: %w", err)}
	}
	requestID := c.newRequestID()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "peerscope-agent/0.1.0")
	req.Header.Set("X-Request-ID", requestID)
	if c.agentID != "" {
		req.Header.Set("X-Agent-ID", c.agentID)
	}

	c.logger.WithFields(logrus.Fields{
		"results":    len(envelope.Results),
		"request_id": requestID,
	}).Debug("sending results to collector")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("send results: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			Status:     resp.StatusCode,
			StatusText: resp.Status,
			Err:        fmt.Errorf("collector responded %s", resp.Status),
		}
	}

	return nil
}

func cloneResults(in []types.ProbeResult) []types.ProbeResult {
	out := make([]types.ProbeResult, len(in))
	copy(out, in)
	return out
}
