package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/peerscope/internal/logging"
	"github.com/pingsantohq/peerscope/internal/metrics"
	"github.com/pingsantohq/peerscope/pkg/types"
)

const (
	methodSystemPeers = "system_peers"
	requestID         = 1
	maxResponseBytes  = 8 << 20
)

// Config holds the static configuration for a discovery client.
type Config struct {
	URL       string
	ProbePort uint16
	AgentID   string
}

// Dependencies allow test overrides for HTTP client, logging and metrics.
type Dependencies struct {
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	Metrics    metrics.DiscoveryRecorder
}

// Client queries a node's JSON-RPC endpoint for the peers it currently knows.
type Client struct {
	httpClient *http.Client
	url        string
	port       uint16
	agentID    string
	logger     logrus.FieldLogger
	metrics    metrics.DiscoveryRecorder
}

func NewClient(cfg Config, deps Dependencies) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("discovery URL is required")
	}
	if cfg.ProbePort == 0 {
		return nil, fmt.Errorf("probe port is required")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.NoopDiscoveryRecorder{}
	}
	return &Client{
		httpClient: httpClient,
		url:        cfg.URL,
		port:       cfg.ProbePort,
		agentID:    cfg.AgentID,
		logger:     logger,
		metrics:    rec,
	}, nil
}

// Discover calls system_peers and returns every peer with an extractable
// address, in response order. Failures are always *Error.
func (c *Client) Discover(ctx context.Context) ([]types.Peer, error) {
	infos, err := c.fetch(ctx)
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			c.metrics.IncDiscoveryFailures(derr.Kind.String())
		}
		return nil, err
	}

	peers, excluded := PeersFromInfos(infos, c.port)
	c.metrics.ObserveDiscovery(len(peers), excluded)
	c.logger.WithFields(logrus.Fields{
		"reported": len(infos),
		"excluded": excluded,
	}).Debug("system_peers decoded")
	return peers, nil
}

func (c *Client) fetch(ctx context.Context) ([]types.PeerInfo, error) {
	body, err := json.Marshal(types.RPCRequest{
		JSONRPC: types.JSONRPCVersion,
		Method:  methodSystemPeers,
		Params:  []any{},
		ID:      requestID,
	})
	if err != nil {
		return nil, transportError(0, fmt.Errorf("marshal rpc request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, transportError(0, fmt.Errorf("build rpc request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "peerscope-agent/0.1.0")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.agentID != "" {
		req.Header.Set("X-Agent-ID", c.agentID)
	}

	c.logger.WithField("url", c.url).Debug("calling system_peers")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(0, fmt.Errorf("call %s: %w", methodSystemPeers, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, transportError(resp.StatusCode, fmt.Errorf("rpc call failed: status %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(resp.StatusCode, fmt.Errorf("read rpc response: %w", err))
	}

	var decoded types.SystemPeersResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, decodeError(resp.StatusCode, fmt.Errorf("decode rpc response: %w", err))
	}
	if decoded.Error != nil {
		return nil, decodeError(resp.StatusCode, decoded.Error)
	}
	if decoded.Result == nil {
		return nil, decodeError(resp.StatusCode, errors.New("rpc response has no result"))
	}
	return *decoded.Result, nil
}
