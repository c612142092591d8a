package types

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the protocol version sent with every request.
const JSONRPCVersion = "2.0"

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

// RPCError is the error object a node returns instead of a result.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// SystemPeersResponse is the response to a system_peers call. Result is nil
// when the node omitted it.
type SystemPeersResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Result  *[]PeerInfo `json:"result"`
	Error   *RPCError   `json:"error,omitempty"`
}

// PeerInfo describes one peer known to the node. Only PeerID is consumed.
type PeerInfo struct {
	PeerID     string `json:"peerId"`
	Roles      string `json:"roles,omitempty"`
	BestHash   string `json:"bestHash,omitempty"`
	BestNumber uint64 `json:"bestNumber,omitempty"`
}
