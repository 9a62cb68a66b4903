// Package chain provides the Neo N3 JSON-RPC adapter for the intent ledger.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pramadanif/meshforge/internal/httputil"
)

// Client provides Neo N3 RPC client functionality.
type Client struct {
	http      *httputil.ServiceClient
	networkID uint32
}

// Config holds client configuration.
type Config struct {
	RPCURL     string
	NetworkID  uint32 // MainNet: 860833102, TestNet: 894710606
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a new Neo N3 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		http: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:    cfg.RPCURL,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
		}),
		networkID: cfg.NetworkID,
	}, nil
}

// NetworkID returns the network magic used for signing.
func (c *Client) NetworkID() uint32 { return c.networkID }

// RPCRequest is a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Call makes an RPC call to the Neo N3 node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}

	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	resp, err := c.http.Post(ctx, "", req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	var rpcResp RPCResponse
	if err := httputil.DecodeResponse(resp, &rpcResp); err != nil {
		return nil, err
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetBlockCount returns the current block height.
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	result, err := c.Call(ctx, "getblockcount", nil)
	if err != nil {
		return 0, err
	}

	var count uint32
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("unmarshal block count: %w", err)
	}
	return count, nil
}

// GetApplicationLog returns the application log for a transaction.
func (c *Client) GetApplicationLog(ctx context.Context, txHash string) (*ApplicationLog, error) {
	result, err := c.Call(ctx, "getapplicationlog", []interface{}{txHash})
	if err != nil {
		return nil, err
	}

	var log ApplicationLog
	if err := json.Unmarshal(result, &log); err != nil {
		return nil, fmt.Errorf("unmarshal application log: %w", err)
	}
	return &log, nil
}

// InvokeResult is the result of invokefunction.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack"`
}

// StackItem is a Neo VM stack item.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Signer is the RPC form of a transaction signer.
type Signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

// ApplicationLog is the application log for a transaction.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is a single execution in the application log.
type Execution struct {
	Trigger       string         `json:"trigger"`
	VMState       string         `json:"vmstate"`
	Exception     string         `json:"exception,omitempty"`
	GasConsumed   string         `json:"gasconsumed"`
	Stack         []StackItem    `json:"stack"`
	Notifications []Notification `json:"notifications"`
}

// Notification is a contract notification.
type Notification struct {
	Contract  string    `json:"contract"`
	EventName string    `json:"eventname"`
	State     StackItem `json:"state"`
}

func isNotFoundError(err error) bool {
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return false
	}
	if rpcErr.Code == -100 {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "unknown transaction") || strings.Contains(msg, "not found")
}
