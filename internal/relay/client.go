// Package relay forwards ledger calls to an x402 payment relay that submits
// them on the caller's behalf.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/pramadanif/meshforge/internal/httputil"
	"github.com/pramadanif/meshforge/pkg/logger"
)

// Protocol tags every envelope sent to the relay.
const Protocol = "meshforge_orchestration_v2"

// DefaultChainID is used when the configuration leaves ChainID unset.
const DefaultChainID int64 = 11142220

// APIKeyHeader carries the relay API key.
const APIKeyHeader = "x-api-key"

// maxBodyBytes bounds how much of a relay response is read.
const maxBodyBytes = 64 << 10

// txHashPaths are the response fields searched for a transaction hash.
var txHashPaths = []string{"txHash", "transactionHash", "hash", "result.txHash", "result.hash", "data.txHash", "data.hash"}

// ErrNotConfigured is returned when the endpoint or API key is missing.
var ErrNotConfigured = errors.New("x402 relay endpoint or api key missing")

// RejectedError is returned for non-2xx relay responses.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("x402 relay rejected orchestration request (status %d): %s", e.StatusCode, e.Body)
}

// Config configures the relay client.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Required bool          `yaml:"required"`
	ChainID  int64         `yaml:"chain_id"`
	Timeout  time.Duration `yaml:"timeout"`
	// RatePerSecond limits relay calls; zero means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Envelope is the JSON body posted to the relay.
type Envelope struct {
	ChainID      int64  `json:"chainId"`
	To           string `json:"to"`
	FunctionName string `json:"functionName"`
	Args         []any  `json:"args"`
	Data         string `json:"data"`
	FromAgent    string `json:"fromAgent"`
	Protocol     string `json:"protocol"`
}

// Result is an accepted relay response.
type Result struct {
	StatusCode int
	// TxHash is set when the relay reported the submitted transaction.
	TxHash string
	Body   []byte
}

// Client posts envelopes to the relay.
type Client struct {
	cfg     Config
	http    *httputil.ServiceClient
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a relay client. A client without endpoint or API key is valid
// but disabled.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("relay")
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &Client{
		cfg: cfg,
		http: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL: cfg.Endpoint,
			Timeout: cfg.Timeout,
			Headers: map[string]string{APIKeyHeader: cfg.APIKey},
		}),
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Enabled reports whether endpoint and API key are both set.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Endpoint != "" && c.cfg.APIKey != ""
}

// Required reports whether every ledger call must go through the relay.
func (c *Client) Required() bool {
	return c != nil && c.cfg.Required
}

// ChainID returns the chain id stamped on envelopes.
func (c *Client) ChainID() int64 { return c.cfg.ChainID }

// Relay posts env to the relay. Protocol and ChainID are filled in when empty.
func (c *Client) Relay(ctx context.Context, env Envelope) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	if env.Protocol == "" {
		env.Protocol = Protocol
	}
	if env.ChainID == 0 {
		env.ChainID = c.cfg.ChainID
	}
	if env.Args == nil {
		env.Args = []any{}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("relay rate limit: %w", err)
	}

	resp, err := c.http.Post(ctx, "", env)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", env.FunctionName, err)
	}
	defer resp.Body.Close()

	body, truncated, err := httputil.ReadAllWithLimit(resp.Body, maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: msg}
	}

	res := &Result{StatusCode: resp.StatusCode, Body: body}
	if !truncated && gjson.ValidBytes(body) {
		res.TxHash = extractTxHash(body)
	}

	c.log.WithField("function", env.FunctionName).
		WithField("status", resp.StatusCode).
		WithField("tx_hash", res.TxHash).
		Debug("relay accepted call")
	return res, nil
}

func extractTxHash(body []byte) string {
	for _, path := range txHashPaths {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
