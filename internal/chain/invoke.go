package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// DefaultTxWaitTimeout is the default timeout for waiting for transaction execution.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the default interval for polling transaction status.
const DefaultPollInterval = 2 * time.Second

// =============================================================================
// Contract Invocation Methods
// =============================================================================

// InvokeFunction invokes a contract function (read-only).
func (c *Client) InvokeFunction(ctx context.Context, scriptHash, method string, params []ContractParam) (*InvokeResult, error) {
	return c.invoke(ctx, []interface{}{scriptHash, method, paramsOrEmpty(params)})
}

// InvokeFunctionWithSigners simulates a contract call witnessed by signer,
// returning the script and gas needed to build the real transaction.
func (c *Client) InvokeFunctionWithSigners(ctx context.Context, scriptHash, method string, params []ContractParam, signer util.Uint160) (*InvokeResult, error) {
	signers := []Signer{{Account: "0x" + signer.StringLE(), Scopes: "CalledByEntry"}}
	return c.invoke(ctx, []interface{}{scriptHash, method, paramsOrEmpty(params), signers})
}

func (c *Client) invoke(ctx context.Context, args []interface{}) (*InvokeResult, error) {
	result, err := c.Call(ctx, "invokefunction", args)
	if err != nil {
		return nil, err
	}

	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}

func paramsOrEmpty(params []ContractParam) []ContractParam {
	if params == nil {
		return []ContractParam{}
	}
	return params
}

// SendRawTransaction sends a signed transaction given in base64.
func (c *Client) SendRawTransaction(ctx context.Context, txBase64 string) (string, error) {
	result, err := c.Call(ctx, "sendrawtransaction", []interface{}{txBase64})
	if err != nil {
		return "", err
	}

	var response struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return response.Hash, nil
}

// CalculateNetworkFee asks the node for the network fee of a base64 transaction.
func (c *Client) CalculateNetworkFee(ctx context.Context, txBase64 string) (int64, error) {
	result, err := c.Call(ctx, "calculatenetworkfee", []interface{}{txBase64})
	if err != nil {
		return 0, err
	}

	var response struct {
		NetworkFee json.Number `json:"networkfee"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return 0, fmt.Errorf("unmarshal network fee: %w", err)
	}
	fee, err := strconv.ParseInt(response.NetworkFee.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse network fee %q: %w", response.NetworkFee, err)
	}
	return fee, nil
}

// WaitForApplicationLog polls for a transaction application log until it is available or context is done.
// A missing transaction is treated as transient and retried until the context deadline/timeout expires.
func (c *Client) WaitForApplicationLog(ctx context.Context, txHash string, pollInterval time.Duration) (*ApplicationLog, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			log, err := c.GetApplicationLog(ctx, txHash)
			if err != nil {
				if isNotFoundError(err) {
					continue
				}
				return nil, err
			}
			return log, nil
		}
	}
}
