package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"

	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/pkg/logger"
)

// ContractAddresses holds the deployed contract script hashes (0x-prefixed LE).
type ContractAddresses struct {
	IntentMesh   string `json:"intent_mesh" yaml:"intent_mesh"`
	AgentFactory string `json:"agent_factory" yaml:"agent_factory"`
}

// Validate checks that both hashes are set and well formed.
func (c ContractAddresses) Validate() error {
	if _, err := parseScriptHash(c.IntentMesh); err != nil {
		return fmt.Errorf("intent mesh contract: %w", err)
	}
	if _, err := parseScriptHash(c.AgentFactory); err != nil {
		return fmt.Errorf("agent factory contract: %w", err)
	}
	return nil
}

func parseScriptHash(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return util.Uint160{}, errors.New("script hash required")
	}
	return util.Uint160DecodeStringLE(strings.TrimPrefix(s, "0x"))
}

// IntentMesh is the Neo N3 ledger. Reads go to the IntentMesh and
// AgentFactory contracts directly; writes are signed by the controller
// account and routed through the caller's delegated wallet contract via
// execute(target, method, args).
type IntentMesh struct {
	client  *Client
	builder *TxBuilder
	signer  *wallet.Account

	mesh    util.Uint160
	factory util.Uint160

	waitTimeout  time.Duration
	pollInterval time.Duration

	log *logger.Logger
}

// NewIntentMesh creates the chain-backed ledger.
func NewIntentMesh(client *Client, contracts ContractAddresses, signer *wallet.Account, log *logger.Logger) (*IntentMesh, error) {
	if client == nil {
		return nil, errors.New("chain client required")
	}
	if signer == nil {
		return nil, errors.New("signer account required")
	}
	mesh, err := parseScriptHash(contracts.IntentMesh)
	if err != nil {
		return nil, fmt.Errorf("intent mesh contract: %w", err)
	}
	factory, err := parseScriptHash(contracts.AgentFactory)
	if err != nil {
		return nil, fmt.Errorf("agent factory contract: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("chain")
	}

	return &IntentMesh{
		client:       client,
		builder:      NewTxBuilder(client, client.NetworkID()),
		signer:       signer,
		mesh:         mesh,
		factory:      factory,
		waitTimeout:  DefaultTxWaitTimeout,
		pollInterval: DefaultPollInterval,
		log:          log,
	}, nil
}

// WithWaitTimings overrides the receipt wait timeout and poll interval.
func (m *IntentMesh) WithWaitTimings(timeout, poll time.Duration) *IntentMesh {
	if timeout > 0 {
		m.waitTimeout = timeout
	}
	if poll > 0 {
		m.pollInterval = poll
	}
	return m
}

// Controller returns the Neo address of the signing account.
func (m *IntentMesh) Controller() string {
	return m.signer.Address
}

// =============================================================================
// Reads
// =============================================================================

func (m *IntentMesh) read(ctx context.Context, contract util.Uint160, method string, params ...ContractParam) (StackItem, error) {
	res, err := m.client.InvokeFunction(ctx, "0x"+contract.StringLE(), method, params)
	if err != nil {
		return StackItem{}, fmt.Errorf("invoke %s: %w", method, err)
	}
	if res.State != ledger.StateHalt {
		return StackItem{}, fmt.Errorf("%s faulted: %s", method, res.Exception)
	}
	if len(res.Stack) == 0 {
		return StackItem{}, fmt.Errorf("%s returned an empty stack", method)
	}
	return res.Stack[0], nil
}

// Intent implements ledger.Ledger.
func (m *IntentMesh) Intent(ctx context.Context, id uint64) (*ledger.IntentRecord, error) {
	item, err := m.read(ctx, m.mesh, "getIntent", NewUintParam(id))
	if err != nil {
		return nil, err
	}
	if item.Type == "Any" || item.Type == "Null" {
		return nil, fmt.Errorf("%w: %d", ledger.ErrIntentNotFound, id)
	}
	return ParseIntentRecord(item)
}

// IntentCount implements ledger.Ledger.
func (m *IntentMesh) IntentCount(ctx context.Context) (uint64, error) {
	item, err := m.read(ctx, m.mesh, "intentCount")
	if err != nil {
		return 0, err
	}
	n, err := ParseInteger(item)
	if err != nil {
		return 0, fmt.Errorf("parse intentCount: %w", err)
	}
	return n.Uint64(), nil
}

// WalletOf implements ledger.IdentityRegistry.
func (m *IntentMesh) WalletOf(ctx context.Context, controller string) (string, error) {
	u, err := address.StringToUint160(controller)
	if err != nil {
		return "", fmt.Errorf("invalid controller address %q: %w", controller, err)
	}
	item, err := m.read(ctx, m.factory, "controllerToWallet", NewUint160Param(u))
	if err != nil {
		return "", err
	}
	return ParseAddress(item)
}

// VerifyOffchainStep implements ledger.StepVerifier.
func (m *IntentMesh) VerifyOffchainStep(ctx context.Context, id uint64, leaf [32]byte, proof [][32]byte, step uint64) (bool, error) {
	proofParam, err := ParamFromArg(proof)
	if err != nil {
		return false, err
	}
	item, err := m.read(ctx, m.mesh, ledger.FnVerifyOffchainStep,
		NewUintParam(id), NewByteArrayParam(leaf[:]), proofParam, NewUintParam(step))
	if err != nil {
		return false, err
	}
	return ParseBoolean(item)
}

// =============================================================================
// Writes
// =============================================================================

// Provision implements ledger.IdentityRegistry. Only the signing account can
// provision its own wallet.
func (m *IntentMesh) Provision(ctx context.Context, controller, metadataURI string) (*ledger.TxHandle, error) {
	if controller != m.signer.Address {
		return nil, fmt.Errorf("controller %s is not the signing account %s", controller, m.signer.Address)
	}
	return m.send(ctx, m.factory, "createAgent", NewStringParam(metadataURI))
}

// Submit implements ledger.Ledger.
func (m *IntentMesh) Submit(ctx context.Context, call ledger.Call) (*ledger.TxHandle, error) {
	walletHash, err := address.StringToUint160(call.From)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address %q: %w", call.From, err)
	}
	args, err := ParamsFromArgs(call.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Function, err)
	}
	return m.send(ctx, walletHash, "execute",
		NewUint160Param(m.mesh), NewStringParam(call.Function), NewArrayParam(args))
}

func (m *IntentMesh) send(ctx context.Context, contract util.Uint160, method string, params ...ContractParam) (*ledger.TxHandle, error) {
	sim, err := m.client.InvokeFunctionWithSigners(ctx, "0x"+contract.StringLE(), method, params, m.signer.ScriptHash())
	if err != nil {
		return nil, fmt.Errorf("%s simulation failed: %w", method, err)
	}
	if sim.State != ledger.StateHalt {
		return nil, fmt.Errorf("%s: %w: %s", method, ledger.ErrReverted, sim.Exception)
	}

	tx, err := m.builder.BuildAndSignTx(ctx, sim, m.signer, transaction.CalledByEntry)
	if err != nil {
		return nil, fmt.Errorf("build %s transaction: %w", method, err)
	}
	hash, err := m.builder.BroadcastTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	m.log.WithField("method", method).WithField("tx_hash", hash).Debug("transaction broadcast")
	return &ledger.TxHandle{Hash: hash}, nil
}

// WaitForReceipt implements ledger.Ledger.
func (m *IntentMesh) WaitForReceipt(ctx context.Context, tx *ledger.TxHandle) (*ledger.Receipt, error) {
	if tx == nil || tx.Hash == "" {
		return nil, ledger.ErrUnknownTx
	}

	wctx, cancel := context.WithTimeout(ctx, m.waitTimeout)
	defer cancel()

	appLog, err := m.client.WaitForApplicationLog(wctx, tx.Hash, m.pollInterval)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash, err)
	}
	if len(appLog.Executions) == 0 {
		return nil, fmt.Errorf("application log for %s has no executions", tx.Hash)
	}

	events, err := EventsFromLog(appLog)
	if err != nil {
		return nil, err
	}
	exec := appLog.Executions[0]
	return &ledger.Receipt{
		TxHash:    tx.Hash,
		State:     exec.VMState,
		Exception: exec.Exception,
		Events:    events,
	}, nil
}

// EncodeCall implements ledger.CallEncoder. The payload is the NeoVM script
// invoking the IntentMesh method directly.
func (m *IntentMesh) EncodeCall(call ledger.Call) (string, []byte, error) {
	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		v, err := scriptArg(a)
		if err != nil {
			return "", nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	script, err := smartcontract.CreateCallScript(m.mesh, call.Function, args...)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", call.Function, err)
	}
	return "0x" + m.mesh.StringLE(), script, nil
}

var (
	_ ledger.Ledger           = (*IntentMesh)(nil)
	_ ledger.IdentityRegistry = (*IntentMesh)(nil)
	_ ledger.CallEncoder      = (*IntentMesh)(nil)
	_ ledger.StepVerifier     = (*IntentMesh)(nil)
)
