// Package ledger defines the contracts the orchestrator consumes from the
// settlement ledger and the identity registry, plus an in-memory ledger.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

// IntentMesh function names.
const (
	FnBroadcastIntent           = "broadcastIntent"
	FnAcceptIntent              = "acceptIntent"
	FnLockEscrow                = "lockEscrow"
	FnStartExecution            = "startExecution"
	FnSubmitProof               = "submitProof"
	FnCommitMerkleRoot          = "commitMerkleRoot"
	FnSetCrossBorderRoute       = "setCrossBorderRoute"
	FnSetCrossBorderStablecoins = "setCrossBorderStablecoins"
	FnOpenDispute               = "openDispute"
	FnSettle                    = "settle"
	FnVerifyOffchainStep        = "verifyOffchainStep"
)

// EventIntentBroadcasted is emitted by broadcastIntent. Its first argument is the new intent id.
const EventIntentBroadcasted = "IntentBroadcasted"

// VM states reported in receipts.
const (
	StateHalt  = "HALT"
	StateFault = "FAULT"
)

// BaseUnitDecimals is the number of decimals used to scale economic values on chain.
const BaseUnitDecimals = 18

var (
	// ErrIntentNotFound is returned when no intent exists for an id.
	ErrIntentNotFound = errors.New("intent not found")
	// ErrReverted is returned when the ledger rejects a call.
	ErrReverted = errors.New("call reverted")
	// ErrUnknownTx is returned when a receipt is requested for an unknown transaction.
	ErrUnknownTx = errors.New("unknown transaction")
)

// Call is a ledger-mutating call on the IntentMesh contract, executed on
// behalf of the delegated wallet From.
//
// Args hold uint64, *big.Int, string, [32]byte or [][32]byte values.
type Call struct {
	From     string `json:"from"`
	Function string `json:"functionName"`
	Args     []any  `json:"args"`
}

// DisplayArgs renders Args as JSON friendly values: integers as decimal
// strings and byte arrays as 0x-prefixed hex.
func (c Call) DisplayArgs() []any {
	out := make([]any, len(c.Args))
	for i, a := range c.Args {
		out[i] = displayArg(a)
	}
	return out
}

func displayArg(a any) any {
	switch v := a.(type) {
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case *big.Int:
		return v.String()
	case [32]byte:
		return "0x" + hex.EncodeToString(v[:])
	case [][32]byte:
		out := make([]any, len(v))
		for i, h := range v {
			out[i] = displayArg(h)
		}
		return out
	default:
		return v
	}
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash string `json:"hash"`
}

// Event is a notification emitted during a transaction.
type Event struct {
	Contract string `json:"contract"`
	Name     string `json:"name"`
	Args     []any  `json:"args"`
}

// Receipt is the final outcome of a transaction.
type Receipt struct {
	TxHash    string  `json:"txHash"`
	State     string  `json:"state"`
	Exception string  `json:"exception,omitempty"`
	Events    []Event `json:"events"`
}

// Succeeded reports whether the transaction halted normally.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.State == StateHalt
}

// IntentRecord is the typed ledger record of an intent.
type IntentRecord struct {
	ID                uint64
	RequesterAgentID  uint64
	ExecutorAgentID   uint64
	Requester         string
	Executor          string
	Title             string
	Description       string
	Value             *big.Int
	StatusCode        int64
	GPSHash           [32]byte
	PhotoHash         [32]byte
	MerkleRoot        [32]byte
	Disputed          bool
	FallbackResolved  bool
	SourceRegion      int64
	DestinationRegion int64
	CreatedAt         uint64
}

// ExecutionStatus converts the record into the read-back snapshot.
func (r *IntentRecord) ExecutionStatus() intent.ExecutionStatus {
	value := "0"
	if r.Value != nil {
		value = r.Value.String()
	}
	return intent.ExecutionStatus{
		IntentID:         r.ID,
		StatusCode:       r.StatusCode,
		Status:           intent.StatusFromCode(r.StatusCode),
		Requester:        r.Requester,
		Executor:         r.Executor,
		Value:            value,
		Disputed:         r.Disputed,
		FallbackResolved: r.FallbackResolved,
		MerkleRoot:       "0x" + hex.EncodeToString(r.MerkleRoot[:]),
	}
}

// Ledger is the settlement ledger holding intents.
type Ledger interface {
	Intent(ctx context.Context, id uint64) (*IntentRecord, error)
	IntentCount(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, call Call) (*TxHandle, error)
	WaitForReceipt(ctx context.Context, tx *TxHandle) (*Receipt, error)
}

// IdentityRegistry maps controlling keys to delegated wallets.
type IdentityRegistry interface {
	// WalletOf returns the delegated wallet of controller, or "" when none exists.
	WalletOf(ctx context.Context, controller string) (string, error)
	Provision(ctx context.Context, controller, metadataURI string) (*TxHandle, error)
}

// CallEncoder produces the raw target and payload of a call, as forwarded to a payment relay.
type CallEncoder interface {
	EncodeCall(call Call) (to string, data []byte, err error)
}

// StepVerifier checks inclusion of an off-chain step against the committed root.
type StepVerifier interface {
	VerifyOffchainStep(ctx context.Context, id uint64, leaf [32]byte, proof [][32]byte, step uint64) (bool, error)
}

// ToBaseUnits scales a decimal value to on-chain base units. Digits beyond
// BaseUnitDecimals are truncated.
func ToBaseUnits(v decimal.Decimal) *big.Int {
	return v.Shift(BaseUnitDecimals).BigInt()
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -BaseUnitDecimals)
}
