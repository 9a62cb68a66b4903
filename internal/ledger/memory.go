package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

// MemoryMeshAddress is the contract name reported by the in-memory ledger.
const MemoryMeshAddress = "memory:intent-mesh"

// Memory is an in-process ledger that enforces the IntentMesh role and
// state rules. It implements Ledger, IdentityRegistry, CallEncoder and
// StepVerifier and is safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	intents  []*IntentRecord
	receipts map[string]*Receipt
	txSeq    uint64

	wallets      map[string]string
	pending      map[string]int
	provisionLag int
	provisions   int

	suppressEvents bool
	failNext       map[string]error
	calls          []Call

	now func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		receipts: make(map[string]*Receipt),
		wallets:  make(map[string]string),
		pending:  make(map[string]int),
		failNext: make(map[string]error),
		now:      time.Now,
	}
}

// SetProvisionLag makes a provisioned wallet visible only after n further
// WalletOf lookups. A negative n means the wallet never appears.
func (m *Memory) SetProvisionLag(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provisionLag = n
}

// SuppressEvents stops receipts from carrying events.
func (m *Memory) SuppressEvents(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressEvents = v
}

// FailNext makes the next submission of function fail with err.
func (m *Memory) FailNext(function string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[function] = err
}

// ProvisionCount returns how many wallets have been provisioned.
func (m *Memory) ProvisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisions
}

// Calls returns every accepted call in submission order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// WalletOf implements IdentityRegistry.
func (m *Memory) WalletOf(_ context.Context, controller string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if left, ok := m.pending[controller]; ok {
		if left != 0 {
			if left > 0 {
				m.pending[controller] = left - 1
			}
			return "", nil
		}
		delete(m.pending, controller)
	}
	return m.wallets[controller], nil
}

// Provision implements IdentityRegistry. Provisioning twice for the same
// controller reverts.
func (m *Memory) Provision(_ context.Context, controller, metadataURI string) (*TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if controller == "" {
		return nil, fmt.Errorf("createAgent: %w: empty controller", ErrReverted)
	}
	if _, exists := m.wallets[controller]; exists {
		return nil, fmt.Errorf("createAgent: %w: agent already exists", ErrReverted)
	}

	sum := keccak([]byte("agent-wallet:" + controller))
	wallet := "0x" + hex.EncodeToString(sum[12:])
	m.wallets[controller] = wallet
	if m.provisionLag != 0 {
		m.pending[controller] = m.provisionLag
	}
	m.provisions++

	return m.recordLocked([]Event{{
		Contract: "memory:agent-factory",
		Name:     "AgentCreated",
		Args:     []any{controller, wallet, metadataURI},
	}}), nil
}

// IntentCount implements Ledger.
func (m *Memory) IntentCount(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.intents)), nil
}

// Intent implements Ledger. The returned record is a copy.
func (m *Memory) Intent(_ context.Context, id uint64) (*IntentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	cp := *rec
	cp.Value = new(big.Int).Set(rec.Value)
	return &cp, nil
}

// WaitForReceipt implements Ledger. Transactions are final as soon as they are accepted.
func (m *Memory) WaitForReceipt(ctx context.Context, tx *TxHandle) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrUnknownTx
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.receipts[tx.Hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTx, tx.Hash)
	}
	return r, nil
}

// EncodeCall implements CallEncoder.
func (m *Memory) EncodeCall(call Call) (string, []byte, error) {
	data, err := json.Marshal(struct {
		Function string `json:"function"`
		Args     []any  `json:"args"`
	}{call.Function, call.DisplayArgs()})
	if err != nil {
		return "", nil, err
	}
	return MemoryMeshAddress, data, nil
}

// Submit implements Ledger. Calls violating the role or state rules fail
// with ErrReverted and leave no trace.
func (m *Memory) Submit(ctx context.Context, call Call) (*TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failNext[call.Function]; ok {
		delete(m.failNext, call.Function)
		return nil, err
	}

	events, err := m.applyLocked(call)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Function, err)
	}
	m.calls = append(m.calls, call)
	return m.recordLocked(events), nil
}

// VerifyOffchainStep implements StepVerifier using sorted-pair hashing.
func (m *Memory) VerifyOffchainStep(_ context.Context, id uint64, leaf [32]byte, proof [][32]byte, _ uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupLocked(id)
	if err != nil {
		return false, err
	}
	cur := leaf
	for _, sibling := range proof {
		a, b := cur, sibling
		if bytes.Compare(a[:], b[:]) > 0 {
			a, b = b, a
		}
		cur = keccak([]byte("0x" + hex.EncodeToString(a[:]) + "0x" + hex.EncodeToString(b[:])))
	}
	return cur == rec.MerkleRoot, nil
}

func (m *Memory) recordLocked(events []Event) *TxHandle {
	m.txSeq++
	sum := keccak([]byte(fmt.Sprintf("memory-tx:%d", m.txSeq)))
	hash := "0x" + hex.EncodeToString(sum[:])
	if m.suppressEvents {
		events = nil
	}
	m.receipts[hash] = &Receipt{TxHash: hash, State: StateHalt, Events: events}
	return &TxHandle{Hash: hash}
}

func (m *Memory) lookupLocked(id uint64) (*IntentRecord, error) {
	if id >= uint64(len(m.intents)) {
		return nil, fmt.Errorf("%w: %d", ErrIntentNotFound, id)
	}
	return m.intents[id], nil
}

func (m *Memory) applyLocked(call Call) ([]Event, error) {
	if call.Function == FnBroadcastIntent {
		return m.broadcastLocked(call)
	}

	id, err := argUint(call.Args, 0)
	if err != nil {
		return nil, err
	}
	rec, err := m.lookupLocked(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}

	from := call.From
	isRequester := from != "" && from == rec.Requester
	isExecutor := from != "" && from == rec.Executor
	status := intent.StatusFromCode(rec.StatusCode)

	switch call.Function {
	case FnAcceptIntent:
		if status != intent.StatusBroadcasted {
			return nil, revert("intent not open")
		}
		if isRequester {
			return nil, revert("requester cannot accept")
		}
		rec.Executor = from
		rec.StatusCode = intent.StatusAccepted.Code()

	case FnLockEscrow:
		if !isRequester {
			return nil, revert("only requester")
		}
		if status != intent.StatusAccepted {
			return nil, revert("intent not accepted")
		}
		rec.StatusCode = intent.StatusEscrowLocked.Code()

	case FnStartExecution:
		if !isExecutor {
			return nil, revert("only executor")
		}
		if status != intent.StatusEscrowLocked {
			return nil, revert("escrow not locked")
		}
		rec.StatusCode = intent.StatusExecutionStarted.Code()

	case FnSubmitProof:
		if !isExecutor {
			return nil, revert("only executor")
		}
		if status != intent.StatusExecutionStarted {
			return nil, revert("execution not started")
		}
		if rec.GPSHash, err = argBytes32(call.Args, 1); err != nil {
			return nil, err
		}
		if rec.PhotoHash, err = argBytes32(call.Args, 2); err != nil {
			return nil, err
		}
		rec.StatusCode = intent.StatusProofSubmitted.Code()

	case FnCommitMerkleRoot:
		if !isRequester && !isExecutor {
			return nil, revert("only participant")
		}
		if status == intent.StatusSettled {
			return nil, revert("intent settled")
		}
		if rec.MerkleRoot, err = argBytes32(call.Args, 1); err != nil {
			return nil, err
		}

	case FnSetCrossBorderRoute:
		if !isRequester && !isExecutor {
			return nil, revert("only participant")
		}
		src, err := argUint(call.Args, 1)
		if err != nil {
			return nil, err
		}
		dst, err := argUint(call.Args, 2)
		if err != nil {
			return nil, err
		}
		rec.SourceRegion, rec.DestinationRegion = int64(src), int64(dst)

	case FnSetCrossBorderStablecoins:
		if !isRequester && !isExecutor {
			return nil, revert("only participant")
		}

	case FnOpenDispute:
		if !isRequester && !isExecutor {
			return nil, revert("only participant")
		}
		if status == intent.StatusSettled {
			return nil, revert("intent settled")
		}
		if rec.Disputed {
			return nil, revert("dispute already open")
		}
		rec.Disputed = true
		reason, _ := argString(call.Args, 1)
		return []Event{{Contract: MemoryMeshAddress, Name: "DisputeOpened", Args: []any{id, from, reason}}}, nil

	case FnSettle:
		if !isRequester {
			return nil, revert("only requester")
		}
		if status != intent.StatusProofSubmitted {
			return nil, revert("proof not submitted")
		}
		if rec.Disputed {
			return nil, revert("dispute open")
		}
		rec.StatusCode = intent.StatusSettled.Code()
		return []Event{{Contract: MemoryMeshAddress, Name: "IntentSettled", Args: []any{id}}}, nil

	default:
		return nil, revert("unknown function " + call.Function)
	}
	return nil, nil
}

func (m *Memory) broadcastLocked(call Call) ([]Event, error) {
	if call.From == "" {
		return nil, revert("unregistered agent")
	}
	title, err := argString(call.Args, 0)
	if err != nil {
		return nil, err
	}
	description, err := argString(call.Args, 1)
	if err != nil {
		return nil, err
	}
	value, err := argBig(call.Args, 2)
	if err != nil {
		return nil, err
	}

	id := uint64(len(m.intents))
	m.intents = append(m.intents, &IntentRecord{
		ID:          id,
		Requester:   call.From,
		Title:       title,
		Description: description,
		Value:       value,
		StatusCode:  intent.StatusBroadcasted.Code(),
		CreatedAt:   uint64(m.now().Unix()),
	})

	return []Event{{
		Contract: MemoryMeshAddress,
		Name:     EventIntentBroadcasted,
		Args:     []any{new(big.Int).SetUint64(id), call.From, new(big.Int).Set(value)},
	}}, nil
}

func revert(reason string) error {
	return fmt.Errorf("%w: %s", ErrReverted, reason)
}

func argAt(args []any, i int) (any, error) {
	if i >= len(args) {
		return nil, revert(fmt.Sprintf("missing argument %d", i))
	}
	return args[i], nil
}

func argUint(args []any, i int) (uint64, error) {
	a, err := argAt(args, i)
	if err != nil {
		return 0, err
	}
	switch v := a.(type) {
	case uint64:
		return v, nil
	case int64:
		if v >= 0 {
			return uint64(v), nil
		}
	case int:
		if v >= 0 {
			return uint64(v), nil
		}
	case *big.Int:
		if v != nil && v.IsUint64() {
			return v.Uint64(), nil
		}
	}
	return 0, revert(fmt.Sprintf("argument %d: expected unsigned integer, got %T", i, a))
}

func argBig(args []any, i int) (*big.Int, error) {
	a, err := argAt(args, i)
	if err != nil {
		return nil, err
	}
	if v, ok := a.(*big.Int); ok && v != nil {
		return new(big.Int).Set(v), nil
	}
	n, err := argUint(args, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(n), nil
}

func argString(args []any, i int) (string, error) {
	a, err := argAt(args, i)
	if err != nil {
		return "", err
	}
	s, ok := a.(string)
	if !ok {
		return "", revert(fmt.Sprintf("argument %d: expected string, got %T", i, a))
	}
	return s, nil
}

func argBytes32(args []any, i int) ([32]byte, error) {
	a, err := argAt(args, i)
	if err != nil {
		return [32]byte{}, err
	}
	h, ok := a.([32]byte)
	if !ok {
		return [32]byte{}, revert(fmt.Sprintf("argument %d: expected bytes32, got %T", i, a))
	}
	return h, nil
}

func keccak(data []byte) [32]byte {
	var out [32]byte
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	d.Sum(out[:0])
	return out
}

var (
	_ Ledger           = (*Memory)(nil)
	_ IdentityRegistry = (*Memory)(nil)
	_ CallEncoder      = (*Memory)(nil)
	_ StepVerifier     = (*Memory)(nil)
)
