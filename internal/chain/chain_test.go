package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/pkg/logger"
)

const (
	testMeshHash    = "0x1111111111111111111111111111111111111111"
	testFactoryHash = "0x2222222222222222222222222222222222222222"
)

func makeRPCResponse(result interface{}) []byte {
	raw, _ := json.Marshal(result)
	resp := RPCResponse{JSONRPC: "2.0", ID: 1, Result: raw}
	data, _ := json.Marshal(resp)
	return data
}

func makeRPCError(code int, message string) []byte {
	resp := RPCResponse{JSONRPC: "2.0", ID: 1, Error: &RPCError{Code: code, Message: message}}
	data, _ := json.Marshal(resp)
	return data
}

// rpcServer dispatches JSON-RPC calls by method name and records them.
type rpcServer struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) []byte
	calls    []rpcCall
}

type rpcCall struct {
	Method string
	Params []json.RawMessage
}

func newRPCServer(t *testing.T) (*rpcServer, *httptest.Server) {
	s := &rpcServer{handlers: make(map[string]func([]json.RawMessage) []byte)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		s.calls = append(s.calls, rpcCall{Method: req.Method, Params: req.Params})
		h, ok := s.handlers[req.Method]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_, _ = w.Write(makeRPCError(-32601, "method not found"))
			return
		}
		_, _ = w.Write(h(req.Params))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *rpcServer) on(method string, h func(params []json.RawMessage) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *rpcServer) callsTo(method string) []rpcCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rpcCall
	for _, c := range s.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestAccount(t *testing.T) *wallet.Account {
	t.Helper()
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	return wallet.NewAccountFromPrivateKey(priv)
}

func newTestMesh(t *testing.T, url string, signer *wallet.Account) *IntentMesh {
	t.Helper()
	client, err := NewClient(Config{RPCURL: url, NetworkID: 894710606})
	require.NoError(t, err)
	m, err := NewIntentMesh(client, ContractAddresses{IntentMesh: testMeshHash, AgentFactory: testFactoryHash}, signer, logger.NewDiscard("test"))
	require.NoError(t, err)
	return m.WithWaitTimings(time.Second, 10*time.Millisecond)
}

func item(typ string, value interface{}) StackItem {
	raw, _ := json.Marshal(value)
	return StackItem{Type: typ, Value: raw}
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func halt(stack ...StackItem) InvokeResult {
	return InvokeResult{Script: b64([]byte{0x40}), State: "HALT", GasConsumed: "1000", Stack: stack}
}

// =============================================================================
// Client
// =============================================================================

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestClient_CallReturnsRPCError(t *testing.T) {
	s, srv := newRPCServer(t)
	s.on("getblockcount", func([]json.RawMessage) []byte { return makeRPCError(-500, "boom") })

	client, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)

	_, err = client.GetBlockCount(context.Background())
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -500, rpcErr.Code)
}

func TestClient_WaitForApplicationLogRetriesUnknownTx(t *testing.T) {
	s, srv := newRPCServer(t)
	var n int
	s.on("getapplicationlog", func([]json.RawMessage) []byte {
		n++
		if n < 3 {
			return makeRPCError(-100, "Unknown transaction")
		}
		return makeRPCResponse(ApplicationLog{TxID: "0xabc", Executions: []Execution{{VMState: "HALT"}}})
	})

	client, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)

	log, err := client.WaitForApplicationLog(context.Background(), "0xabc", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "HALT", log.Executions[0].VMState)
	assert.Equal(t, 3, n)
}

// =============================================================================
// Parsers
// =============================================================================

func intentStruct(requester, executor util.Uint160, status int64) StackItem {
	root := make([]byte, 32)
	root[0] = 0xaa
	return item("Struct", []StackItem{
		item("Integer", "4"),
		item("Integer", "1"),
		item("Integer", "2"),
		item("ByteString", b64(requester.BytesBE())),
		item("ByteString", b64(executor.BytesBE())),
		item("ByteString", b64([]byte("Task: delivery"))),
		item("ByteString", b64([]byte("{}"))),
		item("Integer", "2000000000000000000"),
		item("Integer", big.NewInt(status).String()),
		item("ByteString", b64(make([]byte, 32))),
		item("ByteString", b64(make([]byte, 32))),
		item("ByteString", b64(root)),
		item("Boolean", true),
		item("Boolean", false),
		item("Integer", "1"),
		item("Integer", "2"),
		item("Integer", "1700000000"),
	})
}

func TestParseIntentRecord(t *testing.T) {
	requester := util.Uint160{1, 2, 3}
	rec, err := ParseIntentRecord(intentStruct(requester, util.Uint160{}, 4))
	require.NoError(t, err)

	assert.Equal(t, uint64(4), rec.ID)
	assert.Equal(t, address.Uint160ToString(requester), rec.Requester)
	assert.Empty(t, rec.Executor)
	assert.Equal(t, "Task: delivery", rec.Title)
	assert.Equal(t, "2000000000000000000", rec.Value.String())
	assert.Equal(t, int64(4), rec.StatusCode)
	assert.Equal(t, byte(0xaa), rec.MerkleRoot[0])
	assert.True(t, rec.Disputed)
	assert.False(t, rec.FallbackResolved)
	assert.Equal(t, int64(2), rec.DestinationRegion)

	st := rec.ExecutionStatus()
	assert.Equal(t, "PROOF_SUBMITTED", string(st.Status))
	assert.True(t, strings.HasPrefix(st.MerkleRoot, "0xaa"))
}

func TestParseIntentRecord_ShortStruct(t *testing.T) {
	_, err := ParseIntentRecord(item("Struct", []StackItem{item("Integer", "1")}))
	assert.Error(t, err)
}

func TestStackItemValue(t *testing.T) {
	v, err := StackItemValue(item("Array", []StackItem{
		item("Integer", "7"),
		item("ByteString", b64([]byte("x"))),
		{Type: "Any"},
	}))
	require.NoError(t, err)

	arr := v.([]any)
	require.Len(t, arr, 3)
	assert.Equal(t, 0, arr[0].(*big.Int).Cmp(big.NewInt(7)))
	assert.Equal(t, []byte("x"), arr[1])
	assert.Nil(t, arr[2])
}

func TestParamFromArg(t *testing.T) {
	p, err := ParamFromArg(uint64(9))
	require.NoError(t, err)
	assert.Equal(t, ContractParam{Type: "Integer", Value: "9"}, p)

	p, err = ParamFromArg([32]byte{1})
	require.NoError(t, err)
	assert.Equal(t, "ByteArray", p.Type)

	p, err = ParamFromArg([][32]byte{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, "Array", p.Type)
	assert.Len(t, p.Value.([]ContractParam), 2)

	_, err = ParamFromArg(3.14)
	assert.Error(t, err)
}

// =============================================================================
// IntentMesh
// =============================================================================

func TestIntentMesh_Reads(t *testing.T) {
	s, srv := newRPCServer(t)
	signer := newTestAccount(t)
	walletHash := util.Uint160{9, 9, 9}

	s.on("invokefunction", func(params []json.RawMessage) []byte {
		var method string
		_ = json.Unmarshal(params[1], &method)
		switch method {
		case "intentCount":
			return makeRPCResponse(halt(item("Integer", "5")))
		case "getIntent":
			return makeRPCResponse(halt(intentStruct(signer.ScriptHash(), walletHash, 0)))
		case "controllerToWallet":
			return makeRPCResponse(halt(item("ByteString", b64(walletHash.BytesBE()))))
		case "verifyOffchainStep":
			return makeRPCResponse(halt(item("Boolean", true)))
		}
		return makeRPCResponse(InvokeResult{State: "FAULT", Exception: "unknown method"})
	})

	m := newTestMesh(t, srv.URL, signer)
	ctx := context.Background()

	n, err := m.IntentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	rec, err := m.Intent(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, signer.Address, rec.Requester)
	assert.Equal(t, address.Uint160ToString(walletHash), rec.Executor)

	w, err := m.WalletOf(ctx, signer.Address)
	require.NoError(t, err)
	assert.Equal(t, address.Uint160ToString(walletHash), w)

	ok, err := m.VerifyOffchainStep(ctx, 4, [32]byte{1}, [][32]byte{{2}}, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.WalletOf(ctx, "not-an-address")
	assert.Error(t, err)
}

func TestIntentMesh_WalletOfMissing(t *testing.T) {
	s, srv := newRPCServer(t)
	s.on("invokefunction", func([]json.RawMessage) []byte {
		return makeRPCResponse(halt(StackItem{Type: "Any"}))
	})

	signer := newTestAccount(t)
	w, err := newTestMesh(t, srv.URL, signer).WalletOf(context.Background(), signer.Address)
	require.NoError(t, err)
	assert.Empty(t, w)
}

func TestIntentMesh_SubmitRoutesThroughWallet(t *testing.T) {
	s, srv := newRPCServer(t)
	signer := newTestAccount(t)
	walletHash := util.Uint160{7, 7, 7}

	s.on("invokefunction", func([]json.RawMessage) []byte { return makeRPCResponse(halt()) })
	s.on("getblockcount", func([]json.RawMessage) []byte { return makeRPCResponse(1000) })
	s.on("calculatenetworkfee", func([]json.RawMessage) []byte {
		return makeRPCResponse(map[string]string{"networkfee": "123456"})
	})
	s.on("sendrawtransaction", func([]json.RawMessage) []byte {
		return makeRPCResponse(map[string]string{"hash": "0xfeed"})
	})

	m := newTestMesh(t, srv.URL, signer)
	tx, err := m.Submit(context.Background(), ledger.Call{
		From:     address.Uint160ToString(walletHash),
		Function: ledger.FnLockEscrow,
		Args:     []any{uint64(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", tx.Hash)

	invokes := s.callsTo("invokefunction")
	require.Len(t, invokes, 1)
	var target, method string
	require.NoError(t, json.Unmarshal(invokes[0].Params[0], &target))
	require.NoError(t, json.Unmarshal(invokes[0].Params[1], &method))
	assert.Equal(t, "0x"+walletHash.StringLE(), target)
	assert.Equal(t, "execute", method)

	var params []ContractParam
	require.NoError(t, json.Unmarshal(invokes[0].Params[2], &params))
	require.Len(t, params, 3)
	assert.Equal(t, testMeshHash, params[0].Value)
	assert.Equal(t, ledger.FnLockEscrow, params[1].Value)

	var signers []Signer
	require.NoError(t, json.Unmarshal(invokes[0].Params[3], &signers))
	assert.Equal(t, "0x"+signer.ScriptHash().StringLE(), signers[0].Account)

	assert.Len(t, s.callsTo("sendrawtransaction"), 1)
}

func TestIntentMesh_SubmitSimulationFault(t *testing.T) {
	s, srv := newRPCServer(t)
	s.on("invokefunction", func([]json.RawMessage) []byte {
		return makeRPCResponse(InvokeResult{State: "FAULT", Exception: "only requester"})
	})

	m := newTestMesh(t, srv.URL, newTestAccount(t))
	_, err := m.Submit(context.Background(), ledger.Call{
		From:     address.Uint160ToString(util.Uint160{1}),
		Function: ledger.FnSettle,
		Args:     []any{uint64(1)},
	})
	assert.ErrorIs(t, err, ledger.ErrReverted)
	assert.Empty(t, s.callsTo("sendrawtransaction"))
}

func TestIntentMesh_ProvisionOnlyForSigner(t *testing.T) {
	_, srv := newRPCServer(t)
	m := newTestMesh(t, srv.URL, newTestAccount(t))

	_, err := m.Provision(context.Background(), address.Uint160ToString(util.Uint160{1}), "ipfs://x")
	assert.Error(t, err)
}

func TestIntentMesh_WaitForReceiptDecodesEvents(t *testing.T) {
	s, srv := newRPCServer(t)
	s.on("getapplicationlog", func([]json.RawMessage) []byte {
		return makeRPCResponse(ApplicationLog{
			TxID: "0xfeed",
			Executions: []Execution{{
				VMState: "HALT",
				Notifications: []Notification{{
					Contract:  testMeshHash,
					EventName: ledger.EventIntentBroadcasted,
					State:     item("Array", []StackItem{item("Integer", "12")}),
				}},
			}},
		})
	})

	m := newTestMesh(t, srv.URL, newTestAccount(t))
	r, err := m.WaitForReceipt(context.Background(), &ledger.TxHandle{Hash: "0xfeed"})
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	require.Len(t, r.Events, 1)
	assert.Equal(t, 0, r.Events[0].Args[0].(*big.Int).Cmp(big.NewInt(12)))
}

func TestIntentMesh_EncodeCall(t *testing.T) {
	_, srv := newRPCServer(t)
	m := newTestMesh(t, srv.URL, newTestAccount(t))

	to, data, err := m.EncodeCall(ledger.Call{
		Function: ledger.FnSubmitProof,
		Args:     []any{uint64(1), [32]byte{1}, [32]byte{2}},
	})
	require.NoError(t, err)
	assert.Equal(t, testMeshHash, to)
	assert.NotEmpty(t, data)
}

func TestContractAddresses_Validate(t *testing.T) {
	assert.NoError(t, ContractAddresses{IntentMesh: testMeshHash, AgentFactory: testFactoryHash}.Validate())
	assert.Error(t, ContractAddresses{IntentMesh: testMeshHash}.Validate())
	assert.Error(t, ContractAddresses{IntentMesh: "0xzz", AgentFactory: testFactoryHash}.Validate())
}

func TestAccountFromPrivateKey(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)

	acc, err := AccountFromPrivateKey("0x" + priv.String())
	require.NoError(t, err)
	assert.Equal(t, priv.Address(), acc.Address)

	_, err = AccountFromPrivateKey("nothex")
	assert.Error(t, err)
}
