package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

func provision(t *testing.T, m *Memory, controller string) string {
	t.Helper()
	ctx := context.Background()
	_, err := m.Provision(ctx, controller, "ipfs://meta")
	require.NoError(t, err)
	w, err := m.WalletOf(ctx, controller)
	require.NoError(t, err)
	require.NotEmpty(t, w)
	return w
}

func submit(t *testing.T, m *Memory, call Call) *Receipt {
	t.Helper()
	ctx := context.Background()
	tx, err := m.Submit(ctx, call)
	require.NoError(t, err)
	r, err := m.WaitForReceipt(ctx, tx)
	require.NoError(t, err)
	require.True(t, r.Succeeded())
	return r
}

func status(t *testing.T, m *Memory, id uint64) intent.Status {
	t.Helper()
	rec, err := m.Intent(context.Background(), id)
	require.NoError(t, err)
	return intent.StatusFromCode(rec.StatusCode)
}

func TestMemory_Provision(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	w, err := m.WalletOf(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, w)

	w1 := provision(t, m, "alice")
	assert.Len(t, w1, 42)
	assert.Equal(t, 1, m.ProvisionCount())

	_, err = m.Provision(ctx, "alice", "ipfs://meta")
	assert.True(t, errors.Is(err, ErrReverted))
	assert.Equal(t, 1, m.ProvisionCount())
}

func TestMemory_ProvisionLag(t *testing.T) {
	m := NewMemory()
	m.SetProvisionLag(2)
	ctx := context.Background()

	_, err := m.Provision(ctx, "bob", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		w, err := m.WalletOf(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, w)
	}
	w, err := m.WalletOf(ctx, "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, w)
}

func TestMemory_Lifecycle(t *testing.T) {
	m := NewMemory()
	req := provision(t, m, "requester")
	exe := provision(t, m, "executor")

	r := submit(t, m, Call{From: req, Function: FnBroadcastIntent, Args: []any{"t", "d", ToBaseUnits(decimal.NewFromInt(2))}})
	require.Len(t, r.Events, 1)
	assert.Equal(t, EventIntentBroadcasted, r.Events[0].Name)
	assert.Equal(t, 0, r.Events[0].Args[0].(*big.Int).Cmp(big.NewInt(0)))

	id := uint64(0)
	submit(t, m, Call{From: exe, Function: FnAcceptIntent, Args: []any{id}})
	submit(t, m, Call{From: req, Function: FnLockEscrow, Args: []any{id}})
	submit(t, m, Call{From: exe, Function: FnStartExecution, Args: []any{id}})
	submit(t, m, Call{From: exe, Function: FnSubmitProof, Args: []any{id, [32]byte{1}, [32]byte{2}}})
	assert.Equal(t, intent.StatusProofSubmitted, status(t, m, id))

	submit(t, m, Call{From: req, Function: FnSettle, Args: []any{id}})
	assert.Equal(t, intent.StatusSettled, status(t, m, id))

	rec, err := m.Intent(context.Background(), id)
	require.NoError(t, err)
	st := rec.ExecutionStatus()
	assert.Equal(t, "2000000000000000000", st.Value)
	assert.Equal(t, req, st.Requester)
	assert.Equal(t, exe, st.Executor)
}

func TestMemory_RoleRules(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	req := provision(t, m, "requester")
	exe := provision(t, m, "executor")
	submit(t, m, Call{From: req, Function: FnBroadcastIntent, Args: []any{"t", "d", big.NewInt(1)}})

	tests := []struct {
		name string
		call Call
	}{
		{"requester accepts own intent", Call{From: req, Function: FnAcceptIntent, Args: []any{uint64(0)}}},
		{"lock before accept", Call{From: req, Function: FnLockEscrow, Args: []any{uint64(0)}}},
		{"stranger annotates route", Call{From: exe, Function: FnSetCrossBorderRoute, Args: []any{uint64(0), uint64(1), uint64(2)}}},
		{"settle without proof", Call{From: req, Function: FnSettle, Args: []any{uint64(0)}}},
		{"missing intent", Call{From: req, Function: FnLockEscrow, Args: []any{uint64(7)}}},
		{"missing argument", Call{From: req, Function: FnCommitMerkleRoot, Args: []any{uint64(0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(ctx, tt.call)
			assert.True(t, errors.Is(err, ErrReverted), "err = %v", err)
		})
	}
	assert.Equal(t, intent.StatusBroadcasted, status(t, m, 0))
}

func TestMemory_DisputeBlocksSettlement(t *testing.T) {
	m := NewMemory()
	req := provision(t, m, "requester")
	exe := provision(t, m, "executor")
	submit(t, m, Call{From: req, Function: FnBroadcastIntent, Args: []any{"t", "d", big.NewInt(1)}})
	submit(t, m, Call{From: exe, Function: FnAcceptIntent, Args: []any{uint64(0)}})
	submit(t, m, Call{From: req, Function: FnLockEscrow, Args: []any{uint64(0)}})
	submit(t, m, Call{From: exe, Function: FnStartExecution, Args: []any{uint64(0)}})
	submit(t, m, Call{From: exe, Function: FnSubmitProof, Args: []any{uint64(0), [32]byte{}, [32]byte{}}})
	submit(t, m, Call{From: exe, Function: FnOpenDispute, Args: []any{uint64(0), "AUTO_DISPUTE:CROSS_BORDER"}})

	_, err := m.Submit(context.Background(), Call{From: req, Function: FnSettle, Args: []any{uint64(0)}})
	assert.True(t, errors.Is(err, ErrReverted))

	rec, err := m.Intent(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, rec.Disputed)
}

func TestMemory_SuppressEventsAndFailNext(t *testing.T) {
	m := NewMemory()
	req := provision(t, m, "requester")
	m.SuppressEvents(true)

	r := submit(t, m, Call{From: req, Function: FnBroadcastIntent, Args: []any{"t", "d", big.NewInt(1)}})
	assert.Empty(t, r.Events)

	boom := errors.New("boom")
	m.FailNext(FnBroadcastIntent, boom)
	_, err := m.Submit(context.Background(), Call{From: req, Function: FnBroadcastIntent, Args: []any{"t", "d", big.NewInt(1)}})
	assert.ErrorIs(t, err, boom)

	submit(t, m, Call{From: req, Function: FnBroadcastIntent, Args: []any{"t", "d", big.NewInt(1)}})
	n, err := m.IntentCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Len(t, m.Calls(), 2)
}

func TestMemory_WaitForUnknownReceipt(t *testing.T) {
	_, err := NewMemory().WaitForReceipt(context.Background(), &TxHandle{Hash: "0xdead"})
	assert.ErrorIs(t, err, ErrUnknownTx)
}

func TestCall_DisplayArgs(t *testing.T) {
	c := Call{Function: FnSubmitProof, Args: []any{uint64(3), [32]byte{0xab}, "x", big.NewInt(42)}}
	got := c.DisplayArgs()

	assert.Equal(t, "3", got[0])
	assert.Equal(t, "0xab00000000000000000000000000000000000000000000000000000000000000", got[1])
	assert.Equal(t, "x", got[2])
	assert.Equal(t, "42", got[3])
}

func TestBaseUnits(t *testing.T) {
	v := decimal.RequireFromString("1.5")
	units := ToBaseUnits(v)
	assert.Equal(t, "1500000000000000000", units.String())
	assert.True(t, FromBaseUnits(units).Equal(v))
}
