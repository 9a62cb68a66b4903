package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/internal/merkle"
)

// TxResult describes one submitted ledger call.
type TxResult struct {
	TxHash  string `json:"txHash,omitempty"`
	Relayed bool   `json:"relayed"`
}

// TraceResult is returned by SubmitTrace.
type TraceResult struct {
	TxResult
	MerkleRoot merkle.Hash `json:"merkleRoot"`
	Step       uint64      `json:"step"`
}

func txResult(out *txOutcome) *TxResult {
	if out == nil {
		return &TxResult{}
	}
	return &TxResult{TxHash: out.TxHash, Relayed: out.Relayed}
}

// DelegatedIdentity returns the wallet resolved so far, or "" before the
// first successful resolve.
func (o *Orchestrator) DelegatedIdentity() string {
	return o.identity.cached()
}

// EnsureIdentity returns the delegated wallet, provisioning it if needed.
// An empty metadataURI uses the configured default.
func (o *Orchestrator) EnsureIdentity(ctx context.Context, metadataURI string) (string, error) {
	if metadataURI == "" {
		metadataURI = o.cfg.DefaultMetadataURI
	}
	return o.identity.resolve(ctx, metadataURI)
}

// Status reads the current state of an intent.
func (o *Orchestrator) Status(ctx context.Context, id uint64) (*intent.ExecutionStatus, error) {
	rec, err := o.ledger.Intent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read intent %d: %w", id, err)
	}
	status := rec.ExecutionStatus()
	return &status, nil
}

// Route plans the settlement corridor for a region pair and value.
func (o *Orchestrator) Route(fromRegion, toRegion string, value decimal.Decimal) intent.RoutePlan {
	return o.planner.Plan(fromRegion, toRegion, value)
}

// BroadcastIntent creates a new intent and returns its id.
func (o *Orchestrator) BroadcastIntent(ctx context.Context, title, description string, value decimal.Decimal) (uint64, *TxResult, error) {
	if value.IsNegative() {
		return 0, nil, fmt.Errorf("%w: %s is negative", ErrInvalidValue, value)
	}
	wallet, err := o.EnsureIdentity(ctx, "")
	if err != nil {
		return 0, nil, err
	}
	fallback, err := o.ledger.IntentCount(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("read intent count: %w", err)
	}

	out, err := o.transact(ctx, ledger.Call{
		From:     wallet,
		Function: ledger.FnBroadcastIntent,
		Args:     []any{title, description, ledger.ToBaseUnits(value)},
	})
	if err != nil {
		return 0, nil, err
	}
	id, _ := extractIntentID(out.Receipt, fallback)
	return id, txResult(out), nil
}

// AcceptIntent accepts an open intent as executor.
func (o *Orchestrator) AcceptIntent(ctx context.Context, id uint64) (*TxResult, error) {
	return o.simpleCall(ctx, ledger.FnAcceptIntent, id)
}

// Settle releases escrow for an intent with a submitted proof.
func (o *Orchestrator) Settle(ctx context.Context, id uint64) (*TxResult, error) {
	return o.simpleCall(ctx, ledger.FnSettle, id)
}

// SubmitTrace commits the Merkle root of steps for an intent. A zero step
// uses the configured proof step.
func (o *Orchestrator) SubmitTrace(ctx context.Context, id uint64, steps []intent.ExecutionStep, step uint64) (*TraceResult, error) {
	if step == 0 {
		step = o.cfg.ProofStep
	}
	root := merkle.Root(steps)
	out, err := o.simpleCallArgs(ctx, ledger.FnCommitMerkleRoot, id, [32]byte(root), step)
	if err != nil {
		return nil, err
	}
	return &TraceResult{TxResult: *out, MerkleRoot: root, Step: step}, nil
}

// VerifyStep checks that steps[index] is part of the trace committed for
// intent id. The ledger verifies the proof when it can; otherwise the
// proof is checked against the committed root read back from the ledger.
func (o *Orchestrator) VerifyStep(ctx context.Context, id uint64, steps []intent.ExecutionStep, index int) (bool, error) {
	proof, err := merkle.Build(steps).Proof(index)
	if err != nil {
		return false, err
	}

	if v, ok := o.ledger.(ledger.StepVerifier); ok {
		siblings := make([][32]byte, len(proof.Siblings))
		for i, s := range proof.Siblings {
			siblings[i] = s
		}
		return v.VerifyOffchainStep(ctx, id, proof.Leaf, siblings, uint64(index))
	}

	rec, err := o.ledger.Intent(ctx, id)
	if err != nil {
		return false, fmt.Errorf("read intent %d: %w", id, err)
	}
	return proof.Verify(merkle.Hash(rec.MerkleRoot)), nil
}

func (o *Orchestrator) simpleCall(ctx context.Context, fn string, id uint64) (*TxResult, error) {
	return o.simpleCallArgs(ctx, fn, id)
}

func (o *Orchestrator) simpleCallArgs(ctx context.Context, fn string, args ...any) (*TxResult, error) {
	wallet, err := o.EnsureIdentity(ctx, "")
	if err != nil {
		return nil, err
	}
	out, err := o.transact(ctx, ledger.Call{From: wallet, Function: fn, Args: args})
	if err != nil {
		return nil, err
	}
	return txResult(out), nil
}
