package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/internal/relay"
)

// txOutcome describes how a ledger call was carried out. Receipt is nil
// when the relay accepted the call without reporting a transaction.
type txOutcome struct {
	TxHash  string
	Relayed bool
	Receipt *ledger.Receipt
}

// transact executes call through the relay when one is configured and falls
// back to direct submission when the relay is optional. A call the relay
// accepted is not submitted again.
func (o *Orchestrator) transact(ctx context.Context, call ledger.Call) (*txOutcome, error) {
	switch {
	case o.relay.Enabled():
		out, err := o.relayCall(ctx, call)
		o.metrics.RecordRelay(call.Function, err == nil)
		if err == nil {
			return out, nil
		}
		if o.relay.Required() {
			return nil, fmt.Errorf("%w: %s: %w", ErrRelayRequired, call.Function, err)
		}
		o.log.WithError(err).
			WithField("function", call.Function).
			Warn("relay failed, submitting directly")
	case o.relay.Required():
		return nil, fmt.Errorf("%w: %s: %w", ErrRelayRequired, call.Function, relay.ErrNotConfigured)
	}

	return o.submitDirect(ctx, call)
}

func (o *Orchestrator) relayCall(ctx context.Context, call ledger.Call) (*txOutcome, error) {
	env := relay.Envelope{
		FunctionName: call.Function,
		Args:         call.DisplayArgs(),
		FromAgent:    call.From,
	}
	if enc, ok := o.ledger.(ledger.CallEncoder); ok {
		to, data, err := enc.EncodeCall(call)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", call.Function, err)
		}
		env.To = to
		env.Data = "0x" + hex.EncodeToString(data)
	}

	res, err := o.relay.Relay(ctx, env)
	if err != nil {
		return nil, err
	}

	out := &txOutcome{TxHash: res.TxHash, Relayed: true}
	if res.TxHash == "" {
		return out, nil
	}
	receipt, err := o.ledger.WaitForReceipt(ctx, &ledger.TxHandle{Hash: res.TxHash})
	if err != nil {
		// The relay owns the transaction; it is never resubmitted here.
		o.log.WithError(err).WithField("tx_hash", res.TxHash).Warn("relayed transaction receipt unavailable")
		return out, nil
	}
	if !receipt.Succeeded() {
		return nil, reverted(call.Function, receipt)
	}
	out.Receipt = receipt
	return out, nil
}

func (o *Orchestrator) submitDirect(ctx context.Context, call ledger.Call) (*txOutcome, error) {
	tx, err := o.ledger.Submit(ctx, call)
	if err != nil {
		return nil, err
	}
	receipt, err := o.ledger.WaitForReceipt(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", call.Function, err)
	}
	if !receipt.Succeeded() {
		return nil, reverted(call.Function, receipt)
	}
	return &txOutcome{TxHash: tx.Hash, Receipt: receipt}, nil
}

func reverted(function string, receipt *ledger.Receipt) error {
	return fmt.Errorf("%s: %w: vm state %s: %s", function, ledger.ErrReverted, receipt.State, receipt.Exception)
}

// isFatal reports whether err must abort the run.
func isFatal(err error) bool {
	return errors.Is(err, ErrRelayRequired) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
