package orchestrator

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/internal/merkle"
)

// intentIDFromReceipt returns the id carried by the first IntentBroadcasted
// event of receipt. ok is false when no such event decodes.
func intentIDFromReceipt(receipt *ledger.Receipt) (id uint64, ok bool) {
	if receipt == nil {
		return 0, false
	}
	for _, ev := range receipt.Events {
		if ev.Name != ledger.EventIntentBroadcasted || len(ev.Args) == 0 {
			continue
		}
		if id, ok := toUint64(ev.Args[0]); ok {
			return id, true
		}
	}
	return 0, false
}

// extractIntentID returns the id reported by receipt, or fallback.
func extractIntentID(receipt *ledger.Receipt, fallback uint64) (uint64, bool) {
	if id, ok := intentIDFromReceipt(receipt); ok {
		return id, true
	}
	return fallback, false
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), n >= 0
	case int:
		return uint64(n), n >= 0
	case *big.Int:
		if n != nil && n.IsUint64() {
			return n.Uint64(), true
		}
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	}
	return 0, false
}

// proofHashes derives the GPS and photo attestation hashes submitted with a proof.
func proofHashes(id uint64, plan intent.RoutePlan) (gps, photo merkle.Hash) {
	gps = merkle.KeccakString(fmt.Sprintf("gps:%d:%d->%d", id, plan.SourceRegionCode, plan.DestinationRegionCode))
	photo = merkle.KeccakString(fmt.Sprintf("photo:%d:%s->%s", id, plan.SourceStable, plan.DestinationStable))
	return gps, photo
}
