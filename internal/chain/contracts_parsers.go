package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/pramadanif/meshforge/internal/ledger"
)

// =============================================================================
// Stack Item Parsers
// =============================================================================

// ParseArray extracts an array of StackItems from a parent StackItem.
func ParseArray(item StackItem) ([]StackItem, error) {
	if item.Type != "Array" && item.Type != "Struct" {
		return nil, fmt.Errorf("expected Array or Struct, got %s", item.Type)
	}

	var items []StackItem
	if err := json.Unmarshal(item.Value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal array: %w", err)
	}
	return items, nil
}

// ParseByteArray decodes a ByteString or Buffer item. Null yields nil.
func ParseByteArray(item StackItem) ([]byte, error) {
	switch item.Type {
	case "ByteString", "Buffer":
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(value)
	case "Any", "Null":
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseInteger decodes an Integer item.
func ParseInteger(item StackItem) (*big.Int, error) {
	if item.Type != "Integer" {
		return nil, fmt.Errorf("unexpected type: %s", item.Type)
	}
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	return n, nil
}

// ParseBoolean decodes a Boolean item.
func ParseBoolean(item StackItem) (bool, error) {
	if item.Type != "Boolean" {
		return false, fmt.Errorf("unexpected type: %s", item.Type)
	}
	var value bool
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return false, err
	}
	return value, nil
}

// ParseStringFromItem decodes a UTF-8 string item. Null yields "".
func ParseStringFromItem(item StackItem) (string, error) {
	b, err := ParseByteArray(item)
	if err != nil {
		return "", fmt.Errorf("unexpected type for string: %s", item.Type)
	}
	return string(b), nil
}

// ParseAddress decodes a 20-byte script hash item into a Neo address.
// Null and the zero hash yield "".
func ParseAddress(item StackItem) (string, error) {
	b, err := ParseByteArray(item)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	u, err := util.Uint160DecodeBytesBE(b)
	if err != nil {
		return "", fmt.Errorf("decode hash160: %w", err)
	}
	if u.Equals(util.Uint160{}) {
		return "", nil
	}
	return address.Uint160ToString(u), nil
}

// ParseBytes32 decodes a 32-byte item. Null yields the zero value.
func ParseBytes32(item StackItem) ([32]byte, error) {
	var out [32]byte
	b, err := ParseByteArray(item)
	if err != nil {
		return out, err
	}
	if len(b) == 0 {
		return out, nil
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// StackItemValue converts an item into a plain Go value: *big.Int, bool,
// []byte, []any or nil.
func StackItemValue(item StackItem) (any, error) {
	switch item.Type {
	case "Integer":
		return ParseInteger(item)
	case "Boolean":
		return ParseBoolean(item)
	case "ByteString", "Buffer":
		return ParseByteArray(item)
	case "Array", "Struct":
		items, err := ParseArray(item)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, it := range items {
			if out[i], err = StackItemValue(it); err != nil {
				return nil, err
			}
		}
		return out, nil
	case "Any", "Null", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported stack item type %s", item.Type)
}

// intentFieldCount is the number of fields in the getIntent struct.
const intentFieldCount = 17

// ParseIntentRecord decodes the struct returned by IntentMesh.getIntent.
func ParseIntentRecord(item StackItem) (*ledger.IntentRecord, error) {
	items, err := ParseArray(item)
	if err != nil {
		return nil, err
	}
	if len(items) < intentFieldCount {
		return nil, fmt.Errorf("expected at least %d items, got %d", intentFieldCount, len(items))
	}

	rec := &ledger.IntentRecord{}
	ints := []struct {
		idx  int
		name string
		set  func(*big.Int)
	}{
		{0, "id", func(n *big.Int) { rec.ID = n.Uint64() }},
		{1, "requesterAgentId", func(n *big.Int) { rec.RequesterAgentID = n.Uint64() }},
		{2, "executorAgentId", func(n *big.Int) { rec.ExecutorAgentID = n.Uint64() }},
		{7, "value", func(n *big.Int) { rec.Value = n }},
		{8, "status", func(n *big.Int) { rec.StatusCode = n.Int64() }},
		{14, "sourceRegion", func(n *big.Int) { rec.SourceRegion = n.Int64() }},
		{15, "destinationRegion", func(n *big.Int) { rec.DestinationRegion = n.Int64() }},
		{16, "createdAt", func(n *big.Int) { rec.CreatedAt = n.Uint64() }},
	}
	for _, f := range ints {
		n, err := ParseInteger(items[f.idx])
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.name, err)
		}
		f.set(n)
	}

	if rec.Requester, err = ParseAddress(items[3]); err != nil {
		return nil, fmt.Errorf("parse requester: %w", err)
	}
	if rec.Executor, err = ParseAddress(items[4]); err != nil {
		return nil, fmt.Errorf("parse executor: %w", err)
	}
	if rec.Title, err = ParseStringFromItem(items[5]); err != nil {
		return nil, fmt.Errorf("parse title: %w", err)
	}
	if rec.Description, err = ParseStringFromItem(items[6]); err != nil {
		return nil, fmt.Errorf("parse description: %w", err)
	}
	if rec.GPSHash, err = ParseBytes32(items[9]); err != nil {
		return nil, fmt.Errorf("parse gpsHash: %w", err)
	}
	if rec.PhotoHash, err = ParseBytes32(items[10]); err != nil {
		return nil, fmt.Errorf("parse photoHash: %w", err)
	}
	if rec.MerkleRoot, err = ParseBytes32(items[11]); err != nil {
		return nil, fmt.Errorf("parse offchainMerkleRoot: %w", err)
	}
	if rec.Disputed, err = ParseBoolean(items[12]); err != nil {
		return nil, fmt.Errorf("parse disputed: %w", err)
	}
	if rec.FallbackResolved, err = ParseBoolean(items[13]); err != nil {
		return nil, fmt.Errorf("parse fallbackResolved: %w", err)
	}

	return rec, nil
}

// EventsFromLog converts the notifications of the first execution into ledger events.
func EventsFromLog(log *ApplicationLog) ([]ledger.Event, error) {
	if log == nil || len(log.Executions) == 0 {
		return nil, nil
	}
	var events []ledger.Event
	for _, n := range log.Executions[0].Notifications {
		v, err := StackItemValue(n.State)
		if err != nil {
			return nil, fmt.Errorf("decode %s notification: %w", n.EventName, err)
		}
		args, _ := v.([]any)
		events = append(events, ledger.Event{Contract: n.Contract, Name: n.EventName, Args: args})
	}
	return events, nil
}
