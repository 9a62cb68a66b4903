package chain

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ContractParam is the RPC form of a contract call parameter.
type ContractParam struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value,omitempty"`
}

// NewIntegerParam builds an Integer parameter.
func NewIntegerParam(v *big.Int) ContractParam {
	if v == nil {
		v = big.NewInt(0)
	}
	return ContractParam{Type: "Integer", Value: v.String()}
}

// NewUintParam builds an Integer parameter from a uint64.
func NewUintParam(v uint64) ContractParam {
	return ContractParam{Type: "Integer", Value: strconv.FormatUint(v, 10)}
}

// NewStringParam builds a String parameter.
func NewStringParam(s string) ContractParam {
	return ContractParam{Type: "String", Value: s}
}

// NewHash160Param builds a Hash160 parameter from a 0x-prefixed LE script hash.
func NewHash160Param(hash string) ContractParam {
	return ContractParam{Type: "Hash160", Value: hash}
}

// NewUint160Param builds a Hash160 parameter.
func NewUint160Param(u util.Uint160) ContractParam {
	return NewHash160Param("0x" + u.StringLE())
}

// NewByteArrayParam builds a ByteArray parameter.
func NewByteArrayParam(b []byte) ContractParam {
	return ContractParam{Type: "ByteArray", Value: base64.StdEncoding.EncodeToString(b)}
}

// NewArrayParam builds an Array parameter.
func NewArrayParam(items []ContractParam) ContractParam {
	if items == nil {
		items = []ContractParam{}
	}
	return ContractParam{Type: "Array", Value: items}
}

// NewAnyParam builds a null parameter.
func NewAnyParam() ContractParam {
	return ContractParam{Type: "Any"}
}

// ParamFromArg converts a ledger call argument into a contract parameter.
func ParamFromArg(arg any) (ContractParam, error) {
	switch v := arg.(type) {
	case nil:
		return NewAnyParam(), nil
	case uint64:
		return NewUintParam(v), nil
	case int64:
		return NewIntegerParam(big.NewInt(v)), nil
	case int:
		return NewIntegerParam(big.NewInt(int64(v))), nil
	case *big.Int:
		return NewIntegerParam(v), nil
	case string:
		return NewStringParam(v), nil
	case bool:
		return ContractParam{Type: "Boolean", Value: v}, nil
	case []byte:
		return NewByteArrayParam(v), nil
	case [32]byte:
		return NewByteArrayParam(v[:]), nil
	case [][32]byte:
		items := make([]ContractParam, len(v))
		for i := range v {
			items[i] = NewByteArrayParam(v[i][:])
		}
		return NewArrayParam(items), nil
	case util.Uint160:
		return NewUint160Param(v), nil
	default:
		return ContractParam{}, fmt.Errorf("unsupported argument type %T", arg)
	}
}

// ParamsFromArgs converts every argument with ParamFromArg.
func ParamsFromArgs(args []any) ([]ContractParam, error) {
	out := make([]ContractParam, len(args))
	for i, a := range args {
		p, err := ParamFromArg(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// scriptArg converts a ledger call argument into a value accepted by the
// neo-go script emitter.
func scriptArg(arg any) (any, error) {
	switch v := arg.(type) {
	case nil, string, bool, []byte, *big.Int, util.Uint160:
		return v, nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case [32]byte:
		return v[:], nil
	case [][32]byte:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i][:]
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %T", arg)
	}
}
