package chain

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// ValidUntilBlockIncrement is how many blocks a built transaction stays valid for.
const ValidUntilBlockIncrement = 100

// AccountFromPrivateKey creates a neo-go account from a hex private key, with or without 0x.
func AccountFromPrivateKey(privateKeyHex string) (*wallet.Account, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	priv, err := keys.NewPrivateKeyFromHex(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return wallet.NewAccountFromPrivateKey(priv), nil
}

// TxBuilder turns simulated invocations into signed transactions.
type TxBuilder struct {
	client    *Client
	networkID uint32
}

// NewTxBuilder creates a transaction builder for the given network magic.
func NewTxBuilder(client *Client, networkID uint32) *TxBuilder {
	return &TxBuilder{client: client, networkID: networkID}
}

// BuildAndSignTx builds a transaction running the simulated script, priced
// with the simulated system fee and the node-calculated network fee, and
// signs it with signer.
func (b *TxBuilder) BuildAndSignTx(ctx context.Context, invokeResult *InvokeResult, signer *wallet.Account, scope transaction.WitnessScope) (*transaction.Transaction, error) {
	if invokeResult == nil {
		return nil, fmt.Errorf("invoke result required")
	}
	script, err := base64.StdEncoding.DecodeString(invokeResult.Script)
	if err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	sysFee, err := strconv.ParseInt(invokeResult.GasConsumed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse gas consumed %q: %w", invokeResult.GasConsumed, err)
	}

	height, err := b.client.GetBlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	tx := transaction.New(script, sysFee)
	tx.Nonce = nonce
	tx.ValidUntilBlock = height + ValidUntilBlockIncrement
	tx.Signers = []transaction.Signer{{Account: signer.ScriptHash(), Scopes: scope}}
	tx.Scripts = []transaction.Witness{{
		InvocationScript:   []byte{},
		VerificationScript: signer.PrivateKey().PublicKey().GetVerificationScript(),
	}}

	netFee, err := b.client.CalculateNetworkFee(ctx, base64.StdEncoding.EncodeToString(tx.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("calculate network fee: %w", err)
	}
	tx.NetworkFee = netFee

	if err := signer.SignTx(netmode.Magic(b.networkID), tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// BroadcastTx sends a signed transaction and returns its hash as reported by the node.
func (b *TxBuilder) BroadcastTx(ctx context.Context, tx *transaction.Transaction) (string, error) {
	hash, err := b.client.SendRawTransaction(ctx, base64.StdEncoding.EncodeToString(tx.Bytes()))
	if err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	if hash == "" {
		hash = "0x" + tx.Hash().StringLE()
	}
	return hash, nil
}

func randomNonce() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
