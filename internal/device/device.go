package device

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/sendflow/internal/keys"
	"github.com/walletkit/sendflow/pkg/models"
)

// Signing failures.
var (
	ErrMissingReferenced = errors.New("referenced transaction missing")
	ErrUnknownInput      = errors.New("input does not belong to the wallet")
)

// Device signs a composed draft. Referenced transactions must cover every
// input outpoint so the device can verify what it spends.
type Device interface {
	Sign(ctx context.Context, draft *wire.MsgTx, referenced map[chainhash.Hash]*wire.MsgTx, coin models.CoinParams, locktime uint32) (*models.SignedTransaction, error)
}

// Software is a Device backed by locally derived keys. It stands in for a
// hardware signer; the signing contract is identical.
type Software struct {
	source *keys.Source

	maxAccounts         uint32
	addressesPerAccount uint32

	mu      sync.Mutex
	keyring map[string]*btcec.PrivateKey

	logger *slog.Logger
}

// NewSoftware returns a software signer deriving at most maxAccounts
// accounts with addressesPerAccount external addresses each.
func NewSoftware(source *keys.Source, maxAccounts, addressesPerAccount uint32) *Software {
	if maxAccounts == 0 {
		maxAccounts = 10
	}
	if addressesPerAccount == 0 {
		addressesPerAccount = 20
	}
	return &Software{
		source:              source,
		maxAccounts:         maxAccounts,
		addressesPerAccount: addressesPerAccount,
		logger:              slog.Default().With("component", "device"),
	}
}

// Sign signs every input of the draft with SIGHASH_ALL and returns the
// serialized transaction. The draft itself is not mutated.
func (d *Software) Sign(ctx context.Context, draft *wire.MsgTx, referenced map[chainhash.Hash]*wire.MsgTx, coin models.CoinParams, locktime uint32) (*models.SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signed := draft.Copy()
	signed.LockTime = locktime

	for i, in := range signed.TxIn {
		prev, ok := referenced[in.PreviousOutPoint.Hash]
		if !ok {
			return nil, fmt.Errorf("input %d: %w: %s", i, ErrMissingReferenced, in.PreviousOutPoint.Hash)
		}
		vout := in.PreviousOutPoint.Index
		if int(vout) >= len(prev.TxOut) {
			return nil, fmt.Errorf("input %d: %w: vout %d out of range", i, ErrMissingReferenced, vout)
		}
		pkScript := prev.TxOut[vout].PkScript

		priv, err := d.keyFor(pkScript, coin)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		sigScript, err := txscript.SignatureScript(signed, i, pkScript, txscript.SigHashAll, priv, true)
		if err != nil {
			return nil, fmt.Errorf("input %d: sign: %w", i, err)
		}
		signed.TxIn[i].SignatureScript = sigScript
	}

	var buf bytes.Buffer
	if err := signed.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}

	txid := signed.TxHash().String()
	d.logger.Info("transaction signed",
		"txid", txid,
		"inputs", len(signed.TxIn),
		"outputs", len(signed.TxOut),
	)

	return &models.SignedTransaction{
		TxID:          txid,
		SerializedHex: hex.EncodeToString(buf.Bytes()),
	}, nil
}

// keyFor resolves the private key paying to pkScript.
func (d *Software) keyFor(pkScript []byte, coin models.CoinParams) (*btcec.PrivateKey, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, coin.Params)
	if err != nil || len(addrs) != 1 {
		return nil, fmt.Errorf("%w: unsupported script", ErrUnknownInput)
	}
	address := addrs[0].EncodeAddress()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keyring == nil {
		if err := d.buildKeyring(); err != nil {
			return nil, err
		}
	}
	priv, ok := d.keyring[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInput, address)
	}
	return priv, nil
}

func (d *Software) buildKeyring() error {
	d.keyring = make(map[string]*btcec.PrivateKey)
	for acct := uint32(0); acct < d.maxAccounts; acct++ {
		for idx := uint32(0); idx < d.addressesPerAccount; idx++ {
			addr, err := d.source.AccountAddress(acct, idx)
			if err != nil {
				return fmt.Errorf("derive address %d/%d: %w", acct, idx, err)
			}
			priv, err := d.source.PrivateKey(acct, idx)
			if err != nil {
				return fmt.Errorf("derive key %d/%d: %w", acct, idx, err)
			}
			d.keyring[addr.Address] = priv
		}
	}
	return nil
}
