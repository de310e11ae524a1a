package device

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/tyler-smith/go-bip39"

	"github.com/walletkit/sendflow/internal/coins"
	"github.com/walletkit/sendflow/internal/keys"
	"github.com/walletkit/sendflow/pkg/models"
)

type signFixture struct {
	device     *Software
	coin       models.CoinParams
	prev       *wire.MsgTx
	prevHash   chainhash.Hash
	prevScript []byte
	draft      *wire.MsgTx
}

func newSignFixture(t *testing.T) *signFixture {
	t.Helper()
	coin, err := coins.Lookup("regtest")
	if err != nil {
		t.Fatal(err)
	}
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	src := keys.NewSource(bip39.NewSeed(mnemonic, ""), coin)

	funded, err := src.AccountAddress(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := btcutil.DecodeAddress(funded.Address, coin.Params)
	if err != nil {
		t.Fatal(err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatal(err)
	}

	prev := wire.NewMsgTx(wire.TxVersion)
	prev.AddTxOut(wire.NewTxOut(50_000, script))
	prevHash := prev.TxHash()

	draft := wire.NewMsgTx(wire.TxVersion)
	draft.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	draft.AddTxOut(wire.NewTxOut(40_000, script))

	return &signFixture{
		device:     NewSoftware(src, 2, 2),
		coin:       coin,
		prev:       prev,
		prevHash:   prevHash,
		prevScript: script,
		draft:      draft,
	}
}

func TestSoftware_SignVerifies(t *testing.T) {
	f := newSignFixture(t)
	referenced := map[chainhash.Hash]*wire.MsgTx{f.prevHash: f.prev}

	signed, err := f.device.Sign(context.Background(), f.draft, referenced, f.coin, 0)
	if err != nil {
		t.Fatal(err)
	}
	if signed.Pushed {
		t.Error("signing must not mark the transaction as pushed")
	}
	if f.draft.TxIn[0].SignatureScript != nil {
		t.Error("draft must not be mutated by signing")
	}

	tx := decodeSigned(t, signed.SerializedHex)
	if tx.TxHash().String() != signed.TxID {
		t.Errorf("txid = %s, serialized tx hashes to %s", signed.TxID, tx.TxHash())
	}

	vm, err := txscript.NewEngine(f.prevScript, tx, 0, txscript.StandardVerifyFlags, nil, nil, 50_000,
		txscript.NewCannedPrevOutputFetcher(f.prevScript, 50_000))
	if err != nil {
		t.Fatal(err)
	}
	if err := vm.Execute(); err != nil {
		t.Fatalf("signed input does not verify: %v", err)
	}
}

func TestSoftware_SignSetsLocktime(t *testing.T) {
	f := newSignFixture(t)
	referenced := map[chainhash.Hash]*wire.MsgTx{f.prevHash: f.prev}

	signed, err := f.device.Sign(context.Background(), f.draft, referenced, f.coin, 650_000)
	if err != nil {
		t.Fatal(err)
	}
	if tx := decodeSigned(t, signed.SerializedHex); tx.LockTime != 650_000 {
		t.Errorf("locktime = %d, want 650000", tx.LockTime)
	}
}

func TestSoftware_SignMissingReferenced(t *testing.T) {
	f := newSignFixture(t)

	_, err := f.device.Sign(context.Background(), f.draft, nil, f.coin, 0)
	if !errors.Is(err, ErrMissingReferenced) {
		t.Fatalf("expected ErrMissingReferenced, got %v", err)
	}
}

func TestSoftware_SignForeignInput(t *testing.T) {
	f := newSignFixture(t)

	// A previous output paying to a script the keyring cannot cover.
	foreign := wire.NewMsgTx(wire.TxVersion)
	foreign.AddTxOut(wire.NewTxOut(50_000, []byte{0x51}))
	foreignHash := foreign.TxHash()

	draft := wire.NewMsgTx(wire.TxVersion)
	draft.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&foreignHash, 0), nil, nil))
	draft.AddTxOut(wire.NewTxOut(40_000, f.prevScript))

	_, err := f.device.Sign(context.Background(), draft, map[chainhash.Hash]*wire.MsgTx{foreignHash: foreign}, f.coin, 0)
	if !errors.Is(err, ErrUnknownInput) {
		t.Fatalf("expected ErrUnknownInput, got %v", err)
	}
}

func decodeSigned(t *testing.T, serializedHex string) *wire.MsgTx {
	t.Helper()
	raw, err := hex.DecodeString(serializedHex)
	if err != nil {
		t.Fatal(err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatal(err)
	}
	return &tx
}
