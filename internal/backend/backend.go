package backend

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// AddressInfo summarizes one address's on-chain history.
type AddressInfo struct {
	TxCount    int
	BalanceSat int64
}

// UTXO is one spendable output of an address.
type UTXO struct {
	Hash     chainhash.Hash
	Vout     uint32
	ValueSat int64
	Address  string
	PkScript []byte
}

// Backend abstracts the blockchain index a session talks to.
// In production: wraps an Electrum-style server or a full node RPC.
type Backend interface {
	// AddressInfo returns the history summary for a single address.
	AddressInfo(ctx context.Context, address string) (AddressInfo, error)

	// ListUnspent returns the spendable outputs of the given addresses.
	ListUnspent(ctx context.Context, addresses []string) ([]UTXO, error)

	// Transaction fetches a full prior transaction by id.
	Transaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)

	// Broadcast submits a serialized transaction and returns its txid.
	Broadcast(ctx context.Context, rawHex string) (string, error)

	// Close releases the connection. Safe to call once per handle.
	Close() error
}

// Opener acquires a backend handle for a coin. The session owns the handle
// exclusively and releases it exactly once.
type Opener interface {
	Open(ctx context.Context, coin string) (Backend, error)
}
