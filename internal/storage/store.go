package storage

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxCache caches prior transactions fetched from the backend so that
// signing the same inputs twice never refetches them.
type TxCache interface {
	// Get returns a previously cached transaction by id, or nil if not cached.
	Get(txid chainhash.Hash) (*wire.MsgTx, error)
	// Put caches a transaction under its id.
	Put(txid chainhash.Hash, tx *wire.MsgTx) error
}
