package storage

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MemoryTxCache is an in-memory TxCache.
type MemoryTxCache struct {
	mu  sync.RWMutex
	txs map[chainhash.Hash]*wire.MsgTx
}

func NewMemoryTxCache() *MemoryTxCache {
	return &MemoryTxCache{txs: make(map[chainhash.Hash]*wire.MsgTx)}
}

func (c *MemoryTxCache) Get(txid chainhash.Hash) (*wire.MsgTx, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.txs[txid], nil
}

func (c *MemoryTxCache) Put(txid chainhash.Hash, tx *wire.MsgTx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[txid] = tx
	return nil
}
