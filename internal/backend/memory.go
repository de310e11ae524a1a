package backend

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Memory is an in-memory Backend, used by tests and local runs. It is a
// deterministic stand-in for a blockchain index: seed it with address
// histories, unspents and prior transactions, then hand it to a session.
type Memory struct {
	mu         sync.RWMutex
	addrs      map[string]AddressInfo
	unspents   map[string][]UTXO
	txs        map[chainhash.Hash]*wire.MsgTx
	broadcasts []string
	closed     int

	// BroadcastErr, when set, makes every Broadcast call fail with it.
	BroadcastErr error
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		addrs:    make(map[string]AddressInfo),
		unspents: make(map[string][]UTXO),
		txs:      make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// SetAddressInfo seeds the history summary for an address.
func (m *Memory) SetAddressInfo(address string, info AddressInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs[address] = info
}

// AddUnspent seeds one spendable output for an address and bumps the
// address's summary accordingly.
func (m *Memory) AddUnspent(u UTXO) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unspents[u.Address] = append(m.unspents[u.Address], u)
	info := m.addrs[u.Address]
	info.TxCount++
	info.BalanceSat += u.ValueSat
	m.addrs[u.Address] = info
}

// PutTransaction seeds a prior transaction.
func (m *Memory) PutTransaction(tx *wire.MsgTx) chainhash.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := tx.TxHash()
	m.txs[h] = tx
	return h
}

// Broadcasts returns the raw transactions submitted so far.
func (m *Memory) Broadcasts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.broadcasts))
	copy(out, m.broadcasts)
	return out
}

// CloseCount returns how many times Close has been called.
func (m *Memory) CloseCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Memory) AddressInfo(ctx context.Context, address string) (AddressInfo, error) {
	if err := ctx.Err(); err != nil {
		return AddressInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addrs[address], nil
}

func (m *Memory) ListUnspent(ctx context.Context, addresses []string) ([]UTXO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UTXO
	for _, addr := range addresses {
		out = append(out, m.unspents[addr]...)
	}
	return out, nil
}

func (m *Memory) Transaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[txid]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txid)
	}
	return tx, nil
}

func (m *Memory) Broadcast(ctx context.Context, rawHex string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BroadcastErr != nil {
		return "", m.BroadcastErr
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", fmt.Errorf("decode raw tx: %w", err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("deserialize raw tx: %w", err)
	}
	m.broadcasts = append(m.broadcasts, rawHex)
	return tx.TxHash().String(), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// MemoryOpener hands out a fixed backend per coin name.
type MemoryOpener struct {
	mu       sync.Mutex
	backends map[string]*Memory
}

// NewMemoryOpener returns an opener with no registered backends.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{backends: make(map[string]*Memory)}
}

// Register associates a backend with a coin name.
func (o *MemoryOpener) Register(coin string, m *Memory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.backends[coin] = m
}

func (o *MemoryOpener) Open(ctx context.Context, coin string) (Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.backends[coin]
	if !ok {
		return nil, fmt.Errorf("no backend registered for coin %q", coin)
	}
	return m, nil
}
