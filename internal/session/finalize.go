package session

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/sendflow/pkg/models"
)

// BroadcastError carries the already-signed transaction alongside the
// broadcast failure, so the caller can retry broadcast out-of-band without
// re-signing.
type BroadcastError struct {
	Signed *models.SignedTransaction
	Err    error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast: %v", e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// finalize fetches the transactions referenced by the chosen draft's
// inputs, signs on the device, and optionally broadcasts.
func (s *Session) finalize(ctx context.Context, chosen models.BuildResult) (*models.SignedTransaction, error) {
	if chosen.Draft == nil {
		return nil, fmt.Errorf("%w: no draft to sign", ErrIllegalState)
	}

	referenced, err := s.referencedTxs(ctx, chosen.Draft)
	if err != nil {
		return nil, err
	}

	signed, err := s.device.Sign(ctx, chosen.Draft, referenced, s.req.Coin, s.req.Locktime)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	if s.req.PushAfterSign {
		txid, err := s.be.Broadcast(ctx, signed.SerializedHex)
		if err != nil {
			s.logger.Error("broadcast failed", "txid", signed.TxID, "error", err)
			return nil, &BroadcastError{Signed: signed, Err: err}
		}
		signed.TxID = txid
		signed.Pushed = true
		s.logger.Info("transaction broadcast", "txid", txid)
	}

	return signed, nil
}

// referencedTxs resolves every prior transaction the draft spends from,
// consulting the cache before the backend.
func (s *Session) referencedTxs(ctx context.Context, draft *wire.MsgTx) (map[chainhash.Hash]*wire.MsgTx, error) {
	referenced := make(map[chainhash.Hash]*wire.MsgTx, len(draft.TxIn))
	for _, in := range draft.TxIn {
		h := in.PreviousOutPoint.Hash
		if _, ok := referenced[h]; ok {
			continue
		}

		cached, err := s.txCache.Get(h)
		if err != nil {
			return nil, fmt.Errorf("tx cache get: %w", err)
		}
		if cached != nil {
			referenced[h] = cached
			continue
		}

		tx, err := s.be.Transaction(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("fetch referenced tx %s: %w", h, err)
		}
		if err := s.txCache.Put(h, tx); err != nil {
			return nil, fmt.Errorf("tx cache put: %w", err)
		}
		referenced[h] = tx
	}
	return referenced, nil
}
