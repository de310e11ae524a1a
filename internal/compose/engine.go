package compose

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/sendflow/internal/backend"
	"github.com/walletkit/sendflow/pkg/models"
)

// P2PKH size constants (vbytes).
const (
	txOverheadBytes  = 10
	txInputBytes     = 148
	p2pkhOutputBytes = 34
)

// UnspentSource is the slice of the backend the engine needs.
type UnspentSource interface {
	ListUnspent(ctx context.Context, addresses []string) ([]backend.UTXO, error)
}

// Engine is a btcd-backed Composer for P2PKH accounts. Selection is
// largest-first; change below the coin's dust limit is folded into the fee.
type Engine struct {
	coin     models.CoinParams
	unspents UnspentSource
	levels   []models.FeeLevel
	logger   *slog.Logger
}

// NewEngine returns an engine for one coin. levels is the fixed fee tier
// list, ordered fast to slow; it anchors confirmation estimates.
func NewEngine(coin models.CoinParams, unspents UnspentSource, levels []models.FeeLevel) *Engine {
	return &Engine{
		coin:     coin,
		unspents: unspents,
		levels:   levels,
		logger:   slog.Default().With("component", "compose", "coin", coin.Name),
	}
}

// BuildAll composes one candidate per fee level.
func (e *Engine) BuildAll(ctx context.Context, account models.Account, outputs []models.Output, levels []models.FeeLevel) ([]models.BuildResult, error) {
	results := make([]models.BuildResult, 0, len(levels))
	for _, level := range levels {
		r, err := e.BuildOne(ctx, account, outputs, level)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// BuildOne composes a single candidate at the given level's rate.
func (e *Engine) BuildOne(ctx context.Context, account models.Account, outputs []models.Output, level models.FeeLevel) (models.BuildResult, error) {
	rate := level.SatPerByte
	if rate < 1 {
		rate = 1
	}

	sendMax := 0
	for _, o := range outputs {
		if o.Type == models.OutputSendMax {
			sendMax++
		}
	}
	if sendMax > 1 {
		return models.BuildResult{Level: level, Err: models.BuildErrorDoubleSendMax}, nil
	}
	if len(account.Addresses) == 0 {
		return models.BuildResult{Level: level, Err: models.BuildErrorInsufficientFunds}, nil
	}

	addrs := make([]string, 0, len(account.Addresses))
	for _, a := range account.Addresses {
		addrs = append(addrs, a.Address)
	}
	utxos, err := e.unspents.ListUnspent(ctx, addrs)
	if err != nil {
		return models.BuildResult{}, fmt.Errorf("list unspent: %w", err)
	}
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].ValueSat > utxos[j].ValueSat })

	if sendMax == 1 {
		return e.buildSendMax(account, outputs, utxos, level, rate)
	}
	return e.buildExact(account, outputs, utxos, level, rate)
}

// buildSendMax spends every unspent; the send-max output receives the
// remainder after fixed outputs and the fee.
func (e *Engine) buildSendMax(account models.Account, outputs []models.Output, utxos []backend.UTXO, level models.FeeLevel, rate int64) (models.BuildResult, error) {
	if len(utxos) == 0 {
		return models.BuildResult{Level: level, Err: models.BuildErrorInsufficientFunds}, nil
	}

	var totalIn, fixed int64
	for _, u := range utxos {
		totalIn += u.ValueSat
	}
	for _, o := range outputs {
		if o.Type == models.OutputComplete {
			fixed += o.AmountSat
		}
	}

	size := e.estimateSize(len(utxos), outputs, false)
	fee := rate * int64(size)
	maxAmount := totalIn - fixed - fee
	if maxAmount < e.coin.DustLimitSat {
		return models.BuildResult{Level: level, Err: models.BuildErrorInsufficientFunds}, nil
	}

	draft, err := e.buildDraft(utxos, outputs, maxAmount, "", 0)
	if err != nil {
		return models.BuildResult{}, err
	}
	return models.BuildResult{
		Level:         level,
		FeePerByte:    rate,
		TotalBytes:    size,
		TotalFeeSat:   fee,
		TotalSpentSat: totalIn,
		Draft:         draft,
	}, nil
}

// buildExact selects inputs largest-first until the target plus fee is
// covered, adding a change output unless change would be dust.
func (e *Engine) buildExact(account models.Account, outputs []models.Output, utxos []backend.UTXO, level models.FeeLevel, rate int64) (models.BuildResult, error) {
	var target int64
	for _, o := range outputs {
		if o.Type == models.OutputComplete {
			target += o.AmountSat
		}
	}

	var totalIn int64
	for n := 1; n <= len(utxos); n++ {
		totalIn += utxos[n-1].ValueSat

		sizeWithChange := e.estimateSize(n, outputs, true)
		feeWithChange := rate * int64(sizeWithChange)
		change := totalIn - target - feeWithChange

		if change >= e.coin.DustLimitSat {
			draft, err := e.buildDraft(utxos[:n], outputs, 0, account.Addresses[0].Address, change)
			if err != nil {
				return models.BuildResult{}, err
			}
			return models.BuildResult{
				Level:         level,
				FeePerByte:    rate,
				TotalBytes:    sizeWithChange,
				TotalFeeSat:   feeWithChange,
				TotalSpentSat: target + feeWithChange,
				Draft:         draft,
			}, nil
		}

		// No room for change: absorb the remainder into the fee.
		size := e.estimateSize(n, outputs, false)
		fee := rate * int64(size)
		if totalIn >= target+fee {
			fee = totalIn - target
			draft, err := e.buildDraft(utxos[:n], outputs, 0, "", 0)
			if err != nil {
				return models.BuildResult{}, err
			}
			return models.BuildResult{
				Level:         level,
				FeePerByte:    rate,
				TotalBytes:    size,
				TotalFeeSat:   fee,
				TotalSpentSat: target + fee,
				Draft:         draft,
			}, nil
		}
	}

	return models.BuildResult{Level: level, Err: models.BuildErrorInsufficientFunds}, nil
}

// EstimateConfirmationMinutes anchors the estimate on the fastest
// configured tier: paying at least that rate confirms next block, slower
// rates wait proportionally longer.
func (e *Engine) EstimateConfirmationMinutes(satPerByte int64) int {
	if satPerByte < 1 {
		satPerByte = 1
	}
	fastest := int64(1)
	if len(e.levels) > 0 && e.levels[0].SatPerByte > 0 {
		fastest = e.levels[0].SatPerByte
	}
	blocks := (fastest + satPerByte - 1) / satPerByte
	if blocks < 1 {
		blocks = 1
	}
	if blocks > 144 {
		blocks = 144
	}
	return int(blocks) * e.coin.MinutesPerBlock
}

func (e *Engine) estimateSize(inputs int, outputs []models.Output, withChange bool) int {
	size := txOverheadBytes + inputs*txInputBytes
	for _, o := range outputs {
		if o.Type == models.OutputOpReturn {
			size += 11 + len(o.DataHex)/2
		} else {
			size += p2pkhOutputBytes
		}
	}
	if withChange {
		size += p2pkhOutputBytes
	}
	return size
}

// buildDraft assembles the unsigned transaction. maxAmount fills the
// send-max output's value when one is present; changeAddr/changeSat add a
// trailing change output when changeAddr is non-empty.
func (e *Engine) buildDraft(utxos []backend.UTXO, outputs []models.Output, maxAmount int64, changeAddr string, changeSat int64) (*wire.MsgTx, error) {
	msg := wire.NewMsgTx(wire.TxVersion)

	for _, u := range utxos {
		u := u
		outpoint := wire.NewOutPoint(&u.Hash, u.Vout)
		msg.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
	}

	for _, o := range outputs {
		switch o.Type {
		case models.OutputOpReturn:
			payload, err := hex.DecodeString(o.DataHex)
			if err != nil {
				return nil, fmt.Errorf("opreturn payload: %w", err)
			}
			script, err := txscript.NullDataScript(payload)
			if err != nil {
				return nil, fmt.Errorf("opreturn script: %w", err)
			}
			msg.AddTxOut(wire.NewTxOut(0, script))

		case models.OutputSendMax:
			script, err := e.payToAddress(o.Address)
			if err != nil {
				return nil, err
			}
			msg.AddTxOut(wire.NewTxOut(maxAmount, script))

		default:
			script, err := e.payToAddress(o.Address)
			if err != nil {
				return nil, err
			}
			msg.AddTxOut(wire.NewTxOut(o.AmountSat, script))
		}
	}

	if changeAddr != "" {
		script, err := e.payToAddress(changeAddr)
		if err != nil {
			return nil, err
		}
		msg.AddTxOut(wire.NewTxOut(changeSat, script))
	}

	return msg, nil
}

func (e *Engine) payToAddress(address string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, e.coin.Params)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, fmt.Errorf("script for %q: %w", address, err)
	}
	return script, nil
}
