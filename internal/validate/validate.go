package validate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/walletkit/sendflow/internal/coins"
	"github.com/walletkit/sendflow/pkg/models"
)

// MaxOpReturnBytes is the largest OP_RETURN payload accepted in a request.
const MaxOpReturnBytes = 80

// Validation failures. The first violated rule wins; no partial Request is
// ever returned.
var (
	ErrUnknownCoin       = errors.New("unknown coin")
	ErrInvalidLocktime   = errors.New("invalid locktime")
	ErrMissingOutputs    = errors.New("missing outputs")
	ErrOpReturnNotAlone  = errors.New("opreturn output must be the only output")
	ErrOpReturnData      = errors.New("invalid opreturn payload")
	ErrMultipleSendMax   = errors.New("multiple send-max outputs")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidOutputType = errors.New("invalid output type")
)

// RawRequest is the untyped request as it arrives at the feature boundary.
type RawRequest struct {
	Coin     string      `json:"coin"`
	Outputs  []RawOutput `json:"outputs"`
	Locktime string      `json:"locktime,omitempty"`
	Push     bool        `json:"push,omitempty"`
}

// RawOutput is one untyped output. Type defaults to "complete". An
// opreturn payload may be given as hex (DataHex) or as plain text (Text),
// which is re-encoded to hex.
type RawOutput struct {
	Type    string `json:"type,omitempty"`
	Address string `json:"address,omitempty"`
	Amount  string `json:"amount,omitempty"`
	DataHex string `json:"data_hex,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Request validates a raw request into a typed one. Pure and deterministic;
// safe to call repeatedly.
func Request(raw RawRequest) (*models.Request, error) {
	coin, err := coins.Lookup(raw.Coin)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCoin, raw.Coin)
	}

	var locktime uint32
	if raw.Locktime != "" {
		n, err := strconv.ParseUint(raw.Locktime, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLocktime, raw.Locktime)
		}
		locktime = uint32(n)
	}

	if len(raw.Outputs) == 0 {
		return nil, ErrMissingOutputs
	}

	outputs := make([]models.Output, 0, len(raw.Outputs))
	var total int64
	sendMaxSeen := false

	for i, out := range raw.Outputs {
		switch out.Type {
		case string(models.OutputOpReturn):
			if len(raw.Outputs) != 1 {
				return nil, ErrOpReturnNotAlone
			}
			dataHex, err := opReturnHex(out)
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, models.Output{
				Type:    models.OutputOpReturn,
				DataHex: dataHex,
			})

		case string(models.OutputSendMax):
			if sendMaxSeen {
				return nil, ErrMultipleSendMax
			}
			sendMaxSeen = true
			if err := checkAddress(out.Address, coin); err != nil {
				return nil, fmt.Errorf("output %d: %w", i, err)
			}
			outputs = append(outputs, models.Output{
				Type:    models.OutputSendMax,
				Address: out.Address,
			})

		case "", string(models.OutputComplete):
			if err := checkAddress(out.Address, coin); err != nil {
				return nil, fmt.Errorf("output %d: %w", i, err)
			}
			amount, err := parseAmount(out.Amount)
			if err != nil {
				return nil, fmt.Errorf("output %d: %w", i, err)
			}
			outputs = append(outputs, models.Output{
				Type:      models.OutputComplete,
				Address:   out.Address,
				AmountSat: amount,
			})
			total += amount

		default:
			return nil, fmt.Errorf("output %d: %w: %q", i, ErrInvalidOutputType, out.Type)
		}
	}

	// A send-max request spends the whole balance; the declared amounts of
	// the remaining outputs do not add up to a meaningful total.
	if sendMaxSeen {
		total = 0
	}

	return &models.Request{
		Coin:          coin,
		Outputs:       outputs,
		Locktime:      locktime,
		TotalSat:      total,
		PushAfterSign: raw.Push,
	}, nil
}

func opReturnHex(out RawOutput) (string, error) {
	dataHex := out.DataHex
	if dataHex == "" && out.Text != "" {
		dataHex = hex.EncodeToString([]byte(out.Text))
	}
	payload, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: not hex", ErrOpReturnData)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty", ErrOpReturnData)
	}
	if len(payload) > MaxOpReturnBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrOpReturnData, len(payload), MaxOpReturnBytes)
	}
	return dataHex, nil
}

func checkAddress(address string, coin models.CoinParams) error {
	if address == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	decoded, err := btcutil.DecodeAddress(address, coin.Params)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if !decoded.IsForNet(coin.Params) {
		return fmt.Errorf("%w: %q is not a %s address", ErrInvalidAddress, address, coin.Label)
	}
	return nil
}

func parseAmount(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: missing", ErrInvalidAmount)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return n, nil
}
