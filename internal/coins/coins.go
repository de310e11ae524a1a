package coins

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/walletkit/sendflow/pkg/models"
)

// ErrUnknown is returned when a coin name does not resolve to a known
// parameter set.
var ErrUnknown = errors.New("unknown coin")

var registry = map[string]models.CoinParams{
	"btc": {
		Name:             "btc",
		Label:            "Bitcoin",
		Params:           &chaincfg.MainNetParams,
		MinFeeSatPerByte: 1,
		DustLimitSat:     546,
		MinutesPerBlock:  10,
	},
	"test": {
		Name:             "test",
		Label:            "Bitcoin Testnet",
		Params:           &chaincfg.TestNet3Params,
		MinFeeSatPerByte: 1,
		DustLimitSat:     546,
		MinutesPerBlock:  10,
	},
	"regtest": {
		Name:             "regtest",
		Label:            "Bitcoin Regtest",
		Params:           &chaincfg.RegressionNetParams,
		MinFeeSatPerByte: 1,
		DustLimitSat:     546,
		MinutesPerBlock:  10,
	},
}

// Lookup resolves a coin name to its parameter set.
func Lookup(name string) (models.CoinParams, error) {
	coin, ok := registry[name]
	if !ok {
		return models.CoinParams{}, ErrUnknown
	}
	return coin, nil
}

// Names returns the registered coin names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
