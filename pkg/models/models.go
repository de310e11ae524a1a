package models

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// CoinParams describes one supported coin: its chain parameters plus the
// policy constants composition needs.
type CoinParams struct {
	Name  string // registry key, e.g. "btc"
	Label string // human-readable, e.g. "Bitcoin"

	Params *chaincfg.Params

	MinFeeSatPerByte int64
	DustLimitSat     int64
	MinutesPerBlock  int
}

// OutputType discriminates the Output union.
type OutputType string

// Output variants accepted in a send request.
const (
	OutputComplete OutputType = "complete"
	OutputOpReturn OutputType = "opreturn"
	OutputSendMax  OutputType = "send-max"
)

// Output is one requested transaction output. Which fields are meaningful
// depends on Type: Complete uses Address+AmountSat, OpReturn uses DataHex,
// SendMax uses Address only.
type Output struct {
	Type      OutputType `json:"type"`
	Address   string     `json:"address,omitempty"`
	AmountSat int64      `json:"amount,omitempty"`
	DataHex   string     `json:"data_hex,omitempty"`
}

// Request is a validated send request. Immutable once built by the
// validator. TotalSat is the sum of complete output amounts, or 0 when a
// send-max output is present ("spend everything").
type Request struct {
	Coin          CoinParams
	Outputs       []Output
	Locktime      uint32
	TotalSat      int64
	PushAfterSign bool
}

// SendMax reports whether the request contains a send-max output.
func (r *Request) SendMax() bool {
	for _, o := range r.Outputs {
		if o.Type == OutputSendMax {
			return true
		}
	}
	return false
}

// DerivedAddress holds a derived address with its derivation path.
type DerivedAddress struct {
	Address        string `json:"address"`
	DerivationPath string `json:"derivation_path"`
	PublicKey      string `json:"public_key"`
}

// DiscoveryInfo is the on-chain summary discovery attaches to an account
// once its history has been fetched.
type DiscoveryInfo struct {
	BalanceSat int64 `json:"balance_sat"`
	TxCount    int   `json:"tx_count"`
}

// Account is one discovered BIP-44 account. Identity is Index. Discovery
// is nil while the account is still a pending row (observed but not yet
// summarized). Accounts are produced by the discovery coordinator and
// read-only to everyone else.
type Account struct {
	Index     uint32           `json:"index"`
	Addresses []DerivedAddress `json:"addresses"`
	Discovery *DiscoveryInfo   `json:"discovery,omitempty"`
}

// Fresh reports whether the account has no transaction history yet.
func (a Account) Fresh() bool {
	return a.Discovery != nil && a.Discovery.TxCount == 0
}

// FeeLevel is one named fee tier. SatPerByte 0 marks the mutable custom
// slot before the user has entered a rate.
type FeeLevel struct {
	Name       string `json:"name"`
	SatPerByte int64  `json:"sat_per_byte"`
}

// CustomFeeLevelName names the single mutable fee slot, always presented
// last.
const CustomFeeLevelName = "custom"

// BuildErrorKind classifies a failed composition attempt.
type BuildErrorKind string

// Composition failure kinds.
const (
	BuildErrorNone              BuildErrorKind = ""
	BuildErrorInsufficientFunds BuildErrorKind = "insufficient-funds"
	BuildErrorDoubleSendMax     BuildErrorKind = "double-send-max"
)

// BuildResult is the outcome of composing one candidate transaction at one
// fee level. Err is BuildErrorNone for a final (signable) result; otherwise
// the remaining fields are zero.
type BuildResult struct {
	Level FeeLevel
	Err   BuildErrorKind

	FeePerByte    int64
	TotalBytes    int
	TotalFeeSat   int64
	TotalSpentSat int64
	Draft         *wire.MsgTx
}

// Final reports whether the result is signable.
func (r BuildResult) Final() bool {
	return r.Err == BuildErrorNone
}

// SignedTransaction is the terminal artifact of a session.
type SignedTransaction struct {
	TxID          string `json:"txid,omitempty"`
	SerializedHex string `json:"serialized_hex"`
	Pushed        bool   `json:"pushed"`
}
