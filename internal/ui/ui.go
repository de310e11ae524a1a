// Package ui defines the semantic messages exchanged between a send
// session and its renderer. The session emits Prompts and consumes Events;
// how they are drawn and collected is up to the consumer.
package ui

import "github.com/walletkit/sendflow/pkg/models"

// Prompt is a semantic message from the session to the UI.
type Prompt interface {
	prompt()
}

// SetOperationLabel names the operation in progress.
type SetOperationLabel struct {
	Text string
}

// PromptAccountSelection asks the user to pick an account. It is re-emitted
// on every discovery progress update; DiscoveryComplete marks the final one.
type PromptAccountSelection struct {
	Accounts          []models.Account
	DiscoveryComplete bool
}

// PromptInsufficientFunds tells the user the selected account cannot cover
// the request even at the minimum fee.
type PromptInsufficientFunds struct{}

// FeeOption is one row of the fee selection prompt. Available is false when
// composition failed at this tier.
type FeeOption struct {
	Level            models.FeeLevel
	Available        bool
	EstimatedMinutes int
	FeeSat           int64
	Bytes            int
	FeePerByte       int64
}

// PromptFeeSelection asks the user to pick a fee tier. Options keep the
// fixed tier order, the custom slot last.
type PromptFeeSelection struct {
	Options []FeeOption
	Coin    models.CoinParams
}

// UpdateCustomFee carries the recomposed custom slot after the user edited
// its rate.
type UpdateCustomFee struct {
	Option FeeOption
	Coin   models.CoinParams
}

func (SetOperationLabel) prompt()       {}
func (PromptAccountSelection) prompt()  {}
func (PromptInsufficientFunds) prompt() {}
func (PromptFeeSelection) prompt()      {}
func (UpdateCustomFee) prompt()         {}

// Event is a semantic message from the UI to the session. The session
// ignores any event its current state does not expect.
type Event interface {
	event()
}

// AccountSelected picks an account row from the selection prompt.
type AccountSelected struct {
	Index int
}

// ChangeAccountRequested navigates back from fee selection to account
// selection.
type ChangeAccountRequested struct{}

// FeeSelected picks a fee row from the fee selection prompt.
type FeeSelected struct {
	Index int
}

// CustomFeeEdited sets a new rate for the custom fee slot.
type CustomFeeEdited struct {
	SatPerByte int64
}

// PassphraseSubmitted is a credential event owned by the device layer. It
// can arrive interleaved with workflow events; the session drops it.
type PassphraseSubmitted struct {
	Value string
}

func (AccountSelected) event()        {}
func (ChangeAccountRequested) event() {}
func (FeeSelected) event()            {}
func (CustomFeeEdited) event()        {}
func (PassphraseSubmitted) event()    {}
