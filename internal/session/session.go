// Package session implements the interactive send-funds workflow: a state
// machine that interleaves background account discovery with a user-driven
// prompt/response cycle, composes candidate transactions per fee tier, and
// hands the chosen candidate to the signing device.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/walletkit/sendflow/internal/backend"
	"github.com/walletkit/sendflow/internal/compose"
	"github.com/walletkit/sendflow/internal/config"
	"github.com/walletkit/sendflow/internal/device"
	"github.com/walletkit/sendflow/internal/discovery"
	"github.com/walletkit/sendflow/internal/storage"
	"github.com/walletkit/sendflow/internal/ui"
	"github.com/walletkit/sendflow/pkg/models"
)

// Session failures.
var (
	// ErrIllegalState signals a genuine invariant violation: the session or
	// its composer was used before initialization.
	ErrIllegalState = errors.New("illegal session state")

	// ErrDoubleSendMax signals an inconsistent request surfacing during
	// composition. Not retryable.
	ErrDoubleSendMax = errors.New("conflicting send-max outputs")
)

type state int

const (
	stateAwaitingAccount state = iota
	stateAwaitingFee
	stateSigningReady
)

// Discoverer is what the session needs from a discovery run.
type Discoverer interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan discovery.Event
}

// DiscoveryFactory creates a discovery run seeded with a prior snapshot.
type DiscoveryFactory func(be backend.Backend, snapshot []models.Account) Discoverer

// ComposerFactory creates the composer once the backend handle exists.
type ComposerFactory func(coin models.CoinParams, be backend.Backend) compose.Composer

// Params wires one session. Request, Opener, Device, Prompts and Events are
// required; factories default to the real discovery coordinator and the
// btcd engine, which need Keys.
type Params struct {
	Request *models.Request
	Config  config.Config

	Opener  backend.Opener
	Device  device.Device
	Keys    discovery.KeySource
	TxCache storage.TxCache

	Prompts chan<- ui.Prompt
	Events  <-chan ui.Event

	NewDiscovery DiscoveryFactory
	NewComposer  ComposerFactory
}

// Session owns the state of one send request. A session runs once; no two
// sessions share mutable state.
type Session struct {
	req     *models.Request
	cfg     config.Config
	opener  backend.Opener
	device  device.Device
	txCache storage.TxCache
	prompts chan<- ui.Prompt
	events  <-chan ui.Event

	newDiscovery DiscoveryFactory
	newComposer  ComposerFactory

	logger *slog.Logger

	// Owned exclusively by the Run goroutine.
	be            backend.Backend
	composer      compose.Composer
	disc          Discoverer
	discCh        <-chan discovery.Event
	st            state
	accounts      []models.Account
	discoveryDone bool
	selected      *models.Account
	results       []models.BuildResult
	customLevel   models.FeeLevel
}

// New assembles a session from params.
func New(p Params) *Session {
	s := &Session{
		req:          p.Request,
		cfg:          p.Config,
		opener:       p.Opener,
		device:       p.Device,
		txCache:      p.TxCache,
		prompts:      p.Prompts,
		events:       p.Events,
		newDiscovery: p.NewDiscovery,
		newComposer:  p.NewComposer,
		logger:       slog.Default().With("component", "session"),
	}
	if s.txCache == nil {
		s.txCache = storage.NewMemoryTxCache()
	}
	if s.newDiscovery == nil {
		s.newDiscovery = func(be backend.Backend, snapshot []models.Account) Discoverer {
			return discovery.New(p.Keys, be, discovery.Config{
				AddressesPerAccount: p.Config.AddressesPerAccount,
				MaxAccounts:         p.Config.MaxAccounts,
			}, snapshot)
		}
	}
	if s.newComposer == nil {
		s.newComposer = func(coin models.CoinParams, be backend.Backend) compose.Composer {
			return compose.NewEngine(coin, be, p.Config.FeeLevels)
		}
	}
	if p.Request != nil {
		s.customLevel = models.FeeLevel{
			Name:       models.CustomFeeLevelName,
			SatPerByte: p.Request.Coin.MinFeeSatPerByte,
		}
	}
	return s
}

// Run drives the session to a terminal state and returns the signed
// transaction. The backend handle is acquired once and released exactly
// once on every terminal path.
func (s *Session) Run(ctx context.Context) (*models.SignedTransaction, error) {
	if s.req == nil || s.opener == nil || s.device == nil || s.prompts == nil || s.events == nil {
		return nil, fmt.Errorf("%w: session not initialized", ErrIllegalState)
	}

	if s.cfg.ContextTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ContextTimeout)
		defer cancel()
	}

	s.logger.Info("session starting",
		"coin", s.req.Coin.Name,
		"outputs", len(s.req.Outputs),
		"total_sat", s.req.TotalSat,
		"push", s.req.PushAfterSign,
	)
	s.emit(ctx, ui.SetOperationLabel{Text: s.operationLabel()})

	be, err := s.opener.Open(ctx, s.req.Coin.Name)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	s.be = be
	defer func() {
		s.stopDiscovery()
		if cerr := be.Close(); cerr != nil {
			s.logger.Error("backend close failed", "error", cerr)
		}
	}()

	s.composer = s.newComposer(s.req.Coin, be)
	if s.composer == nil {
		return nil, fmt.Errorf("%w: no composer", ErrIllegalState)
	}

	if err := s.reopenAccounts(ctx); err != nil {
		return nil, err
	}

	chosen, err := s.loop(ctx)
	if err != nil {
		return nil, err
	}
	return s.finalize(ctx, *chosen)
}

// loop is the single serialized event queue: discovery progress and UI
// responses are consumed one at a time, and at most one state transition
// runs at any moment. Unrelated UI events are dropped and the wait
// continues; the caller guarantees a matching event eventually arrives.
func (s *Session) loop(ctx context.Context) (*models.BuildResult, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ev, ok := <-s.discCh:
			if !ok {
				s.discCh = nil
				continue
			}
			if err := s.handleDiscovery(ctx, ev); err != nil {
				return nil, err
			}

		case ev := <-s.events:
			chosen, err := s.handleUI(ctx, ev)
			if err != nil {
				return nil, err
			}
			if chosen != nil {
				return chosen, nil
			}
		}
	}
}

func (s *Session) handleDiscovery(ctx context.Context, ev discovery.Event) error {
	switch ev.Kind {
	case discovery.AccountFound, discovery.AccountUpdated:
		s.accounts = ev.Accounts
		if s.st == stateAwaitingAccount {
			s.emit(ctx, ui.PromptAccountSelection{Accounts: ev.Accounts, DiscoveryComplete: false})
		}

	case discovery.Complete:
		s.accounts = ev.Accounts
		s.discoveryDone = true
		s.logger.Info("discovery complete", "accounts", len(ev.Accounts))
		if s.st == stateAwaitingAccount {
			s.emit(ctx, ui.PromptAccountSelection{Accounts: ev.Accounts, DiscoveryComplete: true})
		}

	case discovery.Failed:
		return fmt.Errorf("discovery: %w", ev.Err)
	}
	return nil
}

// handleUI applies one UI event to the current state. A non-nil BuildResult
// means the session reached SIGNING_READY.
func (s *Session) handleUI(ctx context.Context, ev ui.Event) (*models.BuildResult, error) {
	switch s.st {
	case stateAwaitingAccount:
		sel, ok := ev.(ui.AccountSelected)
		if !ok || sel.Index < 0 || sel.Index >= len(s.accounts) {
			s.drop(ev)
			return nil, nil
		}
		return nil, s.selectAccount(ctx, sel.Index)

	case stateAwaitingFee:
		switch e := ev.(type) {
		case ui.CustomFeeEdited:
			return nil, s.editCustomFee(ctx, e.SatPerByte)

		case ui.ChangeAccountRequested:
			s.selected = nil
			s.results = nil
			return nil, s.reopenAccounts(ctx)

		case ui.FeeSelected:
			if e.Index < 0 || e.Index >= len(s.results) || !s.results[e.Index].Final() {
				s.drop(ev)
				return nil, nil
			}
			chosen := s.results[e.Index]
			s.st = stateSigningReady
			s.logger.Info("fee chosen",
				"level", chosen.Level.Name,
				"fee_sat", chosen.TotalFeeSat,
				"fee_per_byte", chosen.FeePerByte,
			)
			return &chosen, nil
		}
		s.drop(ev)
		return nil, nil
	}

	s.drop(ev)
	return nil, nil
}

// selectAccount stops discovery before the first composition call so the
// composer sees a fixed account snapshot, then composes every tier.
func (s *Session) selectAccount(ctx context.Context, index int) error {
	s.stopDiscovery()

	acct := s.accounts[index]
	s.selected = &acct
	s.logger.Info("account selected", "index", acct.Index)

	levels := make([]models.FeeLevel, 0, len(s.cfg.FeeLevels)+1)
	levels = append(levels, s.cfg.FeeLevels...)
	levels = append(levels, s.customLevel)

	results, err := s.composer.BuildAll(ctx, acct, s.req.Outputs, levels)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	if kind := firstFatal(results); kind != models.BuildErrorNone {
		return fmt.Errorf("%w", ErrDoubleSendMax)
	}

	if !anyFinal(results) {
		// One retry at the coin minimum, overwriting the last slot in place.
		retry, err := s.composer.BuildOne(ctx, acct, s.req.Outputs, models.FeeLevel{
			Name:       models.CustomFeeLevelName,
			SatPerByte: s.req.Coin.MinFeeSatPerByte,
		})
		if err != nil {
			return fmt.Errorf("compose retry: %w", err)
		}
		if retry.Err == models.BuildErrorDoubleSendMax {
			return fmt.Errorf("%w", ErrDoubleSendMax)
		}
		results[len(results)-1] = retry
	}

	if !anyFinal(results) {
		s.logger.Warn("insufficient funds", "account", acct.Index)
		s.emit(ctx, ui.PromptInsufficientFunds{})
		if err := s.pause(ctx, s.cfg.GraceDelay); err != nil {
			return err
		}
		s.selected = nil
		return s.reopenAccounts(ctx)
	}

	s.results = results
	s.emit(ctx, ui.PromptFeeSelection{Options: s.feeOptions(results), Coin: s.req.Coin})
	s.st = stateAwaitingFee
	return nil
}

// editCustomFee recomposes only the custom slot and replaces it in place;
// the other tiers are never reordered or touched.
func (s *Session) editCustomFee(ctx context.Context, satPerByte int64) error {
	if s.selected == nil || len(s.results) == 0 {
		return fmt.Errorf("%w: custom fee before composition", ErrIllegalState)
	}
	s.customLevel.SatPerByte = satPerByte

	r, err := s.composer.BuildOne(ctx, *s.selected, s.req.Outputs, s.customLevel)
	if err != nil {
		return fmt.Errorf("compose custom fee: %w", err)
	}
	if r.Err == models.BuildErrorDoubleSendMax {
		return fmt.Errorf("%w", ErrDoubleSendMax)
	}

	s.results[len(s.results)-1] = r
	s.emit(ctx, ui.UpdateCustomFee{Option: s.feeOption(r), Coin: s.req.Coin})
	return nil
}

// reopenAccounts returns to account selection, resuming discovery from the
// current snapshot unless it already completed, in which case the known
// list is replayed.
func (s *Session) reopenAccounts(ctx context.Context) error {
	s.st = stateAwaitingAccount
	s.results = nil

	if !s.discoveryDone {
		disc := s.newDiscovery(s.be, s.accounts)
		if err := disc.Start(ctx); err != nil {
			return fmt.Errorf("start discovery: %w", err)
		}
		s.disc = disc
		s.discCh = disc.Events()
	}

	s.emit(ctx, ui.PromptAccountSelection{Accounts: s.accounts, DiscoveryComplete: s.discoveryDone})
	return nil
}

func (s *Session) stopDiscovery() {
	if s.disc == nil {
		return
	}
	if err := s.disc.Stop(); err != nil {
		s.logger.Warn("discovery stop failed", "error", err)
	}
	s.disc = nil
	s.discCh = nil
}

func (s *Session) feeOptions(results []models.BuildResult) []ui.FeeOption {
	options := make([]ui.FeeOption, 0, len(results))
	for _, r := range results {
		options = append(options, s.feeOption(r))
	}
	return options
}

func (s *Session) feeOption(r models.BuildResult) ui.FeeOption {
	opt := ui.FeeOption{Level: r.Level, Available: r.Final()}
	if r.Final() {
		opt.EstimatedMinutes = s.composer.EstimateConfirmationMinutes(r.FeePerByte)
		opt.FeeSat = r.TotalFeeSat
		opt.Bytes = r.TotalBytes
		opt.FeePerByte = r.FeePerByte
	}
	return opt
}

func (s *Session) operationLabel() string {
	if s.req.SendMax() {
		return fmt.Sprintf("Send all %s", s.req.Coin.Label)
	}
	return fmt.Sprintf("Send %s", btcutil.Amount(s.req.TotalSat).String())
}

func (s *Session) emit(ctx context.Context, p ui.Prompt) {
	select {
	case s.prompts <- p:
	case <-ctx.Done():
	}
}

func (s *Session) drop(ev ui.Event) {
	s.logger.Debug("ignoring unrelated ui event", "event", fmt.Sprintf("%T", ev))
}

func (s *Session) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func anyFinal(results []models.BuildResult) bool {
	for _, r := range results {
		if r.Final() {
			return true
		}
	}
	return false
}

func firstFatal(results []models.BuildResult) models.BuildErrorKind {
	for _, r := range results {
		if r.Err == models.BuildErrorDoubleSendMax {
			return r.Err
		}
	}
	return models.BuildErrorNone
}
