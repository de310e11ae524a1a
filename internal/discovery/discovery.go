package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/walletkit/sendflow/internal/backend"
	"github.com/walletkit/sendflow/pkg/models"
)

// EventKind discriminates coordinator events.
type EventKind int

const (
	// AccountFound is the first observation of an account, before its
	// history is known (pending row).
	AccountFound EventKind = iota
	// AccountUpdated carries the account with its discovery info attached.
	AccountUpdated
	// Complete signals that the scan finished; Accounts is the full list.
	Complete
	// Failed signals a fatal discovery error.
	Failed
)

// Event is one discovery progress message. Accounts is a snapshot of all
// accounts known so far; consumers own the slice.
type Event struct {
	Kind     EventKind
	Account  models.Account
	Accounts []models.Account
	Err      error
}

// KeySource derives external-chain addresses for discovery.
type KeySource interface {
	AccountAddress(account, index uint32) (models.DerivedAddress, error)
}

// AddressReader is the slice of the backend discovery needs.
type AddressReader interface {
	AddressInfo(ctx context.Context, address string) (backend.AddressInfo, error)
}

// Config bounds one discovery run.
type Config struct {
	AddressesPerAccount uint32
	MaxAccounts         uint32
}

// Coordinator scans BIP-44 accounts in the background and delivers typed
// events on a channel. It finds every account with transaction history
// plus one trailing fresh account, then completes. A coordinator runs at
// most once; create a new one (seeded with the previous snapshot) to
// resume after Stop.
type Coordinator struct {
	keys     KeySource
	reader   AddressReader
	cfg      Config
	snapshot []models.Account
	events   chan Event
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// New returns a coordinator. snapshot holds accounts already known from an
// earlier run; pass nil to scan from scratch.
func New(keys KeySource, reader AddressReader, cfg Config, snapshot []models.Account) *Coordinator {
	if cfg.AddressesPerAccount == 0 {
		cfg.AddressesPerAccount = 20
	}
	if cfg.MaxAccounts == 0 {
		cfg.MaxAccounts = 10
	}
	return &Coordinator{
		keys:     keys,
		reader:   reader,
		cfg:      cfg,
		snapshot: cloneAccounts(snapshot),
		events:   make(chan Event, 32),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "discovery"),
	}
}

// Start launches the background scan.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info("starting account discovery",
		"known_accounts", len(c.snapshot),
		"max_accounts", c.cfg.MaxAccounts,
	)

	go c.scan(ctx)
	return nil
}

// Stop cancels the scan and waits for the producer to exit. After Stop
// returns, no further events are produced.
func (c *Coordinator) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.cancel = nil
	<-c.done // wait for the producer to exit
	close(c.events)
	c.logger.Info("discovery stopped")
	return nil
}

// Events returns the channel discovery progress is delivered on.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

func (c *Coordinator) scan(ctx context.Context) {
	defer close(c.done)

	accounts := cloneAccounts(c.snapshot)
	start := uint32(len(accounts))

	// When resuming, the trailing fresh account is re-scanned: it may have
	// gained history while the session was elsewhere.
	if n := len(accounts); n > 0 && accounts[n-1].Fresh() {
		start = accounts[n-1].Index
		accounts = accounts[:n-1]
	}

	for idx := start; idx < c.cfg.MaxAccounts; idx++ {
		acct, err := c.deriveAccount(idx)
		if err != nil {
			c.fail(ctx, fmt.Errorf("derive account %d: %w", idx, err))
			return
		}

		accounts = append(accounts, acct)
		if !c.emit(ctx, Event{Kind: AccountFound, Account: acct, Accounts: cloneAccounts(accounts)}) {
			return
		}

		info, err := c.summarize(ctx, acct)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(ctx, fmt.Errorf("account %d history: %w", idx, err))
			return
		}

		acct.Discovery = &info
		accounts[len(accounts)-1] = acct
		c.logger.Info("account discovered",
			"index", acct.Index,
			"balance_sat", info.BalanceSat,
			"tx_count", info.TxCount,
		)
		if !c.emit(ctx, Event{Kind: AccountUpdated, Account: acct, Accounts: cloneAccounts(accounts)}) {
			return
		}

		if info.TxCount == 0 {
			c.emit(ctx, Event{Kind: Complete, Accounts: cloneAccounts(accounts)})
			return
		}
	}

	// Account bound reached without a fresh account.
	c.emit(ctx, Event{Kind: Complete, Accounts: cloneAccounts(accounts)})
}

func (c *Coordinator) deriveAccount(index uint32) (models.Account, error) {
	addrs := make([]models.DerivedAddress, 0, c.cfg.AddressesPerAccount)
	for i := uint32(0); i < c.cfg.AddressesPerAccount; i++ {
		addr, err := c.keys.AccountAddress(index, i)
		if err != nil {
			return models.Account{}, err
		}
		addrs = append(addrs, addr)
	}
	return models.Account{Index: index, Addresses: addrs}, nil
}

func (c *Coordinator) summarize(ctx context.Context, acct models.Account) (models.DiscoveryInfo, error) {
	var info models.DiscoveryInfo
	for _, addr := range acct.Addresses {
		ai, err := c.reader.AddressInfo(ctx, addr.Address)
		if err != nil {
			return models.DiscoveryInfo{}, err
		}
		info.TxCount += ai.TxCount
		info.BalanceSat += ai.BalanceSat
	}
	return info, nil
}

func (c *Coordinator) fail(ctx context.Context, err error) {
	c.logger.Error("discovery failed", "error", err)
	c.emit(ctx, Event{Kind: Failed, Err: err})
}

func (c *Coordinator) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func cloneAccounts(accounts []models.Account) []models.Account {
	if accounts == nil {
		return nil
	}
	out := make([]models.Account, len(accounts))
	copy(out, accounts)
	return out
}
