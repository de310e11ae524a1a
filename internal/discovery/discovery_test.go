package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/walletkit/sendflow/internal/backend"
	"github.com/walletkit/sendflow/pkg/models"
)

// mockKeys derives synthetic addresses of the form acct{a}-addr{i}.
type mockKeys struct{}

func (mockKeys) AccountAddress(account, index uint32) (models.DerivedAddress, error) {
	return models.DerivedAddress{
		Address:        fmt.Sprintf("acct%d-addr%d", account, index),
		DerivationPath: fmt.Sprintf("m/44'/0'/%d'/0/%d", account, index),
	}, nil
}

// mockReader serves seeded address summaries and records every query.
type mockReader struct {
	mu      sync.Mutex
	infos   map[string]backend.AddressInfo
	queried []string
	block   chan struct{} // when set, AddressInfo waits for ctx or release
}

func newMockReader() *mockReader {
	return &mockReader{infos: make(map[string]backend.AddressInfo)}
}

func (r *mockReader) set(address string, info backend.AddressInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[address] = info
}

func (r *mockReader) AddressInfo(ctx context.Context, address string) (backend.AddressInfo, error) {
	r.mu.Lock()
	block := r.block
	r.queried = append(r.queried, address)
	info := r.infos[address]
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return backend.AddressInfo{}, ctx.Err()
		}
	}
	return info, nil
}

func (r *mockReader) queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.queried))
	copy(out, r.queried)
	return out
}

func collectUntilComplete(t *testing.T, c *Coordinator) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case ev := <-c.Events():
			events = append(events, ev)
			if ev.Kind == Complete || ev.Kind == Failed {
				return events
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for discovery to complete")
		}
	}
}

func TestCoordinator_ScanFromScratch(t *testing.T) {
	reader := newMockReader()
	reader.set("acct0-addr0", backend.AddressInfo{TxCount: 2, BalanceSat: 1000})

	c := New(mockKeys{}, reader, Config{AddressesPerAccount: 2, MaxAccounts: 5}, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	events := collectUntilComplete(t, c)

	// acct0 used, acct1 trailing fresh: found/updated per account, then complete.
	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{AccountFound, AccountUpdated, AccountFound, AccountUpdated, Complete}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}

	final := events[len(events)-1]
	if len(final.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(final.Accounts))
	}
	if final.Accounts[0].Discovery == nil || final.Accounts[0].Discovery.BalanceSat != 1000 {
		t.Errorf("account 0 discovery info = %+v", final.Accounts[0].Discovery)
	}
	if !final.Accounts[1].Fresh() {
		t.Error("trailing account should be fresh")
	}
}

func TestCoordinator_PendingRowBeforeInfo(t *testing.T) {
	reader := newMockReader()
	c := New(mockKeys{}, reader, Config{AddressesPerAccount: 1, MaxAccounts: 3}, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	events := collectUntilComplete(t, c)
	if events[0].Kind != AccountFound {
		t.Fatalf("first event = %v, want AccountFound", events[0].Kind)
	}
	if events[0].Account.Discovery != nil {
		t.Error("found event should carry the account before its info is known")
	}
	if events[1].Kind != AccountUpdated || events[1].Account.Discovery == nil {
		t.Error("updated event should carry discovery info")
	}
}

func TestCoordinator_ResumeSkipsKnownAccounts(t *testing.T) {
	reader := newMockReader()
	reader.set("acct0-addr0", backend.AddressInfo{TxCount: 2, BalanceSat: 1000})

	first := New(mockKeys{}, reader, Config{AddressesPerAccount: 2, MaxAccounts: 5}, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	snapshot := collectUntilComplete(t, first)[4].Accounts
	first.Stop()

	// The previously fresh account gained history while the session was away.
	reader.set("acct1-addr1", backend.AddressInfo{TxCount: 1, BalanceSat: 500})
	reader.mu.Lock()
	reader.queried = nil
	reader.mu.Unlock()

	resumed := New(mockKeys{}, reader, Config{AddressesPerAccount: 2, MaxAccounts: 5}, snapshot)
	if err := resumed.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer resumed.Stop()

	events := collectUntilComplete(t, resumed)
	final := events[len(events)-1]
	if len(final.Accounts) != 3 {
		t.Fatalf("expected 3 accounts after resume, got %d", len(final.Accounts))
	}
	if final.Accounts[1].Discovery.TxCount != 1 {
		t.Errorf("re-scanned account info = %+v", final.Accounts[1].Discovery)
	}

	for _, q := range reader.queries() {
		if q == "acct0-addr0" || q == "acct0-addr1" {
			t.Fatalf("resume re-queried already-known account address %s", q)
		}
	}
}

func TestCoordinator_StopCancelsScan(t *testing.T) {
	reader := newMockReader()
	reader.block = make(chan struct{}) // never released; scan hangs on the first query

	c := New(mockKeys{}, reader, Config{AddressesPerAccount: 2, MaxAccounts: 5}, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while scan was blocked")
	}
}

func TestCoordinator_AccountBoundCompletes(t *testing.T) {
	reader := newMockReader()
	// Every account has history; the scan must still terminate at MaxAccounts.
	for a := 0; a < 3; a++ {
		reader.set(fmt.Sprintf("acct%d-addr0", a), backend.AddressInfo{TxCount: 1, BalanceSat: 100})
	}

	c := New(mockKeys{}, reader, Config{AddressesPerAccount: 1, MaxAccounts: 3}, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	events := collectUntilComplete(t, c)
	final := events[len(events)-1]
	if final.Kind != Complete || len(final.Accounts) != 3 {
		t.Fatalf("expected completion with 3 accounts, got %v with %d", final.Kind, len(final.Accounts))
	}
}
