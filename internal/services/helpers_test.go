package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"moneymanager/internal/attachments"
	"moneymanager/internal/core"
	"moneymanager/internal/live"
	"moneymanager/internal/log"
	"moneymanager/internal/notify"
	"moneymanager/internal/store/memory"
)

var (
	ann  = core.Principal{ID: "ann", Email: "Ann@Example.com", DisplayName: "Ann", Providers: []string{core.GoogleProvider}}
	bob  = core.Principal{ID: "bob", Email: "bob@example.com", DisplayName: "Bob"}
	carl = core.Principal{ID: "carl", Email: "carl@example.com"}
)

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.Invitation
	err  error
}

func (d *fakeDispatcher) DispatchInvite(_ context.Context, inv notify.Invitation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, inv)
	return d.err
}

type fakeBlobs struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (b *fakeBlobs) Upload(_ context.Context, token string, f attachments.File) (attachments.Ref, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	if b.err != nil {
		return attachments.Ref{}, b.err
	}
	id := "file-" + f.Name
	return attachments.Ref{ID: id, Name: f.Name, ViewLink: "https://files.example/" + id}, nil
}

type fixture struct {
	store      *memory.Store
	hub        *live.Hub
	dispatcher *fakeDispatcher
	blobs      *fakeBlobs
	families   *FamilyService
	catalog    *CatalogService
	ledger     *Ledger

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      memory.New(),
		hub:        live.NewHub(log.Nop()),
		dispatcher: &fakeDispatcher{},
		blobs:      &fakeBlobs{},
		now:        time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}
	f.families = NewFamilyService(f.store, f.hub, f.dispatcher, "http://localhost:8081", log.Nop())
	f.families.now = clock
	f.catalog = NewCatalogService(f.store, f.hub, log.Nop())
	f.catalog.now = clock
	f.ledger = NewLedger(f.store, f.families, f.blobs, f.hub, log.Nop())
	f.ledger.now = clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) today() core.Date {
	f.mu.Lock()
	defer f.mu.Unlock()
	return core.DateOf(f.now)
}

// familyWith creates a family owned by owner and joins each member by code.
func (f *fixture) familyWith(t *testing.T, owner core.Principal, members ...core.Principal) core.Family {
	t.Helper()
	ctx := context.Background()
	fam, err := f.families.CreateFamily(ctx, owner, "Smith")
	if err != nil {
		t.Fatalf("CreateFamily() error = %v", err)
	}
	for _, m := range members {
		inv, err := f.families.CreateInviteCode(ctx, owner)
		if err != nil {
			t.Fatalf("CreateInviteCode() error = %v", err)
		}
		if fam, err = f.families.JoinWithCode(ctx, m, inv.InviteCode); err != nil {
			t.Fatalf("JoinWithCode(%s) error = %v", m.ID, err)
		}
	}
	return fam
}

func expense(amount, category, account string, date core.Date) core.Transaction {
	return core.Transaction{
		Type:     core.Expense,
		Amount:   core.MustMoney(amount),
		Category: category,
		Account:  account,
		Date:     date,
	}
}

// waitFor reads snapshots until ok accepts one.
func waitFor[T any](t *testing.T, ch <-chan T, ok func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-ch:
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
		}
	}
}
