package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"moneymanager/internal/core"
	"moneymanager/internal/log"
	"moneymanager/internal/store"
)

func TestFamily_CreateAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.families.ResolveFamily(ctx, ann); got != nil {
		t.Fatalf("ResolveFamily() before create = %+v", got)
	}
	if got := f.families.VisibilitySet(ctx, ann); !slices.Equal(got, []string{"ann"}) {
		t.Fatalf("VisibilitySet() without family = %v", got)
	}

	if _, err := f.families.CreateFamily(ctx, ann, "  "); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("CreateFamily(blank) error = %v", err)
	}
	fam, err := f.families.CreateFamily(ctx, ann, "Smith")
	if err != nil {
		t.Fatalf("CreateFamily() error = %v", err)
	}
	if fam.OwnerID != "ann" || fam.OwnerEmail != "ann@example.com" || fam.OwnerName != "Ann" || len(fam.MemberIDs) != 0 {
		t.Fatalf("family = %+v", fam)
	}
	if _, err := f.families.CreateFamily(ctx, ann, "Again"); !errors.Is(err, core.ErrAlreadyInFamily) {
		t.Fatalf("second CreateFamily() error = %v", err)
	}
	if _, err := f.families.CreateFamily(ctx, core.Principal{}, "X"); !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("anonymous CreateFamily() error = %v", err)
	}

	got := f.families.ResolveFamily(ctx, ann)
	if got == nil || got.ID != fam.ID {
		t.Fatalf("ResolveFamily() = %+v", got)
	}
}

func TestFamily_InviteCodeRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fam := f.familyWith(t, ann)

	if _, err := f.families.CreateInviteCode(ctx, bob); !errors.Is(err, core.ErrNotOwner) {
		t.Fatalf("CreateInviteCode(non-owner) error = %v", err)
	}

	inv, err := f.families.CreateInviteCode(ctx, ann)
	if err != nil {
		t.Fatalf("CreateInviteCode() error = %v", err)
	}
	if len(inv.InviteCode) != core.InviteCodeLength || !inv.ExpiresAt.Equal(inv.CreatedAt.Add(7*24*time.Hour)) {
		t.Fatalf("invite = %+v", inv)
	}

	f.advance(24 * time.Hour)

	if _, err := f.families.JoinWithCode(ctx, ann, inv.InviteCode); !errors.Is(err, core.ErrAlreadyInFamily) {
		t.Fatalf("owner JoinWithCode() error = %v", err)
	}

	joined, err := f.families.JoinWithCode(ctx, bob, strings.ToLower(inv.InviteCode))
	if err != nil {
		t.Fatalf("JoinWithCode() error = %v", err)
	}
	if joined.ID != fam.ID || !joined.HasMember("bob") || joined.HasMember("ann") {
		t.Fatalf("joined family = %+v", joined)
	}
	if joined.Members[0].Email != "bob@example.com" || joined.Members[0].Name != "Bob" {
		t.Fatalf("member = %+v", joined.Members[0])
	}

	stored, _ := f.store.GetInvite(ctx, inv.ID)
	if stored.Status != core.InviteAccepted || stored.AcceptedBy != "bob" {
		t.Fatalf("invite after redemption = %+v", stored)
	}

	if _, err := f.families.JoinWithCode(ctx, carl, inv.InviteCode); !errors.Is(err, core.ErrInvalidOrExpiredCode) {
		t.Fatalf("second redemption error = %v", err)
	}
	if _, err := f.families.JoinWithCode(ctx, carl, "NOPE234567"); !errors.Is(err, core.ErrInvalidOrExpiredCode) {
		t.Fatalf("unknown code error = %v", err)
	}

	late, err := f.families.CreateInviteCode(ctx, ann)
	if err != nil {
		t.Fatalf("CreateInviteCode() error = %v", err)
	}
	f.advance(8 * 24 * time.Hour)
	if _, err := f.families.JoinWithCode(ctx, carl, late.InviteCode); !errors.Is(err, core.ErrInvalidOrExpiredCode) {
		t.Fatalf("expired code error = %v", err)
	}
	if f.families.ResolveFamily(ctx, carl) != nil {
		t.Fatal("carl should not be in a family")
	}
}

// racingStore loses every redemption race and then fails the membership
// lookup that follows.
type racingStore struct {
	FamilyStore
	mu      sync.Mutex
	redeems int
}

var errLookupDown = errors.New("lookup down")

func (s *racingStore) RedeemInvite(context.Context, string, core.Member, time.Time) (core.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redeems++
	return core.Family{}, store.ErrConflict
}

func (s *racingStore) FamilyByMember(ctx context.Context, memberID string) (core.Family, error) {
	s.mu.Lock()
	raced := s.redeems > 0
	s.mu.Unlock()
	if raced {
		return core.Family{}, errLookupDown
	}
	return s.FamilyStore.FamilyByMember(ctx, memberID)
}

func TestFamily_RedeemConflictLookupFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.familyWith(t, ann)
	inv, err := f.families.CreateInviteCode(ctx, ann)
	if err != nil {
		t.Fatalf("CreateInviteCode() error = %v", err)
	}

	svc := NewFamilyService(&racingStore{FamilyStore: f.store}, f.hub, f.dispatcher, "http://localhost:8081", log.Nop())
	_, err = svc.JoinWithCode(ctx, bob, inv.InviteCode)
	if !errors.Is(err, errLookupDown) {
		t.Fatalf("JoinWithCode() error = %v, want lookup failure", err)
	}
	if errors.Is(err, core.ErrInvalidOrExpiredCode) {
		t.Fatalf("lookup failure reported as a stale code: %v", err)
	}
}

func TestFamily_InviteMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.familyWith(t, ann, carl)

	tests := []struct {
		name  string
		by    core.Principal
		email string
		want  error
	}{
		{"non-owner", carl, "dan@example.com", core.ErrNotOwner},
		{"self", ann, " ANN@example.com ", core.ErrSelfInvite},
		{"member", ann, "Carl@Example.com", core.ErrAlreadyMember},
		{"malformed", ann, "not-an-email", core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.families.InviteMember(ctx, tt.by, tt.email); !errors.Is(err, tt.want) {
				t.Fatalf("InviteMember() error = %v, want %v", err, tt.want)
			}
		})
	}

	inv, err := f.families.InviteMember(ctx, ann, "Bob@Example.com")
	if err != nil {
		t.Fatalf("InviteMember() error = %v", err)
	}
	if inv.InviteeEmail != "bob@example.com" || inv.InviteCode != "" || !inv.ExpiresAt.IsZero() {
		t.Fatalf("invite = %+v", inv)
	}
	if len(f.dispatcher.sent) != 1 || f.dispatcher.sent[0].Recipient != "bob@example.com" || f.dispatcher.sent[0].FamilyName != "Smith" {
		t.Fatalf("dispatched = %+v", f.dispatcher.sent)
	}
	if _, err := f.families.InviteMember(ctx, ann, "bob@example.com"); !errors.Is(err, core.ErrAlreadyInvited) {
		t.Fatalf("duplicate InviteMember() error = %v", err)
	}

	f.dispatcher.err = errors.New("broker down")
	if _, err := f.families.InviteMember(ctx, ann, "dan@example.com"); err != nil {
		t.Fatalf("InviteMember() should ignore dispatch failure, got %v", err)
	}
}

func TestFamily_AddressedInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fam := f.familyWith(t, ann)

	inv, err := f.families.InviteMember(ctx, ann, "bob@example.com")
	if err != nil {
		t.Fatalf("InviteMember() error = %v", err)
	}

	pending, err := f.families.PendingInvites(ctx, core.Principal{ID: "bob", Email: "BOB@example.com"})
	if err != nil || len(pending) != 1 || pending[0].ID != inv.ID {
		t.Fatalf("PendingInvites() = %v, %v", pending, err)
	}

	if _, err := f.families.AcceptInvite(ctx, carl, inv.ID); !errors.Is(err, core.ErrInviteNotFound) {
		t.Fatalf("AcceptInvite(wrong principal) error = %v", err)
	}
	if err := f.families.DeclineInvite(ctx, carl, inv.ID); !errors.Is(err, core.ErrInviteNotFound) {
		t.Fatalf("DeclineInvite(wrong principal) error = %v", err)
	}

	joined, err := f.families.AcceptInvite(ctx, bob, inv.ID)
	if err != nil {
		t.Fatalf("AcceptInvite() error = %v", err)
	}
	if joined.ID != fam.ID || !joined.HasMember("bob") {
		t.Fatalf("joined = %+v", joined)
	}
	if _, err := f.families.AcceptInvite(ctx, bob, inv.ID); !errors.Is(err, core.ErrInviteNotFound) {
		t.Fatalf("second AcceptInvite() error = %v", err)
	}
	if pending, _ := f.families.PendingInvites(ctx, bob); len(pending) != 0 {
		t.Fatalf("pending after accept = %v", pending)
	}

	toCarl, _ := f.families.InviteMember(ctx, ann, "carl@example.com")
	if err := f.families.DeclineInvite(ctx, carl, toCarl.ID); err != nil {
		t.Fatalf("DeclineInvite() error = %v", err)
	}
	stored, _ := f.store.GetInvite(ctx, toCarl.ID)
	if stored.Status != core.InviteDeclined {
		t.Fatalf("status = %s", stored.Status)
	}
	if _, err := f.families.AcceptInvite(ctx, carl, toCarl.ID); !errors.Is(err, core.ErrInviteNotFound) {
		t.Fatalf("AcceptInvite(declined) error = %v", err)
	}
}

func TestFamily_AcceptWhileInAnotherFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.familyWith(t, ann)
	inv, _ := f.families.InviteMember(ctx, ann, "bob@example.com")

	if _, err := f.families.CreateFamily(ctx, bob, "Jones"); err != nil {
		t.Fatalf("CreateFamily() error = %v", err)
	}
	if _, err := f.families.AcceptInvite(ctx, bob, inv.ID); !errors.Is(err, core.ErrAlreadyInFamily) {
		t.Fatalf("AcceptInvite() error = %v", err)
	}
}

func TestFamily_RemoveLeaveDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fam := f.familyWith(t, ann, bob, carl)

	if _, err := f.families.RemoveMember(ctx, bob, "carl"); !errors.Is(err, core.ErrNotOwner) {
		t.Fatalf("RemoveMember(non-owner) error = %v", err)
	}
	if _, err := f.families.RemoveMember(ctx, ann, "zed"); !errors.Is(err, core.ErrMemberNotFound) {
		t.Fatalf("RemoveMember(unknown) error = %v", err)
	}
	after, err := f.families.RemoveMember(ctx, ann, "carl")
	if err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if after.HasMember("carl") || len(after.Members) != 1 {
		t.Fatalf("family after removal = %+v", after)
	}

	if err := f.families.LeaveFamily(ctx, ann); !errors.Is(err, core.ErrOwnerCannotLeave) {
		t.Fatalf("owner LeaveFamily() error = %v", err)
	}
	if err := f.families.LeaveFamily(ctx, bob); err != nil {
		t.Fatalf("LeaveFamily() error = %v", err)
	}
	if f.families.ResolveFamily(ctx, bob) != nil {
		t.Fatal("bob still resolves a family after leaving")
	}
	if err := f.families.LeaveFamily(ctx, bob); !errors.Is(err, core.ErrMemberNotFound) {
		t.Fatalf("LeaveFamily() without family error = %v", err)
	}

	if _, err := f.ledger.Add(ctx, ann, expense("10", "Food", "Cash", f.today()), nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	f.families.InviteMember(ctx, ann, "dan@example.com")

	if err := f.families.DeleteFamily(ctx, bob); !errors.Is(err, core.ErrNotOwner) {
		t.Fatalf("DeleteFamily(non-owner) error = %v", err)
	}
	if err := f.families.DeleteFamily(ctx, ann); err != nil {
		t.Fatalf("DeleteFamily() error = %v", err)
	}
	if invites, _ := f.store.InvitesByFamily(ctx, fam.ID); len(invites) != 0 {
		t.Fatalf("invites survived family deletion: %v", invites)
	}
	if txs, _ := f.store.TransactionsByOwners(ctx, []string{"ann"}); len(txs) != 1 {
		t.Fatalf("transactions after deletion = %v", txs)
	}
	if f.families.ResolveFamily(ctx, ann) != nil {
		t.Fatal("family still resolves after deletion")
	}
}

func TestFamily_WatchFamilyAndInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	families := make(chan *core.Family, 16)
	sub := f.families.WatchFamily(ctx, bob, func(fam *core.Family) { families <- fam })
	defer sub.Unsubscribe()

	invites := make(chan []core.FamilyInvite, 16)
	isub := f.families.WatchInvites(ctx, bob, func(v []core.FamilyInvite) { invites <- v })
	defer isub.Unsubscribe()

	waitFor(t, families, func(fam *core.Family) bool { return fam == nil })
	waitFor(t, invites, func(v []core.FamilyInvite) bool { return len(v) == 0 })

	f.familyWith(t, ann)
	inv, err := f.families.InviteMember(ctx, ann, "bob@example.com")
	if err != nil {
		t.Fatalf("InviteMember() error = %v", err)
	}
	waitFor(t, invites, func(v []core.FamilyInvite) bool { return len(v) == 1 && v[0].ID == inv.ID })

	if _, err := f.families.AcceptInvite(ctx, bob, inv.ID); err != nil {
		t.Fatalf("AcceptInvite() error = %v", err)
	}
	waitFor(t, families, func(fam *core.Family) bool { return fam != nil && fam.HasMember("bob") })
	waitFor(t, invites, func(v []core.FamilyInvite) bool { return len(v) == 0 })
}

func TestFamily_FamilyInvitesOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.familyWith(t, ann, bob)

	code, _ := f.families.CreateInviteCode(ctx, ann)
	f.families.InviteMember(ctx, ann, "carl@example.com")

	invites, err := f.families.FamilyInvites(ctx, ann)
	if err != nil {
		t.Fatalf("FamilyInvites() error = %v", err)
	}
	if len(invites) != 2 {
		t.Fatalf("invites = %+v", invites)
	}

	f.advance(8 * 24 * time.Hour)
	invites, _ = f.families.FamilyInvites(ctx, ann)
	if len(invites) != 1 || invites[0].ID == code.ID {
		t.Fatalf("expired code still listed: %+v", invites)
	}

	if _, err := f.families.FamilyInvites(ctx, bob); !errors.Is(err, core.ErrNotOwner) {
		t.Fatalf("member FamilyInvites() error = %v", err)
	}
}
