// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// Run exercises s through the store contract. newStore must return an empty
// store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("families", func(t *testing.T) { testFamilies(t, newStore(t)) })
	t.Run("redeem invite", func(t *testing.T) { testRedeem(t, newStore(t)) })
	t.Run("addressed invites", func(t *testing.T) { testAddressedInvites(t, newStore(t)) })
	t.Run("delete family cascades invites", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
	t.Run("catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
}

func mustFamily(t *testing.T, s store.Store, owner string) core.Family {
	t.Helper()
	f, err := s.CreateFamily(context.Background(), core.Family{
		Name: "Smith", OwnerID: owner, OwnerEmail: owner + "@example.com", OwnerName: owner, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("CreateFamily() error = %v", err)
	}
	return f
}

func mustInvite(t *testing.T, s store.Store, f core.Family, code string) core.FamilyInvite {
	t.Helper()
	inv, err := s.CreateInvite(context.Background(), core.FamilyInvite{
		FamilyID: f.ID, FamilyName: f.Name, InviterID: f.OwnerID, InviteCode: code,
		Status: core.InvitePending, CreatedAt: base, ExpiresAt: base.Add(core.InviteCodeTTL),
	})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}
	return inv
}

// join adds m to f through a redeemed code invite.
func join(t *testing.T, s store.Store, f core.Family, code string, m core.Member) core.Family {
	t.Helper()
	got, err := s.RedeemInvite(context.Background(), mustInvite(t, s, f, code).ID, m, base)
	if err != nil {
		t.Fatalf("RedeemInvite() error = %v", err)
	}
	return got
}

func testFamilies(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := mustFamily(t, s, "a")
	if f.ID == "" || len(f.MemberIDs) != 0 {
		t.Fatalf("new family = %+v", f)
	}

	if _, err := s.CreateFamily(ctx, core.Family{Name: "Again", OwnerID: "a"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second family for owner: %v", err)
	}

	got, err := s.FamilyByOwner(ctx, "a")
	if err != nil || got.ID != f.ID || got.Name != "Smith" {
		t.Fatalf("FamilyByOwner() = %+v, %v", got, err)
	}
	if _, err := s.FamilyByMember(ctx, "b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FamilyByMember(b) before join: %v", err)
	}

	m := core.Member{ID: "b", Email: "b@example.com", Name: "B", JoinedAt: base}
	f = join(t, s, f, "JOINBBBBBB", m)
	if len(f.MemberIDs) != 1 {
		t.Fatalf("members after join = %+v", f.MemberIDs)
	}
	if got, err := s.FamilyByMember(ctx, "b"); err != nil || got.ID != f.ID || len(got.Members) != 1 || got.Members[0].Email != "b@example.com" {
		t.Fatalf("FamilyByMember() = %+v, %v", got, err)
	}

	other := mustFamily(t, s, "c")
	for i, id := range []string{"b", "a"} {
		inv := mustInvite(t, s, other, fmt.Sprintf("OTHER%05d", i))
		if _, err := s.RedeemInvite(ctx, inv.ID, core.Member{ID: id}, base); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("%s joining a second family: %v", id, err)
		}
	}
	if _, err := s.CreateFamily(ctx, core.Family{Name: "Mine", OwnerID: "b"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("member creating a family: %v", err)
	}

	f, err = s.RemoveMember(ctx, f.ID, "b")
	if err != nil || len(f.MemberIDs) != 0 || len(f.Members) != 0 {
		t.Fatalf("RemoveMember() = %+v, %v", f, err)
	}
	if _, err := s.GetFamily(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetFamily(missing) = %v", err)
	}
}

func testRedeem(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := mustFamily(t, s, "a")
	inv, err := s.CreateInvite(ctx, core.FamilyInvite{
		FamilyID: f.ID, FamilyName: f.Name, InviterID: "a", InviteCode: "ABCDEFGHJK",
		Status: core.InvitePending, CreatedAt: base, ExpiresAt: base.Add(core.InviteCodeTTL),
	})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	found, err := s.PendingInviteByCode(ctx, "ABCDEFGHJK")
	if err != nil || found.ID != inv.ID {
		t.Fatalf("PendingInviteByCode() = %+v, %v", found, err)
	}

	if _, err := s.RedeemInvite(ctx, inv.ID, core.Member{ID: "b"}, base.Add(8*24*time.Hour)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expired redeem: %v", err)
	}

	at := base.Add(24 * time.Hour)
	fam, err := s.RedeemInvite(ctx, inv.ID, core.Member{ID: "b", Email: "b@example.com", JoinedAt: at}, at)
	if err != nil || !fam.HasMember("b") {
		t.Fatalf("RedeemInvite() = %+v, %v", fam, err)
	}
	got, _ := s.GetInvite(ctx, inv.ID)
	if got.Status != core.InviteAccepted || got.AcceptedBy != "b" || !got.AcceptedAt.Equal(at) {
		t.Fatalf("invite after redeem = %+v", got)
	}
	if _, err := s.PendingInviteByCode(ctx, "ABCDEFGHJK"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("code still pending: %v", err)
	}
	if _, err := s.RedeemInvite(ctx, inv.ID, core.Member{ID: "c"}, at); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second redeem: %v", err)
	}

	// a principal already in a family cannot redeem, and the invite stays pending
	second, _ := s.CreateInvite(ctx, core.FamilyInvite{
		FamilyID: mustFamily(t, s, "d").ID, InviterID: "d", InviteCode: "ZZZZZZZZZZ",
		Status: core.InvitePending, CreatedAt: base, ExpiresAt: base.Add(core.InviteCodeTTL),
	})
	if _, err := s.RedeemInvite(ctx, second.ID, core.Member{ID: "b"}, at); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("redeem while in a family: %v", err)
	}
	if got, _ := s.GetInvite(ctx, second.ID); got.Status != core.InvitePending {
		t.Fatalf("failed redeem changed the invite: %+v", got)
	}
}

func testAddressedInvites(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := mustFamily(t, s, "a")
	inv, err := s.CreateInvite(ctx, core.FamilyInvite{
		FamilyID: f.ID, InviterID: "a", InviteeEmail: "b@example.com", Status: core.InvitePending, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	mine, err := s.PendingInvitesForEmail(ctx, "b@example.com")
	if err != nil || len(mine) != 1 || mine[0].ID != inv.ID {
		t.Fatalf("PendingInvitesForEmail() = %+v, %v", mine, err)
	}
	byFamily, _ := s.PendingInvitesByFamily(ctx, f.ID)
	if len(byFamily) != 1 {
		t.Fatalf("PendingInvitesByFamily() = %+v", byFamily)
	}

	if err := s.DeclineInvite(ctx, inv.ID); err != nil {
		t.Fatalf("DeclineInvite() error = %v", err)
	}
	if err := s.DeclineInvite(ctx, inv.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second decline: %v", err)
	}
	if mine, _ := s.PendingInvitesForEmail(ctx, "b@example.com"); len(mine) != 0 {
		t.Fatalf("declined invite still pending: %+v", mine)
	}
	all, _ := s.InvitesByFamily(ctx, f.ID)
	if len(all) != 1 || all[0].Status != core.InviteDeclined {
		t.Fatalf("InvitesByFamily() = %+v", all)
	}
}

func testDeleteCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := mustFamily(t, s, "a")
	for _, email := range []string{"b@example.com", "c@example.com"} {
		if _, err := s.CreateInvite(ctx, core.FamilyInvite{FamilyID: f.ID, InviterID: "a", InviteeEmail: email, Status: core.InvitePending, CreatedAt: base}); err != nil {
			t.Fatalf("CreateInvite() error = %v", err)
		}
	}
	tx, err := s.CreateTransaction(ctx, transaction("a", "10", core.NewDate(2025, 3, 1)))
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	if err := s.DeleteFamily(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFamily() error = %v", err)
	}
	if all, _ := s.InvitesByFamily(ctx, f.ID); len(all) != 0 {
		t.Fatalf("invites survived family deletion: %+v", all)
	}
	if _, err := s.GetFamily(ctx, f.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetFamily() after delete = %v", err)
	}
	if _, err := s.GetTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("transactions must survive family deletion: %v", err)
	}
	// the owner is free again
	mustFamily(t, s, "a")
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	food, err := s.CreateEntry(ctx, core.CatalogEntry{Kind: core.KindCategory, Name: "Food", UserIDs: []string{"a"}, CreatedBy: "a", CreatedAt: base})
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	if food.Type != core.Expense {
		t.Fatalf("untyped category stored as %q", food.Type)
	}

	if _, err := s.CreateEntry(ctx, core.CatalogEntry{Kind: core.KindCategory, Name: "FOOD", Type: core.Expense, UserIDs: []string{"b"}}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate logical key: %v", err)
	}
	if _, err := s.CreateEntry(ctx, core.CatalogEntry{Kind: core.KindCategory, Name: "Food", Type: core.Income, UserIDs: []string{"b"}, CreatedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("same name other type: %v", err)
	}
	if _, err := s.CreateEntry(ctx, core.CatalogEntry{Kind: core.KindAccount, Name: "food", UserIDs: []string{"b"}, CreatedAt: base.Add(2 * time.Second)}); err != nil {
		t.Fatalf("same name other kind: %v", err)
	}

	found, err := s.FindEntry(ctx, core.KindCategory, "  fOOd ", "")
	if err != nil || found.ID != food.ID || found.Name != "Food" {
		t.Fatalf("FindEntry() = %+v, %v", found, err)
	}

	e, err := s.AttachUser(ctx, food.ID, "b")
	if err != nil || len(e.UserIDs) != 2 {
		t.Fatalf("AttachUser() = %+v, %v", e, err)
	}
	if e, _ = s.AttachUser(ctx, food.ID, "b"); len(e.UserIDs) != 2 {
		t.Fatalf("AttachUser() must be idempotent: %v", e.UserIDs)
	}

	mine, _ := s.EntriesForUser(ctx, core.KindCategory, "b")
	if len(mine) != 2 {
		t.Fatalf("EntriesForUser(b) = %+v", mine)
	}
	all, _ := s.ListEntries(ctx, core.KindCategory)
	if len(all) != 2 || all[0].ID != food.ID {
		t.Fatalf("ListEntries() = %+v", all)
	}

	e, err = s.DetachUser(ctx, food.ID, "a")
	if err != nil || e.HasUser("a") || !e.HasUser("b") {
		t.Fatalf("DetachUser() = %+v, %v", e, err)
	}
	e, _ = s.DetachUser(ctx, food.ID, "b")
	if len(e.UserIDs) != 0 {
		t.Fatalf("expected no subscribers: %v", e.UserIDs)
	}
	if got, err := s.GetEntry(ctx, food.ID); err != nil || got.ID != food.ID {
		t.Fatalf("entry must survive losing every subscriber: %v", err)
	}
}

func transaction(owner, amount string, d core.Date) core.Transaction {
	return core.Transaction{
		Type: core.Expense, Amount: core.MustMoney(amount), Category: "Food", Account: "Cash",
		Date: d, UserID: owner, UserName: owner, CreatedAt: base,
	}
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	older, _ := s.CreateTransaction(ctx, transaction("a", "10", core.NewDate(2025, 3, 1)))
	newer, _ := s.CreateTransaction(ctx, transaction("b", "20.50", core.NewDate(2025, 3, 5)))
	_, _ = s.CreateTransaction(ctx, transaction("c", "30", core.NewDate(2025, 3, 9)))

	got, err := s.TransactionsByOwners(ctx, []string{"a", "b"})
	if err != nil || len(got) != 2 {
		t.Fatalf("TransactionsByOwners() = %+v, %v", got, err)
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("expected newest date first, got %s then %s", got[0].Date, got[1].Date)
	}
	if !got[0].Amount.Equal(core.MustMoney("20.5")) || got[0].Date.String() != "2025-03-05" {
		t.Fatalf("fields lost: %+v", got[0])
	}

	if none, _ := s.TransactionsByOwners(ctx, nil); len(none) != 0 {
		t.Fatalf("empty owner set returned %d rows", len(none))
	}

	older.Note = "edited"
	older.AttachmentURL = "https://drive/x"
	older.AttachmentName = "bill.pdf"
	older.AttachmentOwnerID = "a"
	if _, err := s.UpdateTransaction(ctx, older); err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	back, _ := s.GetTransaction(ctx, older.ID)
	if back.Note != "edited" || back.AttachmentOwnerID != "a" || back.AttachmentName != "bill.pdf" {
		t.Fatalf("update lost fields: %+v", back)
	}

	if err := s.DeleteTransaction(ctx, older.ID); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	if err := s.DeleteTransaction(ctx, older.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.UpdateTransaction(ctx, older); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update of deleted: %v", err)
	}
}
