// Package store defines the document-store contract the services write
// through. Implementations live in store/memory and storage (SQLite).
package store

import (
	"context"
	"errors"
	"time"

	"moneymanager/internal/core"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Collection names, used for change notifications.
const (
	CollFamilies     = "families"
	CollInvites      = "family_invites"
	CollCatalog      = "catalog"
	CollTransactions = "transactions"
)

type (
	// FamilyStore persists families and their member lists.
	FamilyStore interface {
		CreateFamily(ctx context.Context, f core.Family) (core.Family, error)
		GetFamily(ctx context.Context, id string) (core.Family, error)
		// FamilyByOwner and FamilyByMember return ErrNotFound when the
		// principal has no such family.
		FamilyByOwner(ctx context.Context, ownerID string) (core.Family, error)
		FamilyByMember(ctx context.Context, memberID string) (core.Family, error)
		RemoveMember(ctx context.Context, familyID, memberID string) (core.Family, error)
		// DeleteFamily removes the family and every invite referencing it.
		DeleteFamily(ctx context.Context, familyID string) error
	}

	// InviteStore persists code and addressed invites.
	InviteStore interface {
		CreateInvite(ctx context.Context, inv core.FamilyInvite) (core.FamilyInvite, error)
		GetInvite(ctx context.Context, id string) (core.FamilyInvite, error)
		PendingInviteByCode(ctx context.Context, code string) (core.FamilyInvite, error)
		PendingInvitesForEmail(ctx context.Context, email string) ([]core.FamilyInvite, error)
		PendingInvitesByFamily(ctx context.Context, familyID string) ([]core.FamilyInvite, error)
		InvitesByFamily(ctx context.Context, familyID string) ([]core.FamilyInvite, error)
		// RedeemInvite adds member to the invite's family and marks the
		// invite accepted as one unit. It fails with ErrConflict when the
		// invite is no longer pending or the member already has a family.
		RedeemInvite(ctx context.Context, inviteID string, member core.Member, at time.Time) (core.Family, error)
		DeclineInvite(ctx context.Context, inviteID string) error
	}

	// CatalogStore persists shared catalog entries and their subscribers.
	CatalogStore interface {
		ListEntries(ctx context.Context, kind core.CatalogKind) ([]core.CatalogEntry, error)
		EntriesForUser(ctx context.Context, kind core.CatalogKind, userID string) ([]core.CatalogEntry, error)
		GetEntry(ctx context.Context, id string) (core.CatalogEntry, error)
		// FindEntry matches on the logical key (kind, lowercased name, type).
		FindEntry(ctx context.Context, kind core.CatalogKind, name string, typ core.TransactionType) (core.CatalogEntry, error)
		// CreateEntry fails with ErrConflict if the logical key is taken.
		CreateEntry(ctx context.Context, e core.CatalogEntry) (core.CatalogEntry, error)
		AttachUser(ctx context.Context, entryID, userID string) (core.CatalogEntry, error)
		DetachUser(ctx context.Context, entryID, userID string) (core.CatalogEntry, error)
	}

	// TransactionStore persists ledger entries.
	TransactionStore interface {
		CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id string) error
		// TransactionsByOwners returns every transaction whose owner is in
		// ownerIDs, newest date first.
		TransactionsByOwners(ctx context.Context, ownerIDs []string) ([]core.Transaction, error)
	}

	// Store is the full document store.
	Store interface {
		FamilyStore
		InviteStore
		CatalogStore
		TransactionStore
		Ping(ctx context.Context) error
		Close() error
	}
)

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
