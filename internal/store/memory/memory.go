// Package memory is an in-process document store used by tests and by
// DATA_BACKEND=memory.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

type Store struct {
	mu           sync.Mutex
	families     map[string]core.Family
	invites      map[string]core.FamilyInvite
	entries      map[string]core.CatalogEntry
	entryOrder   []string
	transactions map[string]core.Transaction
	newID        func() string
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		families:     make(map[string]core.Family),
		invites:      make(map[string]core.FamilyInvite),
		entries:      make(map[string]core.CatalogEntry),
		transactions: make(map[string]core.Transaction),
		newID:        uuid.NewString,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Families

func (s *Store) CreateFamily(_ context.Context, f core.Family) (core.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.familyOfLocked(f.OwnerID) != nil {
		return core.Family{}, store.ErrConflict
	}
	if f.ID == "" {
		f.ID = s.newID()
	}
	f.MemberIDs = nonNil(f.MemberIDs)
	f.Members = slices.Clone(f.Members)
	s.families[f.ID] = f
	return cloneFamily(f), nil
}

func (s *Store) GetFamily(_ context.Context, id string) (core.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[id]
	if !ok {
		return core.Family{}, store.ErrNotFound
	}
	return cloneFamily(f), nil
}

func (s *Store) FamilyByOwner(_ context.Context, ownerID string) (core.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.families {
		if f.OwnerID == ownerID {
			return cloneFamily(f), nil
		}
	}
	return core.Family{}, store.ErrNotFound
}

func (s *Store) FamilyByMember(_ context.Context, memberID string) (core.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.families {
		if f.HasMember(memberID) {
			return cloneFamily(f), nil
		}
	}
	return core.Family{}, store.ErrNotFound
}

func (s *Store) addMemberLocked(familyID string, m core.Member) (core.Family, error) {
	f, ok := s.families[familyID]
	if !ok {
		return core.Family{}, store.ErrNotFound
	}
	if f.HasMember(m.ID) {
		return cloneFamily(f), nil
	}
	if s.familyOfLocked(m.ID) != nil {
		return core.Family{}, store.ErrConflict
	}
	f.MemberIDs = append(slices.Clone(f.MemberIDs), m.ID)
	f.Members = append(slices.Clone(f.Members), m)
	s.families[familyID] = f
	return cloneFamily(f), nil
}

func (s *Store) RemoveMember(_ context.Context, familyID, memberID string) (core.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[familyID]
	if !ok {
		return core.Family{}, store.ErrNotFound
	}
	f.MemberIDs = slices.DeleteFunc(slices.Clone(f.MemberIDs), func(id string) bool { return id == memberID })
	f.Members = slices.DeleteFunc(slices.Clone(f.Members), func(m core.Member) bool { return m.ID == memberID })
	s.families[familyID] = f
	return cloneFamily(f), nil
}

func (s *Store) DeleteFamily(_ context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.families[familyID]; !ok {
		return store.ErrNotFound
	}
	for id, inv := range s.invites {
		if inv.FamilyID == familyID {
			delete(s.invites, id)
		}
	}
	delete(s.families, familyID)
	return nil
}

// familyOfLocked returns the family a principal owns or belongs to.
func (s *Store) familyOfLocked(principalID string) *core.Family {
	for _, f := range s.families {
		if f.OwnerID == principalID || f.HasMember(principalID) {
			return &f
		}
	}
	return nil
}

// Invites

func (s *Store) CreateInvite(_ context.Context, inv core.FamilyInvite) (core.FamilyInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.families[inv.FamilyID]; !ok {
		return core.FamilyInvite{}, store.ErrNotFound
	}
	if inv.ID == "" {
		inv.ID = s.newID()
	}
	s.invites[inv.ID] = inv
	return inv, nil
}

func (s *Store) GetInvite(_ context.Context, id string) (core.FamilyInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return core.FamilyInvite{}, store.ErrNotFound
	}
	return inv, nil
}

func (s *Store) PendingInviteByCode(_ context.Context, code string) (core.FamilyInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invites {
		if inv.InviteCode != "" && inv.InviteCode == code && inv.Status == core.InvitePending {
			return inv, nil
		}
	}
	return core.FamilyInvite{}, store.ErrNotFound
}

func (s *Store) PendingInvitesForEmail(_ context.Context, email string) ([]core.FamilyInvite, error) {
	return s.filterInvites(func(inv core.FamilyInvite) bool {
		return inv.Status == core.InvitePending && inv.InviteeEmail != "" && inv.InviteeEmail == email
	}), nil
}

func (s *Store) PendingInvitesByFamily(_ context.Context, familyID string) ([]core.FamilyInvite, error) {
	return s.filterInvites(func(inv core.FamilyInvite) bool {
		return inv.FamilyID == familyID && inv.Status == core.InvitePending
	}), nil
}

func (s *Store) InvitesByFamily(_ context.Context, familyID string) ([]core.FamilyInvite, error) {
	return s.filterInvites(func(inv core.FamilyInvite) bool { return inv.FamilyID == familyID }), nil
}

func (s *Store) filterInvites(keep func(core.FamilyInvite) bool) []core.FamilyInvite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.FamilyInvite{}
	for _, inv := range s.invites {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) RedeemInvite(_ context.Context, inviteID string, member core.Member, at time.Time) (core.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[inviteID]
	if !ok {
		return core.Family{}, store.ErrNotFound
	}
	if !inv.Redeemable(at) {
		return core.Family{}, store.ErrConflict
	}
	f, err := s.addMemberLocked(inv.FamilyID, member)
	if err != nil {
		return core.Family{}, err
	}
	inv.Status = core.InviteAccepted
	inv.AcceptedBy = member.ID
	inv.AcceptedAt = at
	s.invites[inviteID] = inv
	return f, nil
}

func (s *Store) DeclineInvite(_ context.Context, inviteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != core.InvitePending {
		return store.ErrConflict
	}
	inv.Status = core.InviteDeclined
	s.invites[inviteID] = inv
	return nil
}

// Catalog

func (s *Store) ListEntries(_ context.Context, kind core.CatalogKind) ([]core.CatalogEntry, error) {
	return s.filterEntries(func(e core.CatalogEntry) bool { return e.Kind == kind }), nil
}

func (s *Store) EntriesForUser(_ context.Context, kind core.CatalogKind, userID string) ([]core.CatalogEntry, error) {
	return s.filterEntries(func(e core.CatalogEntry) bool { return e.Kind == kind && e.HasUser(userID) }), nil
}

func (s *Store) filterEntries(keep func(core.CatalogEntry) bool) []core.CatalogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.CatalogEntry{}
	for _, id := range s.entryOrder {
		if e := s.entries[id]; keep(e) {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

func (s *Store) GetEntry(_ context.Context, id string) (core.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.CatalogEntry{}, store.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *Store) FindEntry(_ context.Context, kind core.CatalogKind, name string, typ core.TransactionType) (core.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.findLocked(core.CatalogKey(kind, name, typ)); ok {
		return cloneEntry(e), nil
	}
	return core.CatalogEntry{}, store.ErrNotFound
}

func (s *Store) findLocked(key string) (core.CatalogEntry, bool) {
	for _, id := range s.entryOrder {
		if e := s.entries[id]; e.Key() == key {
			return e, true
		}
	}
	return core.CatalogEntry{}, false
}

func (s *Store) CreateEntry(_ context.Context, e core.CatalogEntry) (core.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Name = strings.TrimSpace(e.Name)
	e = e.Normalize()
	if _, taken := s.findLocked(e.Key()); taken {
		return core.CatalogEntry{}, store.ErrConflict
	}
	if e.ID == "" {
		e.ID = s.newID()
	}
	e.UserIDs = nonNil(slices.Clone(e.UserIDs))
	s.entries[e.ID] = e
	s.entryOrder = append(s.entryOrder, e.ID)
	return cloneEntry(e), nil
}

func (s *Store) AttachUser(_ context.Context, entryID, userID string) (core.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return core.CatalogEntry{}, store.ErrNotFound
	}
	if !e.HasUser(userID) {
		e.UserIDs = append(slices.Clone(e.UserIDs), userID)
		s.entries[entryID] = e
	}
	return cloneEntry(e), nil
}

func (s *Store) DetachUser(_ context.Context, entryID, userID string) (core.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return core.CatalogEntry{}, store.ErrNotFound
	}
	e.UserIDs = slices.DeleteFunc(slices.Clone(e.UserIDs), func(id string) bool { return id == userID })
	s.entries[entryID] = e
	return cloneEntry(e), nil
}

// Transactions

func (s *Store) CreateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.newID()
	}
	s.transactions[t.ID] = t
	return t, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[t.ID]; !ok {
		return core.Transaction{}, store.ErrNotFound
	}
	s.transactions[t.ID] = t
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) TransactionsByOwners(_ context.Context, ownerIDs []string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Transaction{}
	for _, t := range s.transactions {
		if slices.Contains(ownerIDs, t.UserID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneFamily(f core.Family) core.Family {
	f.MemberIDs = nonNil(slices.Clone(f.MemberIDs))
	f.Members = slices.Clone(f.Members)
	if f.Members == nil {
		f.Members = []core.Member{}
	}
	return f
}

func cloneEntry(e core.CatalogEntry) core.CatalogEntry {
	e.UserIDs = nonNil(slices.Clone(e.UserIDs))
	return e
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
