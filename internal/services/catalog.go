package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"moneymanager/internal/core"
	"moneymanager/internal/live"
	"moneymanager/internal/log"
	"moneymanager/internal/store"
)

// CatalogService manages the shared category and account catalog. An entry
// is one global record; principals subscribe to it rather than copy it.
type CatalogService struct {
	store  store.CatalogStore
	hub    *live.Hub
	logger *log.Logger
	now    func() time.Time
}

func NewCatalogService(st store.CatalogStore, hub *live.Hub, logger *log.Logger) *CatalogService {
	return &CatalogService{
		store:  st,
		hub:    hub,
		logger: logger.WithComponent(log.ComponentCatalog),
		now:    time.Now,
	}
}

func checkKind(kind core.CatalogKind) error {
	if !kind.Valid() {
		return &core.ValidationError{Field: "kind", Reason: "must be category or account"}
	}
	return nil
}

// ListMine returns the entries p subscribes to, deduplicated by logical key.
func (s *CatalogService) ListMine(ctx context.Context, p core.Principal, kind core.CatalogKind) ([]core.CatalogEntry, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	entries, err := s.store.EntriesForUser(ctx, kind, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list %s entries: %w", kind, err)
	}
	return core.DedupCatalog(entries), nil
}

// ListAll returns the whole catalog of a kind, deduplicated.
func (s *CatalogService) ListAll(ctx context.Context, kind core.CatalogKind) ([]core.CatalogEntry, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s catalog: %w", kind, err)
	}
	return core.DedupCatalog(entries), nil
}

// AvailableToAdd suggests catalog entries p has not added yet.
func (s *CatalogService) AvailableToAdd(ctx context.Context, p core.Principal, kind core.CatalogKind) ([]core.CatalogEntry, error) {
	all, err := s.ListAll(ctx, kind)
	if err != nil {
		return nil, err
	}
	mine, err := s.ListMine(ctx, p, kind)
	if err != nil {
		return nil, err
	}
	return core.SubtractCatalog(all, mine), nil
}

// Add subscribes p to the entry with the given logical key, creating it if
// nobody has used it yet. The name keeps its case; matching ignores it.
func (s *CatalogService) Add(ctx context.Context, p core.Principal, kind core.CatalogKind, name string, typ core.TransactionType) (core.CatalogEntry, error) {
	if p.ID == "" {
		return core.CatalogEntry{}, core.ErrNotAuthenticated
	}
	if err := checkKind(kind); err != nil {
		return core.CatalogEntry{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.CatalogEntry{}, &core.ValidationError{Field: "name", Reason: "required"}
	}
	if kind == core.KindCategory {
		typ = core.CategoryType(typ)
		if !typ.Valid() {
			return core.CatalogEntry{}, &core.ValidationError{Field: "type", Reason: "must be expense, income or transfer"}
		}
	} else {
		typ = ""
	}

	mine, err := s.ListMine(ctx, p, kind)
	if err != nil {
		return core.CatalogEntry{}, err
	}
	key := core.CatalogKey(kind, name, typ)
	for _, e := range mine {
		if e.Key() == key {
			return core.CatalogEntry{}, core.ErrAlreadyInList
		}
	}

	entry, err := s.attachOrCreate(ctx, p, kind, name, typ)
	if err != nil {
		return core.CatalogEntry{}, err
	}
	s.logger.InfoContext(ctx, "Catalog entry added",
		log.FieldCatalogKind, kind,
		log.FieldCatalogID, entry.ID,
		log.FieldPrincipalID, p.ID)
	s.hub.Notify(ctx, store.CollCatalog)
	return entry, nil
}

func (s *CatalogService) attachOrCreate(ctx context.Context, p core.Principal, kind core.CatalogKind, name string, typ core.TransactionType) (core.CatalogEntry, error) {
	existing, err := s.store.FindEntry(ctx, kind, name, typ)
	if err == nil {
		return s.attach(ctx, existing.ID, p.ID)
	}
	if !store.IsNotFound(err) {
		return core.CatalogEntry{}, fmt.Errorf("find entry: %w", err)
	}

	created, err := s.store.CreateEntry(ctx, core.CatalogEntry{
		Kind:      kind,
		Name:      name,
		Type:      typ,
		UserIDs:   []string{p.ID},
		CreatedBy: p.ID,
		CreatedAt: s.now().UTC(),
	})
	if errors.Is(err, store.ErrConflict) {
		// lost a concurrent create; join the winner
		winner, err := s.store.FindEntry(ctx, kind, name, typ)
		if err != nil {
			return core.CatalogEntry{}, fmt.Errorf("find entry after conflict: %w", err)
		}
		s.logger.DebugContext(ctx, "Catalog create raced, attaching to existing entry", log.FieldCatalogID, winner.ID)
		return s.attach(ctx, winner.ID, p.ID)
	}
	if err != nil {
		return core.CatalogEntry{}, fmt.Errorf("create entry: %w", err)
	}
	return created, nil
}

func (s *CatalogService) attach(ctx context.Context, entryID, userID string) (core.CatalogEntry, error) {
	e, err := s.store.AttachUser(ctx, entryID, userID)
	if err != nil {
		return core.CatalogEntry{}, fmt.Errorf("attach user: %w", err)
	}
	return e, nil
}

// entryOfKind loads an entry and hides entries of another kind.
func (s *CatalogService) entryOfKind(ctx context.Context, kind core.CatalogKind, entryID string) (core.CatalogEntry, error) {
	if err := checkKind(kind); err != nil {
		return core.CatalogEntry{}, err
	}
	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return core.CatalogEntry{}, err
	}
	if e.Kind != kind {
		return core.CatalogEntry{}, store.ErrNotFound
	}
	return e, nil
}

// AttachExisting subscribes p to an entry by id. Idempotent.
func (s *CatalogService) AttachExisting(ctx context.Context, p core.Principal, kind core.CatalogKind, entryID string) (core.CatalogEntry, error) {
	if p.ID == "" {
		return core.CatalogEntry{}, core.ErrNotAuthenticated
	}
	if _, err := s.entryOfKind(ctx, kind, entryID); err != nil {
		return core.CatalogEntry{}, err
	}
	e, err := s.attach(ctx, entryID, p.ID)
	if err != nil {
		return core.CatalogEntry{}, err
	}
	s.hub.Notify(ctx, store.CollCatalog)
	return e, nil
}

// Remove unsubscribes p. The entry itself always survives.
func (s *CatalogService) Remove(ctx context.Context, p core.Principal, kind core.CatalogKind, entryID string) (core.CatalogEntry, error) {
	if p.ID == "" {
		return core.CatalogEntry{}, core.ErrNotAuthenticated
	}
	if _, err := s.entryOfKind(ctx, kind, entryID); err != nil {
		return core.CatalogEntry{}, err
	}
	e, err := s.store.DetachUser(ctx, entryID, p.ID)
	if err != nil {
		return core.CatalogEntry{}, fmt.Errorf("detach user: %w", err)
	}
	s.logger.InfoContext(ctx, "Catalog entry removed from list",
		log.FieldCatalogKind, kind,
		log.FieldCatalogID, entryID,
		log.FieldPrincipalID, p.ID)
	s.hub.Notify(ctx, store.CollCatalog)
	return e, nil
}

// CategoriesOfType lists p's categories of one transaction type.
func (s *CatalogService) CategoriesOfType(ctx context.Context, p core.Principal, typ core.TransactionType) ([]core.CatalogEntry, error) {
	mine, err := s.ListMine(ctx, p, core.KindCategory)
	if err != nil {
		return nil, err
	}
	return core.CategoriesOfType(mine, core.CategoryType(typ)), nil
}

// WatchMine delivers p's list of kind on every catalog change.
func (s *CatalogService) WatchMine(ctx context.Context, p core.Principal, kind core.CatalogKind, deliver func([]core.CatalogEntry)) *live.Subscription {
	return live.Watch(ctx, s.hub, []string{store.CollCatalog},
		func(ctx context.Context) ([]core.CatalogEntry, error) { return s.ListMine(ctx, p, kind) },
		deliver)
}
