package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"moneymanager/internal/core"
	"moneymanager/internal/live"
	"moneymanager/internal/log"
	"moneymanager/internal/notify"
	"moneymanager/internal/store"
)

// FamilyStore is the persistence the family service writes through.
type FamilyStore interface {
	store.FamilyStore
	store.InviteStore
}

// FamilyService owns family creation, invitations, membership changes and
// the visibility set derived from them.
type FamilyService struct {
	store      FamilyStore
	hub        *live.Hub
	dispatcher notify.Dispatcher
	appURL     string
	logger     *log.Logger
	events     *log.StructuredLogger

	now     func() time.Time
	newCode func() (string, error)
}

func NewFamilyService(st FamilyStore, hub *live.Hub, dispatcher notify.Dispatcher, appURL string, logger *log.Logger) *FamilyService {
	logger = logger.WithComponent(log.ComponentFamily)
	if dispatcher == nil {
		dispatcher = notify.NewLogDispatcher(logger)
	}
	return &FamilyService{
		store:      st,
		hub:        hub,
		dispatcher: dispatcher,
		appURL:     appURL,
		logger:     logger,
		events:     log.NewStructuredLogger(logger),
		now:        time.Now,
		newCode:    core.NewInviteCode,
	}
}

// familyOf returns the family p owns or belongs to, or nil.
func (s *FamilyService) familyOf(ctx context.Context, principalID string) (*core.Family, error) {
	f, err := s.store.FamilyByOwner(ctx, principalID)
	if err == nil {
		return &f, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("family by owner: %w", err)
	}
	f, err = s.store.FamilyByMember(ctx, principalID)
	if err == nil {
		return &f, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("family by member: %w", err)
	}
	return nil, nil
}

// ownedFamily returns the family p owns, or ErrNotOwner.
func (s *FamilyService) ownedFamily(ctx context.Context, p core.Principal) (core.Family, error) {
	f, err := s.store.FamilyByOwner(ctx, p.ID)
	if store.IsNotFound(err) {
		return core.Family{}, core.ErrNotOwner
	}
	if err != nil {
		return core.Family{}, fmt.Errorf("family by owner: %w", err)
	}
	return f, nil
}

// ResolveFamily looks up by ownership first, then membership. Lookup
// errors are treated as "no family yet".
func (s *FamilyService) ResolveFamily(ctx context.Context, p core.Principal) *core.Family {
	f, err := s.familyOf(ctx, p.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "Family lookup failed", log.FieldPrincipalID, p.ID, log.FieldError, err)
		return nil
	}
	return f
}

// VisibilitySet returns the owner ids whose transactions p may observe.
func (s *FamilyService) VisibilitySet(ctx context.Context, p core.Principal) []string {
	return core.VisibilitySet(p, s.ResolveFamily(ctx, p))
}

func (s *FamilyService) visibilitySet(ctx context.Context, p core.Principal) ([]string, error) {
	f, err := s.familyOf(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return core.VisibilitySet(p, f), nil
}

func (s *FamilyService) CreateFamily(ctx context.Context, p core.Principal, name string) (core.Family, error) {
	if p.ID == "" {
		return core.Family{}, core.ErrNotAuthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Family{}, &core.ValidationError{Field: "name", Reason: "required"}
	}

	existing, err := s.familyOf(ctx, p.ID)
	if err != nil {
		return core.Family{}, err
	}
	if existing != nil {
		return core.Family{}, core.ErrAlreadyInFamily
	}

	f, err := s.store.CreateFamily(ctx, core.Family{
		Name:       name,
		OwnerID:    p.ID,
		OwnerEmail: core.NormalizeEmail(p.Email),
		OwnerName:  p.Name(),
		MemberIDs:  []string{},
		Members:    []core.Member{},
		CreatedAt:  s.now().UTC(),
	})
	if errors.Is(err, store.ErrConflict) {
		return core.Family{}, core.ErrAlreadyInFamily
	}
	if err != nil {
		return core.Family{}, fmt.Errorf("create family: %w", err)
	}

	s.events.LogFamilyEvent(ctx, "Family created", f.ID, p.ID, log.OpCreate)
	s.hub.Notify(ctx, store.CollFamilies)
	return f, nil
}

// CreateInviteCode issues a single-use code valid for seven days.
func (s *FamilyService) CreateInviteCode(ctx context.Context, p core.Principal) (core.FamilyInvite, error) {
	f, err := s.ownedFamily(ctx, p)
	if err != nil {
		return core.FamilyInvite{}, err
	}
	code, err := s.newCode()
	if err != nil {
		return core.FamilyInvite{}, fmt.Errorf("generate invite code: %w", err)
	}

	now := s.now().UTC()
	inv, err := s.store.CreateInvite(ctx, core.FamilyInvite{
		FamilyID:     f.ID,
		FamilyName:   f.Name,
		InviterID:    p.ID,
		InviterName:  p.Name(),
		InviterEmail: core.NormalizeEmail(p.Email),
		InviteCode:   code,
		Status:       core.InvitePending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(core.InviteCodeTTL),
	})
	if err != nil {
		return core.FamilyInvite{}, fmt.Errorf("create invite: %w", err)
	}

	s.logger.InfoContext(ctx, "Invite code issued",
		log.FieldFamilyID, f.ID,
		log.FieldInviteID, inv.ID,
		"expires_at", inv.ExpiresAt)
	s.hub.Notify(ctx, store.CollInvites)
	return inv, nil
}

// JoinWithCode redeems a code invite. A code works once and only before
// it expires.
func (s *FamilyService) JoinWithCode(ctx context.Context, p core.Principal, code string) (core.Family, error) {
	if p.ID == "" {
		return core.Family{}, core.ErrNotAuthenticated
	}
	existing, err := s.familyOf(ctx, p.ID)
	if err != nil {
		return core.Family{}, err
	}
	if existing != nil {
		return core.Family{}, core.ErrAlreadyInFamily
	}

	now := s.now().UTC()
	inv, err := s.store.PendingInviteByCode(ctx, core.NormalizeInviteCode(code))
	if store.IsNotFound(err) {
		return core.Family{}, core.ErrInvalidOrExpiredCode
	}
	if err != nil {
		return core.Family{}, fmt.Errorf("find invite: %w", err)
	}
	if inv.Expired(now) {
		return core.Family{}, core.ErrInvalidOrExpiredCode
	}

	f, err := s.redeem(ctx, p, inv, now, core.ErrInvalidOrExpiredCode)
	if err != nil {
		return core.Family{}, err
	}
	s.events.LogFamilyEvent(ctx, "Joined family with code", f.ID, p.ID, log.OpJoin)
	return f, nil
}

// redeem adds p to the invite's family. A conflict means either someone
// else redeemed first (stale) or p joined a family meanwhile.
func (s *FamilyService) redeem(ctx context.Context, p core.Principal, inv core.FamilyInvite, now time.Time, stale error) (core.Family, error) {
	member := core.Member{
		ID:       p.ID,
		Email:    core.NormalizeEmail(p.Email),
		Name:     p.Name(),
		PhotoURL: p.PhotoURL,
		JoinedAt: now,
	}
	f, err := s.store.RedeemInvite(ctx, inv.ID, member, now)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		existing, ferr := s.familyOf(ctx, p.ID)
		if ferr != nil {
			return core.Family{}, fmt.Errorf("redeem invite: %w", ferr)
		}
		if existing != nil {
			return core.Family{}, core.ErrAlreadyInFamily
		}
		return core.Family{}, stale
	case store.IsNotFound(err):
		return core.Family{}, stale
	default:
		return core.Family{}, fmt.Errorf("redeem invite: %w", err)
	}

	s.hub.Notify(ctx, store.CollFamilies, store.CollInvites)
	return f, nil
}

// InviteMember creates an addressed invite and notifies the recipient on a
// best-effort basis.
func (s *FamilyService) InviteMember(ctx context.Context, p core.Principal, email string) (core.FamilyInvite, error) {
	f, err := s.ownedFamily(ctx, p)
	if err != nil {
		return core.FamilyInvite{}, err
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return core.FamilyInvite{}, &core.ValidationError{Field: "email", Reason: "invalid address"}
	}
	email = core.NormalizeEmail(addr.Address)

	if email == core.NormalizeEmail(p.Email) {
		return core.FamilyInvite{}, core.ErrSelfInvite
	}
	if _, ok := f.MemberByEmail(email); ok {
		return core.FamilyInvite{}, core.ErrAlreadyMember
	}
	pending, err := s.store.PendingInvitesByFamily(ctx, f.ID)
	if err != nil {
		return core.FamilyInvite{}, fmt.Errorf("list pending invites: %w", err)
	}
	for _, inv := range pending {
		if inv.InviteeEmail == email {
			return core.FamilyInvite{}, core.ErrAlreadyInvited
		}
	}

	inv, err := s.store.CreateInvite(ctx, core.FamilyInvite{
		FamilyID:     f.ID,
		FamilyName:   f.Name,
		InviterID:    p.ID,
		InviterName:  p.Name(),
		InviterEmail: core.NormalizeEmail(p.Email),
		InviteeEmail: email,
		Status:       core.InvitePending,
		CreatedAt:    s.now().UTC(),
	})
	if errors.Is(err, store.ErrConflict) {
		return core.FamilyInvite{}, core.ErrAlreadyInvited
	}
	if err != nil {
		return core.FamilyInvite{}, fmt.Errorf("create invite: %w", err)
	}
	s.hub.Notify(ctx, store.CollInvites)
	s.events.LogFamilyEvent(ctx, "Member invited", f.ID, p.ID, log.OpInvite)

	err = s.dispatcher.DispatchInvite(ctx, notify.Invitation{
		InviteID:    inv.ID,
		FamilyID:    f.ID,
		FamilyName:  f.Name,
		InviterName: p.Name(),
		Recipient:   email,
		AppURL:      s.appURL,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Invite notification failed",
			log.FieldInviteID, inv.ID,
			log.FieldOperation, log.OpNotify,
			log.FieldError, err)
	}
	return inv, nil
}

// PendingInvites lists addressed invites waiting for p.
func (s *FamilyService) PendingInvites(ctx context.Context, p core.Principal) ([]core.FamilyInvite, error) {
	email := core.NormalizeEmail(p.Email)
	if email == "" {
		return []core.FamilyInvite{}, nil
	}
	invites, err := s.store.PendingInvitesForEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("pending invites: %w", err)
	}
	return invites, nil
}

// FamilyInvites lists the pending invites of p's family, codes included.
// Owner only.
func (s *FamilyService) FamilyInvites(ctx context.Context, p core.Principal) ([]core.FamilyInvite, error) {
	f, err := s.ownedFamily(ctx, p)
	if err != nil {
		return nil, err
	}
	invites, err := s.store.PendingInvitesByFamily(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("family invites: %w", err)
	}
	now := s.now()
	active := invites[:0]
	for _, inv := range invites {
		if !inv.Expired(now) {
			active = append(active, inv)
		}
	}
	return active, nil
}

// pendingFor returns the invite only if it sits in p's pending view.
func (s *FamilyService) pendingFor(ctx context.Context, p core.Principal, inviteID string) (core.FamilyInvite, error) {
	inv, err := s.store.GetInvite(ctx, inviteID)
	if store.IsNotFound(err) {
		return core.FamilyInvite{}, core.ErrInviteNotFound
	}
	if err != nil {
		return core.FamilyInvite{}, fmt.Errorf("get invite: %w", err)
	}
	email := core.NormalizeEmail(p.Email)
	if inv.Status != core.InvitePending || inv.InviteeEmail == "" || inv.InviteeEmail != email {
		return core.FamilyInvite{}, core.ErrInviteNotFound
	}
	return inv, nil
}

func (s *FamilyService) AcceptInvite(ctx context.Context, p core.Principal, inviteID string) (core.Family, error) {
	if p.ID == "" {
		return core.Family{}, core.ErrNotAuthenticated
	}
	inv, err := s.pendingFor(ctx, p, inviteID)
	if err != nil {
		return core.Family{}, err
	}
	existing, err := s.familyOf(ctx, p.ID)
	if err != nil {
		return core.Family{}, err
	}
	if existing != nil {
		return core.Family{}, core.ErrAlreadyInFamily
	}

	f, err := s.redeem(ctx, p, inv, s.now().UTC(), core.ErrInviteNotFound)
	if err != nil {
		return core.Family{}, err
	}
	s.events.LogFamilyEvent(ctx, "Invite accepted", f.ID, p.ID, log.OpJoin)
	return f, nil
}

func (s *FamilyService) DeclineInvite(ctx context.Context, p core.Principal, inviteID string) error {
	if p.ID == "" {
		return core.ErrNotAuthenticated
	}
	if _, err := s.pendingFor(ctx, p, inviteID); err != nil {
		return err
	}
	err := s.store.DeclineInvite(ctx, inviteID)
	if errors.Is(err, store.ErrConflict) || store.IsNotFound(err) {
		return core.ErrInviteNotFound
	}
	if err != nil {
		return fmt.Errorf("decline invite: %w", err)
	}
	s.logger.InfoContext(ctx, "Invite declined", log.FieldInviteID, inviteID, log.FieldPrincipalID, p.ID)
	s.hub.Notify(ctx, store.CollInvites)
	return nil
}

func (s *FamilyService) RemoveMember(ctx context.Context, p core.Principal, memberID string) (core.Family, error) {
	f, err := s.ownedFamily(ctx, p)
	if err != nil {
		return core.Family{}, err
	}
	if !f.HasMember(memberID) {
		return core.Family{}, core.ErrMemberNotFound
	}
	f, err = s.store.RemoveMember(ctx, f.ID, memberID)
	if err != nil {
		return core.Family{}, fmt.Errorf("remove member: %w", err)
	}
	s.events.LogFamilyEvent(ctx, "Member removed", f.ID, p.ID, log.OpDelete)
	s.hub.Notify(ctx, store.CollFamilies)
	return f, nil
}

// LeaveFamily removes p from the family it belongs to. Owners must delete
// the family instead.
func (s *FamilyService) LeaveFamily(ctx context.Context, p core.Principal) error {
	f, err := s.familyOf(ctx, p.ID)
	if err != nil {
		return err
	}
	if f == nil {
		return core.ErrMemberNotFound
	}
	if f.IsOwner(p.ID) {
		return core.ErrOwnerCannotLeave
	}
	if _, err := s.store.RemoveMember(ctx, f.ID, p.ID); err != nil {
		return fmt.Errorf("leave family: %w", err)
	}
	s.events.LogFamilyEvent(ctx, "Member left", f.ID, p.ID, log.OpDelete)
	s.hub.Notify(ctx, store.CollFamilies)
	return nil
}

// DeleteFamily removes the family and every invite referencing it. Member
// transactions are untouched.
func (s *FamilyService) DeleteFamily(ctx context.Context, p core.Principal) error {
	f, err := s.ownedFamily(ctx, p)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFamily(ctx, f.ID); err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	s.events.LogFamilyEvent(ctx, "Family deleted", f.ID, p.ID, log.OpDelete)
	s.hub.Notify(ctx, store.CollFamilies, store.CollInvites)
	return nil
}

// WatchFamily delivers p's family (nil when none) now and after every
// membership change.
func (s *FamilyService) WatchFamily(ctx context.Context, p core.Principal, deliver func(*core.Family)) *live.Subscription {
	return live.Watch(ctx, s.hub, []string{store.CollFamilies},
		func(ctx context.Context) (*core.Family, error) { return s.familyOf(ctx, p.ID) },
		deliver)
}

// WatchInvites delivers p's pending addressed invites.
func (s *FamilyService) WatchInvites(ctx context.Context, p core.Principal, deliver func([]core.FamilyInvite)) *live.Subscription {
	return live.Watch(ctx, s.hub, []string{store.CollInvites, store.CollFamilies},
		func(ctx context.Context) ([]core.FamilyInvite, error) { return s.PendingInvites(ctx, p) },
		deliver)
}
