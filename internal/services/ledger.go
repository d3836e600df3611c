package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"moneymanager/internal/attachments"
	"moneymanager/internal/core"
	"moneymanager/internal/identity"
	"moneymanager/internal/live"
	"moneymanager/internal/log"
	"moneymanager/internal/store"
)

// Ledger writes transactions and serves them to everyone in the owner's
// visibility set. Attachment links are only shown to whoever uploaded them.
type Ledger struct {
	store    store.TransactionStore
	families *FamilyService
	blobs    attachments.Store
	hub      *live.Hub
	logger   *log.Logger
	events   *log.StructuredLogger
	now      func() time.Time
}

func NewLedger(st store.TransactionStore, families *FamilyService, blobs attachments.Store, hub *live.Hub, logger *log.Logger) *Ledger {
	logger = logger.WithComponent(log.ComponentLedger)
	return &Ledger{
		store:    st,
		families: families,
		blobs:    blobs,
		hub:      hub,
		logger:   logger,
		events:   log.NewStructuredLogger(logger),
		now:      time.Now,
	}
}

// Add validates and stores a new transaction owned by p. When a file is
// given it is uploaded first; an upload failure is logged and the
// transaction is saved without the attachment.
func (l *Ledger) Add(ctx context.Context, p core.Principal, data core.Transaction, file *attachments.File) (core.Transaction, error) {
	if p.ID == "" {
		return core.Transaction{}, core.ErrNotAuthenticated
	}

	t := data.Normalize()
	t.ID = ""
	t.UserID = p.ID
	t.UserName = p.Name()
	t.CreatedAt = l.now().UTC()
	t.AttachmentURL, t.AttachmentName, t.AttachmentOwnerID = "", "", ""
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if file != nil {
		t = l.attach(ctx, p, t, *file)
	}

	created, err := l.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	l.events.LogTransactionCreated(ctx, created.ID, p.ID, string(created.Type), created.Amount.String(), created.AttachmentURL != "")
	l.hub.Notify(ctx, store.CollTransactions)
	return created, nil
}

// Update merges patch into the transaction. Only the owner may edit; owner
// and creation time never change. A new file replaces the attachment.
func (l *Ledger) Update(ctx context.Context, p core.Principal, id string, patch core.TransactionPatch, file *attachments.File) (core.Transaction, error) {
	if p.ID == "" {
		return core.Transaction{}, core.ErrNotAuthenticated
	}
	current, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if current.UserID != p.ID {
		return core.Transaction{}, core.ErrNotOwner
	}

	t := patch.Apply(current).Normalize()
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if file != nil {
		t = l.attach(ctx, p, t, *file)
	}

	updated, err := l.store.UpdateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	l.logger.InfoContext(ctx, "Transaction updated",
		log.FieldTransactionID, id,
		log.FieldPrincipalID, p.ID,
		"attachment_replaced", file != nil && updated.AttachmentURL != current.AttachmentURL)
	l.hub.Notify(ctx, store.CollTransactions)
	return updated, nil
}

// Delete removes a transaction. Anyone who can see it may delete it; to
// everyone else it does not exist.
func (l *Ledger) Delete(ctx context.Context, p core.Principal, id string) error {
	if p.ID == "" {
		return core.ErrNotAuthenticated
	}
	t, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	owners, err := l.families.visibilitySet(ctx, p)
	if err != nil {
		return err
	}
	if !slices.Contains(owners, t.UserID) {
		return store.ErrNotFound
	}
	if err := l.store.DeleteTransaction(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return err
		}
		return fmt.Errorf("delete transaction: %w", err)
	}
	l.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldTransactionID, id,
		log.FieldPrincipalID, p.ID)
	l.hub.Notify(ctx, store.CollTransactions)
	return nil
}

// attach uploads f with the caller's delegated token. Failure leaves t
// without an attachment.
func (l *Ledger) attach(ctx context.Context, p core.Principal, t core.Transaction, f attachments.File) core.Transaction {
	if l.blobs == nil {
		l.logger.WarnContext(ctx, "Attachment dropped, no blob store configured", log.FieldPrincipalID, p.ID)
		return t
	}
	ref, err := l.blobs.Upload(ctx, identity.DelegatedToken(ctx), f)
	if err != nil {
		if !errors.Is(err, core.ErrUploadFailed) {
			err = fmt.Errorf("%w: %v", core.ErrUploadFailed, err)
		}
		l.logger.WarnContext(ctx, "Attachment upload failed, saving transaction without it",
			log.FieldPrincipalID, p.ID,
			log.FieldOperation, log.OpUpload,
			log.FieldError, err)
		return t
	}
	t.AttachmentURL = ref.URL()
	t.AttachmentName = ref.Name
	t.AttachmentOwnerID = p.ID
	return t
}

// snapshot loads every transaction visible to p, newest first.
func (l *Ledger) snapshot(ctx context.Context, p core.Principal) ([]core.Transaction, error) {
	owners, err := l.families.visibilitySet(ctx, p)
	if err != nil {
		return nil, err
	}
	txs, err := l.store.TransactionsByOwners(ctx, owners)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// List returns p's view of the visible transactions.
func (l *Ledger) List(ctx context.Context, p core.Principal) ([]core.TransactionView, error) {
	if p.ID == "" {
		return nil, core.ErrNotAuthenticated
	}
	txs, err := l.snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	return core.ViewsFor(p.ID, txs), nil
}

// Subscribe delivers p's view now and whenever a transaction or the family
// (and so the visibility set) changes.
func (l *Ledger) Subscribe(ctx context.Context, p core.Principal, deliver func([]core.TransactionView)) *live.Subscription {
	return live.Watch(ctx, l.hub, []string{store.CollTransactions, store.CollFamilies},
		func(ctx context.Context) ([]core.TransactionView, error) {
			txs, err := l.snapshot(ctx, p)
			if err != nil {
				return nil, err
			}
			return core.ViewsFor(p.ID, txs), nil
		},
		deliver)
}

// Stats is the aggregate the statistics page renders. Summary covers every
// type in the period; Categories and Days cover Type only.
type Stats struct {
	Period     core.PeriodKind       `json:"period"`
	Type       core.TransactionType  `json:"type"`
	Start      *core.Date            `json:"start,omitempty"`
	End        *core.Date            `json:"end,omitempty"`
	Summary    core.Summary          `json:"summary"`
	Categories []core.CategoryAmount `json:"categories"`
	Days       []core.DateGroup      `json:"days"`
}

// Stats aggregates p's visible transactions over period. The breakdown is
// restricted to typ, expenses when typ is empty. Grouped days carry p's
// redacted view.
func (l *Ledger) Stats(ctx context.Context, p core.Principal, period core.Period, typ core.TransactionType) (Stats, error) {
	if p.ID == "" {
		return Stats{}, core.ErrNotAuthenticated
	}
	txs, err := l.snapshot(ctx, p)
	if err != nil {
		return Stats{}, err
	}
	if typ == "" {
		typ = core.Expense
	}
	now := l.now()
	txs = core.FilterByPeriod(txs, period, now)
	breakdown := core.FilterByType(txs, typ)

	out := Stats{
		Period:     period.Kind,
		Type:       typ,
		Summary:    core.Summarize(txs),
		Categories: core.CategoryTotals(breakdown),
		Days:       core.GroupByDate(core.ViewsFor(p.ID, breakdown)),
	}
	if start, end, ok := period.Bounds(now); ok {
		out.Start, out.End = &start, &end
	}
	return out, nil
}
