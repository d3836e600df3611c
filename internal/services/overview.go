package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"moneymanager/internal/core"
)

// Overview is the signed-in principal's landing state.
type Overview struct {
	Principal      core.Principal      `json:"principal"`
	Family         *core.Family        `json:"family"`
	VisibleUserIDs []string            `json:"visibleUserIds"`
	PendingInvites []core.FamilyInvite `json:"pendingInvites"`
	Categories     []core.CatalogEntry `json:"categories"`
	Accounts       []core.CatalogEntry `json:"accounts"`
}

// LoadOverview fetches the family, invites and both catalog lists
// concurrently.
func LoadOverview(ctx context.Context, p core.Principal, families *FamilyService, catalog *CatalogService) (Overview, error) {
	if p.ID == "" {
		return Overview{}, core.ErrNotAuthenticated
	}
	out := Overview{Principal: p}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := families.familyOf(ctx, p.ID)
		if err != nil {
			return err
		}
		out.Family = f
		out.VisibleUserIDs = core.VisibilitySet(p, f)
		return nil
	})
	g.Go(func() error {
		invites, err := families.PendingInvites(ctx, p)
		out.PendingInvites = invites
		return err
	})
	g.Go(func() error {
		entries, err := catalog.ListMine(ctx, p, core.KindCategory)
		out.Categories = entries
		return err
	})
	g.Go(func() error {
		entries, err := catalog.ListMine(ctx, p, core.KindAccount)
		out.Accounts = entries
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}
