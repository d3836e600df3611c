package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

// Subscribers are folded into one column so a list is a single query.
const entrySelect = `SELECT e.id, e.kind, e.name, e.type, e.created_by, e.created_at,
	COALESCE((SELECT group_concat(s.user_id, char(31)) FROM
		(SELECT user_id FROM catalog_subscribers WHERE entry_id = e.id ORDER BY rowid) s), '')
	FROM catalog_entries e`

// nameKey is the case-insensitive part of the catalog identity.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// typeKey stores accounts with an empty type and categories with their
// effective type, so the unique index sees the logical key.
func typeKey(kind core.CatalogKind, typ core.TransactionType) string {
	if kind == core.KindCategory {
		return string(core.CategoryType(typ))
	}
	return ""
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, kind core.CatalogKind) ([]core.CatalogEntry, error) {
	return r.queryEntries(ctx, entrySelect+` WHERE e.kind = ? ORDER BY e.rowid`, string(kind))
}

func (r *SQLiteRepository) EntriesForUser(ctx context.Context, kind core.CatalogKind, userID string) ([]core.CatalogEntry, error) {
	return r.queryEntries(ctx, entrySelect+`
		WHERE e.kind = ? AND EXISTS (SELECT 1 FROM catalog_subscribers s WHERE s.entry_id = e.id AND s.user_id = ?)
		ORDER BY e.rowid`, string(kind), userID)
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, id string) (core.CatalogEntry, error) {
	return scanEntry(r.db.QueryRowContext(ctx, entrySelect+` WHERE e.id = ?`, id))
}

func (r *SQLiteRepository) FindEntry(ctx context.Context, kind core.CatalogKind, name string, typ core.TransactionType) (core.CatalogEntry, error) {
	return scanEntry(r.db.QueryRowContext(ctx,
		entrySelect+` WHERE e.kind = ? AND e.name_key = ? AND e.type = ?`,
		string(kind), nameKey(name), typeKey(kind, typ)))
}

// CreateEntry relies on the unique index: a concurrent insert of the same
// logical key affects no rows and is reported as ErrConflict.
func (r *SQLiteRepository) CreateEntry(ctx context.Context, e core.CatalogEntry) (core.CatalogEntry, error) {
	if e.ID == "" {
		e.ID = r.newID()
	}
	e.Name = strings.TrimSpace(e.Name)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_entries (id, kind, name, name_key, type, created_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (kind, name_key, type) DO NOTHING`,
			e.ID, string(e.Kind), e.Name, nameKey(e.Name), typeKey(e.Kind, e.Type), e.CreatedBy, formatTime(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert catalog entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrConflict
		}
		for _, userID := range e.UserIDs {
			if err := attachUser(ctx, tx, e.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.CatalogEntry{}, err
	}
	return r.GetEntry(ctx, e.ID)
}

func (r *SQLiteRepository) AttachUser(ctx context.Context, entryID, userID string) (core.CatalogEntry, error) {
	if err := attachUser(ctx, r.db, entryID, userID); err != nil {
		return core.CatalogEntry{}, err
	}
	return r.GetEntry(ctx, entryID)
}

func (r *SQLiteRepository) DetachUser(ctx context.Context, entryID, userID string) (core.CatalogEntry, error) {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM catalog_subscribers WHERE entry_id = ? AND user_id = ?`, entryID, userID); err != nil {
		return core.CatalogEntry{}, fmt.Errorf("detach user: %w", err)
	}
	return r.GetEntry(ctx, entryID)
}

func attachUser(ctx context.Context, q querier, entryID, userID string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO catalog_subscribers (entry_id, user_id) VALUES (?, ?)
		 ON CONFLICT (entry_id, user_id) DO NOTHING`, entryID, userID)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("attach user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]core.CatalogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	out := []core.CatalogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (core.CatalogEntry, error) {
	var (
		e                   core.CatalogEntry
		kind, typ           string
		created, subscribed string
	)
	if err := row.Scan(&e.ID, &kind, &e.Name, &typ, &e.CreatedBy, &created, &subscribed); err != nil {
		return core.CatalogEntry{}, notFound(err)
	}
	e.Kind = core.CatalogKind(kind)
	e.Type = core.TransactionType(typ)
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return core.CatalogEntry{}, err
	}
	e.UserIDs = []string{}
	if subscribed != "" {
		e.UserIDs = strings.Split(subscribed, "\x1f")
	}
	return e.Normalize(), nil
}
