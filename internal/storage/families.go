package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

const familyColumns = `id, name, owner_id, owner_email, owner_name, created_at`

func (r *SQLiteRepository) CreateFamily(ctx context.Context, f core.Family) (core.Family, error) {
	if f.ID == "" {
		f.ID = r.newID()
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if busy, err := principalHasFamily(ctx, tx, f.OwnerID); err != nil {
			return err
		} else if busy {
			return store.ErrConflict
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO families (`+familyColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, f.Name, f.OwnerID, f.OwnerEmail, f.OwnerName, formatTime(f.CreatedAt))
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert family: %w", err)
		}
		for _, m := range f.Members {
			if err := insertMember(ctx, tx, f.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.Family{}, err
	}
	return r.GetFamily(ctx, f.ID)
}

func (r *SQLiteRepository) GetFamily(ctx context.Context, id string) (core.Family, error) {
	return loadFamily(ctx, r.db, `SELECT `+familyColumns+` FROM families WHERE id = ?`, id)
}

func (r *SQLiteRepository) FamilyByOwner(ctx context.Context, ownerID string) (core.Family, error) {
	return loadFamily(ctx, r.db, `SELECT `+familyColumns+` FROM families WHERE owner_id = ?`, ownerID)
}

func (r *SQLiteRepository) FamilyByMember(ctx context.Context, memberID string) (core.Family, error) {
	return loadFamily(ctx, r.db,
		`SELECT `+familyColumns+` FROM families
		 WHERE id = (SELECT family_id FROM family_members WHERE member_id = ?)`, memberID)
}

func (r *SQLiteRepository) RemoveMember(ctx context.Context, familyID, memberID string) (core.Family, error) {
	if _, err := r.GetFamily(ctx, familyID); err != nil {
		return core.Family{}, err
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM family_members WHERE family_id = ? AND member_id = ?`, familyID, memberID); err != nil {
		return core.Family{}, fmt.Errorf("remove member: %w", err)
	}
	return r.GetFamily(ctx, familyID)
}

func (r *SQLiteRepository) DeleteFamily(ctx context.Context, familyID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM family_invites WHERE family_id = ?`, familyID); err != nil {
			return fmt.Errorf("delete invites: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM family_members WHERE family_id = ?`, familyID); err != nil {
			return fmt.Errorf("delete members: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM families WHERE id = ?`, familyID)
		if err != nil {
			return fmt.Errorf("delete family: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// addMember inserts m into familyID unless it is already there. Membership
// anywhere else is a conflict.
func addMember(ctx context.Context, q querier, familyID string, m core.Member) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM families WHERE id = ?`, familyID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check family: %w", err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}

	var current string
	err = q.QueryRowContext(ctx, `SELECT family_id FROM family_members WHERE member_id = ?`, m.ID).Scan(&current)
	switch {
	case err == nil && current == familyID:
		return nil
	case err == nil:
		return store.ErrConflict
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check membership: %w", err)
	}

	var owns int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM families WHERE owner_id = ?`, m.ID).Scan(&owns); err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	if owns > 0 {
		return store.ErrConflict
	}
	return insertMember(ctx, q, familyID, m)
}

func insertMember(ctx context.Context, q querier, familyID string, m core.Member) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO family_members (family_id, member_id, email, name, photo_url, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		familyID, m.ID, m.Email, m.Name, m.PhotoURL, formatTime(m.JoinedAt))
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// principalHasFamily reports whether id owns or belongs to any family.
func principalHasFamily(ctx context.Context, q querier, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM families WHERE owner_id = ?) +
		        (SELECT COUNT(*) FROM family_members WHERE member_id = ?)`, id, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check family membership: %w", err)
	}
	return n > 0, nil
}

func loadFamily(ctx context.Context, q querier, query string, args ...any) (core.Family, error) {
	var (
		f       core.Family
		created string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(&f.ID, &f.Name, &f.OwnerID, &f.OwnerEmail, &f.OwnerName, &created)
	if err != nil {
		return core.Family{}, notFound(err)
	}
	if f.CreatedAt, err = parseTime(created); err != nil {
		return core.Family{}, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT member_id, email, name, photo_url, joined_at FROM family_members
		 WHERE family_id = ? ORDER BY rowid`, f.ID)
	if err != nil {
		return core.Family{}, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	f.MemberIDs = []string{}
	f.Members = []core.Member{}
	for rows.Next() {
		var (
			m      core.Member
			joined string
		)
		if err := rows.Scan(&m.ID, &m.Email, &m.Name, &m.PhotoURL, &joined); err != nil {
			return core.Family{}, fmt.Errorf("scan member: %w", err)
		}
		if m.JoinedAt, err = parseTime(joined); err != nil {
			return core.Family{}, err
		}
		f.MemberIDs = append(f.MemberIDs, m.ID)
		f.Members = append(f.Members, m)
	}
	return f, rows.Err()
}
