package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

const inviteColumns = `id, family_id, family_name, inviter_id, inviter_name, inviter_email,
	invitee_email, invite_code, status, created_at, expires_at, accepted_by, accepted_at`

func (r *SQLiteRepository) CreateInvite(ctx context.Context, inv core.FamilyInvite) (core.FamilyInvite, error) {
	if inv.ID == "" {
		inv.ID = r.newID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO family_invites (`+inviteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.FamilyID, inv.FamilyName, inv.InviterID, inv.InviterName, inv.InviterEmail,
		inv.InviteeEmail, inv.InviteCode, string(inv.Status), formatTime(inv.CreatedAt),
		formatTime(inv.ExpiresAt), inv.AcceptedBy, formatTime(inv.AcceptedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.FamilyInvite{}, store.ErrNotFound
		}
		return core.FamilyInvite{}, fmt.Errorf("insert invite: %w", err)
	}
	return inv, nil
}

func (r *SQLiteRepository) GetInvite(ctx context.Context, id string) (core.FamilyInvite, error) {
	return scanInvite(r.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM family_invites WHERE id = ?`, id))
}

func (r *SQLiteRepository) PendingInviteByCode(ctx context.Context, code string) (core.FamilyInvite, error) {
	if code == "" {
		return core.FamilyInvite{}, store.ErrNotFound
	}
	return scanInvite(r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM family_invites
		 WHERE invite_code = ? AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`, code))
}

func (r *SQLiteRepository) PendingInvitesForEmail(ctx context.Context, email string) ([]core.FamilyInvite, error) {
	if email == "" {
		return []core.FamilyInvite{}, nil
	}
	return r.queryInvites(ctx,
		`SELECT `+inviteColumns+` FROM family_invites
		 WHERE invitee_email = ? AND status = 'pending' ORDER BY created_at DESC`, email)
}

func (r *SQLiteRepository) PendingInvitesByFamily(ctx context.Context, familyID string) ([]core.FamilyInvite, error) {
	return r.queryInvites(ctx,
		`SELECT `+inviteColumns+` FROM family_invites
		 WHERE family_id = ? AND status = 'pending' ORDER BY created_at DESC`, familyID)
}

func (r *SQLiteRepository) InvitesByFamily(ctx context.Context, familyID string) ([]core.FamilyInvite, error) {
	return r.queryInvites(ctx,
		`SELECT `+inviteColumns+` FROM family_invites WHERE family_id = ? ORDER BY created_at DESC`, familyID)
}

// RedeemInvite re-checks the invite and the redeemer's membership inside the
// same transaction that adds the member and closes the invite.
func (r *SQLiteRepository) RedeemInvite(ctx context.Context, inviteID string, member core.Member, at time.Time) (core.Family, error) {
	var familyID string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		inv, err := scanInvite(tx.QueryRowContext(ctx,
			`SELECT `+inviteColumns+` FROM family_invites WHERE id = ?`, inviteID))
		if err != nil {
			return err
		}
		if !inv.Redeemable(at) {
			return store.ErrConflict
		}
		familyID = inv.FamilyID

		if err := addMember(ctx, tx, inv.FamilyID, member); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE family_invites SET status = 'accepted', accepted_by = ?, accepted_at = ?
			 WHERE id = ? AND status = 'pending'`,
			member.ID, formatTime(at), inviteID)
		if err != nil {
			return fmt.Errorf("accept invite: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrConflict
		}
		return nil
	})
	if err != nil {
		return core.Family{}, err
	}
	return r.GetFamily(ctx, familyID)
}

func (r *SQLiteRepository) DeclineInvite(ctx context.Context, inviteID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE family_invites SET status = 'declined' WHERE id = ? AND status = 'pending'`, inviteID)
	if err != nil {
		return fmt.Errorf("decline invite: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetInvite(ctx, inviteID); err != nil {
		return err
	}
	return store.ErrConflict
}

func (r *SQLiteRepository) queryInvites(ctx context.Context, query string, args ...any) ([]core.FamilyInvite, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	defer rows.Close()

	out := []core.FamilyInvite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvite(row rowScanner) (core.FamilyInvite, error) {
	var (
		inv                          core.FamilyInvite
		status                       string
		created, expires, acceptedAt string
	)
	err := row.Scan(&inv.ID, &inv.FamilyID, &inv.FamilyName, &inv.InviterID, &inv.InviterName, &inv.InviterEmail,
		&inv.InviteeEmail, &inv.InviteCode, &status, &created, &expires, &inv.AcceptedBy, &acceptedAt)
	if err != nil {
		return core.FamilyInvite{}, notFound(err)
	}
	inv.Status = core.InviteStatus(status)
	if inv.CreatedAt, err = parseTime(created); err != nil {
		return core.FamilyInvite{}, err
	}
	if inv.ExpiresAt, err = parseTime(expires); err != nil {
		return core.FamilyInvite{}, err
	}
	if inv.AcceptedAt, err = parseTime(acceptedAt); err != nil {
		return core.FamilyInvite{}, err
	}
	return inv, nil
}
