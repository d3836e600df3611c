package storage

import (
	"context"
	"fmt"

	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

const transactionColumns = `id, type, amount, category, account, to_account, note, date,
	user_id, user_name, created_at, attachment_url, attachment_name, attachment_owner_id`

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == "" {
		t.ID = r.newID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Type), t.Amount.String(), t.Category, t.Account, t.ToAccount, t.Note, t.Date.String(),
		t.UserID, t.UserName, formatTime(t.CreatedAt), t.AttachmentURL, t.AttachmentName, t.AttachmentOwnerID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
}

// UpdateTransaction overwrites the editable fields. Owner and creation time
// are never rewritten.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET type = ?, amount = ?, category = ?, account = ?, to_account = ?, note = ?,
		 date = ?, attachment_url = ?, attachment_name = ?, attachment_owner_id = ?
		 WHERE id = ?`,
		string(t.Type), t.Amount.String(), t.Category, t.Account, t.ToAccount, t.Note, t.Date.String(),
		t.AttachmentURL, t.AttachmentName, t.AttachmentOwnerID, t.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Transaction{}, store.ErrNotFound
	}
	return r.GetTransaction(ctx, t.ID)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) TransactionsByOwners(ctx context.Context, ownerIDs []string) ([]core.Transaction, error) {
	if len(ownerIDs) == 0 {
		return []core.Transaction{}, nil
	}
	args := make([]any, len(ownerIDs))
	for i, id := range ownerIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id IN (`+placeholders(len(ownerIDs))+`)
		 ORDER BY date DESC, created_at DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// scanTransaction normalizes each row at the boundary: amounts and dates are
// parsed, and text fields trimmed.
func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t                      core.Transaction
		typ, amount, date, crt string
	)
	err := row.Scan(&t.ID, &typ, &amount, &t.Category, &t.Account, &t.ToAccount, &t.Note, &date,
		&t.UserID, &t.UserName, &crt, &t.AttachmentURL, &t.AttachmentName, &t.AttachmentOwnerID)
	if err != nil {
		return core.Transaction{}, notFound(err)
	}
	t.Type = core.TransactionType(typ)
	if t.Amount, err = core.ParseMoney(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	if t.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(crt); err != nil {
		return core.Transaction{}, err
	}
	return t.Normalize(), nil
}
