package repo

import (
	"context"
	"database/sql"

	"kintsugi/internal/domain"
)

func (r Repo) InsertJournalEntryTx(ctx context.Context, tx *sql.Tx, e domain.JournalEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO journal_entries(id, user_id, content, created_at) VALUES (?,?,?,?)`,
		e.ID, e.UserID, e.Content, e.CreatedAt)
	return err
}

func (r Repo) GetJournalEntry(ctx context.Context, id string) (domain.JournalEntry, error) {
	var e domain.JournalEntry
	err := r.DB.QueryRowContext(ctx, `SELECT id, user_id, content, created_at FROM journal_entries WHERE id=?`, id).
		Scan(&e.ID, &e.UserID, &e.Content, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) ListJournalEntries(ctx context.Context, userID string) ([]domain.JournalEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, user_id, content, created_at FROM journal_entries WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) DeleteJournalEntryTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM journal_entries WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
