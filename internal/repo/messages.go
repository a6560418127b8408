package repo

import (
	"context"
	"database/sql"

	"kintsugi/internal/domain"
)

const channelHistoryLimit = 100

func (r Repo) InsertMessageTx(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(id, user_id, channel, body, created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.UserID, m.Channel, m.Body, m.CreatedAt)
	return err
}

// ListChannelMessages returns the most recent messages for a channel in
// chronological order, sender name joined in.
func (r Repo) ListChannelMessages(ctx context.Context, channel string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.id, m.user_id, u.name, m.channel, m.body, m.created_at
FROM messages m JOIN users u ON u.id = m.user_id
WHERE m.channel=? ORDER BY m.created_at DESC, m.id DESC LIMIT ?`, channel, channelHistoryLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.UserName, &m.Channel, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// query is newest-first for the LIMIT; callers want oldest-first
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r Repo) ListUserMessages(ctx context.Context, userID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, user_id, channel, body, created_at FROM messages WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Channel, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListChannels returns the distinct channels a user has posted to.
func (r Repo) ListChannels(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT DISTINCT channel FROM messages`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY channel ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		res = append(res, ch)
	}
	return res, rows.Err()
}
