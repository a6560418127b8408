package repo

import (
	"context"
	"database/sql"

	"kintsugi/internal/domain"
)

func (r Repo) InsertFocusSessionTx(ctx context.Context, tx *sql.Tx, s domain.FocusSession) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO focus_sessions(id, user_id, duration_seconds, completed_at) VALUES (?,?,?,?)`,
		s.ID, s.UserID, s.DurationSeconds, s.CompletedAt)
	return err
}

func (r Repo) ListFocusSessions(ctx context.Context, userID string) ([]domain.FocusSession, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, user_id, duration_seconds, completed_at FROM focus_sessions WHERE user_id=? ORDER BY completed_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FocusSession
	for rows.Next() {
		var s domain.FocusSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.DurationSeconds, &s.CompletedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// TotalFocusSeconds sums recorded session durations for a user.
func (r Repo) TotalFocusSeconds(ctx context.Context, userID string) (int, error) {
	var total sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT SUM(duration_seconds) FROM focus_sessions WHERE user_id=?`, userID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}
