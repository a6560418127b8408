package repo

import (
	"context"
	"database/sql"

	"kintsugi/internal/domain"
)

func (r Repo) InsertTodoTx(ctx context.Context, tx *sql.Tx, t domain.Todo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO todos(id, user_id, body, completed, created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.UserID, t.Body, boolToInt(t.Completed), t.CreatedAt)
	return err
}

func (r Repo) GetTodo(ctx context.Context, id string) (domain.Todo, error) {
	var t domain.Todo
	var completed int
	err := r.DB.QueryRowContext(ctx, `SELECT id, user_id, body, completed, created_at FROM todos WHERE id=?`, id).
		Scan(&t.ID, &t.UserID, &t.Body, &completed, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Completed = completed != 0
	return t, nil
}

func (r Repo) ListTodos(ctx context.Context, userID string) ([]domain.Todo, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, user_id, body, completed, created_at FROM todos WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Todo
	for rows.Next() {
		var t domain.Todo
		var completed int
		if err := rows.Scan(&t.ID, &t.UserID, &t.Body, &completed, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Completed = completed != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SetTodoCompletedTx(ctx context.Context, tx *sql.Tx, id string, completed bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE todos SET completed=? WHERE id=?`, boolToInt(completed), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTodoTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
