package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"kintsugi/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

// --- users ---

const userColumns = `id, name, email, token_identifier, mode, reputation, created_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.TokenIdentifier, &u.Mode, &u.Reputation, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByToken(ctx context.Context, tokenIdentifier string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE token_identifier=?`, tokenIdentifier))
}

func (r Repo) GetUserByTokenTx(ctx context.Context, tx *sql.Tx, tokenIdentifier string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE token_identifier=?`, tokenIdentifier))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id, name, email, token_identifier, mode, reputation, created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.TokenIdentifier, u.Mode, u.Reputation, u.CreatedAt)
	return err
}

func (r Repo) SetUserModeTx(ctx context.Context, tx *sql.Tx, id, mode string) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET mode=? WHERE id=?`, mode, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreditReputationTx adds amount to the user's reputation counter.
func (r Repo) CreditReputationTx(ctx context.Context, tx *sql.Tx, id string, amount int) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET reputation = reputation + ? WHERE id=?`, amount, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.TokenIdentifier, &u.Mode, &u.Reputation, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- assignments ---

const assignmentColumns = `id, title, description, type, status, claimed_by, claimed_at, completed_at,
location_lat, location_lng, location_address, steps_json, requirements_json, estimated_duration, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (domain.Assignment, error) {
	var a domain.Assignment
	var claimedBy, claimedAt, completedAt, address, stepsJSON, reqJSON, duration sql.NullString
	var lat, lng sql.NullFloat64
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.Type, &a.Status, &claimedBy, &claimedAt, &completedAt,
		&lat, &lng, &address, &stepsJSON, &reqJSON, &duration, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if claimedBy.Valid {
		a.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		a.ClaimedAt = &claimedAt.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	if lat.Valid && lng.Valid {
		a.Location = &domain.Location{Lat: lat.Float64, Lng: lng.Float64}
		if address.Valid {
			a.Location.Address = address.String
		}
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		_ = json.Unmarshal([]byte(stepsJSON.String), &a.Steps)
	}
	if reqJSON.Valid && reqJSON.String != "" {
		_ = json.Unmarshal([]byte(reqJSON.String), &a.Requirements)
	}
	if duration.Valid {
		a.EstimatedDuration = duration.String
	}
	return a, nil
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	return scanAssignment(r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id))
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id))
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	stepsJSON, err := marshalSlice(a.Steps)
	if err != nil {
		return err
	}
	reqJSON, err := marshalSlice(a.Requirements)
	if err != nil {
		return err
	}
	var lat, lng, address any
	if a.Location != nil {
		lat = a.Location.Lat
		lng = a.Location.Lng
		address = nullable(a.Location.Address)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assignments(id, title, description, type, status, claimed_by, claimed_at, completed_at,
location_lat, location_lng, location_address, steps_json, requirements_json, estimated_duration, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.Description, a.Type, a.Status, nullablePtr(a.ClaimedBy), nullablePtr(a.ClaimedAt), nullablePtr(a.CompletedAt),
		lat, lng, address, stepsJSON, reqJSON, nullable(a.EstimatedDuration), a.CreatedAt, a.UpdatedAt)
	return err
}

// UpdateAssignmentTx writes the lifecycle fields back. Title, description and
// location never change after creation.
func (r Repo) UpdateAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status=?, claimed_by=?, claimed_at=?, completed_at=?, updated_at=? WHERE id=?`,
		a.Status, nullablePtr(a.ClaimedBy), nullablePtr(a.ClaimedAt), nullablePtr(a.CompletedAt), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignmentFilters narrows assignment listings.
type AssignmentFilters struct {
	Status    string
	ClaimedBy string
	VisibleTo string // status='active' plus rows claimed by this user
	Located   bool
}

func (r Repo) ListAssignments(ctx context.Context, f AssignmentFilters) ([]domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.ClaimedBy != "" {
		query += ` AND claimed_by=?`
		args = append(args, f.ClaimedBy)
	}
	if f.VisibleTo != "" {
		query += ` AND (status='active' OR claimed_by=?)`
		args = append(args, f.VisibleTo)
	}
	if f.Located {
		query += ` AND location_lat IS NOT NULL AND location_lng IS NOT NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountAssignments(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments`).Scan(&n)
	return n, err
}

func (r Repo) CountAssignmentsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM assignments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- helpers ---

func marshalSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
