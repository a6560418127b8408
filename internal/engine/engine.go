package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kintsugi/internal/config"
	"kintsugi/internal/domain"
	"kintsugi/internal/events"
	"kintsugi/internal/repo"
)

// Fallback tariff when the config carries no entry for an assignment type.
var defaultRewards = map[string]int{
	"physical": 150,
	"digital":  100,
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// --- users ---

// GetOrCreateUser resolves the user for an authenticated principal, creating
// the record on first access. Idempotent per token identifier.
func (e Engine) GetOrCreateUser(ctx context.Context, tokenIdentifier, name, email string) (domain.User, error) {
	if strings.TrimSpace(tokenIdentifier) == "" {
		return domain.User{}, errors.New("token identifier is required")
	}
	if u, err := e.Repo.GetUserByToken(ctx, tokenIdentifier); err == nil {
		return u, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	// Re-check inside the transaction; a concurrent request may have won.
	if u, err := e.Repo.GetUserByTokenTx(ctx, tx, tokenIdentifier); err == nil {
		return u, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if name == "" {
		name = "Anonymous"
	}
	u := domain.User{
		ID:              uuid.New().String(),
		Name:            name,
		Email:           email,
		TokenIdentifier: tokenIdentifier,
		Mode:            "public",
		Reputation:      0,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUserTx(ctx, tx, u); err != nil {
		// Deferred transactions don't serialize the read above, so a
		// concurrent first request can commit between it and this insert.
		// The unique token_identifier constraint then fails; the row the
		// winner created is the answer.
		tx.Rollback()
		if existing, lookupErr := e.Repo.GetUserByToken(ctx, tokenIdentifier); lookupErr == nil {
			return existing, nil
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.created", "user", u.ID, u.ID, events.EventPayload{"email": u.Email}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// ActivateWorkshop flips a user to private mode. Idempotent.
func (e Engine) ActivateWorkshop(ctx context.Context, userID string) (domain.User, error) {
	return e.setMode(ctx, userID, "private", "workshop.activated")
}

// DeactivateWorkshop returns a user to public mode. Idempotent.
func (e Engine) DeactivateWorkshop(ctx context.Context, userID string) (domain.User, error) {
	return e.setMode(ctx, userID, "public", "workshop.deactivated")
}

func (e Engine) setMode(ctx context.Context, userID, mode, evtType string) (domain.User, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Mode == mode {
		return u, nil
	}
	if err := e.Repo.SetUserModeTx(ctx, tx, u.ID, mode); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "user", u.ID, userID, nil); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	u.Mode = mode
	return u, nil
}

// --- assignments ---

// AssignmentCreateOptions are parameters for creating an assignment.
type AssignmentCreateOptions struct {
	ID                string
	Title             string
	Description       string
	Type              string
	Location          *domain.Location
	Steps             []string
	Requirements      []string
	EstimatedDuration string
	ActorID           string
}

func validAssignmentType(t string) bool {
	return t == "digital" || t == "physical"
}

func (e Engine) CreateAssignment(ctx context.Context, opts AssignmentCreateOptions) (domain.Assignment, error) {
	if opts.Title == "" {
		return domain.Assignment{}, errors.New("title is required")
	}
	if !validAssignmentType(opts.Type) {
		return domain.Assignment{}, fmt.Errorf("type must be digital or physical, got %q", opts.Type)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Assignment{
		ID:                id,
		Title:             opts.Title,
		Description:       opts.Description,
		Type:              opts.Type,
		Status:            "active",
		Location:          opts.Location,
		Steps:             opts.Steps,
		Requirements:      opts.Requirements,
		EstimatedDuration: opts.EstimatedDuration,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "assignment.created", "assignment", a.ID, opts.ActorID, events.EventPayload{"title": a.Title, "type": a.Type}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// ClaimAssignment takes exclusive responsibility for an active assignment.
// Re-claiming an assignment already held by the same user succeeds without
// touching claimed_at, so client retries never surface a conflict.
func (e Engine) ClaimAssignment(ctx context.Context, assignmentID, userID string) (domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if a.Status == "claimed" && a.ClaimedBy != nil && *a.ClaimedBy == userID {
		return a, nil
	}
	if a.ClaimedBy != nil && *a.ClaimedBy != userID && a.Status == "claimed" {
		return domain.Assignment{}, ErrAlreadyClaimed
	}
	if a.Status != "active" {
		return domain.Assignment{}, InvalidStateError{Op: "claim", Status: a.Status}
	}
	now := e.now().UTC().Format(time.RFC3339)
	a.Status = "claimed"
	a.ClaimedBy = &userID
	a.ClaimedAt = &now
	a.UpdatedAt = now
	if err := e.Repo.UpdateAssignmentTx(ctx, tx, a); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.claimed", "assignment", a.ID, userID, nil); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// UnclaimAssignment releases a claimed assignment back to the open pool.
func (e Engine) UnclaimAssignment(ctx context.Context, assignmentID, userID string) (domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if a.Status != "claimed" {
		return domain.Assignment{}, InvalidStateError{Op: "unclaim", Status: a.Status}
	}
	if a.ClaimedBy == nil || *a.ClaimedBy != userID {
		return domain.Assignment{}, ErrNotOwner
	}
	a.Status = "active"
	a.ClaimedBy = nil
	a.ClaimedAt = nil
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAssignmentTx(ctx, tx, a); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.unclaimed", "assignment", a.ID, userID, nil); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// CompleteAssignment finishes a claimed assignment and credits the claimant's
// reputation in the same transaction. Returns the amount granted.
func (e Engine) CompleteAssignment(ctx context.Context, assignmentID, userID string) (domain.Assignment, int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, 0, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return domain.Assignment{}, 0, err
	}
	if a.Status != "claimed" {
		return domain.Assignment{}, 0, InvalidStateError{Op: "complete", Status: a.Status}
	}
	if a.ClaimedBy == nil || *a.ClaimedBy != userID {
		return domain.Assignment{}, 0, ErrNotOwner
	}
	now := e.now().UTC().Format(time.RFC3339)
	a.Status = "completed"
	a.CompletedAt = &now
	a.UpdatedAt = now
	if err := e.Repo.UpdateAssignmentTx(ctx, tx, a); err != nil {
		return domain.Assignment{}, 0, err
	}
	reward := e.rewardFor(a.Type)
	if err := e.Repo.CreditReputationTx(ctx, tx, userID, reward); err != nil {
		return domain.Assignment{}, 0, fmt.Errorf("credit reputation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "assignment.completed", "assignment", a.ID, userID, events.EventPayload{"reputation_gain": reward}); err != nil {
		return domain.Assignment{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, 0, err
	}
	return a, reward, nil
}

func (e Engine) rewardFor(assignmentType string) int {
	if e.Config != nil {
		if amount, ok := e.Config.RewardFor(assignmentType); ok {
			return amount
		}
	}
	return defaultRewards[assignmentType]
}

// VisibleAssignments returns the open pool plus the caller's own history.
func (e Engine) VisibleAssignments(ctx context.Context, userID string) ([]domain.Assignment, error) {
	return e.Repo.ListAssignments(ctx, repo.AssignmentFilters{VisibleTo: userID})
}

// ClaimedAssignments returns assignments the caller currently holds.
func (e Engine) ClaimedAssignments(ctx context.Context, userID string) ([]domain.Assignment, error) {
	return e.Repo.ListAssignments(ctx, repo.AssignmentFilters{ClaimedBy: userID, Status: "claimed"})
}

// LocatedAssignments returns every assignment carrying coordinates, for the map view.
func (e Engine) LocatedAssignments(ctx context.Context) ([]domain.Assignment, error) {
	return e.Repo.ListAssignments(ctx, repo.AssignmentFilters{Located: true})
}

// --- todos ---

func (e Engine) CreateTodo(ctx context.Context, userID, body string) (domain.Todo, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Todo{}, errors.New("body is required")
	}
	t := domain.Todo{
		ID:        uuid.New().String(),
		UserID:    userID,
		Body:      body,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Todo{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTodoTx(ctx, tx, t); err != nil {
		return domain.Todo{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Todo{}, err
	}
	return t, nil
}

func (e Engine) ToggleTodo(ctx context.Context, todoID, userID string) (domain.Todo, error) {
	t, err := e.Repo.GetTodo(ctx, todoID)
	if err != nil {
		return domain.Todo{}, err
	}
	if t.UserID != userID {
		return domain.Todo{}, ErrNotOwner
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Todo{}, err
	}
	defer tx.Rollback()
	t.Completed = !t.Completed
	if err := e.Repo.SetTodoCompletedTx(ctx, tx, t.ID, t.Completed); err != nil {
		return domain.Todo{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Todo{}, err
	}
	return t, nil
}

func (e Engine) DeleteTodo(ctx context.Context, todoID, userID string) error {
	t, err := e.Repo.GetTodo(ctx, todoID)
	if err != nil {
		return err
	}
	if t.UserID != userID {
		return ErrNotOwner
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTodoTx(ctx, tx, t.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- journal ---

// JournalResult reports whether the entry tripped the workshop trigger.
type JournalResult struct {
	Entry     domain.JournalEntry
	Activated bool
}

// CreateJournalEntry records a journal entry. If the content contains the
// configured trigger phrase and the author is still in public mode, the
// workshop is activated in the same transaction.
func (e Engine) CreateJournalEntry(ctx context.Context, userID, content string) (JournalResult, error) {
	if strings.TrimSpace(content) == "" {
		return JournalResult{}, errors.New("content is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return JournalResult{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return JournalResult{}, err
	}
	entry := domain.JournalEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Content:   content,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertJournalEntryTx(ctx, tx, entry); err != nil {
		return JournalResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "journal.created", "journal_entry", entry.ID, userID, nil); err != nil {
		return JournalResult{}, err
	}
	activated := false
	if phrase := e.triggerPhrase(); phrase != "" && u.Mode == "public" && strings.Contains(content, phrase) {
		if err := e.Repo.SetUserModeTx(ctx, tx, u.ID, "private"); err != nil {
			return JournalResult{}, err
		}
		if err := e.Events.Append(ctx, tx, "workshop.activated", "user", u.ID, userID, events.EventPayload{"source": "journal"}); err != nil {
			return JournalResult{}, err
		}
		activated = true
	}
	if err := tx.Commit(); err != nil {
		return JournalResult{}, err
	}
	return JournalResult{Entry: entry, Activated: activated}, nil
}

func (e Engine) triggerPhrase() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Workshop.TriggerPhrase
}

func (e Engine) DeleteJournalEntry(ctx context.Context, entryID, userID string) error {
	entry, err := e.Repo.GetJournalEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.UserID != userID {
		return ErrNotOwner
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteJournalEntryTx(ctx, tx, entry.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- focus sessions ---

func (e Engine) RecordFocusSession(ctx context.Context, userID string, durationSeconds int) (domain.FocusSession, error) {
	if durationSeconds <= 0 {
		return domain.FocusSession{}, errors.New("duration must be positive")
	}
	s := domain.FocusSession{
		ID:              uuid.New().String(),
		UserID:          userID,
		DurationSeconds: durationSeconds,
		CompletedAt:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FocusSession{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFocusSessionTx(ctx, tx, s); err != nil {
		return domain.FocusSession{}, err
	}
	if err := e.Events.Append(ctx, tx, "focus.recorded", "focus_session", s.ID, userID, events.EventPayload{"duration_seconds": durationSeconds}); err != nil {
		return domain.FocusSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FocusSession{}, err
	}
	return s, nil
}

// --- messages ---

// SendMessage stores a channel message. Bodies arrive already encrypted by
// the sender; the server never sees plaintext.
func (e Engine) SendMessage(ctx context.Context, userID, channel, body string) (domain.Message, error) {
	if strings.TrimSpace(channel) == "" {
		return domain.Message{}, errors.New("channel is required")
	}
	if body == "" {
		return domain.Message{}, errors.New("body is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.Message{}, err
	}
	m := domain.Message{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		UserName:  u.Name,
		Channel:   channel,
		Body:      body,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMessageTx(ctx, tx, m); err != nil {
		return domain.Message{}, err
	}
	if err := e.Events.Append(ctx, tx, "message.sent", "message", m.ID, userID, events.EventPayload{"channel": channel}); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}
