package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kintsugi/internal/config"
	"kintsugi/internal/db"
	"kintsugi/internal/domain"
	"kintsugi/internal/engine"
	"kintsugi/internal/migrate"
	"kintsugi/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) user(t *testing.T, token, name string) domain.User {
	t.Helper()
	u, err := env.Engine.GetOrCreateUser(env.Ctx, token, name, token+"@example.com")
	if err != nil {
		t.Fatalf("get or create user: %v", err)
	}
	return u
}

func (env testEnv) assignment(t *testing.T, title, kind string) domain.Assignment {
	t.Helper()
	a, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		Title:   title,
		Type:    kind,
		ActorID: "seed",
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return a
}

func checkClaimInvariant(t *testing.T, a domain.Assignment) {
	t.Helper()
	claimed := a.Status == "claimed" || a.Status == "completed"
	if claimed && a.ClaimedBy == nil {
		t.Fatalf("status %s without claimant", a.Status)
	}
	if !claimed && a.ClaimedBy != nil {
		t.Fatalf("status %s with claimant %s", a.Status, *a.ClaimedBy)
	}
}

func TestGetOrCreateUserIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := env.user(t, "token-1", "Tyler")
	second := env.user(t, "token-1", "Tyler")
	if first.ID != second.ID {
		t.Fatalf("expected same user, got %s and %s", first.ID, second.ID)
	}
	if first.Mode != "public" || first.Reputation != 0 {
		t.Fatalf("unexpected defaults: mode=%s reputation=%d", first.Mode, first.Reputation)
	}
}

func TestGetOrCreateUserConcurrentFirstContact(t *testing.T) {
	env := newTestEnv(t)

	resolve := func() (string, error) {
		// SQLite can report a transient busy error under write contention;
		// retry until the lookup reaches a terminal outcome.
		for {
			u, err := env.Engine.GetOrCreateUser(env.Ctx, "token-race", "Marla", "")
			if err != nil && (strings.Contains(err.Error(), "locked") || strings.Contains(err.Error(), "busy")) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return u.ID, err
		}
	}

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = resolve()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("first contact %d failed: %v", i, err)
		}
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected one user, got %s and %s", ids[0], ids[1])
	}
}

func TestClaimSetsClaimFields(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	a := env.assignment(t, "Recon", "physical")

	claimed, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != "claimed" {
		t.Fatalf("status = %s", claimed.Status)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != u.ID {
		t.Fatalf("claimant not recorded")
	}
	if claimed.ClaimedAt == nil || *claimed.ClaimedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("claimed_at = %v", claimed.ClaimedAt)
	}
	checkClaimInvariant(t, claimed)
}

func TestClaimByOtherUserConflicts(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "token-a", "Alice")
	bob := env.user(t, "token-b", "Bob")
	a := env.assignment(t, "Recon", "physical")

	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, bob.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, alice.ID)
	if !errors.Is(err, engine.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	// the losing claim must leave the record untouched
	got, err := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ClaimedBy == nil || *got.ClaimedBy != bob.ID {
		t.Fatalf("claimant changed after failed claim")
	}
}

func TestReclaimPreservesClaimedAt(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	a := env.assignment(t, "Recon", "physical")

	first, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	second, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if *second.ClaimedAt != *first.ClaimedAt {
		t.Fatalf("claimed_at changed on idempotent reclaim: %s -> %s", *first.ClaimedAt, *second.ClaimedAt)
	}
}

func TestClaimCompletedInvalidState(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	other := env.user(t, "token-2", "Marla")
	a := env.assignment(t, "Recon", "physical")

	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.CompleteAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	var ise engine.InvalidStateError
	_, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, other.ID)
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if ise.Status != "completed" {
		t.Fatalf("unexpected status in error: %s", ise.Status)
	}
}

func TestUnclaimReturnsToPool(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	a := env.assignment(t, "Recon", "physical")

	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	released, err := env.Engine.UnclaimAssignment(env.Ctx, a.ID, u.ID)
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if released.Status != "active" || released.ClaimedBy != nil || released.ClaimedAt != nil {
		t.Fatalf("unclaim did not reset claim fields: %+v", released)
	}
	checkClaimInvariant(t, released)
}

func TestUnclaimByNonClaimant(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	other := env.user(t, "token-2", "Marla")
	a := env.assignment(t, "Recon", "physical")

	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.UnclaimAssignment(env.Ctx, a.ID, other.ID)
	if !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestUnclaimCompletedFails(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	a := env.assignment(t, "Recon", "physical")

	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.CompleteAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	var ise engine.InvalidStateError
	_, err := env.Engine.UnclaimAssignment(env.Ctx, a.ID, u.ID)
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	got, _ := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	if got.Status != "completed" {
		t.Fatalf("status changed: %s", got.Status)
	}
}

func TestCompleteCreditsReputationByType(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")

	physical := env.assignment(t, "Recon", "physical")
	digital := env.assignment(t, "Audit", "digital")
	for _, a := range []domain.Assignment{physical, digital} {
		if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
			t.Fatal(err)
		}
	}

	done, reward, err := env.Engine.CompleteAssignment(env.Ctx, physical.ID, u.ID)
	if err != nil {
		t.Fatalf("complete physical: %v", err)
	}
	if reward != 150 {
		t.Fatalf("physical reward = %d, want 150", reward)
	}
	if done.CompletedAt == nil || done.Status != "completed" {
		t.Fatalf("completion fields not set: %+v", done)
	}
	checkClaimInvariant(t, done)

	_, reward, err = env.Engine.CompleteAssignment(env.Ctx, digital.ID, u.ID)
	if err != nil {
		t.Fatalf("complete digital: %v", err)
	}
	if reward != 100 {
		t.Fatalf("digital reward = %d, want 100", reward)
	}

	got, err := env.Engine.Repo.GetUser(env.Ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Reputation != 250 {
		t.Fatalf("reputation = %d, want 250", got.Reputation)
	}
}

func TestCompleteByNonClaimant(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	other := env.user(t, "token-2", "Marla")
	a := env.assignment(t, "Recon", "physical")

	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	_, _, err := env.Engine.CompleteAssignment(env.Ctx, a.ID, other.ID)
	if !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	got, _ := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	if got.Status != "claimed" || got.CompletedAt != nil {
		t.Fatalf("state changed after rejected complete: %+v", got)
	}
	mallory, _ := env.Engine.Repo.GetUser(env.Ctx, other.ID)
	if mallory.Reputation != 0 {
		t.Fatalf("reputation credited on rejected complete")
	}
}

func TestCompleteActiveInvalidState(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	a := env.assignment(t, "Recon", "physical")

	var ise engine.InvalidStateError
	_, _, err := env.Engine.CompleteAssignment(env.Ctx, a.ID, u.ID)
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestCompleteRewardFromConfigTariff(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Rewards = map[string]int{"physical": 500, "digital": 5}
	u := env.user(t, "token-1", "Tyler")
	a := env.assignment(t, "Recon", "physical")
	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	_, reward, err := env.Engine.CompleteAssignment(env.Ctx, a.ID, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reward != 500 {
		t.Fatalf("reward = %d, want configured 500", reward)
	}
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "token-a", "Alice")
	bob := env.user(t, "token-b", "Bob")
	a := env.assignment(t, "Recon", "physical")

	claim := func(userID string) error {
		// SQLite can report a transient busy error under write contention;
		// retry until the claim reaches a terminal outcome.
		for {
			_, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, userID)
			if err != nil && (strings.Contains(err.Error(), "locked") || strings.Contains(err.Error(), "busy")) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{alice.ID, bob.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = claim(id)
		}(i, id)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, engine.ErrAlreadyClaimed) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
}

func TestVisibleAssignmentsScope(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "token-a", "Alice")
	bob := env.user(t, "token-b", "Bob")

	open := env.assignment(t, "Open pool", "digital")
	mine := env.assignment(t, "Mine", "digital")
	theirs := env.assignment(t, "Theirs", "digital")

	if _, err := env.Engine.ClaimAssignment(env.Ctx, mine.ID, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimAssignment(env.Ctx, theirs.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.CompleteAssignment(env.Ctx, mine.ID, alice.ID); err != nil {
		t.Fatal(err)
	}

	visible, err := env.Engine.VisibleAssignments(env.Ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, a := range visible {
		ids[a.ID] = true
	}
	if !ids[open.ID] {
		t.Fatalf("open assignment not visible")
	}
	if !ids[mine.ID] {
		t.Fatalf("own completed assignment not visible")
	}
	if ids[theirs.ID] {
		t.Fatalf("another user's claimed assignment leaked into view")
	}

	claimed, err := env.Engine.ClaimedAssignments(env.Ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("completed assignment still listed as claimed")
	}
}

func TestLocatedAssignments(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		Title:    "Drop",
		Type:     "physical",
		Location: &domain.Location{Lat: 28.61, Lng: 77.22, Address: "India Gate"},
		ActorID:  "seed",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.assignment(t, "Remote", "digital")

	located, err := env.Engine.LocatedAssignments(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(located) != 1 {
		t.Fatalf("expected 1 located assignment, got %d", len(located))
	}
	if located[0].Location == nil || located[0].Location.Address != "India Gate" {
		t.Fatalf("location not round-tripped: %+v", located[0].Location)
	}
}

func TestJournalTriggerActivatesWorkshop(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")

	res, err := env.Engine.CreateJournalEntry(env.Ctx, u.ID, "quiet day, nothing to report")
	if err != nil {
		t.Fatal(err)
	}
	if res.Activated {
		t.Fatalf("plain entry should not activate the workshop")
	}

	res, err = env.Engine.CreateJournalEntry(env.Ctx, u.ID, "and then I thought: I am Jack's complete lack of surprise")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Activated {
		t.Fatalf("trigger phrase did not activate the workshop")
	}
	got, _ := env.Engine.Repo.GetUser(env.Ctx, u.ID)
	if got.Mode != "private" {
		t.Fatalf("mode = %s, want private", got.Mode)
	}

	// repeating the phrase after activation is a no-op
	res, err = env.Engine.CreateJournalEntry(env.Ctx, u.ID, "I am Jack's complete lack of surprise")
	if err != nil {
		t.Fatal(err)
	}
	if res.Activated {
		t.Fatalf("already-private user reported as newly activated")
	}
}

func TestWorkshopModeTransitions(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")

	activated, err := env.Engine.ActivateWorkshop(env.Ctx, u.ID)
	if err != nil || activated.Mode != "private" {
		t.Fatalf("activate: %v mode=%s", err, activated.Mode)
	}
	again, err := env.Engine.ActivateWorkshop(env.Ctx, u.ID)
	if err != nil || again.Mode != "private" {
		t.Fatalf("re-activate: %v", err)
	}
	back, err := env.Engine.DeactivateWorkshop(env.Ctx, u.ID)
	if err != nil || back.Mode != "public" {
		t.Fatalf("deactivate: %v mode=%s", err, back.Mode)
	}
}

func TestSeedAssignmentsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.SeedAssignments(env.Ctx, "seed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 11 {
		t.Fatalf("seeded %d, want 11", n)
	}
	n, err = env.Engine.SeedAssignments(env.Ctx, "seed")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second seed inserted %d rows", n)
	}
	all, err := env.Engine.Repo.ListAssignments(env.Ctx, repo.AssignmentFilters{})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range all {
		if a.Status != "active" || a.ClaimedBy != nil {
			t.Fatalf("seeded assignment not pristine: %+v", a)
		}
	}
}

func TestTodoOwnership(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	other := env.user(t, "token-2", "Marla")

	todo, err := env.Engine.CreateTodo(env.Ctx, u.ID, "water the plants")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ToggleTodo(env.Ctx, todo.ID, other.ID); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	toggled, err := env.Engine.ToggleTodo(env.Ctx, todo.ID, u.ID)
	if err != nil || !toggled.Completed {
		t.Fatalf("toggle: %v completed=%v", err, toggled.Completed)
	}
	if err := env.Engine.DeleteTodo(env.Ctx, todo.ID, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetTodo(env.Ctx, todo.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("todo still present after delete")
	}
}

func TestChannelMessagesChronological(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")

	times := []time.Time{
		time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	for i, ts := range times {
		env.Engine.Now = func() time.Time { return ts }
		if _, err := env.Engine.SendMessage(env.Ctx, u.ID, "alpha", "msg"+string(rune('0'+i))); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := env.Engine.Repo.ListChannelMessages(env.Ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "msg0" || msgs[2].Body != "msg2" {
		t.Fatalf("messages out of order: %s .. %s", msgs[0].Body, msgs[2].Body)
	}
	if msgs[0].UserName != "Tyler" {
		t.Fatalf("sender name not joined: %q", msgs[0].UserName)
	}
}

func TestFocusSessionTotals(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	for _, d := range []int{1500, 300} {
		if _, err := env.Engine.RecordFocusSession(env.Ctx, u.ID, d); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.RecordFocusSession(env.Ctx, u.ID, 0); err == nil {
		t.Fatalf("zero duration accepted")
	}
	total, err := env.Engine.Repo.TotalFocusSeconds(env.Ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1800 {
		t.Fatalf("total = %d, want 1800", total)
	}
}

func TestEventsAppendedOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "token-1", "Tyler")
	a := env.assignment(t, "Recon", "physical")
	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UnclaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.CompleteAssignment(env.Ctx, a.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.ListEvents(env.Ctx, repo.EventFilters{EntityKind: "assignment", EntityID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]int{}
	for _, evt := range evts {
		types[evt.Type]++
	}
	if types["assignment.claimed"] != 2 || types["assignment.unclaimed"] != 1 || types["assignment.completed"] != 1 {
		t.Fatalf("unexpected event mix: %v", types)
	}
}
