package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"kintsugi/internal/config"
	"kintsugi/internal/db"
	"kintsugi/internal/engine"
	"kintsugi/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerAuth(t, AuthConfig{JWTSecret: testJWTSecret, DevAuth: true})
}

func newTestServerAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// authHeaders mints a dev token for the given identity via the API itself.
func authHeaders(t *testing.T, srv *testServer, tokenIdentifier, name string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"token_identifier": tokenIdentifier,
		"name":             name,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + login.Token}
}

func createAssignment(t *testing.T, srv *testServer, headers map[string]string, title, kind string) AssignmentResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments", map[string]any{
		"title": title,
		"type":  kind,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create assignment status %d: %s", res.StatusCode, string(data))
	}
	var a AssignmentResponse
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal assignment: %v", err)
	}
	return a
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %q: %v", string(data), err)
	}
	return envelope.Error.Code
}

func TestHealthOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedListsAreEmpty(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	headers := authHeaders(t, srv, "tok-alice", "Alice")
	createAssignment(t, srv, headers, "Visible to members", "digital")

	for _, path := range []string{"/v1/assignments", "/v1/assignments/claimed", "/v1/assignments/located", "/v1/todos", "/v1/journal"} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+path, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", path, res.StatusCode, string(data))
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			t.Fatalf("%s did not return an array: %s", path, string(data))
		}
		if len(items) != 0 {
			t.Fatalf("%s leaked %d items to an unauthenticated caller", path, len(items))
		}
	}
}

func TestUnauthenticatedMutationRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/todos", map[string]any{
		"body": "secret chores",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %s", code)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("code = %s", code)
	}
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv, cleanup := newTestServerAuth(t, AuthConfig{JWTSecret: testJWTSecret})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"token_identifier": "mallory",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with dev auth off, got %d: %s", res.StatusCode, string(data))
	}
}

func TestMeCreatesUserOnFirstContact(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	headers := authHeaders(t, srv, "tok-alice", "Alice")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.Name != "Alice" || me.Mode != "public" || me.Reputation != 0 {
		t.Fatalf("unexpected new user: %+v", me)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second me status %d", res.StatusCode)
	}
	var again UserResponse
	_ = json.Unmarshal(data, &again)
	if again.ID != me.ID {
		t.Fatalf("identity not stable across requests: %s vs %s", me.ID, again.ID)
	}
}

func TestClaimConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	bob := authHeaders(t, srv, "tok-bob", "Bob")
	a := createAssignment(t, srv, alice, "Contested", "physical")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/claim", nil, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first claim status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/claim", nil, alice)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "already_claimed" {
		t.Fatalf("code = %s", code)
	}
}

func TestCompleteReturnsReputationGain(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	a := createAssignment(t, srv, alice, "Payday", "physical")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/claim", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/complete", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var done CompletionResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatal(err)
	}
	if done.ReputationGain != 150 {
		t.Fatalf("reputation_gain = %d, want 150", done.ReputationGain)
	}
	if done.Assignment.Status != "completed" || done.Assignment.CompletedAt == nil {
		t.Fatalf("assignment not completed: %+v", done.Assignment)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d", res.StatusCode)
	}
	var me UserResponse
	_ = json.Unmarshal(data, &me)
	if me.Reputation != 150 {
		t.Fatalf("reputation = %d, want 150", me.Reputation)
	}
}

func TestCompleteByNonClaimantForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	bob := authHeaders(t, srv, "tok-bob", "Bob")
	a := createAssignment(t, srv, alice, "Guarded", "digital")

	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/claim", nil, alice); res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/complete", nil, bob)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_owner" {
		t.Fatalf("code = %s", code)
	}
}

func TestCompleteUnclaimedUnprocessable(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	a := createAssignment(t, srv, alice, "Still open", "digital")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/complete", nil, alice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_state" {
		t.Fatalf("code = %s", code)
	}
}

func TestMissingAssignmentNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/no-such-id/claim", nil, alice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code = %s", code)
	}
}

func TestClaimedViewScopedToCaller(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	bob := authHeaders(t, srv, "tok-bob", "Bob")
	mine := createAssignment(t, srv, alice, "Mine", "digital")
	theirs := createAssignment(t, srv, alice, "Theirs", "digital")

	if res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+mine.ID+"/claim", nil, alice); res.StatusCode != http.StatusOK {
		t.Fatalf("claim mine: %d", res.StatusCode)
	}
	if res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/"+theirs.ID+"/claim", nil, bob); res.StatusCode != http.StatusOK {
		t.Fatalf("claim theirs: %d", res.StatusCode)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/assignments/claimed", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claimed status %d: %s", res.StatusCode, string(data))
	}
	var items []AssignmentResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != mine.ID {
		t.Fatalf("claimed view wrong: %+v", items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/assignments", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", res.StatusCode)
	}
	items = nil
	_ = json.Unmarshal(data, &items)
	for _, item := range items {
		if item.ID == theirs.ID {
			t.Fatalf("another user's claimed assignment visible in pool")
		}
	}
}

func TestJournalTriggerOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/journal", map[string]any{
		"content": "today I wrote: I am Jack's complete lack of surprise",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("journal status %d: %s", res.StatusCode, string(data))
	}
	var created CreateJournalEntryResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}
	if !created.WorkshopActivated {
		t.Fatalf("trigger phrase did not activate workshop")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d", res.StatusCode)
	}
	var me UserResponse
	_ = json.Unmarshal(data, &me)
	if me.Mode != "private" {
		t.Fatalf("mode = %s, want private", me.Mode)
	}
}

func TestSeedAndLocatedView(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/assignments/seed", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seed status %d: %s", res.StatusCode, string(data))
	}
	var seeded SeedResponse
	_ = json.Unmarshal(data, &seeded)
	if seeded.Seeded == 0 {
		t.Fatalf("nothing seeded")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/assignments/located", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("located status %d: %s", res.StatusCode, string(data))
	}
	var located []AssignmentResponse
	if err := json.Unmarshal(data, &located); err != nil {
		t.Fatal(err)
	}
	if len(located) == 0 {
		t.Fatalf("no located assignments after seeding")
	}
	for _, a := range located {
		if a.Location == nil {
			t.Fatalf("located view returned assignment without location: %s", a.ID)
		}
	}
}

func TestChannelMessagesRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	alice := authHeaders(t, srv, "tok-alice", "Alice")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/channels/ops/messages", map[string]any{
		"body": "opaque ciphertext here",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("send status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/channels/ops/messages", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var msgs []MessageResponse
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "opaque ciphertext here" || msgs[0].UserName != "Alice" {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/channels", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("channels status %d", res.StatusCode)
	}
	var channels ChannelListResponse
	_ = json.Unmarshal(data, &channels)
	if len(channels.Channels) != 1 || channels.Channels[0] != "ops" {
		t.Fatalf("channels = %+v", channels.Channels)
	}
}
