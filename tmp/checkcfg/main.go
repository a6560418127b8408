package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"kintsugi/internal/config"
	"kintsugi/internal/db"
	"kintsugi/internal/engine"
	"kintsugi/internal/migrate"
	"kintsugi/internal/server"
)

// Scratch end-to-end check: seed, claim, complete, print reputation.
func main() {
	workspace := "/tmp/kintsugi-check"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	e := engine.New(conn, config.Default())
	h, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: "test-secret", DevAuth: true}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	token := devToken(ts.URL, "tester")
	u, err := e.GetOrCreateUser(context.Background(), "tester", "Tester", "")
	if err != nil {
		panic(err)
	}
	if _, err := e.SeedAssignments(context.Background(), u.ID); err != nil {
		panic(err)
	}
	assignments, err := e.VisibleAssignments(context.Background(), u.ID)
	if err != nil {
		panic(err)
	}
	id := assignments[0].ID

	for _, op := range []string{"claim", "complete"} {
		req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/assignments/%s/%s", ts.URL, id, op), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			panic(err)
		}
		var resp any
		_ = json.NewDecoder(res.Body).Decode(&resp)
		res.Body.Close()
		fmt.Printf("%s status=%d resp=%v\n", op, res.StatusCode, resp)
	}
}

func devToken(baseURL, tokenIdentifier string) string {
	body, _ := json.Marshal(map[string]string{"token_identifier": tokenIdentifier, "name": "Tester"})
	res, err := http.Post(baseURL+"/v1/auth/dev/login", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		panic(err)
	}
	return out.Token
}
