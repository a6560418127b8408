package kintsugisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Kintsugi HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Mode       string `json:"mode"`
	Reputation int    `json:"reputation"`
	CreatedAt  string `json:"created_at"`
}

// Location is an assignment's coordinates.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Assignment represents the API assignment model.
type Assignment struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	Location          *Location `json:"location,omitempty"`
	Steps             []string  `json:"steps"`
	Requirements      []string  `json:"requirements"`
	EstimatedDuration string    `json:"estimated_duration,omitempty"`
	ClaimedBy         *string   `json:"claimed_by,omitempty"`
	ClaimedAt         *string   `json:"claimed_at,omitempty"`
	CompletedAt       *string   `json:"completed_at,omitempty"`
	CreatedAt         string    `json:"created_at"`
	UpdatedAt         string    `json:"updated_at"`
}

// Completion pairs a completed assignment with the reputation it paid.
type Completion struct {
	Assignment     Assignment `json:"assignment"`
	ReputationGain int        `json:"reputation_gain"`
}

// Message represents a channel message. Bodies are ciphertext; callers
// encrypt before sending and decrypt after fetching.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Channel   string `json:"channel"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Me returns (and on first contact creates) the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

// Assignments returns open assignments plus the caller's own history.
func (c *Client) Assignments(ctx context.Context) ([]Assignment, error) {
	var resp []Assignment
	err := c.do(ctx, http.MethodGet, "v1/assignments", nil, &resp)
	return resp, err
}

// ClaimedAssignments returns assignments the caller currently holds.
func (c *Client) ClaimedAssignments(ctx context.Context) ([]Assignment, error) {
	var resp []Assignment
	err := c.do(ctx, http.MethodGet, "v1/assignments/claimed", nil, &resp)
	return resp, err
}

// LocatedAssignments returns assignments with coordinates, for map display.
func (c *Client) LocatedAssignments(ctx context.Context) ([]Assignment, error) {
	var resp []Assignment
	err := c.do(ctx, http.MethodGet, "v1/assignments/located", nil, &resp)
	return resp, err
}

// Claim takes exclusive responsibility for an assignment.
func (c *Client) Claim(ctx context.Context, assignmentID string) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v1/assignments/%s/claim", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Unclaim releases a claimed assignment back to the pool.
func (c *Client) Unclaim(ctx context.Context, assignmentID string) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v1/assignments/%s/unclaim", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Complete finishes a claimed assignment and reports the reputation gain.
func (c *Client) Complete(ctx context.Context, assignmentID string) (Completion, error) {
	var resp Completion
	endpoint := fmt.Sprintf("v1/assignments/%s/complete", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SendMessage posts an already-encrypted body to a channel.
func (c *Client) SendMessage(ctx context.Context, channel, body string) (Message, error) {
	var resp Message
	endpoint := fmt.Sprintf("v1/channels/%s/messages", url.PathEscape(channel))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &resp)
	return resp, err
}

// ChannelMessages returns a channel's history, oldest first.
func (c *Client) ChannelMessages(ctx context.Context, channel string) ([]Message, error) {
	var resp []Message
	endpoint := fmt.Sprintf("v1/channels/%s/messages", url.PathEscape(channel))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
