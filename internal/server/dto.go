package server

import (
	"encoding/json"

	"kintsugi/internal/domain"
	"kintsugi/internal/engine"
)

// Request payloads

type LocationPayload struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type CreateAssignmentRequest struct {
	ID                *string          `json:"id,omitempty"`
	Title             string           `json:"title"`
	Description       *string          `json:"description,omitempty"`
	Type              string           `json:"type" enum:"digital,physical"`
	Location          *LocationPayload `json:"location,omitempty"`
	Steps             []string         `json:"steps,omitempty"`
	Requirements      []string         `json:"requirements,omitempty"`
	EstimatedDuration *string          `json:"estimated_duration,omitempty"`
}

type CreateTodoRequest struct {
	Body string `json:"body"`
}

type CreateJournalEntryRequest struct {
	Content string `json:"content"`
}

type RecordFocusSessionRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

type SendMessageRequest struct {
	Body string `json:"body"`
}

type DevLoginRequest struct {
	TokenIdentifier string `json:"token_identifier"`
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Mode       string `json:"mode" enum:"public,private"`
	Reputation int    `json:"reputation"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type AssignmentResponse struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Description       string           `json:"description,omitempty"`
	Type              string           `json:"type" enum:"digital,physical"`
	Status            string           `json:"status" enum:"active,claimed,completed"`
	ClaimedBy         *string          `json:"claimed_by,omitempty"`
	ClaimedAt         *string          `json:"claimed_at,omitempty" format:"date-time"`
	CompletedAt       *string          `json:"completed_at,omitempty" format:"date-time"`
	Location          *LocationPayload `json:"location,omitempty"`
	Steps             []string         `json:"steps,omitempty"`
	Requirements      []string         `json:"requirements,omitempty"`
	EstimatedDuration string           `json:"estimated_duration,omitempty"`
	CreatedAt         string           `json:"created_at" format:"date-time"`
	UpdatedAt         string           `json:"updated_at" format:"date-time"`
}

type CompletionResponse struct {
	Assignment     AssignmentResponse `json:"assignment"`
	ReputationGain int                `json:"reputation_gain"`
}

type SeedResponse struct {
	Seeded int `json:"seeded"`
}

type TodoResponse struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type JournalEntryResponse struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreateJournalEntryResponse struct {
	Entry             JournalEntryResponse `json:"entry"`
	WorkshopActivated bool                 `json:"workshop_activated"`
}

type FocusSessionResponse struct {
	ID              string `json:"id"`
	DurationSeconds int    `json:"duration_seconds"`
	CompletedAt     string `json:"completed_at" format:"date-time"`
}

type FocusSummaryResponse struct {
	Sessions     []FocusSessionResponse `json:"sessions"`
	TotalSeconds int                    `json:"total_seconds"`
}

type MessageResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Channel   string `json:"channel"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ChannelListResponse struct {
	Channels []string `json:"channels"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Mode:       u.Mode,
		Reputation: u.Reputation,
		CreatedAt:  u.CreatedAt,
	}
}

func locationPayload(l *domain.Location) *LocationPayload {
	if l == nil {
		return nil
	}
	return &LocationPayload{Lat: l.Lat, Lng: l.Lng, Address: l.Address}
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:                a.ID,
		Title:             a.Title,
		Description:       a.Description,
		Type:              a.Type,
		Status:            a.Status,
		ClaimedBy:         a.ClaimedBy,
		ClaimedAt:         a.ClaimedAt,
		CompletedAt:       a.CompletedAt,
		Location:          locationPayload(a.Location),
		Steps:             a.Steps,
		Requirements:      a.Requirements,
		EstimatedDuration: a.EstimatedDuration,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func mapAssignments(items []domain.Assignment) []AssignmentResponse {
	res := make([]AssignmentResponse, 0, len(items))
	for _, a := range items {
		res = append(res, assignmentResponse(a))
	}
	return res
}

func todoResponse(t domain.Todo) TodoResponse {
	return TodoResponse{
		ID:        t.ID,
		Body:      t.Body,
		Completed: t.Completed,
		CreatedAt: t.CreatedAt,
	}
}

func mapTodos(items []domain.Todo) []TodoResponse {
	res := make([]TodoResponse, 0, len(items))
	for _, t := range items {
		res = append(res, todoResponse(t))
	}
	return res
}

func journalEntryResponse(e domain.JournalEntry) JournalEntryResponse {
	return JournalEntryResponse{
		ID:        e.ID,
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
	}
}

func mapJournalEntries(items []domain.JournalEntry) []JournalEntryResponse {
	res := make([]JournalEntryResponse, 0, len(items))
	for _, e := range items {
		res = append(res, journalEntryResponse(e))
	}
	return res
}

func focusSessionResponse(s domain.FocusSession) FocusSessionResponse {
	return FocusSessionResponse{
		ID:              s.ID,
		DurationSeconds: s.DurationSeconds,
		CompletedAt:     s.CompletedAt,
	}
}

func messageResponse(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Channel:   m.Channel,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}

func mapMessages(items []domain.Message) []MessageResponse {
	res := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		res = append(res, messageResponse(m))
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

func createAssignmentOptions(req CreateAssignmentRequest, actorID string) engine.AssignmentCreateOptions {
	opts := engine.AssignmentCreateOptions{
		Title:        req.Title,
		Type:         req.Type,
		Steps:        req.Steps,
		Requirements: req.Requirements,
		ActorID:      actorID,
	}
	if req.ID != nil {
		opts.ID = *req.ID
	}
	if req.Description != nil {
		opts.Description = *req.Description
	}
	if req.EstimatedDuration != nil {
		opts.EstimatedDuration = *req.EstimatedDuration
	}
	if req.Location != nil {
		opts.Location = &domain.Location{
			Lat:     req.Location.Lat,
			Lng:     req.Location.Lng,
			Address: req.Location.Address,
		}
	}
	return opts
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	return tmp
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
