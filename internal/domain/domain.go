package domain

type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	TokenIdentifier string `json:"token_identifier"`
	Mode            string `json:"mode" enum:"public,private"`
	Reputation      int    `json:"reputation"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type Assignment struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Type              string    `json:"type" enum:"digital,physical"`
	Status            string    `json:"status" enum:"active,claimed,completed"`
	ClaimedBy         *string   `json:"claimed_by,omitempty"`
	ClaimedAt         *string   `json:"claimed_at,omitempty" format:"date-time"`
	CompletedAt       *string   `json:"completed_at,omitempty" format:"date-time"`
	Location          *Location `json:"location,omitempty"`
	Steps             []string  `json:"steps,omitempty"`
	Requirements      []string  `json:"requirements,omitempty"`
	EstimatedDuration string    `json:"estimated_duration,omitempty"`
	CreatedAt         string    `json:"created_at" format:"date-time"`
	UpdatedAt         string    `json:"updated_at" format:"date-time"`
}

type Todo struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Body      string `json:"body"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type JournalEntry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type FocusSession struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	DurationSeconds int    `json:"duration_seconds"`
	CompletedAt     string `json:"completed_at" format:"date-time"`
}

type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Channel   string `json:"channel"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
