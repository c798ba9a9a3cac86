package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Domain errors surfaced to the API layer.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("owner mismatch")
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation. Messages are immutable once
// created; the durable log only ever grows.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	TokenCount     int       `json:"token_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation groups a message log under one owner. Summary holds the
// evolving structured summary produced by the background summarizer.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is one long-term memory. EmbeddingRef is the lookup key of the
// entry in the semantic index, not an ownership relation; hard-deleting
// the record also requests removal of the indexed entry.
type Record struct {
	ID           uuid.UUID      `json:"id"`
	OwnerID      uuid.UUID      `json:"owner_id"`
	Content      string         `json:"content"`
	Source       string         `json:"source,omitempty"`
	Importance   float64        `json:"importance"`
	Category     string         `json:"category,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	IsActive     bool           `json:"is_active"`
	EmbeddingRef string         `json:"embedding_ref,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RetrievalResult pairs a record with its per-query relevance. Relevance
// is derived from index distance at search time and never persisted.
type RetrievalResult struct {
	Memory    Record  `json:"memory"`
	Relevance float64 `json:"relevance"`
}

// Entity is one named thing the summarizer recognized in a conversation.
type Entity struct {
	Type       string            `json:"type"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Summary is the evolving, mergeable structured summary of a
// conversation. New turns are merged in; prior key points and entities
// survive unless the new content updates them.
type Summary struct {
	SummaryText string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	Entities    []Entity `json:"entities"`
	Topics      []string `json:"topics"`
	ActionItems []string `json:"action_items"`
}

// PersonalInfo captures user-identity facts extracted from a conversation.
type PersonalInfo struct {
	Name        string   `json:"name,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	Background  string   `json:"background,omitempty"`
}

// Task is one extracted action the user mentioned.
type Task struct {
	Description string `json:"description"`
	Deadline    string `json:"deadline,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// ImportantDate is one extracted event/date pair.
type ImportantDate struct {
	Event string `json:"event"`
	Date  string `json:"date"`
}

// ExtractedFacts is the transient extraction output. It is consumed
// immediately to mint memory records and never stored.
type ExtractedFacts struct {
	PersonalInfo   PersonalInfo    `json:"personal_info"`
	Tasks          []Task          `json:"tasks"`
	Questions      []string        `json:"questions"`
	ImportantDates []ImportantDate `json:"important_dates"`
}

// CreateRequest is the API payload for creating a memory.
type CreateRequest struct {
	OwnerID    string         `json:"owner_id" validate:"required,uuid"`
	Content    string         `json:"content" validate:"required,min=1"`
	Source     string         `json:"source,omitempty"`
	Importance *float64       `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Category   string         `json:"category,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// UpdateRequest carries a partial update. Nil fields are left untouched;
// a non-nil Tags replaces the whole tag set.
type UpdateRequest struct {
	Content    *string        `json:"content,omitempty" validate:"omitempty,min=1"`
	Importance *float64       `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Category   *string        `json:"category,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IsActive   *bool          `json:"is_active,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// SearchRequest is the API payload for semantic search.
type SearchRequest struct {
	OwnerID  string `json:"owner_id" validate:"required,uuid"`
	Query    string `json:"query" validate:"required,min=1"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty" validate:"omitempty,gte=1,lte=50"`
}

func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
