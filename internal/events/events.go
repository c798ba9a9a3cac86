package events

import (
	"time"

	"github.com/google/uuid"
)

// Stream and subject names.
const (
	StreamEvents = "MNEMO_EVENTS"

	SubjectMemoryEvent       = "mnemo.events.memory"
	SubjectConversationEvent = "mnemo.events.conversation"
)

// Memory event types.
const (
	MemoryCreated     = "memory_created"
	MemoryUpdated     = "memory_updated"
	MemorySoftDeleted = "memory_soft_deleted"
	MemoryHardDeleted = "memory_hard_deleted"
)

// Conversation event types.
const (
	TurnCompleted           = "turn_completed"
	ConversationSummarized  = "conversation_summarized"
	ConversationWindowReset = "conversation_window_reset"
)

// MemoryEvent is published for memory lifecycle changes.
type MemoryEvent struct {
	MemoryID  uuid.UUID `json:"memory_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	EventType string    `json:"event_type"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationEvent is published for conversation lifecycle changes.
type ConversationEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	EventType      string    `json:"event_type"`
	Degraded       bool      `json:"degraded,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
