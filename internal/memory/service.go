package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/events"
	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// ChatGenerator is the turn-level generation capability, including the
// retry-then-degrade policy. The llm.Client satisfies it.
type ChatGenerator interface {
	Chat(ctx context.Context, model string, messages []llm.ChatMessage, opts llm.Options) (llm.Result, error)
}

// TaskRunner schedules detached background work. The worker runner
// satisfies it; tests substitute a synchronous stub.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context))
}

// ChatRequest is the API payload for one chat turn.
type ChatRequest struct {
	UserID         string `json:"user_id" validate:"required,uuid"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,uuid"`
	Message        string `json:"message" validate:"required,min=1"`
	Model          string `json:"model,omitempty"`
	UseMemory      *bool  `json:"use_memory,omitempty"`
	SystemMessage  string `json:"system_message,omitempty"`
}

// ChatResponse is the reply for one chat turn. MemoriesUsed reports the
// long-term memories that made it into the prompt.
type ChatResponse struct {
	ConversationID string            `json:"conversation_id"`
	Response       string            `json:"response"`
	Degraded       bool              `json:"degraded,omitempty"`
	MemoriesUsed   []RetrievalResult `json:"memories_used,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Service fronts the memory pipeline for the HTTP layer: the chat turn
// flow, conversation access, and long-term memory CRUD.
type Service struct {
	repo      Repository
	window    *Window
	longTerm  *LongTerm
	composer  *Composer
	gen       ChatGenerator
	runner    TaskRunner
	publisher *events.Publisher

	defaultModel   string
	maxTokenBudget int
}

func NewService(
	repo Repository,
	window *Window,
	longTerm *LongTerm,
	composer *Composer,
	gen ChatGenerator,
	runner TaskRunner,
	publisher *events.Publisher,
	defaultModel string,
	maxTokenBudget int,
) *Service {
	if maxTokenBudget <= 0 {
		maxTokenBudget = 4000
	}
	return &Service{
		repo:           repo,
		window:         window,
		longTerm:       longTerm,
		composer:       composer,
		gen:            gen,
		runner:         runner,
		publisher:      publisher,
		defaultModel:   defaultModel,
		maxTokenBudget: maxTokenBudget,
	}
}

// Chat runs one full turn: resolve the conversation, compose the prompt,
// generate the reply, persist it, and schedule summarization in the
// background. The user's message is durable even when generation then
// degrades; summarization never affects the returned response.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ownerID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}

	conv, err := s.resolveConversation(ctx, ownerID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = s.defaultModel
	}
	useMemory := req.UseMemory == nil || *req.UseMemory

	turn, err := s.composer.ComposeTurn(ctx, conv.ID, ownerID, req.Message, model, s.maxTokenBudget, req.SystemMessage, useMemory)
	if err != nil {
		return nil, err
	}

	result, err := s.gen.Chat(ctx, model, turn.Messages, llm.Options{
		MaxTokens:   turn.Budget.Response,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	assistant, err := s.window.Add(ctx, conv.ID, RoleAssistant, result.Text, model)
	if err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	s.scheduleSummarize(conv.ID, ownerID)
	s.publisher.ConversationChanged(ctx, events.ConversationEvent{
		ConversationID: conv.ID,
		UserID:         ownerID,
		EventType:      events.TurnCompleted,
		Degraded:       result.Degraded,
	})

	return &ChatResponse{
		ConversationID: conv.ID.String(),
		Response:       result.Text,
		Degraded:       result.Degraded,
		MemoriesUsed:   turn.MemoriesUsed,
		CreatedAt:      assistant.CreatedAt,
	}, nil
}

// scheduleSummarize queues the fire-and-forget summarization task. Its
// outcome never reaches the chat response; failures are counted and
// logged only.
func (s *Service) scheduleSummarize(conversationID, ownerID uuid.UUID) {
	if s.runner == nil {
		return
	}
	s.runner.Submit("summarize:"+conversationID.String(), func(ctx context.Context) {
		conv, err := s.repo.GetConversation(ctx, conversationID)
		if err != nil || conv == nil {
			metrics.SummarizeFailuresTotal.Inc()
			slog.Warn("summarize: loading conversation failed", "conversation_id", conversationID, "error", err)
			return
		}
		msgs, err := s.window.Get(ctx, conversationID, 0)
		if err != nil || len(msgs) == 0 {
			if err != nil {
				metrics.SummarizeFailuresTotal.Inc()
				slog.Warn("summarize: loading messages failed", "conversation_id", conversationID, "error", err)
			}
			return
		}
		if _, err := s.longTerm.SummarizeConversation(ctx, conversationID, ownerID, msgs, conv.Summary); err != nil {
			metrics.SummarizeFailuresTotal.Inc()
			slog.Warn("summarize failed", "conversation_id", conversationID, "error", err)
			return
		}
		s.publisher.ConversationChanged(ctx, events.ConversationEvent{
			ConversationID: conversationID,
			UserID:         ownerID,
			EventType:      events.ConversationSummarized,
		})
	})
}

func (s *Service) resolveConversation(ctx context.Context, ownerID uuid.UUID, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		conv := &Conversation{UserID: ownerID}
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}

	id, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, fmt.Errorf("parsing conversation id: %w", err)
	}
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if conv.UserID != ownerID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListConversations returns the owner's conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	return s.repo.ListConversations(ctx, userID)
}

// ConversationMessages returns the full durable message log after an
// ownership check.
func (s *Service) ConversationMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]Message, error) {
	if _, err := s.ownedConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conversationID)
}

// ClearConversation forgets the conversation's working set. The durable
// log stays as the audit trail.
func (s *Service) ClearConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	if _, err := s.ownedConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	s.window.Clear(ctx, conversationID)
	s.publisher.ConversationChanged(ctx, events.ConversationEvent{
		ConversationID: conversationID,
		UserID:         userID,
		EventType:      events.ConversationWindowReset,
	})
	return nil
}

func (s *Service) ownedConversation(ctx context.Context, conversationID, userID uuid.UUID) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// CreateMemory, GetMemory, UpdateMemory, DeleteMemory, SearchMemories
// and ListMemories delegate to the long-term store; the handler never
// touches it directly.

func (s *Service) CreateMemory(ctx context.Context, req CreateRequest) (*Record, error) {
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parsing owner id: %w", err)
	}
	return s.longTerm.Create(ctx, ownerID, req)
}

func (s *Service) GetMemory(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.longTerm.Get(ctx, id)
}

func (s *Service) UpdateMemory(ctx context.Context, id uuid.UUID, req UpdateRequest) error {
	return s.longTerm.Update(ctx, id, req)
}

func (s *Service) DeleteMemory(ctx context.Context, id uuid.UUID, soft bool) error {
	return s.longTerm.Delete(ctx, id, soft)
}

func (s *Service) SearchMemories(ctx context.Context, req SearchRequest) ([]RetrievalResult, error) {
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parsing owner id: %w", err)
	}
	return s.longTerm.Search(ctx, ownerID, req.Query, req.Category, req.Limit)
}

func (s *Service) ListMemories(ctx context.Context, ownerID uuid.UUID, category string, activeOnly bool) ([]Record, error) {
	return s.longTerm.ListByOwner(ctx, ownerID, category, activeOnly)
}
