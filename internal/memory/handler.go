package memory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/api"
)

// Handler exposes the memory pipeline over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// Chat runs one conversation turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	resp, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		handleServiceError(w, err, "chat turn failed")
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// ListConversations returns the user's conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUUID(w, r, "user_id")
	if !ok {
		return
	}

	convs, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		slog.Error("listing conversations", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, convs)
}

// ConversationMessages returns the full durable message log.
func (h *Handler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}
	userID, ok := queryUUID(w, r, "user_id")
	if !ok {
		return
	}

	msgs, err := h.svc.ConversationMessages(r.Context(), conversationID, userID)
	if err != nil {
		handleServiceError(w, err, "listing conversation messages")
		return
	}
	api.JSON(w, http.StatusOK, msgs)
}

// ClearConversation forgets the conversation's cached window. The
// durable log is kept.
func (h *Handler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}
	userID, ok := queryUUID(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.svc.ClearConversation(r.Context(), conversationID, userID); err != nil {
		handleServiceError(w, err, "clearing conversation")
		return
	}
	api.JSONMessage(w, http.StatusOK, "conversation cleared")
}

// CreateMemory creates a long-term memory.
func (h *Handler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	rec, err := h.svc.CreateMemory(r.Context(), req)
	if err != nil {
		slog.Error("creating memory", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusCreated, rec)
}

// GetMemory returns a single memory, active or not.
func (h *Handler) GetMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memoryID")
	if !ok {
		return
	}

	rec, err := h.svc.GetMemory(r.Context(), id)
	if err != nil {
		handleServiceError(w, err, "getting memory")
		return
	}
	api.JSON(w, http.StatusOK, rec)
}

// UpdateMemory applies a partial update.
func (h *Handler) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memoryID")
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.svc.UpdateMemory(r.Context(), id, req); err != nil {
		handleServiceError(w, err, "updating memory")
		return
	}
	api.JSONMessage(w, http.StatusOK, "memory updated")
}

// DeleteMemory soft-deletes by default; ?soft=false removes the record
// and its indexed entry for good.
func (h *Handler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memoryID")
	if !ok {
		return
	}
	soft := r.URL.Query().Get("soft") != "false"

	if err := h.svc.DeleteMemory(r.Context(), id, soft); err != nil {
		handleServiceError(w, err, "deleting memory")
		return
	}
	api.JSONMessage(w, http.StatusOK, "memory deleted")
}

// SearchMemories runs an owner-scoped semantic search.
func (h *Handler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	results, err := h.svc.SearchMemories(r.Context(), req)
	if err != nil {
		slog.Error("searching memories", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, results)
}

// ListMemories lists an owner's memories, importance first.
func (h *Handler) ListMemories(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := queryUUID(w, r, "owner_id")
	if !ok {
		return
	}
	category := r.URL.Query().Get("category")
	activeOnly := r.URL.Query().Get("include_inactive") != "true"

	recs, err := h.svc.ListMemories(r.Context(), ownerID, category, activeOnly)
	if err != nil {
		slog.Error("listing memories", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, recs)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps domain errors onto their HTTP equivalents and
// logs everything else as a 500.
func handleServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		api.HandleError(w, api.ErrNotFound)
	case errors.Is(err, ErrForbidden):
		api.HandleError(w, api.ErrForbidden)
	default:
		slog.Error(logMsg, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}
