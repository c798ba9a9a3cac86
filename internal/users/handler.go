package users

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/api"
)

// Handler handles user HTTP endpoints.
type Handler struct {
	repo     Repository
	validate *validator.Validate
}

func NewHandler(repo Repository) *Handler {
	return &Handler{
		repo:     repo,
		validate: validator.New(),
	}
}

// Create registers a new owner.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	user := &User{DisplayName: req.DisplayName}
	if err := h.repo.Create(r.Context(), user); err != nil {
		slog.Error("creating user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusCreated, user)
}

// Get returns one owner record.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid userID"))
		return
	}

	user, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("getting user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if user == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}
	api.JSON(w, http.StatusOK, user)
}
