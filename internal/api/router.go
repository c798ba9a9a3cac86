package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemo-ai/mnemo/internal/database"
	"github.com/mnemo-ai/mnemo/internal/events"
	mw "github.com/mnemo-ai/mnemo/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid
// import cycles.
type HandlerSet struct {
	// Chat and conversations
	Chat                 http.HandlerFunc
	ListConversations    http.HandlerFunc
	ConversationMessages http.HandlerFunc
	ClearConversation    http.HandlerFunc

	// Long-term memories
	ListMemories   http.HandlerFunc
	CreateMemory   http.HandlerFunc
	GetMemory      http.HandlerFunc
	UpdateMemory   http.HandlerFunc
	DeleteMemory   http.HandlerFunc
	SearchMemories http.HandlerFunc

	// Users
	CreateUser http.HandlerFunc
	GetUser    http.HandlerFunc
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
}

func NewRouter(pool *pgxpool.Pool, eventsClient *events.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe, checks DB and NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if eventsClient != nil && !eventsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if eventsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{userID}", h.GetUser)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", h.Chat)
			r.Get("/conversations", h.ListConversations)
			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/messages", h.ConversationMessages)
				r.Delete("/", h.ClearConversation)
			})
		})

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", h.ListMemories)
			r.Post("/", h.CreateMemory)
			r.Post("/search", h.SearchMemories)
			r.Route("/{memoryID}", func(r chi.Router) {
				r.Get("/", h.GetMemory)
				r.Put("/", h.UpdateMemory)
				r.Delete("/", h.DeleteMemory)
			})
		})
	})

	return r
}
