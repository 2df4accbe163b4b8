// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	app_errors "commit-streak-service/internal/errors"
	"commit-streak-service/internal/model"
	"commit-streak-service/internal/webhook"
)

// Header names of the inbound webhook contract.
const (
	headerSignature  = "X-Signature-256"
	headerEventType  = "X-Event-Type"
	headerDeliveryID = "X-Delivery-Id"
)

const eventTypePush = "push"

// Querier is the slice of the storage layer the handlers depend on.
type Querier interface {
	RecordDelivery(ctx context.Context, deliveryID, eventType string) error
	GetActiveTrackedRepo(ctx context.Context, repoFullName string) (model.TrackedRepo, error)
	GetUserByID(ctx context.Context, id int64) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
}

// PushIngester is what the handler needs from the commit aggregator.
type PushIngester interface {
	ProcessPush(ctx context.Context, repo model.TrackedRepo, timezone string, push model.PushEvent) error
}

// StreakService is what the handler needs from the streak engine.
type StreakService interface {
	Freeze(ctx context.Context, userID int64) error
	Unfreeze(ctx context.Context, userID int64, confirmReset bool) error
	StatusByUsername(ctx context.Context, username string) (model.StreakStatus, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db            Querier
	ingester      PushIngester
	streaks       StreakService
	webhookSecret string
	logger        *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db Querier, ingester PushIngester, streaks StreakService, webhookSecret string, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:            db,
		ingester:      ingester,
		streaks:       streaks,
		webhookSecret: webhookSecret,
		logger:        logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Post("/webhooks/github", h.handlePushWebhook)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{username}/streak", h.getStreakStatus)
		r.Post("/users/{username}/streak/freeze", h.freezeStreak)
		r.Post("/users/{username}/streak/unfreeze", h.unfreezeStreak)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePushWebhook receives one webhook delivery from the source-control
// provider. Verification order matters: signature first, then delivery dedup
// (before any heavy work, so a retry after a slow partial run still
// short-circuits), then payload parsing and repo resolution. Every accepted
// or deliberately ignored event answers 200; the provider only sees non-2xx
// for bad signatures and unparseable payloads, the two cases a retry cannot
// repair into something processable.
func (h *Handler) handlePushWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	if !webhook.VerifySignature(rawBody, r.Header.Get(headerSignature), h.webhookSecret) {
		respondWithError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	eventType := r.Header.Get(headerEventType)
	logger := h.logger.With("event_type", eventType)

	// Dedup gate. Without a delivery id processing is at-least-once.
	if deliveryID := r.Header.Get(headerDeliveryID); deliveryID != "" {
		logger = logger.With("delivery_id", deliveryID)
		err := h.db.RecordDelivery(r.Context(), deliveryID, eventType)
		if errors.Is(err, app_errors.ErrDuplicateDelivery) {
			logger.Info("Duplicate webhook delivery, skipping")
			respondWithJSON(w, http.StatusOK, okResponse())
			return
		}
		if err != nil {
			// Advisory, not a gate: still process the event.
			logger.Error("Failed to record webhook delivery", "error", err)
		}
	}

	if eventType != eventTypePush {
		respondWithJSON(w, http.StatusOK, okResponse())
		return
	}

	event, err := webhook.ParsePush(rawBody)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed push payload")
		return
	}
	logger = logger.With("repo", event.RepoFullName)

	repo, err := h.db.GetActiveTrackedRepo(r.Context(), event.RepoFullName)
	if errors.Is(err, pgx.ErrNoRows) {
		// Most pushes on the provider are for untracked repositories.
		logger.Debug("Push for untracked repository, ignoring")
		respondWithJSON(w, http.StatusOK, okResponse())
		return
	}
	if err != nil {
		logger.Error("Failed to resolve tracked repository", "error", err)
		respondWithJSON(w, http.StatusOK, okResponse())
		return
	}

	user, err := h.db.GetUserByID(r.Context(), repo.UserID)
	if err != nil {
		logger.Error("Failed to load repository owner", "user_id", repo.UserID, "error", err)
		respondWithJSON(w, http.StatusOK, okResponse())
		return
	}

	if err := h.ingester.ProcessPush(r.Context(), repo, user.Timezone, event); err != nil {
		logger.Error("Push ingestion aborted", "error", err)
	}

	respondWithJSON(w, http.StatusOK, okResponse())
}

// getStreakStatus returns the derived streak summary for a user.
// GET /v1/users/{username}/streak
func (h *Handler) getStreakStatus(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	status, err := h.streaks.StatusByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Failed to get streak status", "username", username, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// freezeStreak suspends streak-risk evaluation for a user.
// POST /v1/users/{username}/streak/freeze
func (h *Handler) freezeStreak(w http.ResponseWriter, r *http.Request) {
	user, ok := h.lookupUser(w, r)
	if !ok {
		return
	}

	if err := h.streaks.Freeze(r.Context(), user.ID); err != nil {
		h.logger.Error("Failed to freeze streak", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, okResponse())
}

// unfreezeStreak lifts a streak freeze. When the streak would reset, the
// request must carry {"confirm_reset": true}; otherwise it is rejected with
// 409 and nothing changes.
// POST /v1/users/{username}/streak/unfreeze
func (h *Handler) unfreezeStreak(w http.ResponseWriter, r *http.Request) {
	user, ok := h.lookupUser(w, r)
	if !ok {
		return
	}

	var req struct {
		ConfirmReset bool `json:"confirm_reset"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	err := h.streaks.Unfreeze(r.Context(), user.ID, req.ConfirmReset)
	if errors.Is(err, app_errors.ErrResetImminent) {
		respondWithError(w, http.StatusConflict, "Unfreezing now will reset your streak. Re-submit with confirm_reset=true to proceed.")
		return
	}
	if err != nil {
		h.logger.Error("Failed to unfreeze streak", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, okResponse())
}

func (h *Handler) lookupUser(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	username := chi.URLParam(r, "username")

	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return model.User{}, false
		}
		h.logger.Error("Failed to get user", "username", username, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return model.User{}, false
	}
	return user, true
}

func okResponse() map[string]bool {
	return map[string]bool{"ok": true}
}
