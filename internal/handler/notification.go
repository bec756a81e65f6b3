package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/notification"
)

const defaultUnreadLimit = 50

type NotificationService interface {
	Unread(ctx context.Context, limit int) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context) (int, error)
}

type MarkAllReadResponse struct {
	Marked int `json:"marked"`
}

type NotificationHandler struct {
	notifications NotificationService
}

func NewNotificationHandler(notifications NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) RegisterRoutes(router chi.Router) {
	router.Get("/notifications/unread", h.handleListUnread)
	router.Patch("/notifications/read-all", h.handleMarkAllRead)
	router.Patch("/notifications/{id}/read", h.handleMarkRead)
}

func (h *NotificationHandler) handleListUnread(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if limit == 0 {
		limit = defaultUnreadLimit
	}

	unread, err := h.notifications.Unread(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list unread notifications")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, unread)
}

func (h *NotificationHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(r.Context(), id); err != nil {
		log.Error().Err(err).Stringer("notification_id", id).Msg("Failed to mark notification as read")
		respondWithAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	marked, err := h.notifications.MarkAllRead(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark all notifications as read")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, MarkAllReadResponse{Marked: marked})
}
