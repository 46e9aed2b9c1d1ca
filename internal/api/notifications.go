package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"eyecare-realtime/internal/models"
	"eyecare-realtime/internal/store"
	"eyecare-realtime/internal/validation"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateNotificationsRequest is the admin request for a system alert sent
// to one or more users.
type CreateNotificationsRequest struct {
	UserIDs   []string `json:"userIds" validate:"required,min=1,dive,required"`
	Type      string   `json:"type" validate:"required,notification_type"`
	Title     string   `json:"title" validate:"required,max=100"`
	Message   string   `json:"message" validate:"max=1000"`
	ActionURL string   `json:"actionUrl" validate:"omitempty,max=500"`
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	ctx := r.Context()

	limit, skip, err := parsePage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	notifications, err := h.store.ListNotifications(ctx, userID, limit, skip)
	if err != nil {
		slog.Error("[API] Failed to list notifications", "user", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to load notifications")
		return
	}

	total, err := h.store.CountNotifications(ctx, userID)
	if err != nil {
		slog.Error("[API] Failed to count notifications", "user", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to load notifications")
		return
	}

	unread, err := h.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		slog.Error("[API] Failed to count unread notifications", "user", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to load notifications")
		return
	}

	respondJSON(w, http.StatusOK, models.NotificationPage{
		Notifications: notifications,
		Total:         total,
		UnreadCount:   unread,
		HasMore:       int64(skip+len(notifications)) < total,
	})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	unread, err := h.store.CountUnreadNotifications(r.Context(), userID)
	if err != nil {
		slog.Error("[API] Failed to count unread notifications", "user", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to count notifications")
		return
	}

	respondJSON(w, http.StatusOK, models.UnreadCount{Count: unread})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	id := mux.Vars(r)["id"]

	err := h.store.MarkNotificationRead(r.Context(), userID, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		slog.Error("[API] Failed to mark notification read", "user", userID, "notification", id, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to mark notification as read")
		return
	}

	h.pushUnreadCount(r.Context(), userID)
	respondMessage(w, http.StatusOK, "notification marked as read")
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	changed, err := h.store.MarkAllNotificationsRead(r.Context(), userID)
	if err != nil {
		slog.Error("[API] Failed to mark all notifications read", "user", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to mark notifications as read")
		return
	}

	h.pushUnreadCount(r.Context(), userID)
	respondJSON(w, http.StatusOK, map[string]int64{"updated": changed})
}

func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	id := mux.Vars(r)["id"]

	err := h.store.DeleteNotification(r.Context(), userID, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		slog.Error("[API] Failed to delete notification", "user", userID, "notification", id, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to delete notification")
		return
	}

	h.pushUnreadCount(r.Context(), userID)
	respondMessage(w, http.StatusOK, "notification deleted")
}

// CreateNotifications stores a notification for each recipient and pushes
// it to their sockets.
func (h *Handler) CreateNotifications(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondErrorData(w, http.StatusBadRequest, "validation failed", validation.Messages(err))
		return
	}

	ctx := r.Context()
	created := make([]models.Notification, 0, len(req.UserIDs))
	for _, userID := range req.UserIDs {
		n := &models.Notification{
			UserID:    userID,
			Type:      models.NotificationType(req.Type),
			Title:     req.Title,
			Message:   req.Message,
			ActionURL: req.ActionURL,
		}
		if err := h.store.SaveNotification(ctx, n); err != nil {
			slog.Error("[API] Failed to save notification", "user", userID, "error", err)
			respondError(w, http.StatusInternalServerError, "unable to create notifications")
			return
		}

		if err := h.pusher.Notification(ctx, n); err != nil {
			slog.Warn("[API] Failed to push notification", "user", userID, "notification", n.ID, "error", err)
		}
		h.pushUnreadCount(ctx, userID)

		created = append(created, *n)
	}

	respondJSON(w, http.StatusCreated, created)
}

// pushUnreadCount refreshes the badge on every socket of the user. Failures
// are logged only; the client reconciles on its next fetch.
func (h *Handler) pushUnreadCount(ctx context.Context, userID string) {
	unread, err := h.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		slog.Warn("[API] Failed to count unread notifications for push", "user", userID, "error", err)
		return
	}
	if err := h.pusher.UnreadCount(ctx, userID, unread); err != nil {
		slog.Warn("[API] Failed to push unread count", "user", userID, "error", err)
	}
}

func parsePage(r *http.Request) (limit, skip int, err error) {
	limit, err = queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		return 0, 0, errors.New("limit must be a positive integer")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	skip, err = queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		return 0, 0, errors.New("skip must be a non-negative integer")
	}
	return limit, skip, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}
