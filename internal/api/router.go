package api

import (
	"context"
	"net/http"

	"eyecare-realtime/internal/auth"
	"eyecare-realtime/internal/models"
	"eyecare-realtime/internal/validation"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type Store interface {
	ListNotifications(ctx context.Context, userID string, limit, skip int) ([]models.Notification, error)
	CountNotifications(ctx context.Context, userID string) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
	SaveNotification(ctx context.Context, n *models.Notification) error
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, userID, id string) error

	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ConsultationAccess(ctx context.Context, roomID, userID string) (*models.ConsultationAccess, error)
}

type Pusher interface {
	Notification(ctx context.Context, n *models.Notification) error
	UnreadCount(ctx context.Context, userID string, count int64) error
}

type Handler struct {
	store    Store
	pusher   Pusher
	validate *validator.Validate
}

func NewHandler(store Store, pusher Pusher) *Handler {
	return &Handler{
		store:    store,
		pusher:   pusher,
		validate: validation.New(),
	}
}

// NewRouter mounts the REST API under /api, the socket endpoint at /ws and
// the health check.
func NewRouter(h *Handler, v *auth.Validator, socket http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	if socket != nil {
		router.Handle("/ws", socket)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(v))
	h.RegisterRoutes(api)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	admin.HandleFunc("/notifications", h.CreateNotifications).Methods(http.MethodPost)

	return router
}

// RegisterRoutes registers the user-facing routes.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.ListNotifications).Methods(http.MethodGet)
	router.HandleFunc("/notifications/unread-count", h.UnreadCount).Methods(http.MethodGet)
	router.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods(http.MethodPatch)
	router.HandleFunc("/notifications/{id}/read", h.MarkRead).Methods(http.MethodPatch)
	router.HandleFunc("/notifications/{id}", h.DeleteNotification).Methods(http.MethodDelete)

	router.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)

	router.HandleFunc("/consultations/{roomId}/access", h.ConsultationAccess).Methods(http.MethodGet)
}

func userIDFromRequest(r *http.Request) string {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID()
}
