package events

import (
	"context"
	"log/slog"
	"time"

	"eyecare-realtime/internal/models"
	"eyecare-realtime/internal/store"
	"eyecare-realtime/internal/validation"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// MessageHandler handles a single delivery.
type MessageHandler interface {
	HandleMessage(ctx context.Context, delivery amqp.Delivery) error
}

type NotificationStore interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
}

type Pusher interface {
	Notification(ctx context.Context, n *models.Notification) error
	UnreadCount(ctx context.Context, userID string, count int64) error
	Message(ctx context.Context, m *models.Message, recipients []string) error
}

type ParticipantLookup interface {
	ConversationParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
}

// NotificationRequest is the body of a notification.* event published by
// the booking backend.
type NotificationRequest struct {
	UserID    string `json:"userId" validate:"required"`
	Type      string `json:"type" validate:"required,notification_type"`
	Title     string `json:"title" validate:"required,max=100"`
	Message   string `json:"message" validate:"max=1000"`
	ActionURL string `json:"actionUrl" validate:"omitempty,max=500"`
	Timestamp string `json:"timestamp" validate:"omitempty"`
}

// Notifications records backend notifications and pushes them to the
// recipient.
type Notifications struct {
	store    NotificationStore
	pusher   Pusher
	validate *validator.Validate
}

func NewNotifications(store NotificationStore, pusher Pusher) *Notifications {
	return &Notifications{store: store, pusher: pusher, validate: validation.New()}
}

func (h *Notifications) HandleMessage(ctx context.Context, delivery amqp.Delivery) error {
	var request NotificationRequest
	if err := json.Unmarshal(delivery.Body, &request); err != nil {
		return NewUnrecoverableError("unable to parse message body: %s", err.Error())
	}
	if err := h.validate.Struct(request); err != nil {
		return NewUnrecoverableError("invalid notification: %s", err.Error())
	}

	n := &models.Notification{
		UserID:    request.UserID,
		Type:      models.NotificationType(request.Type),
		Title:     request.Title,
		Message:   request.Message,
		ActionURL: request.ActionURL,
	}
	if request.Timestamp != "" {
		created, err := time.Parse(time.RFC3339Nano, request.Timestamp)
		if err != nil {
			return NewUnrecoverableError("unable to parse timestamp: %s", err.Error())
		}
		n.CreatedAt = created.UTC()
	}

	if err := h.store.SaveNotification(ctx, n); err != nil {
		return NewRecoverableError("unable to save notification: %s", err.Error())
	}

	// Already stored: push failures must not cause a redelivery.
	if err := h.pusher.Notification(ctx, n); err != nil {
		slog.Warn("[AMQP] Failed to push notification", "user", n.UserID, "notification", n.ID, "error", err)
		return nil
	}

	unread, err := h.store.CountUnreadNotifications(ctx, n.UserID)
	if err != nil {
		slog.Warn("[AMQP] Failed to count unread notifications", "user", n.UserID, "error", err)
		return nil
	}
	if err := h.pusher.UnreadCount(ctx, n.UserID, unread); err != nil {
		slog.Warn("[AMQP] Failed to push unread count", "user", n.UserID, "error", err)
	}

	return nil
}

// MessageRequest is the body of a message.* event published when a chat
// message is stored by the backend.
type MessageRequest struct {
	ID             string `json:"id" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId" validate:"required"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content" validate:"required"`
	CreatedAt      string `json:"createdAt" validate:"required"`

	// RecipientIDs is optional; the conversation's participants are used
	// when it is empty.
	RecipientIDs []string `json:"recipientIds" validate:"omitempty,dive,required"`
}

// Messages pushes new chat messages to the conversation room and to the
// participants' user rooms.
type Messages struct {
	participants ParticipantLookup
	pusher       Pusher
	validate     *validator.Validate
}

func NewMessages(participants ParticipantLookup, pusher Pusher) *Messages {
	return &Messages{participants: participants, pusher: pusher, validate: validation.New()}
}

func (h *Messages) HandleMessage(ctx context.Context, delivery amqp.Delivery) error {
	var request MessageRequest
	if err := json.Unmarshal(delivery.Body, &request); err != nil {
		return NewUnrecoverableError("unable to parse message body: %s", err.Error())
	}
	if err := h.validate.Struct(request); err != nil {
		return NewUnrecoverableError("invalid message: %s", err.Error())
	}

	created, err := time.Parse(time.RFC3339Nano, request.CreatedAt)
	if err != nil {
		return NewUnrecoverableError("unable to parse createdAt: %s", err.Error())
	}

	m := &models.Message{
		ID:             request.ID,
		ConversationID: request.ConversationID,
		SenderID:       request.SenderID,
		SenderName:     request.SenderName,
		Content:        request.Content,
		CreatedAt:      created.UTC(),
	}

	recipients := request.RecipientIDs
	if len(recipients) == 0 {
		recipients, err = h.participants.ConversationParticipantIDs(ctx, m.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			return NewUnrecoverableError("unknown conversation %s", m.ConversationID)
		}
		if err != nil {
			return NewRecoverableError("unable to look up participants: %s", err.Error())
		}
	}

	if err := h.pusher.Message(ctx, m, recipients); err != nil {
		return NewRecoverableError("unable to push message: %s", err.Error())
	}
	return nil
}
