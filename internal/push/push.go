package push

import (
	"context"

	"eyecare-realtime/internal/models"
)

// Broker delivers an event to every socket joined to the event's room,
// whichever server instance holds it.
type Broker interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

// Pusher builds the server-push events clients listen for.
type Pusher struct {
	broker Broker
}

func New(broker Broker) *Pusher {
	return &Pusher{broker: broker}
}

// Notification pushes a new notification to its owner.
func (p *Pusher) Notification(ctx context.Context, n *models.Notification) error {
	return p.publish(ctx, models.EventNewNotification, models.UserRoom(n.UserID), n)
}

// UnreadCount pushes the user's current unread notification count.
func (p *Pusher) UnreadCount(ctx context.Context, userID string, count int64) error {
	return p.publish(ctx, models.EventUnreadCount, models.UserRoom(userID), models.UnreadCount{Count: count})
}

// Message pushes a new message to everyone joined to its conversation and
// to the user rooms of recipients, who may not have joined it yet. Clients
// see the same message id once per room.
func (p *Pusher) Message(ctx context.Context, m *models.Message, recipients []string) error {
	if err := p.publish(ctx, models.EventNewMessage, models.ConversationRoom(m.ConversationID), m); err != nil {
		return err
	}

	for _, userID := range recipients {
		if err := p.publish(ctx, models.EventNewMessage, models.UserRoom(userID), m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pusher) publish(ctx context.Context, eventType, room string, data interface{}) error {
	event, err := models.NewEvent(eventType, room, data)
	if err != nil {
		return err
	}
	return p.broker.PublishEvent(ctx, event)
}
