package ws

import (
	"context"

	"eyecare-realtime/internal/models"

	"github.com/goccy/go-json"
)

// LocalBroker hands events straight to the hub. It serves single-instance
// deployments that run without Redis.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) PublishEvent(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &models.BroadcastMessage{
		Room:    event.Room,
		Exclude: event.From,
		Payload: payload,
	}

	select {
	case b.hub.Broadcast <- msg:
		return nil
	case <-b.hub.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
