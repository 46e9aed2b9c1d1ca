package redis

import (
	"context"
	"log/slog"

	"eyecare-realtime/internal/models"
	"eyecare-realtime/internal/ws"

	"github.com/goccy/go-json"
)

// SubscribeToEvents forwards every room event published by any instance to
// the local hub until ctx is done.
func SubscribeToEvents(ctx context.Context, client *Client, hub *ws.Hub) error {
	slog.Info("[REDIS] Starting Redis pub/sub subscription...")

	pubsub := client.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		slog.Error("[REDIS] Failed to receive subscription confirmation", "error", err)
		return err
	}

	slog.Info("[REDIS] Subscription confirmed, listening for messages...", "pattern", roomChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				slog.Info("[REDIS] Redis pub/sub channel closed")
				return nil
			}

			broadcast, err := toBroadcast(msg.Payload)
			if err != nil {
				slog.Error("[REDIS] Error unmarshaling event", "channel", msg.Channel, "error", err)
				continue
			}

			select {
			case hub.Broadcast <- broadcast:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func toBroadcast(payload string) (*models.BroadcastMessage, error) {
	var event models.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}

	return &models.BroadcastMessage{
		Room:    event.Room,
		Exclude: event.From,
		Payload: []byte(payload),
	}, nil
}
