package redis

import (
	"context"
	"log/slog"
	"time"

	"eyecare-realtime/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const roomChannelPrefix = "room:"

type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("[REDIS] Failed to parse Redis URL", "error", err)
		return nil, err
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Error("[REDIS] Failed to connect to Redis", "error", err)
		rdb.Close()
		return nil, err
	}

	slog.Info("[REDIS] Connected to Redis")

	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// PublishEvent publishes event on the channel of its room so that every
// server instance can deliver it to its local sockets.
func (c *Client) PublishEvent(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("[REDIS] Failed to marshal event", "type", event.Type, "room", event.Room, "error", err)
		return err
	}

	channel := roomChannel(event.Room)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Error("[REDIS] Failed to publish event", "type", event.Type, "channel", channel, "error", err)
		return err
	}

	return nil
}

func roomChannel(room string) string {
	return roomChannelPrefix + room
}
