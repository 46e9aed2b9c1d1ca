package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	"eyecare-realtime/internal/models"
	"eyecare-realtime/internal/ws"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const maxTxRetries = 5

// ConsultRegistry keeps consultation participants in a Redis hash per room
// so that both sides of a call may be served by different instances.
type ConsultRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewConsultRegistry(client *Client, ttl time.Duration) *ConsultRegistry {
	return &ConsultRegistry{rdb: client.rdb, ttl: ttl}
}

func participantsKey(roomID string) string {
	return "consult:" + roomID + ":participants"
}

func (r *ConsultRegistry) Join(ctx context.Context, roomID string, p models.ConsultParticipant) ([]models.ConsultParticipant, error) {
	key := participantsKey(roomID)

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	var others []models.ConsultParticipant
	txf := func(tx *redis.Tx) error {
		entries, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		others, err = decodeParticipants(entries, p.UserID)
		if err != nil {
			return err
		}
		if len(others) >= ws.MaxConsultParticipants {
			return ws.ErrRoomFull
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, p.UserID, payload)
			pipe.Expire(ctx, key, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return others, nil
	}
	return nil, err
}

func (r *ConsultRegistry) Leave(ctx context.Context, roomID string, p models.ConsultParticipant) error {
	key := participantsKey(roomID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, p.UserID).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var current models.ConsultParticipant
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return err
		}
		// The user may have rejoined from another socket.
		if current.ClientID != p.ClientID {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, p.UserID)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// decodeParticipants decodes a participants hash, skipping the entry of
// excludeUser. The result is ordered by user id.
func decodeParticipants(entries map[string]string, excludeUser string) ([]models.ConsultParticipant, error) {
	var out []models.ConsultParticipant
	for userID, raw := range entries {
		if userID == excludeUser {
			continue
		}
		var p models.ConsultParticipant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
