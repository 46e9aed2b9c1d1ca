package push

import (
	"context"
	"errors"
	"testing"

	"eyecare-realtime/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroker struct {
	events []models.Event
	err    error
}

func (b *recordingBroker) PublishEvent(ctx context.Context, event models.Event) error {
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, event)
	return nil
}

func TestPusherRoutesEvents(t *testing.T) {
	broker := &recordingBroker{}
	p := New(broker)
	ctx := context.Background()

	require.NoError(t, p.Notification(ctx, &models.Notification{ID: "n1", UserID: "u1", Type: models.NotificationSystemAlert}))
	require.NoError(t, p.UnreadCount(ctx, "u1", 4))
	require.NoError(t, p.Message(ctx, &models.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hi"}, nil))

	require.Len(t, broker.events, 3)
	assert.Equal(t, models.EventNewNotification, broker.events[0].Type)
	assert.Equal(t, "user:u1", broker.events[0].Room)
	assert.Equal(t, models.EventUnreadCount, broker.events[1].Type)
	assert.Equal(t, "conversation:c1", broker.events[2].Room)

	var count models.UnreadCount
	require.NoError(t, broker.events[1].Decode(&count))
	assert.Equal(t, int64(4), count.Count)
}

func TestPusherPropagatesBrokerErrors(t *testing.T) {
	p := New(&recordingBroker{err: errors.New("redis down")})
	assert.Error(t, p.UnreadCount(context.Background(), "u1", 1))
}

func TestPusherFansMessagesOutToRecipients(t *testing.T) {
	broker := &recordingBroker{}
	p := New(broker)

	msg := &models.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hi"}
	require.NoError(t, p.Message(context.Background(), msg, []string{"u1", "u3"}))

	require.Len(t, broker.events, 3)
	rooms := []string{broker.events[0].Room, broker.events[1].Room, broker.events[2].Room}
	assert.Equal(t, []string{"conversation:c1", "user:u1", "user:u3"}, rooms)
	for _, event := range broker.events {
		assert.Equal(t, models.EventNewMessage, event.Type)
	}
}
