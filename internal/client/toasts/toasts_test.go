package toasts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eyecare-realtime/internal/client/socket"
	"eyecare-realtime/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	calls         atomic.Int32
	conversations []models.Conversation

	// entered and release, when set, hold the first call.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	if f.calls.Add(1) == 1 && f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.conversations, nil
}

type fakeSocket struct {
	mu        sync.Mutex
	handlers  map[string][]socket.Handler
	emitted   []string
	connected bool
	emitErr   error
}

func (f *fakeSocket) On(eventType string, handler socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string][]socket.Handler{}
	}
	f.handlers[eventType] = append(f.handlers[eventType], handler)
	idx := len(f.handlers[eventType]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers[eventType][idx] = nil
	}
}

func (f *fakeSocket) Emit(eventType string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	if ref, ok := data.(models.ConversationRef); ok {
		f.emitted = append(f.emitted, eventType+":"+ref.ConversationID)
	}
	return nil
}

func (f *fakeSocket) setEmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr = err
}

func (f *fakeSocket) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) attached(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handlers[eventType] {
		if h != nil {
			n++
		}
	}
	return n
}

func (f *fakeSocket) joins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emitted...)
}

func (f *fakeSocket) fire(t *testing.T, eventType string, data interface{}) {
	t.Helper()
	event, err := models.NewEvent(eventType, "", data)
	require.NoError(t, err)

	f.mu.Lock()
	handlers := append([]socket.Handler(nil), f.handlers[eventType]...)
	f.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(event)
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *recorder) notify(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *recorder) all() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

func twoConversations() *fakeAPI {
	return &fakeAPI{conversations: []models.Conversation{{ID: "c1"}, {ID: "c2"}}}
}

func TestStartIsIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	c := NewCoordinator(twoConversations(), sock, Options{UserID: "u1"})
	ctx := context.Background()

	c.Start(ctx)
	c.Start(ctx)
	assert.Equal(t, 1, sock.attached(models.EventNewMessage))
	assert.Equal(t, 1, sock.attached(models.EventConnect))

	c.Stop()
	assert.Equal(t, 0, sock.attached(models.EventNewMessage))

	c.Start(ctx)
	assert.Equal(t, 1, sock.attached(models.EventNewMessage))
}

func TestJoinsEveryConversationOncePerConnection(t *testing.T) {
	api := twoConversations()
	sock := &fakeSocket{}
	c := NewCoordinator(api, sock, Options{UserID: "u1"})
	c.Start(context.Background())
	defer c.Stop()

	sock.fire(t, models.EventConnect, nil)
	assert.Eventually(t, func() bool { return len(sock.joins()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"join_conversation:c1", "join_conversation:c2"}, sock.joins())

	c.JoinAll(context.Background())
	assert.Equal(t, int32(1), api.calls.Load())

	sock.fire(t, models.EventDisconnect, nil)
	sock.fire(t, models.EventReconnect, nil)
	assert.Eventually(t, func() bool { return len(sock.joins()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestStartJoinsWhenAlreadyConnected(t *testing.T) {
	sock := &fakeSocket{connected: true}
	c := NewCoordinator(twoConversations(), sock, Options{UserID: "u1"})
	c.Start(context.Background())
	defer c.Stop()

	assert.Eventually(t, func() bool { return len(sock.joins()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestToastSuppression(t *testing.T) {
	var visible atomic.Bool
	rec := &recorder{}
	sock := &fakeSocket{}
	c := NewCoordinator(&fakeAPI{}, sock, Options{
		UserID:       "u1",
		PanelVisible: visible.Load,
		Notify:       rec.notify,
	})
	c.Start(context.Background())
	defer c.Stop()

	own := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "mine"}
	sock.fire(t, models.EventNewMessage, own)
	assert.Empty(t, rec.all())

	visible.Store(true)
	sock.fire(t, models.EventNewMessage, models.Message{ID: "m2", ConversationID: "c1", SenderID: "u2", Content: "hi"})
	assert.Empty(t, rec.all())

	visible.Store(false)
	sock.fire(t, models.EventNewMessage, models.Message{ID: "m3", ConversationID: "c9", SenderID: "u2", SenderName: "Dr. Ada", Content: "hello"})

	toasts := rec.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, "New message from Dr. Ada", toasts[0].Title)
	assert.Equal(t, "hello", toasts[0].Body)
	assert.Equal(t, "/messages?conversation=c9", toasts[0].Link)

	assert.Equal(t, []string{"join_conversation:c1", "join_conversation:c9"}, sock.joins())
}

func TestNewToastTruncatesBody(t *testing.T) {
	toast := NewToast(models.Message{ConversationID: "c1", Content: strings.Repeat("x", 500)})

	assert.Equal(t, "New message", toast.Title)
	assert.Equal(t, maxBodyLength, len([]rune(toast.Body)))
	assert.True(t, strings.HasSuffix(toast.Body, "…"))
}

func TestDropDuringInitialLoadRejoinsAfterReconnect(t *testing.T) {
	api := twoConversations()
	api.entered = make(chan struct{}, 1)
	api.release = make(chan struct{})
	sock := &fakeSocket{}
	c := NewCoordinator(api, sock, Options{UserID: "u1"})
	c.Start(context.Background())
	defer c.Stop()

	sock.fire(t, models.EventConnect, nil)
	<-api.entered

	sock.fire(t, models.EventDisconnect, nil)
	sock.setEmitErr(errors.New("socket is not connected"))
	close(api.release)

	assert.Never(t, func() bool { return len(sock.joins()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	sock.setEmitErr(nil)
	sock.fire(t, models.EventReconnect, nil)

	assert.Eventually(t, func() bool { return len(sock.joins()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestFailedJoinsAreRetriedOnNextLoad(t *testing.T) {
	api := twoConversations()
	sock := &fakeSocket{emitErr: errors.New("socket is not connected")}
	c := NewCoordinator(api, sock, Options{UserID: "u1"})

	c.JoinAll(context.Background())
	assert.Empty(t, sock.joins())

	sock.setEmitErr(nil)
	c.JoinAll(context.Background())

	assert.ElementsMatch(t, []string{"join_conversation:c1", "join_conversation:c2"}, sock.joins())
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestMessageDeliveredToTwoRoomsToastsOnce(t *testing.T) {
	rec := &recorder{}
	sock := &fakeSocket{}
	c := NewCoordinator(&fakeAPI{}, sock, Options{UserID: "u1", Notify: rec.notify})
	c.Start(context.Background())
	defer c.Stop()

	msg := models.Message{ID: "m1", ConversationID: "c7", SenderID: "u2", Content: "hello"}
	sock.fire(t, models.EventNewMessage, msg)
	sock.fire(t, models.EventNewMessage, msg)

	assert.Len(t, rec.all(), 1)
	assert.Equal(t, []string{"join_conversation:c7"}, sock.joins())
}

func TestRecentIDsForgetsOldest(t *testing.T) {
	r := newRecentIDs(2)

	assert.True(t, r.add("a"))
	assert.True(t, r.add("b"))
	assert.False(t, r.add("a"))
	assert.True(t, r.add("c"))
	assert.True(t, r.add("a"))
	assert.True(t, r.add(""))
	assert.True(t, r.add(""))
}
