package toasts

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"unicode/utf8"

	"eyecare-realtime/internal/client/socket"
	"eyecare-realtime/internal/models"
)

const (
	maxBodyLength = 120
	seenMessages  = 256
)

type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
}

type Socket interface {
	On(eventType string, handler socket.Handler) (off func())
	Emit(eventType string, data interface{}) error
	Connected() bool
}

// Toast is a transient alert for an inbound message.
type Toast struct {
	ConversationID string
	Title          string
	Body           string
	Link           string
}

type Options struct {
	// UserID is the signed in user. Their own messages never raise a toast.
	UserID string

	// PanelVisible reports whether the message panel is on screen.
	PanelVisible func() bool

	Notify func(Toast)
}

// Coordinator joins the user's conversation rooms and turns inbound
// messages into toasts.
type Coordinator struct {
	api  API
	sock Socket
	opts Options

	mu         sync.Mutex
	offs       []func()
	generation uint64
	joined     map[string]bool
	loaded     bool
	loading    bool

	// Messages arrive once per room they are sent to.
	seen *recentIDs
}

func NewCoordinator(api API, sock Socket, opts Options) *Coordinator {
	if opts.PanelVisible == nil {
		opts.PanelVisible = func() bool { return false }
	}
	if opts.Notify == nil {
		opts.Notify = func(Toast) {}
	}
	return &Coordinator{
		api:    api,
		sock:   sock,
		opts:   opts,
		joined: make(map[string]bool),
		seen:   newRecentIDs(seenMessages),
	}
}

// Start attaches the socket listeners. Calling it again while started does
// nothing.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.offs != nil {
		c.mu.Unlock()
		return
	}

	onReady := func(models.Event) { go c.JoinAll(ctx) }
	c.offs = []func(){
		c.sock.On(models.EventConnect, onReady),
		c.sock.On(models.EventReconnect, onReady),
		c.sock.On(models.EventDisconnect, func(models.Event) { c.reset() }),
		c.sock.On(models.EventNewMessage, c.handleMessage),
	}
	c.mu.Unlock()

	if c.sock.Connected() {
		go c.JoinAll(ctx)
	}
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	offs := c.offs
	c.offs = nil
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}
	c.reset()
}

// reset forgets the joined rooms; the server drops them with the socket.
// Loads still running for the old connection become stale.
func (c *Coordinator) reset() {
	c.mu.Lock()
	c.generation++
	c.joined = make(map[string]bool)
	c.loaded = false
	c.loading = false
	c.mu.Unlock()
}

// JoinAll lists the user's conversations and joins each room. It runs once
// per connection.
func (c *Coordinator) JoinAll(ctx context.Context) {
	c.mu.Lock()
	if c.loaded || c.loading {
		c.mu.Unlock()
		return
	}
	c.loading = true
	gen := c.generation
	c.mu.Unlock()

	conversations, err := c.api.ListConversations(ctx)

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		slog.Debug("[TOASTS] Dropping conversation list of a closed connection")
		return
	}
	c.loading = false
	if err != nil {
		c.mu.Unlock()
		slog.Warn("[TOASTS] Failed to list conversations", "error", err)
		return
	}
	c.loaded = true
	c.mu.Unlock()

	failed := 0
	for _, conv := range conversations {
		if !c.join(gen, conv.ID) {
			failed++
		}
	}

	if failed > 0 {
		c.mu.Lock()
		if c.generation == gen {
			c.loaded = false
		}
		c.mu.Unlock()
		slog.Warn("[TOASTS] Some conversation rooms were not joined", "failed", failed, "count", len(conversations))
		return
	}
	slog.Debug("[TOASTS] Joined conversation rooms", "count", len(conversations))
}

// join emits a join for the conversation unless it is already joined on
// connection gen. It reports false when the room could not be joined.
func (c *Coordinator) join(gen uint64, conversationID string) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false
	}
	if c.joined[conversationID] {
		c.mu.Unlock()
		return true
	}
	c.joined[conversationID] = true
	c.mu.Unlock()

	if err := c.sock.Emit(models.EventJoinConversation, models.ConversationRef{ConversationID: conversationID}); err != nil {
		slog.Warn("[TOASTS] Failed to join conversation", "conversation", conversationID, "error", err)
		c.mu.Lock()
		if c.generation == gen {
			delete(c.joined, conversationID)
		}
		c.mu.Unlock()
		return false
	}
	return true
}

func (c *Coordinator) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Coordinator) handleMessage(event models.Event) {
	var msg models.Message
	if err := event.Decode(&msg); err != nil || msg.ConversationID == "" {
		slog.Warn("[TOASTS] Ignoring malformed message event", "error", err)
		return
	}

	if !c.seen.add(msg.ID) {
		return
	}

	c.join(c.currentGeneration(), msg.ConversationID)

	if msg.SenderID == c.opts.UserID {
		return
	}
	if c.opts.PanelVisible() {
		return
	}

	c.opts.Notify(NewToast(msg))
}

// NewToast builds the alert shown for msg.
func NewToast(msg models.Message) Toast {
	title := "New message"
	if msg.SenderName != "" {
		title = "New message from " + msg.SenderName
	}

	return Toast{
		ConversationID: msg.ConversationID,
		Title:          title,
		Body:           truncate(msg.Content, maxBodyLength),
		Link:           "/messages?conversation=" + url.QueryEscape(msg.ConversationID),
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

// recentIDs remembers the last n ids added.
type recentIDs struct {
	mu    sync.Mutex
	ids   map[string]bool
	order []string
	next  int
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{ids: make(map[string]bool, n), order: make([]string, n)}
}

// add records id and reports whether it was new. Empty ids are always new.
func (r *recentIDs) add(id string) bool {
	if id == "" {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ids[id] {
		return false
	}
	if old := r.order[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.order[r.next] = id
	r.next = (r.next + 1) % len(r.order)
	r.ids[id] = true
	return true
}
