package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"eyecare-realtime/internal/models"
	"eyecare-realtime/internal/push"

	"github.com/gorilla/websocket"
)

var (
	ErrRoomFull   = errors.New("consultation room is full")
	ErrHubStopped = errors.New("hub is not running")
)

// AccessChecker answers the membership questions the hub asks before
// letting a socket into a room.
type AccessChecker interface {
	IsConversationParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ConsultationAccess(ctx context.Context, roomID, userID string) (*models.ConsultationAccess, error)
}

// ConsultRegistry tracks who is in each consultation room. Join returns the
// participants already present, excluding the caller's own user.
type ConsultRegistry interface {
	Join(ctx context.Context, roomID string, p models.ConsultParticipant) ([]models.ConsultParticipant, error)
	Leave(ctx context.Context, roomID string, p models.ConsultParticipant) error
}

// Hub maintains active WebSocket connections and the rooms they joined.
type Hub struct {
	// Map: room -> set of clients
	rooms map[string]map[*Client]bool

	// Guards rooms and every client's rooms/closed fields
	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// Broadcast messages to clients in a room (exported for Redis pubsub access)
	Broadcast chan *models.BroadcastMessage

	broker   push.Broker
	access   AccessChecker
	registry ConsultRegistry

	upgrader websocket.Upgrader
	done     chan struct{}
}

// NewHub creates a hub. A nil broker delivers events in-process only.
func NewHub(broker push.Broker, access AccessChecker, registry ConsultRegistry) *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		Broadcast:  make(chan *models.BroadcastMessage),
		access:     access,
		registry:   registry,
		done:       make(chan struct{}),
	}
	if broker == nil {
		broker = NewLocalBroker(h)
	}
	h.broker = broker
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// AllowOrigins restricts socket upgrades to the given origins. With no
// origins every origin is accepted.
func (h *Hub) AllowOrigins(origins []string) {
	if len(origins) == 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
		return
	}

	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Broker returns the broker used for room fan-out.
func (h *Hub) Broker() push.Broker {
	return h.broker
}

func (h *Hub) Run(ctx context.Context) {
	slog.Info("[HUB] Starting hub event loop")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			slog.Info("[HUB] Stopping hub event loop")
			h.closeAll()
			return

		case client := <-h.register:
			slog.Debug("[HUB] Received register request", "user", client.userID, "client", client.id)
			h.registerClient(client)

		case client := <-h.unregister:
			slog.Debug("[HUB] Received unregister request", "user", client.userID, "client", client.id)
			h.unregisterClient(client)

		case message := <-h.Broadcast:
			h.broadcastToRoom(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.joinLocked(client, models.UserRoom(client.userID))
	h.mu.Unlock()

	slog.Info("[HUB] Client registered", "user", client.userID, "role", client.role, "client", client.id)

	client.sendEvent(models.EventConnectionSuccess, "", models.ConnectionInfo{
		ClientID: client.id,
		UserID:   client.userID,
		Name:     client.userName,
		Role:     client.role,
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return
	}
	h.dropLocked(client)

	slog.Info("[HUB] Client unregistered", "user", client.userID, "client", client.id)
}

// dropLocked removes client from every room and closes its send channel.
func (h *Hub) dropLocked(client *Client) {
	for room := range client.rooms {
		h.leaveLocked(client, room)
	}
	client.closed = true
	close(client.send)
}

func (h *Hub) broadcastToRoom(message *models.BroadcastMessage) {
	h.mu.RLock()
	clients, ok := h.rooms[message.Room]
	if !ok {
		h.mu.RUnlock()
		slog.Debug("[HUB] No clients in room", "room", message.Room)
		return
	}

	sent := 0
	var slow []*Client
	for client := range clients {
		if client.id == message.Exclude {
			continue
		}
		select {
		case client.send <- message.Payload:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			if !client.closed {
				slog.Warn("[HUB] Client buffer full, disconnecting", "user", client.userID, "client", client.id)
				h.dropLocked(client)
			}
		}
		h.mu.Unlock()
	}

	slog.Debug("[HUB] Broadcast complete", "room", message.Room, "sent", sent, "failed", len(slow))
}

// Join adds client to room.
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !client.closed {
		h.joinLocked(client, room)
	}
}

// Leave removes client from room.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, room)
}

// Supersede removes every other client of keep's user from room and
// returns them.
func (h *Hub) Supersede(keep *Client, room string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var evicted []*Client
	for client := range h.rooms[room] {
		if client != keep && client.userID == keep.userID {
			evicted = append(evicted, client)
		}
	}
	for _, client := range evicted {
		h.leaveLocked(client, room)
	}
	return evicted
}

// InRoom reports whether client is currently a member of room.
func (h *Hub) InRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.rooms[room][client]
}

func (h *Hub) joinLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

func (h *Hub) leaveLocked(client *Client, room string) {
	delete(client.rooms, room)

	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
}

// RoomUsers returns the ids of the users connected to room.
func (h *Hub) RoomUsers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	users := []string{}
	for client := range h.rooms[room] {
		if !seen[client.userID] {
			seen[client.userID] = true
			users = append(users, client.userID)
		}
	}
	return users
}

// deliver queues payload for a single client unless it was already dropped.
func (h *Hub) deliver(client *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client.closed {
		return false
	}
	select {
	case client.send <- payload:
		return true
	default:
		slog.Warn("[HUB] Client buffer full, dropping direct event", "user", client.userID, "client", client.id)
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.rooms {
		for client := range clients {
			if !client.closed {
				h.dropLocked(client)
			}
		}
	}
}
