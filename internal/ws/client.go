package ws

import (
	"context"
	"log/slog"
	"time"

	"eyecare-realtime/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 512 * 1024 // 512 KB

	// Time allowed for a lookup made on behalf of a client event
	handleTimeout = 5 * time.Second

	sendBuffer = 256
)

type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	userName string
	role     string

	// Guarded by hub.mu
	rooms  map[string]bool
	closed bool

	// Owned by the ReadPump goroutine
	consultRoom string
	peerID      string
}

func newClient(hub *Hub, conn *websocket.Conn, id, userID, userName, role string) *Client {
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		userID:   userID,
		userName: userName,
		role:     role,
		rooms:    make(map[string]bool),
	}
}

// ReadPump pumps messages from WebSocket to hub
func (c *Client) ReadPump() {
	defer func() {
		if c.consultRoom != "" {
			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			c.leaveConsultation(ctx)
			cancel()
		}
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[CLIENT] Unexpected close", "user", c.userID, "client", c.id, "error", err)
			}
			break
		}

		c.handleClientMessage(message)
	}
}

// WritePump pumps messages from hub to WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("[CLIENT] Failed to write message", "user", c.userID, "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Error("[CLIENT] Failed to send ping", "user", c.userID, "client", c.id, "error", err)
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(message []byte) {
	var event models.Event
	if err := json.Unmarshal(message, &event); err != nil {
		slog.Error("[CLIENT] Error unmarshaling message", "user", c.userID, "client", c.id, "error", err)
		c.sendError("", "malformed event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch event.Type {
	case models.EventJoinConversation:
		var ref models.ConversationRef
		if err := event.Decode(&ref); err != nil || ref.ConversationID == "" {
			c.sendError("", "conversationId required")
			return
		}
		c.joinConversation(ctx, ref.ConversationID)

	case models.EventLeaveConversation:
		var ref models.ConversationRef
		if err := event.Decode(&ref); err == nil && ref.ConversationID != "" {
			c.hub.Leave(c, models.ConversationRoom(ref.ConversationID))
		}

	case models.EventConsultJoin:
		var req models.ConsultJoin
		if err := event.Decode(&req); err != nil || req.RoomID == "" {
			c.sendConsultError("", "roomId required")
			return
		}
		c.joinConsultation(ctx, req)

	case models.EventConsultLeave:
		c.leaveConsultation(ctx)

	case models.EventConsultPeerOffer, models.EventConsultICE:
		c.relaySignal(ctx, event)

	default:
		slog.Warn("[CLIENT] Unknown event type", "type", event.Type, "user", c.userID, "client", c.id)
	}
}

func (c *Client) joinConversation(ctx context.Context, conversationID string) {
	ok, err := c.hub.access.IsConversationParticipant(ctx, conversationID, c.userID)
	if err != nil {
		slog.Error("[CLIENT] Failed to check conversation membership", "user", c.userID, "conversation", conversationID, "error", err)
		c.sendError("", "unable to join conversation")
		return
	}
	if !ok {
		slog.Warn("[CLIENT] Refused conversation join", "user", c.userID, "conversation", conversationID)
		c.sendError("", "not a participant of this conversation")
		return
	}

	c.hub.Join(c, models.ConversationRoom(conversationID))
	c.sendEvent(models.EventConversationJoined, "", models.ConversationRef{ConversationID: conversationID})
}

// sendEvent queues an event for this client only.
func (c *Client) sendEvent(eventType, room string, data interface{}) {
	event, err := models.NewEvent(eventType, room, data)
	if err != nil {
		slog.Error("[CLIENT] Failed to build event", "type", eventType, "error", err)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("[CLIENT] Failed to marshal event", "type", eventType, "error", err)
		return
	}

	c.hub.deliver(c, payload)
}

func (c *Client) sendError(roomID, message string) {
	c.sendEvent(models.EventError, "", models.ErrorData{RoomID: roomID, Message: message})
}
