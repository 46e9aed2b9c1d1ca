package ws

import (
	"context"
	"errors"
	"log/slog"

	"eyecare-realtime/internal/models"
)

func (c *Client) participant() models.ConsultParticipant {
	return models.ConsultParticipant{UserID: c.userID, PeerID: c.peerID, ClientID: c.id}
}

// joinConsultation admits the client to a consultation room. The first
// participant waits. The second is told the first one's peer id and is
// expected to place the call, while the first learns that a peer joined.
func (c *Client) joinConsultation(ctx context.Context, req models.ConsultJoin) {
	if req.PeerID == "" {
		c.sendConsultError(req.RoomID, "peerId required")
		return
	}
	if c.consultRoom != "" {
		c.leaveConsultation(ctx)
	}

	access, err := c.hub.access.ConsultationAccess(ctx, req.RoomID, c.userID)
	if err != nil {
		slog.Error("[CONSULT] Failed to check access", "user", c.userID, "room", req.RoomID, "error", err)
		c.sendConsultError(req.RoomID, "unable to verify access to this consultation")
		return
	}
	if !access.Allowed {
		slog.Warn("[CONSULT] Access denied", "user", c.userID, "room", req.RoomID, "reason", access.Reason)
		c.sendConsultError(req.RoomID, access.Reason)
		return
	}

	c.peerID = req.PeerID
	others, err := c.hub.registry.Join(ctx, req.RoomID, c.participant())
	if err != nil {
		c.peerID = ""
		if errors.Is(err, ErrRoomFull) {
			c.sendConsultError(req.RoomID, "consultation already has two participants")
			return
		}
		slog.Error("[CONSULT] Failed to register participant", "user", c.userID, "room", req.RoomID, "error", err)
		c.sendConsultError(req.RoomID, "unable to join consultation")
		return
	}

	room := models.ConsultRoom(req.RoomID)
	c.hub.Join(c, room)
	c.consultRoom = req.RoomID

	// The registry keeps one entry per user, so an older socket of the
	// same user stops taking part in the room.
	for _, old := range c.hub.Supersede(c, room) {
		slog.Info("[CONSULT] Superseded participant", "user", c.userID, "room", req.RoomID, "client", old.id)
		old.sendConsultError(req.RoomID, "joined from another connection")
	}

	slog.Info("[CONSULT] Participant joined", "user", c.userID, "room", req.RoomID, "others", len(others))

	c.sendEvent(models.EventConsultJoined, room, models.ConsultJoined{RoomID: req.RoomID, Participants: len(others) + 1})

	if len(others) == 0 {
		c.sendEvent(models.EventConsultWaiting, room, models.ConsultRoomRef{RoomID: req.RoomID})
		return
	}

	remote := others[0]
	c.sendEvent(models.EventConsultPeerReady, room, models.ConsultPeer{RoomID: req.RoomID, UserID: remote.UserID, PeerID: remote.PeerID})
	c.publishToRoom(ctx, models.EventConsultPeerJoined, req.RoomID, models.ConsultPeer{RoomID: req.RoomID, UserID: c.userID, PeerID: c.peerID})
}

// leaveConsultation removes the client from its consultation room and tells
// the remaining participant.
func (c *Client) leaveConsultation(ctx context.Context) {
	if c.consultRoom == "" {
		return
	}
	roomID := c.consultRoom

	if err := c.hub.registry.Leave(ctx, roomID, c.participant()); err != nil {
		slog.Error("[CONSULT] Failed to unregister participant", "user", c.userID, "room", roomID, "error", err)
	}

	room := models.ConsultRoom(roomID)
	c.consultRoom = ""
	if !c.hub.InRoom(c, room) {
		slog.Debug("[CONSULT] Superseded participant left", "user", c.userID, "room", roomID, "client", c.id)
		c.peerID = ""
		return
	}

	c.hub.Leave(c, room)
	c.publishToRoom(ctx, models.EventConsultPeerLeft, roomID, models.ConsultPeer{RoomID: roomID, UserID: c.userID, PeerID: c.peerID})

	slog.Info("[CONSULT] Participant left", "user", c.userID, "room", roomID)
	c.peerID = ""
}

// relaySignal forwards negotiation data to the other participant of the
// room the client is in.
func (c *Client) relaySignal(ctx context.Context, event models.Event) {
	var signal models.ConsultSignal
	if err := event.Decode(&signal); err != nil {
		c.sendConsultError("", "malformed signal")
		return
	}
	if signal.RoomID == "" || signal.RoomID != c.consultRoom || !c.hub.InRoom(c, models.ConsultRoom(signal.RoomID)) {
		c.sendConsultError(signal.RoomID, "not joined to this consultation")
		return
	}

	c.publishToRoom(ctx, event.Type, signal.RoomID, signal)
}

// publishToRoom sends an event to the consultation room, skipping this
// client.
func (c *Client) publishToRoom(ctx context.Context, eventType, roomID string, data interface{}) {
	event, err := models.NewEvent(eventType, models.ConsultRoom(roomID), data)
	if err != nil {
		slog.Error("[CONSULT] Failed to build event", "type", eventType, "error", err)
		return
	}
	event.From = c.id

	if err := c.hub.broker.PublishEvent(ctx, event); err != nil {
		slog.Error("[CONSULT] Failed to publish event", "type", eventType, "room", roomID, "error", err)
	}
}

func (c *Client) sendConsultError(roomID, message string) {
	c.sendEvent(models.EventConsultError, "", models.ErrorData{RoomID: roomID, Message: message})
}
