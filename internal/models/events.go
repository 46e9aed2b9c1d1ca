package models

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Event names carried in the envelope's type field.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventReconnect  = "reconnect"

	EventConnectionSuccess = "connection_success"
	EventError             = "error"

	EventNewNotification = "new_notification"
	EventUnreadCount     = "unread_notifications_count"

	EventNewMessage         = "new_message"
	EventJoinConversation   = "join_conversation"
	EventLeaveConversation  = "leave_conversation"
	EventConversationJoined = "conversation_joined"

	EventConsultJoin       = "consultation:join"
	EventConsultJoined     = "consultation:joined"
	EventConsultWaiting    = "consultation:waiting"
	EventConsultPeerReady  = "consultation:peer-ready"
	EventConsultPeerJoined = "consultation:peer-joined"
	EventConsultPeerOffer  = "consultation:peer-offer"
	EventConsultICE        = "consultation:ice-candidate"
	EventConsultPeerLeft   = "consultation:peer-left"
	EventConsultLeave      = "consultation:leave"
	EventConsultError      = "consultation:error"
)

// Event is the envelope for every socket frame and every broker message.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	From      string          `json:"from,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into a new envelope addressed to room.
func NewEvent(eventType, room string, data interface{}) (Event, error) {
	event := Event{
		Type:      eventType,
		Room:      room,
		Timestamp: time.Now().Unix(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return event, err
		}
		event.Data = raw
	}

	return event, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return errors.New("event has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// BroadcastMessage is an encoded event on its way to the clients of a room.
// Exclude names a client id that must not receive it.
type BroadcastMessage struct {
	Room    string
	Exclude string
	Payload []byte
}

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
	consultRoomPrefix      = "consult:"
)

func UserRoom(userID string) string { return userRoomPrefix + userID }

func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

func ConsultRoom(roomID string) string { return consultRoomPrefix + roomID }

// ConnectionInfo is sent with connection_success once the socket is
// authenticated.
type ConnectionInfo struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// ErrorData is the payload of error and consultation:error events.
type ErrorData struct {
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message"`
}
