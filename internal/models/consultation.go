package models

import "time"

const BookingConfirmed = "confirmed"

// BookingSummary is the booking context shown when access is denied.
type BookingSummary struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	PatientID     string    `json:"patientId"`
	OptometristID string    `json:"optometristId"`
	ScheduledAt   time.Time `json:"scheduledAt"`
}

type ConsultationAccess struct {
	RoomID  string          `json:"roomId"`
	Allowed bool            `json:"allowed"`
	Reason  string          `json:"reason,omitempty"`
	Booking *BookingSummary `json:"booking,omitempty"`
}

// ConsultParticipant is one side of a consultation room.
type ConsultParticipant struct {
	UserID   string `json:"userId"`
	PeerID   string `json:"peerId"`
	ClientID string `json:"clientId"`
}

type ConsultJoin struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

type ConsultJoined struct {
	RoomID       string `json:"roomId"`
	Participants int    `json:"participants"`
}

// ConsultPeer announces a remote peer in peer-ready, peer-joined and
// peer-left events.
type ConsultPeer struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	PeerID string `json:"peerId,omitempty"`
}

// ConsultSignal carries opaque negotiation data between the two peers.
type ConsultSignal struct {
	RoomID  string      `json:"roomId"`
	Payload interface{} `json:"payload"`
}

type ConsultRoomRef struct {
	RoomID string `json:"roomId"`
}
