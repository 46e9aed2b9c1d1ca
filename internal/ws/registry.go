package ws

import (
	"context"
	"sync"

	"eyecare-realtime/internal/models"
)

// MaxConsultParticipants is the number of distinct users a consultation
// room holds.
const MaxConsultParticipants = 2

// MemoryRegistry keeps consultation participants in process memory.
type MemoryRegistry struct {
	mu    sync.Mutex
	rooms map[string][]models.ConsultParticipant
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rooms: make(map[string][]models.ConsultParticipant)}
}

func (r *MemoryRegistry) Join(ctx context.Context, roomID string, p models.ConsultParticipant) ([]models.ConsultParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var others []models.ConsultParticipant
	for _, existing := range r.rooms[roomID] {
		if existing.UserID != p.UserID {
			others = append(others, existing)
		}
	}
	if len(others) >= MaxConsultParticipants {
		return nil, ErrRoomFull
	}

	r.rooms[roomID] = append(append([]models.ConsultParticipant{}, others...), p)
	return others, nil
}

func (r *MemoryRegistry) Leave(ctx context.Context, roomID string, p models.ConsultParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []models.ConsultParticipant
	for _, existing := range r.rooms[roomID] {
		if existing.UserID == p.UserID && existing.ClientID == p.ClientID {
			continue
		}
		kept = append(kept, existing)
	}

	if len(kept) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.rooms[roomID] = kept
	}
	return nil
}

// Participants returns a copy of the room's participants.
func (r *MemoryRegistry) Participants(roomID string) []models.ConsultParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.ConsultParticipant{}, r.rooms[roomID]...)
}
