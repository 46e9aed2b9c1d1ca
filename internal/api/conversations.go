package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	conversations, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		slog.Error("[API] Failed to list conversations", "user", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to load conversations")
		return
	}

	respondJSON(w, http.StatusOK, conversations)
}

// ConsultationAccess tells the caller whether it may join the room. A
// denial is a 403 that still carries the booking context when there is one.
func (h *Handler) ConsultationAccess(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	roomID := mux.Vars(r)["roomId"]

	access, err := h.store.ConsultationAccess(r.Context(), roomID, userID)
	if err != nil {
		slog.Error("[API] Failed to check consultation access", "user", userID, "room", roomID, "error", err)
		respondError(w, http.StatusInternalServerError, "unable to verify consultation access")
		return
	}

	if !access.Allowed {
		respondErrorData(w, http.StatusForbidden, access.Reason, access)
		return
	}

	respondJSON(w, http.StatusOK, access)
}
