package ws

import (
	"log/slog"
	"net/http"

	"eyecare-realtime/internal/auth"

	"github.com/google/uuid"
)

// ServeWS authenticates the request, upgrades it and registers the socket
// with the hub.
func ServeWS(hub *Hub, validator *auth.Validator, w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	slog.Debug("[WS] New WebSocket connection request", "from", remoteAddr)

	token := auth.ExtractTokenFromRequest(r)
	if token == "" {
		slog.Warn("[WS] No token provided", "from", remoteAddr)
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		slog.Warn("[WS] Token validation failed", "from", remoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "user", claims.UserID(), "error", err)
		return
	}

	client := newClient(hub, conn, uuid.NewString(), claims.UserID(), claims.Name, claims.Role)
	slog.Info("[WS] Connection upgraded", "user", client.userID, "client", client.id)

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
