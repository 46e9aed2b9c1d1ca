package api

import (
	"log/slog"
	"net/http"

	"eyecare-realtime/internal/models"

	"github.com/goccy/go-json"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeResponse(w, status, models.Response{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	writeResponse(w, status, models.Response{Success: true, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeResponse(w, status, models.Response{Success: false, Message: message})
}

func respondErrorData(w http.ResponseWriter, status int, message string, data interface{}) {
	writeResponse(w, status, models.Response{Success: false, Message: message, Data: data})
}

func writeResponse(w http.ResponseWriter, status int, body models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}
