package handlers

import (
	"encoding/json"
	"net/http"

	"codecollab/internal/services"
	"codecollab/pkg/logger"
)

type SessionHandlers struct {
	sessionService *services.SessionService
}

func NewSessionHandlers(sessionService *services.SessionService) *SessionHandlers {
	return &SessionHandlers{sessionService: sessionService}
}

// ListSessions returns the public sessions open for browsing.
func (h *SessionHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionService.ListPublicSessions(r.Context())
	if err != nil {
		logger.Error("List sessions error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (h *SessionHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.sessionService.Ping(r.Context()); err != nil {
		logger.Error("Health check store ping failed: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
