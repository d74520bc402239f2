package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler exposes the WebSocket endpoint and the operational endpoints.
type Handler struct {
	hub *Hub
}

// NewHandler creates a handler over the hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleConnection upgrades /ws requests. The client supplies its stable
// session identity via the session_id query parameter; first-time clients
// get a fresh one, echoed back in the welcome frame.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	if err := h.hub.ServeConnection(w, r, sessionID); err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to serve WebSocket connection")
		return
	}
}

// HandleStats returns connection counts and the current coordination
// snapshot as JSON.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	snap := h.hub.coord.Snapshot(r.Context())

	body := map[string]any{
		"gateway": h.hub.Stats(),
		"state":   snap,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode stats response")
	}
}

// HandleHealth reports process liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// RegisterRoutes registers the gateway routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/healthz", h.HandleHealth)
}
