package api

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/arcs-relay/internal/devices"
	"github.com/technosupport/arcs-relay/internal/session"
	"github.com/technosupport/arcs-relay/internal/stream"
)

var deviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ConnectionCounter reports currently open relay connections. Satisfied
// by the relay server; nil-able for tests that run the API alone.
type ConnectionCounter interface {
	ConnectionCount() int
}

type Handler struct {
	Registry *devices.Registry
	Sessions *session.Manager
	Streams  *stream.Router
	Relay    ConnectionCounter

	startedAt time.Time
}

func NewHandler(registry *devices.Registry, sessions *session.Manager, streams *stream.Router, relay ConnectionCounter) *Handler {
	return &Handler{
		Registry:  registry,
		Sessions:  sessions,
		Streams:   streams,
		Relay:     relay,
		startedAt: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"active_sessions": h.Sessions.ActiveCount(),
		"devices":         h.Registry.Count(),
	}
	if h.Relay != nil {
		resp["connections"] = h.Relay.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerRequest struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
	Model    string `json:"model"`
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !deviceIDRegex.MatchString(req.DeviceID) {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	if req.Secret == "" {
		http.Error(w, "secret is required", http.StatusBadRequest)
		return
	}

	if !h.Registry.Register(req.DeviceID, req.Secret, req.Model) {
		http.Error(w, "device already registered", http.StatusConflict)
		return
	}

	log.Printf("[API] Device registered: %s", req.DeviceID)
	writeJSON(w, http.StatusCreated, map[string]string{"device_id": req.DeviceID, "status": "registered"})
}

func (h *Handler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if !h.Registry.Deactivate(deviceID) {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	log.Printf("[API] Device deactivated: %s", deviceID)
	writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "status": "deactivated"})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.Sessions.List()
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, ok := h.Sessions.Get(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"stream":  h.Streams.GetStats(sessionID),
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	sessions := h.Sessions.List()
	perSession := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		perSession = append(perSession, map[string]interface{}{
			"session_id": sess.SessionID,
			"device_id":  sess.DeviceID,
			"stream":     h.Streams.GetStats(sess.SessionID),
		})
	}

	resp := map[string]interface{}{
		"active_sessions": len(sessions),
		"sessions":        perSession,
	}
	if h.Relay != nil {
		resp["connections"] = h.Relay.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
