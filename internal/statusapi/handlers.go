// ABOUTME: HTTP handlers for health checks, agent status, and the journal
// ABOUTME: Includes an SSE stream of live engine events for watchers

package statusapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/familiar/internal/engine"
	"github.com/2389/familiar/internal/queue"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// DeviceInfo is the device section of the status response.
type DeviceInfo struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name,omitempty"`
	Hostname                string     `json:"hostname,omitempty"`
	MaxConcurrentWorkspaces int        `json:"max_concurrent_workspaces"`
	AvailableSlots          int        `json:"available_slots"`
	CurrentDiskUsageBytes   int64      `json:"current_disk_usage_bytes"`
	LastHeartbeat           *time.Time `json:"last_heartbeat,omitempty"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Agent         string            `json:"agent"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Device        *DeviceInfo       `json:"device,omitempty"`
	Engine        engine.Snapshot   `json:"engine"`
	Workspaces    []queue.Workspace `json:"workspaces"`
}

// EventsResponse is the JSON response for GET /api/events.
type EventsResponse struct {
	Events []*queue.Event `json:"events"`
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the device is registered and the
// engine is polling. Until then it reports 503 with a reason.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.device == nil || s.device.Device() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("device not registered"))
		return
	}
	if state := s.eng.State(); state != engine.StateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "engine not running (state %s)", state)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (agent %s)", s.cfg.AgentName)
}

// handleStatus handles GET /api/status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		Agent:         s.cfg.AgentName,
		Version:       s.cfg.Version,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Engine:        s.eng.Snapshot(),
		Workspaces:    []queue.Workspace{},
	}
	if s.workspaces != nil {
		resp.Workspaces = s.workspaces.Snapshot()
	}
	if s.device != nil {
		if dev := s.device.Device(); dev != nil {
			info := &DeviceInfo{
				ID:                      dev.ID,
				Name:                    dev.Name,
				Hostname:                dev.Hostname,
				MaxConcurrentWorkspaces: dev.MaxConcurrentWorkspaces,
				AvailableSlots:          s.device.AvailableSlots(),
				CurrentDiskUsageBytes:   dev.CurrentDiskUsageBytes,
			}
			if hb := s.device.LastHeartbeat(); !hb.IsZero() {
				info.LastHeartbeat = &hb
			}
			resp.Device = info
		}
	}

	s.writeJSON(w, resp)
}

// handleEvents handles GET /api/events requests. Supports ?limit=N and
// ?workspace=ID to scope the journal to one workspace.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	var (
		events []*queue.Event
		err    error
	)
	if workspaceID := r.URL.Query().Get("workspace"); workspaceID != "" {
		events, err = s.events.ListEvents(r.Context(), workspaceID, limit)
	} else {
		events, err = s.events.RecentEvents(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("failed to load events", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*queue.Event{}
	}

	s.writeJSON(w, EventsResponse{Events: events})
}

// handleEventStream handles GET /api/events/stream requests. It
// subscribes to live engine events and forwards them as SSE until the
// client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, subID := s.eng.Subscribe(r.Context())
	s.logger.Debug("event stream subscriber connected", "sub_id", subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, "connected", map[string]string{"agent": s.cfg.AgentName})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			s.writeSSEEvent(w, event.Type, event)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
