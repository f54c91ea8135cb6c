// ABOUTME: In-memory fake task queue backend for manual E2E testing
// ABOUTME: Usage: fake-queue [-addr 127.0.0.1:8717] [-token secret] [-tasks 3]

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/familiar/internal/queue"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8717", "listen address")
	token := flag.String("token", "", "required bearer token (empty accepts any)")
	taskCount := flag.Int("tasks", 3, "number of tasks to seed")
	needsWorkspace := flag.Bool("needs-workspace", false, "seeded tasks request a workspace")
	repoURL := flag.String("repo", "", "repository URL for seeded workspace tasks")
	flag.Parse()

	q := newFakeQueue(*token)
	for i := 1; i <= *taskCount; i++ {
		q.addTask(queue.Task{
			ID:             fmt.Sprintf("task-%d", i),
			Description:    fmt.Sprintf("echo hello %d", i),
			Status:         queue.TaskStatusPending,
			Mode:           queue.ModeExecute,
			NeedsWorkspace: *needsWorkspace,
			RepoURL:        *repoURL,
			CreatedAt:      time.Now().UTC(),
		})
	}

	log.Printf("fake-queue listening on %s (%d tasks seeded)", *addr, *taskCount)
	if *token != "" {
		log.Printf("requiring bearer token %q", *token)
	}
	log.Fatal(http.ListenAndServe(*addr, q.routes()))
}

// fakeQueue holds all backend state in memory behind one mutex. It is a
// test double for the real service, not a durable queue.
type fakeQueue struct {
	mu         sync.Mutex
	token      string
	revoked    bool
	tasks      map[string]*queue.Task
	taskOrder  []string
	results    map[string]queue.TaskResult
	failures   map[string]string
	devices    map[string]*queue.Device
	workspaces map[string]*queue.Workspace
	artifacts  map[string][]queue.Artifact
}

func newFakeQueue(token string) *fakeQueue {
	return &fakeQueue{
		token:      token,
		tasks:      make(map[string]*queue.Task),
		results:    make(map[string]queue.TaskResult),
		failures:   make(map[string]string),
		devices:    make(map[string]*queue.Device),
		workspaces: make(map[string]*queue.Workspace),
		artifacts:  make(map[string][]queue.Artifact),
	}
}

func (q *fakeQueue) addTask(task queue.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := task
	q.tasks[t.ID] = &t
	q.taskOrder = append(q.taskOrder, t.ID)
}

func (q *fakeQueue) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/agents/", q.auth(q.handleAgentTasks))
	mux.HandleFunc("/api/tasks/", q.auth(q.handleTaskAction))
	mux.HandleFunc("/api/devices", q.auth(q.handleDevices))
	mux.HandleFunc("/api/devices/", q.auth(q.handleDeviceRoutes))
	mux.HandleFunc("/api/workspaces", q.auth(q.handleWorkspaces))
	mux.HandleFunc("/api/workspaces/", q.auth(q.handleWorkspaceRoutes))

	// Unauthenticated control endpoints for driving E2E scenarios.
	mux.HandleFunc("/control/tasks", q.handleControlTasks)
	mux.HandleFunc("/control/revoke", q.handleControlRevoke)
	mux.HandleFunc("/control/state", q.handleControlState)

	return mux
}

// auth enforces the bearer token when one is configured, and rejects
// everything after /control/revoke to exercise agent sign-out.
func (q *fakeQueue) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		revoked, token := q.revoked, q.token
		q.mu.Unlock()

		if revoked {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// handleAgentTasks handles GET /api/agents/{name}/tasks.
func (q *fakeQueue) handleAgentTasks(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(rest, "/")
	if r.Method != http.MethodGet || len(parts) != 2 || parts[1] != "tasks" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	q.mu.Lock()
	pending := make([]queue.Task, 0)
	for _, id := range q.taskOrder {
		if t := q.tasks[id]; t.Status == queue.TaskStatusPending {
			pending = append(pending, *t)
		}
	}
	q.mu.Unlock()

	log.Printf("poll from %s: %d pending", parts[0], len(pending))
	writeJSON(w, pending)
}

// handleTaskAction handles POST/PATCH /api/tasks/{id}/{action}.
func (q *fakeQueue) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	taskID, action := parts[0], parts[1]

	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case action == "accept" && r.Method == http.MethodPost:
		if task.Status != queue.TaskStatusPending {
			sendError(w, http.StatusConflict, fmt.Sprintf("task %s is %s", taskID, task.Status))
			return
		}
		var body struct {
			AgentName string `json:"agent_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		task.Status = queue.TaskStatusAccepted
		task.AgentName = body.AgentName
		log.Printf("task %s accepted by %s", taskID, body.AgentName)

	case action == "status" && r.Method == http.MethodPatch:
		var body struct {
			Status queue.TaskStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		task.Status = body.Status
		log.Printf("task %s -> %s", taskID, body.Status)

	case action == "complete" && r.Method == http.MethodPost:
		var result queue.TaskResult
		if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		task.Status = queue.TaskStatusCompleted
		q.results[taskID] = result
		log.Printf("task %s completed (%d in / %d out tokens)", taskID, result.InputTokens, result.OutputTokens)

	case action == "fail" && r.Method == http.MethodPost:
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		task.Status = queue.TaskStatusFailed
		q.failures[taskID] = body.Error
		log.Printf("task %s failed: %s", taskID, body.Error)

	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleDevices handles POST /api/devices.
func (q *fakeQueue) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var device queue.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	device.ID = uuid.New().String()
	device.IsOnline = true
	device.CreatedAt = time.Now().UTC()

	q.mu.Lock()
	q.devices[device.ID] = &device
	q.mu.Unlock()

	log.Printf("device registered: %s (%s)", device.ID, device.Fingerprint)
	writeJSON(w, device)
}

// handleDeviceRoutes handles /api/devices/{...} subroutes.
func (q *fakeQueue) handleDeviceRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	parts := strings.Split(rest, "/")

	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case len(parts) == 2 && parts[0] == "by-fingerprint" && r.Method == http.MethodGet:
		for _, d := range q.devices {
			if d.Fingerprint == parts[1] {
				writeJSON(w, d)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)

	case len(parts) == 2 && parts[1] == "heartbeat" && r.Method == http.MethodPost:
		device, ok := q.devices[parts[0]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		now := time.Now().UTC()
		device.LastHeartbeatAt = &now
		w.WriteHeader(http.StatusOK)

	case len(parts) == 1 && r.Method == http.MethodPatch:
		device, ok := q.devices[parts[0]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		applyDeviceFields(device, fields)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func applyDeviceFields(device *queue.Device, fields map[string]any) {
	if v, ok := fields["name"].(string); ok {
		device.Name = v
	}
	if v, ok := fields["max_concurrent_workspaces"].(float64); ok {
		device.MaxConcurrentWorkspaces = int(v)
	}
	if v, ok := fields["max_disk_usage_bytes"].(float64); ok {
		device.MaxDiskUsageBytes = int64(v)
	}
	if v, ok := fields["current_workspaces_count"].(float64); ok {
		device.CurrentWorkspacesCount = int(v)
	}
	if v, ok := fields["current_disk_usage_bytes"].(float64); ok {
		device.CurrentDiskUsageBytes = int64(v)
	}
}

// handleWorkspaces handles POST and GET /api/workspaces.
func (q *fakeQueue) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var ws queue.Workspace
		if err := json.NewDecoder(r.Body).Decode(&ws); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ws.ID = uuid.New().String()
		ws.CreatedAt = time.Now().UTC()

		q.mu.Lock()
		q.workspaces[ws.ID] = &ws
		q.mu.Unlock()

		log.Printf("workspace created: %s (%s)", ws.ID, ws.Name)
		writeJSON(w, ws)

	case http.MethodGet:
		deviceID := r.URL.Query().Get("device_id")
		ownerID := r.URL.Query().Get("owner_id")
		status := r.URL.Query().Get("status")

		q.mu.Lock()
		matched := make([]queue.Workspace, 0)
		for _, ws := range q.workspaces {
			if deviceID != "" && ws.DeviceID != deviceID {
				continue
			}
			if ownerID != "" && ws.OwnerID != ownerID {
				continue
			}
			if status != "" && string(ws.Status) != status {
				continue
			}
			matched = append(matched, *ws)
		}
		q.mu.Unlock()

		writeJSON(w, matched)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleWorkspaceRoutes handles /api/workspaces/{id} and its subroutes.
func (q *fakeQueue) handleWorkspaceRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/workspaces/")
	parts := strings.Split(rest, "/")

	q.mu.Lock()
	defer q.mu.Unlock()

	ws, ok := q.workspaces[parts[0]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodPatch:
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		applyWorkspaceFields(ws, fields)
		w.WriteHeader(http.StatusOK)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		delete(q.workspaces, parts[0])
		log.Printf("workspace deleted: %s", parts[0])
		w.WriteHeader(http.StatusOK)

	case len(parts) == 2 && parts[1] == "assign" && r.Method == http.MethodPost:
		var body struct {
			TaskID string `json:"task_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if task, ok := q.tasks[body.TaskID]; ok {
			task.WorkspaceID = parts[0]
		}
		log.Printf("workspace %s assigned task %s", parts[0], body.TaskID)
		w.WriteHeader(http.StatusOK)

	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodPost:
		var event queue.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		log.Printf("event [%s/%s] %s: %s", event.Category, event.Level, event.Type, event.Message)
		w.WriteHeader(http.StatusOK)

	case len(parts) == 2 && parts[1] == "artifacts" && r.Method == http.MethodPost:
		var art queue.Artifact
		if err := json.NewDecoder(r.Body).Decode(&art); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		art.ID = uuid.New().String()
		art.WorkspaceID = parts[0]
		q.artifacts[parts[0]] = append(q.artifacts[parts[0]], art)
		log.Printf("artifact registered for %s: %s (%d bytes)", parts[0], art.Name, art.SizeBytes)
		writeJSON(w, art)

	case len(parts) == 2 && parts[1] == "metrics" && r.Method == http.MethodPost:
		var metrics queue.Metrics
		if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		log.Printf("metrics for %s: disk %d bytes, %d files", parts[0], metrics.DiskUsageBytes, metrics.FileCount)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func applyWorkspaceFields(ws *queue.Workspace, fields map[string]any) {
	if v, ok := fields["status"].(string); ok {
		ws.Status = queue.WorkspaceStatus(v)
		log.Printf("workspace %s -> %s", ws.ID, v)
	}
	if v, ok := fields["error_message"].(string); ok {
		ws.ErrorMessage = v
	}
	if v, ok := fields["progress_percentage"].(float64); ok {
		ws.ProgressPercentage = int(v)
	}
	if v, ok := fields["current_phase"].(string); ok {
		ws.CurrentPhase = v
	}
}

// handleControlTasks handles POST /control/tasks to inject a task.
func (q *fakeQueue) handleControlTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var task queue.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.Status = queue.TaskStatusPending
	task.CreatedAt = time.Now().UTC()

	q.addTask(task)
	log.Printf("task injected: %s", task.ID)
	writeJSON(w, task)
}

// handleControlRevoke handles POST /control/revoke. Every authenticated
// request afterwards gets 401, driving the agent's sign-out path.
func (q *fakeQueue) handleControlRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q.mu.Lock()
	q.revoked = true
	q.mu.Unlock()

	log.Printf("credential revoked: all API requests now return 401")
	w.WriteHeader(http.StatusOK)
}

// handleControlState handles GET /control/state for inspection.
func (q *fakeQueue) handleControlState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]queue.Task, 0, len(q.taskOrder))
	for _, id := range q.taskOrder {
		tasks = append(tasks, *q.tasks[id])
	}
	devices := make([]queue.Device, 0, len(q.devices))
	for _, d := range q.devices {
		devices = append(devices, *d)
	}
	workspaces := make([]queue.Workspace, 0, len(q.workspaces))
	for _, ws := range q.workspaces {
		workspaces = append(workspaces, *ws)
	}

	writeJSON(w, map[string]any{
		"revoked":    q.revoked,
		"tasks":      tasks,
		"results":    q.results,
		"failures":   q.failures,
		"devices":    devices,
		"workspaces": workspaces,
		"artifacts":  q.artifacts,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
