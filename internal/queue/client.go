// ABOUTME: HTTP client for the remote task queue REST API
// ABOUTME: Task claim/report, device and workspace CRUD, events, artifacts, metrics

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource supplies the bearer credential attached to every request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource for a fixed credential, mainly for tests
// and the fake backend.
type StaticToken string

func (s StaticToken) Token() (string, error) { return string(s), nil }

// Client talks to the remote task queue. It holds no mutable state and is
// safe for concurrent use.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// NewClient creates a queue client for the given base URL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetHTTPClient replaces the underlying HTTP client. Used by callers that
// need custom timeouts or transports.
func (c *Client) SetHTTPClient(hc *http.Client) { c.http = hc }

// do performs one JSON request/response round trip. A nil body sends no
// payload; a nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("loading credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(excerpt))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// PollPendingTasks fetches tasks eligible for the named agent, in the
// order the backend wants them claimed.
func (c *Client) PollPendingTasks(ctx context.Context, agentName string) ([]Task, error) {
	var tasks []Task
	path := "/api/agents/" + url.PathEscape(agentName) + "/tasks?status=pending"
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// AcceptTask claims a pending task for the named agent.
func (c *Client) AcceptTask(ctx context.Context, taskID, agentName string) error {
	body := map[string]string{"agent_name": agentName}
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/accept", body, nil)
}

// UpdateTaskStatus reports a task status change. Progress is optional.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, progress *int) error {
	body := map[string]any{"status": status}
	if progress != nil {
		body["progress"] = *progress
	}
	return c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(taskID)+"/status", body, nil)
}

// CompleteTask reports a successful result.
func (c *Client) CompleteTask(ctx context.Context, taskID string, result TaskResult) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/complete", result, nil)
}

// FailTask reports a task failure with a diagnostic message.
func (c *Client) FailTask(ctx context.Context, taskID, errorMessage string) error {
	body := map[string]string{"error": errorMessage}
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/fail", body, nil)
}

// RegisterDevice creates a device record and returns it with the
// backend-assigned id.
func (c *Client) RegisterDevice(ctx context.Context, device Device) (*Device, error) {
	var created Device
	if err := c.do(ctx, http.MethodPost, "/api/devices", device, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// FindDeviceByFingerprint looks up an existing device record. Returns
// ErrNotFound when this machine has never registered.
func (c *Client) FindDeviceByFingerprint(ctx context.Context, fingerprint string) (*Device, error) {
	var device Device
	path := "/api/devices/by-fingerprint/" + url.PathEscape(fingerprint)
	if err := c.do(ctx, http.MethodGet, path, nil, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// UpdateDevice patches a device record with only the given fields.
func (c *Client) UpdateDevice(ctx context.Context, deviceID string, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/api/devices/"+url.PathEscape(deviceID), fields, nil)
}

// Heartbeat reports liveness for the device.
func (c *Client) Heartbeat(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(deviceID)+"/heartbeat", nil, nil)
}

// CreateWorkspace creates a workspace record and returns it with the
// backend-assigned id.
func (c *Client) CreateWorkspace(ctx context.Context, ws Workspace) (*Workspace, error) {
	var created Workspace
	if err := c.do(ctx, http.MethodPost, "/api/workspaces", ws, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateWorkspace patches a workspace record with only the given fields.
func (c *Client) UpdateWorkspace(ctx context.Context, workspaceID string, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/api/workspaces/"+url.PathEscape(workspaceID), fields, nil)
}

// ListWorkspaces fetches workspaces matching the filter.
func (c *Client) ListWorkspaces(ctx context.Context, filter WorkspaceFilter) ([]Workspace, error) {
	q := url.Values{}
	if filter.DeviceID != "" {
		q.Set("device_id", filter.DeviceID)
	}
	if filter.OwnerID != "" {
		q.Set("owner_id", filter.OwnerID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	path := "/api/workspaces"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var workspaces []Workspace
	if err := c.do(ctx, http.MethodGet, path, nil, &workspaces); err != nil {
		return nil, err
	}
	return workspaces, nil
}

// DeleteWorkspace removes a workspace record from the backend.
func (c *Client) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return c.do(ctx, http.MethodDelete, "/api/workspaces/"+url.PathEscape(workspaceID), nil, nil)
}

// AssignTask binds a task to a workspace with execution settings.
func (c *Client) AssignTask(ctx context.Context, workspaceID, taskID string, cfg AssignConfig) error {
	body := map[string]any{"task_id": taskID, "config": cfg}
	return c.do(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(workspaceID)+"/assign", body, nil)
}

// LogEvent appends an audit event to a workspace's remote journal.
func (c *Client) LogEvent(ctx context.Context, workspaceID string, event Event) error {
	return c.do(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(workspaceID)+"/events", event, nil)
}

// UploadArtifact registers an artifact produced in a workspace.
func (c *Client) UploadArtifact(ctx context.Context, workspaceID string, artifact Artifact) (*Artifact, error) {
	var created Artifact
	path := "/api/workspaces/" + url.PathEscape(workspaceID) + "/artifacts"
	if err := c.do(ctx, http.MethodPost, path, artifact, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// RecordMetrics pushes a resource usage sample for a workspace.
func (c *Client) RecordMetrics(ctx context.Context, workspaceID string, metrics Metrics) error {
	return c.do(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(workspaceID)+"/metrics", metrics, nil)
}
