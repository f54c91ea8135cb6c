// ABOUTME: Tests for the remote queue HTTP client
// ABOUTME: Covers error taxonomy, bearer auth, sparse updates, and decoding

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PollPendingTasks_ReturnsTasksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/agents/familiar-1/tasks", r.URL.Path)
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		tasks := []Task{
			{ID: "t1", Description: "first", Status: TaskStatusPending},
			{ID: "t2", Description: "second", Status: TaskStatusPending},
		}
		json.NewEncoder(w).Encode(tasks)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok-123"))
	tasks, err := client.PollPendingTasks(context.Background(), "familiar-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "t2", tasks[1].ID)
}

func TestClient_PollPendingTasks_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("expired"))
	_, err := client.PollPendingTasks(context.Background(), "familiar-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestClient_PollPendingTasks_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	_, err := client.PollPendingTasks(context.Background(), "familiar-1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "backend exploded")
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestClient_AcceptTask_SendsAgentName(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks/t1/accept", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	err := client.AcceptTask(context.Background(), "t1", "familiar-1")
	require.NoError(t, err)
	assert.Equal(t, "familiar-1", got["agent_name"])
}

func TestClient_UpdateTaskStatus_OmitsNilProgress(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	require.NoError(t, client.UpdateTaskStatus(context.Background(), "t1", TaskStatusRunning, nil))
	assert.Equal(t, "running", got["status"])
	_, hasProgress := got["progress"]
	assert.False(t, hasProgress)

	progress := 40
	require.NoError(t, client.UpdateTaskStatus(context.Background(), "t1", TaskStatusRunning, &progress))
	assert.Equal(t, float64(40), got["progress"])
}

func TestClient_UpdateWorkspace_SendsSparseFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/workspaces/ws-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	err := client.UpdateWorkspace(context.Background(), "ws-1", map[string]any{
		"status":              "ready",
		"progress_percentage": 100,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "ready", got["status"])
	assert.Equal(t, float64(100), got["progress_percentage"])
}

func TestClient_FindDeviceByFingerprint_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	_, err := client.FindDeviceByFingerprint(context.Background(), "abc123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClient_RegisterDevice_ReturnsCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in Device
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.ID = "dev-42"
		in.Status = DeviceActive
		json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	created, err := client.RegisterDevice(context.Background(), Device{
		Fingerprint:             "abc123",
		MaxConcurrentWorkspaces: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "dev-42", created.ID)
	assert.Equal(t, "abc123", created.Fingerprint)
	assert.Equal(t, DeviceActive, created.Status)
}

func TestClient_ListWorkspaces_BuildsFilterQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev-1", r.URL.Query().Get("device_id"))
		assert.Equal(t, "ready", r.URL.Query().Get("status"))
		assert.Empty(t, r.URL.Query().Get("owner_id"))
		json.NewEncoder(w).Encode([]Workspace{{ID: "ws-1", Status: WorkspaceReady}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	workspaces, err := client.ListWorkspaces(context.Background(), WorkspaceFilter{
		DeviceID: "dev-1",
		Status:   WorkspaceReady,
	})
	require.NoError(t, err)
	require.Len(t, workspaces, 1)
	assert.Equal(t, "ws-1", workspaces[0].ID)
}

func TestClient_FailTask_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	err := client.FailTask(context.Background(), "t1", "provider blew up")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}
