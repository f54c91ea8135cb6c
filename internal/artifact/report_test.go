// ABOUTME: Tests for task report rendering
// ABOUTME: Verifies markdown content and the converted HTML page

package artifact

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")

	mdPath, htmlPath, err := WriteReport(dir, Report{
		TaskID:          "task-42",
		Description:     "Summarize the changelog",
		AgentName:       "familiar-1",
		Model:           "gpt-4o-mini",
		OutputText:      "## Summary\n\nAll good.",
		InputTokens:     120,
		OutputTokens:    45,
		CostUSD:         0.0021,
		DurationSeconds: 3.5,
		CompletedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.md"), mdPath)
	assert.Equal(t, filepath.Join(dir, "report.html"), htmlPath)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Task Report: task-42")
	assert.Contains(t, string(md), "Summarize the changelog")
	assert.Contains(t, string(md), "| Model | gpt-4o-mini |")
	assert.Contains(t, string(md), "| Cost | $0.0021 |")
	assert.Contains(t, string(md), "All good.")

	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Task task-42</title>")
	assert.Contains(t, string(html), "Task Report: task-42")
	// The markdown body is converted, not embedded raw.
	assert.Contains(t, string(html), "<h2")
	assert.NotContains(t, string(html), "## Summary")
}

func TestWriteReport_MinimalFields(t *testing.T) {
	dir := t.TempDir()

	mdPath, _, err := WriteReport(dir, Report{
		TaskID:     "task-1",
		OutputText: "done",
	})
	require.NoError(t, err)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.NotContains(t, string(md), "| Agent |")
	assert.NotContains(t, string(md), "| Cost |")
	assert.Contains(t, string(md), "done")
}

func TestNewMirror_Validation(t *testing.T) {
	logger := testLogger()

	_, err := NewMirror(MirrorOptions{Bucket: "archives"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")

	_, err = NewMirror(MirrorOptions{Endpoint: "minio.local:9000"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	m, err := NewMirror(MirrorOptions{
		Endpoint:  "minio.local:9000",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "archives",
	}, logger)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
