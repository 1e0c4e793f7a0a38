package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRenderer_Render(t *testing.T) {
	// Given: a populated status
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	info := StatusInfo{
		Root:        "/home/dev/project",
		State:       "UNCERTAIN",
		Reason:      "WATCHER_OVERFLOW",
		StorageMode: "persist",
		Epoch:       3,
		TotalFiles:  1200,
		TotalBytes:  16 * 1024 * 1024,
		DirtyCount:  4,
		Backend:     "ripgrep@14",
		LastUpdated: time.Now().Add(-2 * time.Minute),
	}

	// When: rendering to terminal
	require.NoError(t, r.Render(info))

	// Then: all the load-bearing facts appear
	output := buf.String()
	assert.Contains(t, output, "/home/dev/project")
	assert.Contains(t, output, "UNCERTAIN (WATCHER_OVERFLOW)")
	assert.Contains(t, output, "persist")
	assert.Contains(t, output, "1200")
	assert.Contains(t, output, "16 MiB")
	assert.Contains(t, output, "4 pending")
	assert.Contains(t, output, "ripgrep@14")
	assert.Contains(t, output, "2 minutes ago")
}

func TestStatusRenderer_Render_MinimalInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.Render(StatusInfo{Root: "/p", State: "ABSENT", StorageMode: "memory"}))

	output := buf.String()
	assert.Contains(t, output, "ABSENT")
	assert.NotContains(t, output, "pending")
	assert.NotContains(t, output, "Last updated")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	info := StatusInfo{Root: "/p", State: "COMPLETE", StorageMode: "persist", Epoch: 7}
	require.NoError(t, r.RenderJSON(info))

	var decoded StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, info.Root, decoded.Root)
	assert.Equal(t, info.State, decoded.State)
	assert.Equal(t, uint64(7), decoded.Epoch)
}

func TestFormatTime_Buckets(t *testing.T) {
	now := time.Now()

	assert.Equal(t, "just now", formatTime(now.Add(-10*time.Second)))
	assert.Equal(t, "1 minute ago", formatTime(now.Add(-70*time.Second)))
	assert.Equal(t, "3 hours ago", formatTime(now.Add(-3*time.Hour)))
	assert.Equal(t, "2 days ago", formatTime(now.Add(-49*time.Hour)))

	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, old.Format("2006-01-02 15:04"), formatTime(old))
}
