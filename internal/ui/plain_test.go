package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlainForTest() (*PlainRenderer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewPlainRenderer(NewConfig(buf, WithNoColor(true))), buf
}

func TestPlainRenderer_UpdateProgress_WithTotal(t *testing.T) {
	r, buf := newPlainForTest()
	require.NoError(t, r.Start(context.Background()))

	r.UpdateProgress(ProgressEvent{
		Stage:       StageTokenize,
		Current:     5,
		Total:       10,
		CurrentFile: "src/main.go",
	})

	output := buf.String()
	assert.Contains(t, output, "[TOK]")
	assert.Contains(t, output, "5/10")
	assert.Contains(t, output, "src/main.go")
}

func TestPlainRenderer_UpdateProgress_MessageOnly(t *testing.T) {
	r, buf := newPlainForTest()

	r.UpdateProgress(ProgressEvent{
		Stage:   StageEnumerate,
		Message: "walking tree",
	})

	assert.Contains(t, buf.String(), "walking tree")
}

func TestPlainRenderer_UpdateProgress_NothingToSay(t *testing.T) {
	r, buf := newPlainForTest()

	r.UpdateProgress(ProgressEvent{Stage: StageEnumerate})

	assert.Empty(t, buf.String())
}

func TestPlainRenderer_AddError_ErrorAndWarning(t *testing.T) {
	r, buf := newPlainForTest()

	r.AddError(ErrorEvent{File: "broken.txt", Err: errors.New("unreadable")})
	r.AddError(ErrorEvent{Err: errors.New("queue overflow"), IsWarn: true})

	output := buf.String()
	assert.Contains(t, output, "ERROR: broken.txt: unreadable")
	assert.Contains(t, output, "WARN: queue overflow")
}

func TestPlainRenderer_Complete_Summary(t *testing.T) {
	r, buf := newPlainForTest()

	r.Complete(CompletionStats{
		Files:    120,
		Bytes:    4 * 1024 * 1024,
		Duration: 2300 * time.Millisecond,
		State:    "COMPLETE",
		Backend:  "ugrep@7",
	})

	output := buf.String()
	assert.Contains(t, output, "120 files")
	assert.Contains(t, output, "4.0 MiB")
	assert.Contains(t, output, "Index state: COMPLETE")
	assert.Contains(t, output, "Backend: ugrep@7")
	assert.NotContains(t, output, "errors")
}

func TestPlainRenderer_Complete_WithErrors(t *testing.T) {
	r, buf := newPlainForTest()

	r.Complete(CompletionStats{
		Files:    10,
		Duration: time.Second,
		Errors:   2,
		Warnings: 1,
	})

	assert.Contains(t, buf.String(), "(2 errors, 1 warnings)")
}

func TestPlainRenderer_AllStageIcons(t *testing.T) {
	tests := []struct {
		stage Stage
		icon  string
	}{
		{StageEnumerate, "SCAN"},
		{StageTokenize, "TOK"},
		{StagePersist, "SAVE"},
		{StageActivate, "FLIP"},
		{StageComplete, "DONE"},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			r, buf := newPlainForTest()
			r.UpdateProgress(ProgressEvent{Stage: tt.stage, Current: 1, Total: 2, Message: "x"})
			assert.Contains(t, buf.String(), "["+tt.icon+"]")
		})
	}
}

func TestPlainRenderer_StopIsIdempotent(t *testing.T) {
	r, _ := newPlainForTest()
	assert.NoError(t, r.Stop())
	assert.NoError(t, r.Stop())
}
