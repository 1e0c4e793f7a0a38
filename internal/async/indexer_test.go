package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_StartRunsInBackground(t *testing.T) {
	// Given: a task that signals when it runs
	started := make(chan struct{})
	r := NewRunner(func(ctx context.Context, p *Progress) error {
		close(started)
		return nil
	})

	// When: starting the runner
	r.Start(context.Background())

	// Then: the task runs without blocking the caller
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}
	require.NoError(t, r.Wait())
	assert.Equal(t, string(StatusReady), r.Progress().Snapshot().Status)
	assert.False(t, r.IsRunning())
}

func TestRunner_TaskErrorSurfacesInWaitAndProgress(t *testing.T) {
	boom := errors.New("tokenize failed")
	r := NewRunner(func(ctx context.Context, p *Progress) error {
		return boom
	})

	r.Start(context.Background())

	assert.ErrorIs(t, r.Wait(), boom)
	snap := r.Progress().Snapshot()
	assert.Equal(t, string(StatusError), snap.Status)
	assert.Equal(t, "tokenize failed", snap.ErrorMessage)
}

func TestRunner_StopCancelsTask(t *testing.T) {
	// Given: a task that blocks until cancelled
	r := NewRunner(func(ctx context.Context, p *Progress) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.Start(context.Background())

	// When: stopping with a generous bound
	ok := r.Stop(2 * time.Second)

	// Then: the task wound down in time and reports stopped
	assert.True(t, ok)
	assert.Equal(t, string(StatusStopped), r.Progress().Snapshot().Status)
}

func TestRunner_StopTimesOutOnStuckTask(t *testing.T) {
	release := make(chan struct{})
	r := NewRunner(func(ctx context.Context, p *Progress) error {
		<-release // ignores cancellation
		return nil
	})
	r.Start(context.Background())

	ok := r.Stop(50 * time.Millisecond)
	assert.False(t, ok, "a stuck task must not pass its shutdown bound")

	close(release)
	<-r.Done()
}

func TestRunner_StartTwiceRunsOnce(t *testing.T) {
	var runs atomic.Int32
	block := make(chan struct{})
	r := NewRunner(func(ctx context.Context, p *Progress) error {
		runs.Add(1)
		<-block
		return nil
	})

	r.Start(context.Background())
	r.Start(context.Background())
	close(block)
	require.NoError(t, r.Wait())

	assert.Equal(t, int32(1), runs.Load())
}

func TestRunner_ParentContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(func(ctx context.Context, p *Progress) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.Start(ctx)

	cancel()
	<-r.Done()

	assert.Equal(t, string(StatusStopped), r.Progress().Snapshot().Status)
}
