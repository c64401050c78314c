package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-gpt/internal/scanerr"
)

func TestProcessInbox_MovesFiles(t *testing.T) {
	app := newTestApp(t)
	inbox := app.Settings.InboxDir
	writeImages(t, inbox, map[string]string{
		"ramen.jpg": "KOYO RAMEN",
		"dim.jpg":   "low light",
		"empty.jpg": "",
	})

	count, err := app.processInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.FileExists(t, filepath.Join(inbox, processedDirName, "ramen.jpg"))
	assert.FileExists(t, filepath.Join(inbox, processedDirName, "dim.jpg"))
	assert.FileExists(t, filepath.Join(inbox, failedDirName, "empty.jpg"))

	remaining, err := listImages(inbox)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	count, err = app.processInbox(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessInbox_BudgetLeavesRemainingImages(t *testing.T) {
	app := newTestApp(t)
	inbox := app.Settings.InboxDir
	writeImages(t, inbox, map[string]string{
		"a.jpg": "KOYO RAMEN",
		"b.jpg": "budget",
		"c.jpg": "MILK",
	})

	count, err := app.processInbox(context.Background())
	assert.ErrorIs(t, err, scanerr.ErrBudgetExceeded)
	assert.Equal(t, 1, count)

	remaining, err := listImages(inbox)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(inbox, "b.jpg"), filepath.Join(inbox, "c.jpg")}, remaining)
}

// inboxStub fails on the first calls and then reports an empty inbox.
type inboxStub struct {
	mu       sync.Mutex
	failures int
	calls    []time.Time
}

func (s *inboxStub) processInbox(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, time.Now())
	if len(s.calls) <= s.failures {
		return 0, errors.New("inbox unavailable")
	}
	return 0, nil
}

func (s *inboxStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestInboxWatcher_BacksOffAndStops(t *testing.T) {
	stub := &inboxStub{failures: 2}
	w := inboxWatcher{
		minBackoff:      20 * time.Millisecond,
		maxBackoff:      30 * time.Millisecond,
		pollingInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.run(ctx, stub)
		close(done)
	}()

	require.Eventually(t, func() bool { return stub.callCount() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.GreaterOrEqual(t, stub.calls[1].Sub(stub.calls[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stub.calls[2].Sub(stub.calls[1]), 30*time.Millisecond, "backoff capped at max")
}

func TestMoveToDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "label.jpg")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	require.NoError(t, moveToDir(src, filepath.Join(dir, "processed")))
	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(dir, "processed", "label.jpg"))

	assert.Error(t, moveToDir(src, filepath.Join(dir, "processed")))
}
