package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"json write", fsnotify.Event{Name: "a/doc.json", Op: fsnotify.Write}, true},
		{"json create", fsnotify.Event{Name: "doc.json", Op: fsnotify.Create}, true},
		{"json remove", fsnotify.Event{Name: "doc.json", Op: fsnotify.Remove}, true},
		{"json rename", fsnotify.Event{Name: "doc.json", Op: fsnotify.Rename}, true},
		{"json chmod only", fsnotify.Event{Name: "doc.json", Op: fsnotify.Chmod}, false},
		{"non-json write", fsnotify.Event{Name: "doc.txt", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.event))
		})
	}
}

func TestWatcher_DebouncedCallback(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan struct{}, 1)

	w := New(dir, 50*time.Millisecond, func(ctx context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.json"), []byte("{}"), 0o644))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not fire after artifact write")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatcher_MissingDirErrors(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "nope"), time.Millisecond, func(ctx context.Context) {})
	err := w.Run(context.Background())
	require.Error(t, err)
}
