// Package watcher triggers incremental pipeline runs when extraction
// artifacts change on disk. Events are debounced so a burst of writes
// (an exporter dropping twenty files) produces one run, not twenty.
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period required before a run fires.
const DefaultDebounce = 2 * time.Second

// Watcher watches one directory, non-recursively, for artifact changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(ctx context.Context)
}

// New creates a watcher over dir. onChange runs after events settle.
func New(dir string, debounce time.Duration, onChange func(ctx context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce, onChange: onChange}
}

// Run watches until ctx is cancelled. The callback runs on the watcher's
// goroutine; a long-running pipeline pass simply delays the next one.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	slog.Info("watching artifact directory", slog.String("dir", w.dir))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil
			w.onChange(ctx)
		}
	}
}

// relevant filters to JSON artifact writes, creations, and removals.
func relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".json") {
		return false
	}
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) ||
		event.Op.Has(fsnotify.Rename)
}
