package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileWatcher reports changes to a single file. It watches the parent
// directory so replacements by rename are seen as well as in-place writes.
type fileWatcher struct {
	w    *fsnotify.Watcher
	path string
	log  *slog.Logger
}

func newFileWatcher(path string, log *slog.Logger) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &fileWatcher{w: w, path: abs, log: log}, nil
}

// Run calls onChange after each burst of writes to the file has been quiet
// for debounce. It returns when ctx is done or the watcher is closed.
func (f *fileWatcher) Run(ctx context.Context, debounce time.Duration, onChange func()) error {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-f.w.Events:
			if !ok {
				return nil
			}
			if ev.Name != f.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			f.log.Debug("dataset changed", "op", ev.Op.String())
			timer.Reset(debounce)
		case <-timer.C:
			onChange()
		case err, ok := <-f.w.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("watch error", "err", err)
		}
	}
}

func (f *fileWatcher) Close() error { return f.w.Close() }
