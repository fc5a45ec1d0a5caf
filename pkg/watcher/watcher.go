package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ritzau/mindmap/pkg/logging"
)

// batchWindow groups the write/rename/create bursts editors produce on save
const batchWindow = 100 * time.Millisecond

// ChangeEvent represents a batch of changes to watched files
type ChangeEvent struct {
	Paths     []string
	Removed   bool // the last change removed or renamed the file away
	Timestamp time.Time
}

// FileWatcher watches a set of files. It watches their directories so that
// editors replacing a file by rename are still seen.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]bool // absolute paths
	events  chan ChangeEvent
}

// NewFileWatcher creates a watcher for the given files
func NewFileWatcher(paths ...string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		files:   make(map[string]bool),
		events:  make(chan ChangeEvent, 16),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		fw.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return fw, nil
}

// Start begins watching until ctx is done
func (fw *FileWatcher) Start(ctx context.Context) {
	logging.Info("watching files", "count", len(fw.files))
	go fw.processEvents(ctx)
}

// processEvents filters events to the watched files and batches them
func (fw *FileWatcher) processEvents(ctx context.Context) {
	var pending []string
	removed := false

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	defer func() {
		fw.watcher.Close()
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.files[filepath.Clean(event.Name)] {
				continue
			}
			logging.Trace("file event", "path", event.Name, "op", event.Op.String())
			if event.Op.Has(fsnotify.Chmod) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			pending = append(pending, event.Name)
			removed = event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)
			flushTimer.Reset(batchWindow)

		case <-flushTimer.C:
			if len(pending) == 0 {
				continue
			}
			select {
			case fw.events <- ChangeEvent{Paths: pending, Removed: removed, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}
			pending = nil

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events. It is closed when the
// watcher stops.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}
