package watcher

import (
	"context"
	"time"

	"github.com/ritzau/mindmap/pkg/logging"
)

// Reload calls load for every change event and hands successful results to
// apply. Removed files and load errors are reported and skipped, keeping
// the previous value in effect. It returns when events is closed or ctx is
// done.
func Reload[T any](ctx context.Context, events <-chan ChangeEvent, load func() (T, error), apply func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Removed {
				logging.Warn("watched file removed, keeping current settings", "paths", ev.Paths)
				continue
			}
			v, err := load()
			if err != nil {
				logging.Warn("reload failed, keeping current settings", "error", err)
				continue
			}
			logging.Info("reloaded", "paths", ev.Paths)
			apply(v)
		}
	}
}

// Watch starts a debounced watcher on paths and runs Reload on its events
// until ctx is done
func Watch[T any](ctx context.Context, paths []string, load func() (T, error), apply func(T)) error {
	fw, err := NewFileWatcher(paths...)
	if err != nil {
		return err
	}
	fw.Start(ctx)

	d := NewDebouncer(fw.Events(), 250*time.Millisecond, 2*time.Second)
	d.Start(ctx)

	go Reload(ctx, d.Output(), load, apply)
	return nil
}
