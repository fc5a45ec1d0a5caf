package watcher

import (
	"context"
	"slices"
	"time"

	"github.com/ritzau/mindmap/pkg/logging"
)

// Debouncer merges rapid change events so a burst of saves causes one reload
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer. An event is emitted once no
// input arrived for quietPeriod, or maxWait after the first buffered input.
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet, deadline <-chan time.Time
		acc             ChangeEvent
		count           int
	)

	flush := func() {
		quiet, deadline = nil, nil
		if count == 0 {
			return
		}
		logging.Debug("flushing accumulated events", "count", count)
		slices.Sort(acc.Paths)
		acc.Paths = slices.Compact(acc.Paths)
		acc.Timestamp = time.Now()
		select {
		case d.output <- acc:
		case <-ctx.Done():
		}
		acc, count = ChangeEvent{}, 0
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			acc.Paths = append(acc.Paths, event.Paths...)
			acc.Removed = event.Removed
			count++

			quiet = time.After(d.quietPeriod)
			if deadline == nil {
				deadline = time.After(d.maxWait)
			}

		case <-quiet:
			flush()

		case <-deadline:
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
