package mindmap

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ritzau/mindmap/pkg/annotation"
)

// TurnStream is the subscription for one assistant response. It is
// cancelled when the turn ends, when the session is cleared, or when a new
// turn starts on the same node.
type TurnStream struct {
	ID     string
	NodeID int64

	started time.Time
	buf     strings.Builder
	scanner *annotation.Scanner
	chunks  int
	ctx     context.Context
	cancel  context.CancelFunc
}

func newTurnStream(parent context.Context, nodeID int64) *TurnStream {
	ctx, cancel := context.WithCancel(parent)
	return &TurnStream{
		ID:      uuid.New().String(),
		NodeID:  nodeID,
		started: time.Now(),
		scanner: annotation.NewScanner(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is done once the stream is closed. Producers feeding the turn
// should stop when it is.
func (t *TurnStream) Context() context.Context {
	return t.ctx
}

func (t *TurnStream) append(fragment string) annotation.Update {
	t.buf.WriteString(fragment)
	t.chunks++
	return t.scanner.Observe(t.buf.String())
}

func (t *TurnStream) text() string {
	return t.buf.String()
}

func (t *TurnStream) close() {
	t.cancel()
}
