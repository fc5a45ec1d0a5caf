package mindmap

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ritzau/mindmap/pkg/interaction"
	"github.com/ritzau/mindmap/pkg/logging"
	"github.com/ritzau/mindmap/pkg/pubsub"
	"github.com/ritzau/mindmap/pkg/render"
)

// Topics published by a session
const (
	TopicScene  = "scene"
	TopicStatus = "session_status"
)

// Status event types
const (
	StatusTurnStarted   = "turn_started"
	StatusTurnFinalized = "turn_finalized"
	StatusCleared       = "cleared"
)

// TurnStatus is the payload of a session status event
type TurnStatus struct {
	SessionID string     `json:"sessionId"`
	NodeID    int64      `json:"nodeId,omitempty"`
	Text      string     `json:"text,omitempty"`
	Final     *FinalTurn `json:"final,omitempty"`
}

type activation struct {
	content string
	nodeID  int64
}

// Session serializes all access to a Controller. Every mutation is applied
// and published under one lock, so readers never see a half-applied
// operation. Activation callbacks run after the lock is released.
type Session struct {
	mu        sync.Mutex
	id        string
	ctrl      *Controller
	publisher pubsub.Publisher
	snapshot  *render.Snapshot

	pending  []activation
	activate ActivateFunc
}

// NewSession creates a session publishing scene diffs to publisher, which may be nil
func NewSession(opts Options, publisher pubsub.Publisher) *Session {
	s := &Session{
		id:        uuid.New().String(),
		ctrl:      NewController(opts),
		publisher: publisher,
	}
	s.ctrl.OnActivate(func(content string, nodeID int64) {
		s.pending = append(s.pending, activation{content: content, nodeID: nodeID})
	})
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// OnActivate sets the activation callback. It is called without the
// session lock held and may call back into the session.
func (s *Session) OnActivate(fn ActivateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activate = fn
}

// do runs fn under the lock, publishes the resulting scene diff, and
// dispatches activations raised by fn.
func (s *Session) do(fn func(c *Controller) bool) {
	s.mu.Lock()
	redraw := fn(s.ctrl)
	if redraw {
		s.publishScene()
	}
	pending, activate := s.pending, s.activate
	s.pending = nil
	s.mu.Unlock()

	for _, a := range pending {
		if activate != nil {
			activate(a.content, a.nodeID)
		}
	}
}

func (s *Session) publishScene() {
	scene := s.ctrl.Scene()
	diff := render.ComputeDiff(s.snapshot, scene)
	s.snapshot = render.CreateSnapshot(scene)
	if s.publisher == nil || diff.Empty() {
		return
	}
	if err := s.publisher.Publish(TopicScene, "scene_diff", diff); err != nil {
		logging.Warn("failed to publish scene", "error", err)
	}
}

func (s *Session) publishStatus(eventType string, status TurnStatus) {
	if s.publisher == nil {
		return
	}
	status.SessionID = s.id
	if err := s.publisher.Publish(TopicStatus, eventType, status); err != nil {
		logging.Warn("failed to publish status", "error", err)
	}
}

// StartTurn starts a turn for submitted text under the last activated node
func (s *Session) StartTurn(text string) (id int64, err error) {
	s.do(func(c *Controller) bool {
		id, err = c.StartTurn(text)
		if err == nil && id != 0 {
			s.publishStatus(StatusTurnStarted, TurnStatus{NodeID: id, Text: text})
		}
		return err == nil
	})
	return id, err
}

// StartTurnAt starts a turn attached to parentID
func (s *Session) StartTurnAt(text string, parentID int64) (id int64, err error) {
	s.do(func(c *Controller) bool {
		id, err = c.OnTurnStart(text, &parentID)
		if err == nil && id != 0 {
			s.publishStatus(StatusTurnStarted, TurnStatus{NodeID: id, Text: text})
		}
		return err == nil
	})
	return id, err
}

// TurnContext returns the context of an open turn. It is done when the
// turn ends, is replaced, or the session is cleared.
func (s *Session) TurnContext(turnID int64) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.ctrl.Turn(turnID)
	if !ok {
		return nil, false
	}
	return t.Context(), true
}

// FeedChunk appends a transport fragment to a turn
func (s *Session) FeedChunk(turnID int64, fragment string) (err error) {
	s.do(func(c *Controller) bool {
		err = c.FeedChunk(turnID, fragment)
		return err == nil
	})
	return err
}

// FeedChunkContext feeds a turn only while ctx, normally the turn's own
// context, is live. A replaced or cleared turn returns ctx.Err() instead of
// feeding a newer turn on the same node.
func (s *Session) FeedChunkContext(ctx context.Context, turnID int64, fragment string) (err error) {
	s.do(func(c *Controller) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		err = c.FeedChunk(turnID, fragment)
		return err == nil
	})
	return err
}

// EndTurnContext ends a turn only while ctx is live
func (s *Session) EndTurnContext(ctx context.Context, turnID int64) (final FinalTurn, err error) {
	s.do(func(c *Controller) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		final, err = c.EndTurn(turnID)
		if err == nil {
			s.publishStatus(StatusTurnFinalized, TurnStatus{NodeID: turnID, Final: &final})
		}
		return err == nil
	})
	return final, err
}

// EndTurn finalizes a turn
func (s *Session) EndTurn(turnID int64) (final FinalTurn, err error) {
	s.do(func(c *Controller) bool {
		final, err = c.EndTurn(turnID)
		if err == nil {
			s.publishStatus(StatusTurnFinalized, TurnStatus{NodeID: turnID, Final: &final})
		}
		return err == nil
	})
	return final, err
}

// FeedVolumes merges a volume table
func (s *Session) FeedVolumes(volumes map[string]int) (updated int) {
	s.do(func(c *Controller) bool {
		updated = c.OnVolumes(volumes)
		return updated > 0
	})
	return updated
}

// FeedVolumesRaw parses and merges a volume payload. Malformed payloads
// are logged and ignored.
func (s *Session) FeedVolumesRaw(payload []byte) (updated int, err error) {
	s.do(func(c *Controller) bool {
		updated, err = c.OnVolumesRaw(payload)
		return updated > 0
	})
	return updated, err
}

// Clear resets the session
func (s *Session) Clear() {
	s.do(func(c *Controller) bool {
		c.OnClear()
		if r, ok := s.publisher.(pubsub.Resetter); ok {
			r.ResetTopic(TopicStatus)
		}
		s.publishStatus(StatusCleared, TurnStatus{})
		return true
	})
}

// HandleEvent applies one input event
func (s *Session) HandleEvent(ev interaction.Event) (err error) {
	s.do(func(c *Controller) bool {
		var redraw bool
		redraw, err = c.HandleEvent(ev)
		return redraw
	})
	return err
}

// RecenterRoot moves the root to the viewport center
func (s *Session) RecenterRoot() (ok bool) {
	s.do(func(c *Controller) bool {
		ok = c.RecenterRoot()
		return ok
	})
	return ok
}

// Reconfigure applies new tunables
func (s *Session) Reconfigure(opts Options) {
	s.do(func(c *Controller) bool {
		c.Reconfigure(opts)
		return true
	})
}

// Scene renders the current state
func (s *Session) Scene() *render.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Scene()
}

// Read runs fn with exclusive read access to the controller
func (s *Session) Read(fn func(c *Controller)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.ctrl)
}

// Close cancels all open turns
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.Close()
}
