package mindmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ritzau/mindmap/pkg/annotation"
	"github.com/ritzau/mindmap/pkg/geometry"
	"github.com/ritzau/mindmap/pkg/graph"
	"github.com/ritzau/mindmap/pkg/interaction"
	"github.com/ritzau/mindmap/pkg/layout"
	"github.com/ritzau/mindmap/pkg/logging"
	"github.com/ritzau/mindmap/pkg/render"
	"gonum.org/v1/gonum/spatial/r2"
)

// ErrUnknownTurn is returned for chunks or ends of a turn that is not open
var ErrUnknownTurn = errors.New("unknown turn")

// ActivateFunc receives node activations: the content to send to the
// assistant and the node the new turn attaches to.
type ActivateFunc func(content string, nodeID int64)

// Options configures a controller
type Options struct {
	Layout      layout.Config
	Interaction interaction.Config
	Palette     render.Palette
	Limits      geometry.Limits
	Viewport    r2.Vec
	Strict      bool // return invalid references instead of ignoring them
}

// DefaultOptions returns the defaults of every component
func DefaultOptions() Options {
	return Options{
		Layout:      layout.DefaultConfig(),
		Interaction: interaction.DefaultConfig(),
		Palette:     render.DefaultPalette(),
		Limits:      geometry.DefaultLimits(),
		Viewport:    r2.Vec{X: 1280, Y: 800},
	}
}

// FinalTurn summarizes a finalized turn
type FinalTurn struct {
	NodeID     int64                 `json:"nodeId"`
	Annotation annotation.Annotation `json:"annotation"`
	Chunks     int                   `json:"chunks"`
	Started    time.Time             `json:"started"`
	DurationMs int64                 `json:"durationMs"`
}

// Controller owns all state of one mindmap session. It is not safe for
// concurrent use; see Session.
type Controller struct {
	store   *graph.Store
	view    *geometry.ViewState
	engine  *layout.Engine
	input   *interaction.Controller
	palette render.Palette
	strict  bool

	volumes       map[string]int
	turns         map[int64]*TurnStream
	lastActivated int64
	hasActivated  bool
	onActivate    ActivateFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates an empty session
func NewController(opts Options) *Controller {
	store := graph.NewStore()
	view := geometry.NewViewState(opts.Viewport, opts.Limits)
	engine := layout.NewEngine(store, view, opts.Layout)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		store:   store,
		view:    view,
		engine:  engine,
		palette: opts.Palette,
		strict:  opts.Strict,
		volumes: make(map[string]int),
		turns:   make(map[int64]*TurnStream),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.input = interaction.NewController(view, store, engine, c.activated, opts.Interaction)
	return c
}

// OnActivate sets the node activation callback
func (c *Controller) OnActivate(fn ActivateFunc) {
	c.onActivate = fn
}

// Reconfigure applies new tunables without touching graph state
func (c *Controller) Reconfigure(opts Options) {
	c.engine.SetConfig(opts.Layout)
	c.input.SetConfig(opts.Interaction)
	c.view.SetLimits(opts.Limits)
	c.palette = opts.Palette
	c.strict = opts.Strict
}

func (c *Controller) activated(content string, nodeID int64) {
	c.lastActivated = nodeID
	c.hasActivated = true
	if c.onActivate != nil {
		c.onActivate(content, nodeID)
	}
}

// StartTurn starts a turn for submitted text under the last activated node
func (c *Controller) StartTurn(userText string) (int64, error) {
	return c.OnTurnStart(userText, nil)
}

// OnTurnStart creates or reuses the node for a user submission and opens a
// turn stream on it. When parentID is nil the last activated node is used;
// if there is none the node becomes a root. A parent whose content equals
// the submitted text is itself the turn node, which is the case for a
// clicked keyword.
func (c *Controller) OnTurnStart(userText string, parentID *int64) (int64, error) {
	if parentID == nil && c.hasActivated && c.store.Has(c.lastActivated) {
		last := c.lastActivated
		parentID = &last
	}

	var nodeID int64
	if parentID != nil {
		parent, ok := c.store.Node(*parentID)
		if !ok {
			return 0, c.check(fmt.Errorf("start turn under %d: %w", *parentID, graph.ErrInvalidReference))
		}
		if parent.Content == userText {
			nodeID = parent.ID
		}
	}

	if nodeID == 0 {
		id, err := c.engine.PlaceNode(layout.Request{
			Content:      userText,
			ParentID:     parentID,
			SearchVolume: c.knownVolume(userText),
		})
		if err != nil {
			return 0, c.check(err)
		}
		nodeID = id
	}

	c.lastActivated = nodeID
	c.hasActivated = true

	if old, ok := c.turns[nodeID]; ok {
		logging.Debug("replacing open turn", "node", nodeID, "turn", old.ID)
		old.close()
	}
	turn := newTurnStream(c.ctx, nodeID)
	c.turns[nodeID] = turn

	logging.Info("turn started", "node", nodeID, "turn", turn.ID, "text", userText)
	return nodeID, nil
}

// Turn returns the open turn stream on a node
func (c *Controller) Turn(nodeID int64) (*TurnStream, bool) {
	t, ok := c.turns[nodeID]
	return t, ok
}

// FeedChunk appends a fragment to a turn and applies newly completed tokens
func (c *Controller) FeedChunk(turnID int64, fragment string) error {
	turn, ok := c.turns[turnID]
	if !ok {
		return fmt.Errorf("chunk for turn %d: %w", turnID, ErrUnknownTurn)
	}
	return c.apply(turn, turn.append(fragment))
}

// OnChunk re-evaluates a turn against its full accumulated text
func (c *Controller) OnChunk(turnID int64, accumulated string) error {
	turn, ok := c.turns[turnID]
	if !ok {
		return fmt.Errorf("chunk for turn %d: %w", turnID, ErrUnknownTurn)
	}
	if prev := turn.text(); len(accumulated) >= len(prev) && accumulated[:len(prev)] == prev {
		return c.apply(turn, turn.append(accumulated[len(prev):]))
	}
	turn.buf.Reset()
	return c.apply(turn, turn.append(accumulated))
}

func (c *Controller) apply(turn *TurnStream, u annotation.Update) error {
	parentID := turn.NodeID
	for _, kw := range u.Keywords {
		if kw == "" {
			continue
		}
		if _, err := c.engine.PlaceNode(layout.Request{
			Content:      kw,
			ParentID:     &parentID,
			SearchVolume: c.knownVolume(kw),
		}); err != nil {
			return c.check(err)
		}
	}
	if len(u.Keywords) > 0 {
		logging.Debug("keywords applied", "node", turn.NodeID, "count", len(u.Keywords))
	}

	if u.IconChanged {
		if err := c.store.SetIcon(turn.NodeID, u.Icon); err != nil {
			return c.check(err)
		}
	}
	return nil
}

// EndTurn finalizes a turn and closes its stream
func (c *Controller) EndTurn(turnID int64) (FinalTurn, error) {
	turn, ok := c.turns[turnID]
	if !ok {
		return FinalTurn{}, fmt.Errorf("end of turn %d: %w", turnID, ErrUnknownTurn)
	}
	text := turn.text()
	err := c.apply(turn, turn.scanner.Observe(text))

	turn.close()
	delete(c.turns, turnID)

	if c.strict {
		if ferr := c.store.CheckForest(); ferr != nil {
			logging.Error("graph invariant broken", "error", ferr)
			err = errors.Join(err, ferr)
		}
	}

	final := FinalTurn{
		NodeID:     turnID,
		Annotation: turn.scanner.Current(text),
		Chunks:     turn.chunks,
		Started:    turn.started,
		DurationMs: time.Since(turn.started).Milliseconds(),
	}
	logging.Info("turn finalized", "node", turnID, "turn", turn.ID,
		"keywords", len(final.Annotation.Keywords), "chunks", turn.chunks, "durationMs", final.DurationMs)
	return final, err
}

// OnVolumes merges volumes into the last-known table and relabels every
// node whose content is a key. Later values win.
func (c *Controller) OnVolumes(volumes map[string]int) int {
	for k, v := range volumes {
		c.volumes[k] = v
	}

	updated := 0
	for _, n := range c.store.Nodes() {
		if v, ok := volumes[n.Content]; ok {
			_ = c.store.SetVolume(n.ID, v)
			updated++
		}
	}
	logging.Debug("volumes merged", "keys", len(volumes), "nodes", updated)
	return updated
}

// OnVolumesRaw parses a volume payload. A malformed payload is logged and
// leaves the session untouched.
func (c *Controller) OnVolumesRaw(payload []byte) (int, error) {
	volumes, err := annotation.ParseVolumes(payload)
	if err != nil {
		logging.Warn("ignoring volume payload", "error", err)
		return 0, err
	}
	return c.OnVolumes(volumes), nil
}

func (c *Controller) knownVolume(content string) *int {
	if v, ok := c.volumes[content]; ok {
		return &v
	}
	return nil
}

// OnClear discards the graph, view, volumes and open turns
func (c *Controller) OnClear() {
	for id, turn := range c.turns {
		turn.close()
		delete(c.turns, id)
	}
	c.store.Clear()
	c.view.Reset()
	c.input.Reset()
	c.volumes = make(map[string]int)
	c.lastActivated = 0
	c.hasActivated = false
	logging.Info("mindmap cleared")
}

// Close cancels every open turn. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.cancel()
}

// HandleEvent routes an input event to the interaction controller
func (c *Controller) HandleEvent(ev interaction.Event) (bool, error) {
	redraw, err := c.input.Handle(ev)
	if err != nil {
		return redraw, c.check(err)
	}
	return redraw, nil
}

// RecenterRoot moves the session root to the viewport center
func (c *Controller) RecenterRoot() bool {
	return c.engine.RecenterRoot()
}

// Scene renders the current state
func (c *Controller) Scene() *render.Scene {
	return render.Render(c.store, c.view, c.palette)
}

// Entry returns the open text entry, if any
func (c *Controller) Entry() (interaction.Entry, bool) {
	return c.input.Entry()
}

// Node returns a node snapshot
func (c *Controller) Node(id int64) (graph.Node, bool) {
	return c.store.Node(id)
}

// Nodes returns a snapshot of all nodes
func (c *Controller) Nodes() []graph.Node {
	return c.store.Nodes()
}

// Edges returns a snapshot of all edges
func (c *Controller) Edges() []graph.Edge {
	return c.store.Edges()
}

// Children returns the ids of the children of a node
func (c *Controller) Children(id int64) []int64 {
	return c.store.Children(id)
}

// Parent returns the parent of a node
func (c *Controller) Parent(id int64) (int64, bool) {
	return c.store.Parent(id)
}

// Roots returns the ids of all root nodes
func (c *Controller) Roots() []int64 {
	return c.store.Roots()
}

// View returns a copy of the current view state
func (c *Controller) View() geometry.ViewState {
	return *c.view
}

// check applies the strictness policy to invalid references
func (c *Controller) check(err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, graph.ErrInvalidReference) {
		return err
	}
	if c.strict {
		logging.Error("invalid reference", "error", err)
		return err
	}
	logging.Warn("ignoring invalid reference", "error", err)
	return nil
}
