package interaction

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ritzau/mindmap/pkg/geometry"
	"github.com/ritzau/mindmap/pkg/graph"
	"github.com/ritzau/mindmap/pkg/layout"
	"github.com/ritzau/mindmap/pkg/logging"
	"gonum.org/v1/gonum/spatial/r2"
)

// ErrNoEntry is returned when a text-entry key arrives with no entry open
var ErrNoEntry = errors.New("no text entry open")

// Config holds the gesture thresholds
type Config struct {
	ClickMs  int     `koanf:"click_ms"`
	DragPx   float64 `koanf:"drag_px"`
	ZoomStep float64 `koanf:"zoom_step"`
}

// DefaultConfig returns the thresholds used by the web client
func DefaultConfig() Config {
	return Config{ClickMs: 200, DragPx: 5, ZoomStep: 1.1}
}

// Nodes is the node access the controller needs
type Nodes interface {
	Node(id int64) (graph.Node, bool)
	SetPosition(id int64, position r2.Vec) error
}

// Placer creates nodes
type Placer interface {
	PlaceNode(req layout.Request) (int64, error)
}

// ActivateFunc is called when a node is clicked or created by hand
type ActivateFunc func(content string, nodeID int64)

type mode int

const (
	modeIdle mode = iota
	modePanning
	modeCandidate
	modeDragging
)

func (m mode) String() string {
	switch m {
	case modeIdle:
		return "idle"
	case modePanning:
		return "panning"
	case modeCandidate:
		return "candidate"
	case modeDragging:
		return "dragging"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Entry is an open double-click text entry
type Entry struct {
	World  r2.Vec `json:"world"`
	Screen r2.Vec `json:"screen"`
}

// Controller turns input events into pan, zoom, drag, activation and
// node creation.
type Controller struct {
	view     *geometry.ViewState
	nodes    Nodes
	placer   Placer
	activate ActivateFunc
	cfg      Config

	mode       mode
	nodeID     int64
	start      r2.Vec
	startTime  time.Time
	last       r2.Vec
	grabOffset r2.Vec
	entry      *Entry
}

// NewController creates an interaction controller
func NewController(view *geometry.ViewState, nodes Nodes, placer Placer, activate ActivateFunc, cfg Config) *Controller {
	return &Controller{
		view:     view,
		nodes:    nodes,
		placer:   placer,
		activate: activate,
		cfg:      cfg,
	}
}

// SetConfig replaces the gesture thresholds
func (c *Controller) SetConfig(cfg Config) {
	c.cfg = cfg
}

// Entry returns the open text entry, if any
func (c *Controller) Entry() (Entry, bool) {
	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}

// Reset abandons any gesture in progress and closes the text entry
func (c *Controller) Reset() {
	c.mode = modeIdle
	c.entry = nil
}

// Handle applies one event. It reports whether the scene needs a redraw.
func (c *Controller) Handle(ev Event) (bool, error) {
	logging.Trace("interaction event", "type", string(ev.Type), "mode", c.mode)

	switch ev.Type {
	case PointerDown:
		return c.pointerDown(ev)
	case PointerMove:
		return c.pointerMove(ev)
	case PointerUp:
		return c.pointerUp(ev)
	case PointerCancel:
		c.mode = modeIdle
		return false, nil
	case Wheel:
		return c.wheel(ev), nil
	case DoubleClick:
		return c.doubleClick(ev), nil
	case KeyDown:
		return c.keyDown(ev)
	case Blur:
		return c.closeEntry(), nil
	case Resize:
		c.view.Resize(r2.Vec{X: ev.Width, Y: ev.Height})
		return true, nil
	default:
		return false, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func (c *Controller) pointerDown(ev Event) (bool, error) {
	p := ev.Point()
	c.start, c.last, c.startTime = p, p, ev.Time()

	if ev.Target != TargetNode {
		c.mode = modePanning
		return false, nil
	}

	node, ok := c.nodes.Node(ev.NodeID)
	if !ok {
		c.mode = modeIdle
		return false, fmt.Errorf("pointer down on node %d: %w", ev.NodeID, graph.ErrInvalidReference)
	}
	c.mode = modeCandidate
	c.nodeID = node.ID
	c.grabOffset = r2.Sub(node.Position, c.view.ToWorld(p))
	return false, nil
}

func (c *Controller) pointerMove(ev Event) (bool, error) {
	p := ev.Point()
	defer func() { c.last = p }()

	switch c.mode {
	case modePanning:
		c.view.PanBy(r2.Sub(p, c.last), true)
		return true, nil
	case modeCandidate:
		if !c.exceedsDrag(p) {
			return false, nil
		}
		c.mode = modeDragging
		logging.Trace("drag started", "node", c.nodeID)
		return true, c.moveNode(p)
	case modeDragging:
		return true, c.moveNode(p)
	default:
		return false, nil
	}
}

func (c *Controller) pointerUp(ev Event) (bool, error) {
	p := ev.Point()
	m := c.mode
	c.mode = modeIdle

	switch m {
	case modePanning:
		return false, nil
	case modeCandidate:
		elapsed := ev.Time().Sub(c.startTime)
		if c.exceedsDrag(p) {
			// moved without intermediate move events
			return true, c.moveNode(p)
		}
		if elapsed >= c.clickThreshold() {
			return false, nil
		}
		node, ok := c.nodes.Node(c.nodeID)
		if !ok {
			return false, fmt.Errorf("click on node %d: %w", c.nodeID, graph.ErrInvalidReference)
		}
		logging.Debug("node activated", "id", node.ID, "content", node.Content)
		c.activate(node.Content, node.ID)
		return true, nil
	case modeDragging:
		return true, c.moveNode(p)
	default:
		return false, nil
	}
}

func (c *Controller) wheel(ev Event) bool {
	if c.entry != nil || ev.DeltaY == 0 {
		return false
	}
	step := c.cfg.ZoomStep
	if step <= 1 {
		step = DefaultConfig().ZoomStep
	}
	factor := step
	if ev.DeltaY > 0 {
		factor = 1 / step
	}
	c.view.SetZoom(c.view.Zoom*factor, ev.Point())
	return true
}

func (c *Controller) doubleClick(ev Event) bool {
	if ev.Target == TargetNode {
		return false
	}
	p := ev.Point()
	c.entry = &Entry{World: c.view.ToWorld(p), Screen: p}
	c.mode = modeIdle
	return true
}

func (c *Controller) keyDown(ev Event) (bool, error) {
	if c.entry == nil {
		if ev.Key == "Enter" {
			return false, ErrNoEntry
		}
		return false, nil
	}
	switch ev.Key {
	case "Escape":
		return c.closeEntry(), nil
	case "Enter":
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return false, nil
		}
		return true, c.submitEntry(text)
	default:
		return false, nil
	}
}

// submitEntry creates a node at the open entry and activates it
func (c *Controller) submitEntry(text string) error {
	pos := c.entry.World
	c.entry = nil

	id, err := c.placer.PlaceNode(layout.Request{Content: text, Position: &pos})
	if err != nil {
		return err
	}
	logging.Debug("node created by hand", "id", id, "content", text)
	c.activate(text, id)
	return nil
}

func (c *Controller) closeEntry() bool {
	if c.entry == nil {
		return false
	}
	c.entry = nil
	return true
}

func (c *Controller) moveNode(p r2.Vec) error {
	return c.nodes.SetPosition(c.nodeID, r2.Add(c.view.ToWorld(p), c.grabOffset))
}

func (c *Controller) exceedsDrag(p r2.Vec) bool {
	d := r2.Sub(p, c.start)
	return math.Abs(d.X) > c.cfg.DragPx || math.Abs(d.Y) > c.cfg.DragPx
}

func (c *Controller) clickThreshold() time.Duration {
	return time.Duration(c.cfg.ClickMs) * time.Millisecond
}
