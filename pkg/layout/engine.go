package layout

import (
	"fmt"
	"math"

	"github.com/ritzau/mindmap/pkg/geometry"
	"github.com/ritzau/mindmap/pkg/graph"
	"github.com/ritzau/mindmap/pkg/logging"
	"gonum.org/v1/gonum/spatial/r2"
)

// Config holds the spiral placement tunables (world units and radians)
type Config struct {
	MinDistance float64 `koanf:"min_distance"`
	Spacing     float64 `koanf:"spacing"`
	AngleStep   float64 `koanf:"angle_step"`
	MaxSteps    int     `koanf:"max_steps"`
}

// DefaultConfig returns the placement parameters used by the web client
func DefaultConfig() Config {
	return Config{
		MinDistance: 160,
		Spacing:     180,
		AngleStep:   0.5,
		MaxSteps:    50,
	}
}

// Request describes a node to place. Nil fields are absent.
type Request struct {
	Content      string
	ParentID     *int64
	SearchVolume *int
	Position     *r2.Vec // explicit position, used verbatim
}

// Placement reports the outcome of a placement
type Placement struct {
	ID      int64
	Created bool // false when an existing child was reused
	Steps   int  // spiral steps taken, 0 if no spiral search ran
	Forced  bool // step limit reached before a free spot was found
}

// SpiralResult is the outcome of a spiral search
type SpiralResult struct {
	Position r2.Vec
	Steps    int
	Forced   bool
}

// Engine places new nodes into a store. It never moves existing nodes
// except for an explicit RecenterRoot.
type Engine struct {
	store *graph.Store
	view  *geometry.ViewState
	cfg   Config
}

// NewEngine creates a layout engine over the given store and view
func NewEngine(store *graph.Store, view *geometry.ViewState, cfg Config) *Engine {
	return &Engine{store: store, view: view, cfg: cfg}
}

// Config returns the current tunables
func (e *Engine) Config() Config {
	return e.cfg
}

// SetConfig replaces the tunables for subsequent placements
func (e *Engine) SetConfig(cfg Config) {
	e.cfg = cfg
}

// PlaceNode inserts a node and returns its id, or the id of an existing
// child of the same parent with identical content.
func (e *Engine) PlaceNode(req Request) (int64, error) {
	p, err := e.Place(req)
	return p.ID, err
}

// Place is PlaceNode with placement details
func (e *Engine) Place(req Request) (Placement, error) {
	var anchor r2.Vec

	if req.ParentID != nil {
		parent, ok := e.store.Node(*req.ParentID)
		if !ok {
			return Placement{}, fmt.Errorf("place %q under %d: %w", req.Content, *req.ParentID, graph.ErrInvalidReference)
		}
		if existing, ok := e.store.FindChild(parent.ID, req.Content); ok {
			return Placement{ID: existing.ID}, nil
		}
		anchor = parent.Position
	} else {
		anchor = e.view.WorldCenter()
	}

	placement := Placement{Created: true}
	position := anchor
	switch {
	case req.Position != nil:
		position = *req.Position
	case req.ParentID != nil:
		res := e.Spiral(anchor)
		position = res.Position
		placement.Steps = res.Steps
		placement.Forced = res.Forced
		if res.Forced {
			logging.Debug("spiral placement hit step limit", "content", req.Content, "steps", res.Steps)
		}
	}

	node := e.store.CreateNode(req.Content, position)
	placement.ID = node.ID
	if req.SearchVolume != nil {
		// node was just created, cannot fail
		_ = e.store.SetVolume(node.ID, *req.SearchVolume)
	}
	if req.ParentID != nil {
		if err := e.store.AddEdge(*req.ParentID, node.ID); err != nil {
			return placement, err
		}
	}

	logging.Trace("placed node", "id", node.ID, "content", req.Content,
		"x", position.X, "y", position.Y, "steps", placement.Steps)
	return placement, nil
}

// Spiral walks an Archimedean spiral out from anchor until a position is at
// least MinDistance from every node, or MaxSteps is reached.
func (e *Engine) Spiral(anchor r2.Vec) SpiralResult {
	nodes := e.store.Nodes()
	growth := e.cfg.Spacing / (2 * math.Pi)

	candidate := anchor
	angle, radius := 0.0, 0.0
	for step := 1; step <= e.cfg.MaxSteps; step++ {
		angle += e.cfg.AngleStep
		radius += growth
		candidate = r2.Add(anchor, r2.Vec{X: radius * math.Cos(angle), Y: radius * math.Sin(angle)})
		if e.isFree(candidate, nodes) {
			return SpiralResult{Position: candidate, Steps: step}
		}
	}
	return SpiralResult{Position: candidate, Steps: max(e.cfg.MaxSteps, 0), Forced: true}
}

func (e *Engine) isFree(p r2.Vec, nodes []graph.Node) bool {
	for _, n := range nodes {
		if geometry.Distance(p, n.Position) < e.cfg.MinDistance {
			return false
		}
	}
	return true
}

// RecenterRoot moves the session root to the current viewport center.
// It reports false when the store is empty.
func (e *Engine) RecenterRoot() bool {
	root, ok := e.store.Root()
	if !ok {
		return false
	}
	center := e.view.WorldCenter()
	_ = e.store.SetPosition(root.ID, center)
	logging.Debug("recentered root", "id", root.ID, "x", center.X, "y", center.Y)
	return true
}
