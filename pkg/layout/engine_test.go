package layout

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ritzau/mindmap/pkg/geometry"
	"github.com/ritzau/mindmap/pkg/graph"
	"gonum.org/v1/gonum/spatial/r2"
)

func newEngine() (*Engine, *graph.Store, *geometry.ViewState) {
	store := graph.NewStore()
	view := geometry.NewViewState(r2.Vec{X: 1000, Y: 800}, geometry.DefaultLimits())
	return NewEngine(store, view, DefaultConfig()), store, view
}

func ptr[T any](v T) *T {
	return &v
}

func TestRootPlacedAtViewportCenter(t *testing.T) {
	e, store, _ := newEngine()

	id, err := e.PlaceNode(Request{Content: "root"})
	if err != nil {
		t.Fatalf("PlaceNode() unexpected error: %v", err)
	}
	if id != graph.FirstID {
		t.Errorf("Expected first id, got %d", id)
	}

	n, _ := store.Node(id)
	if n.Position != (r2.Vec{X: 500, Y: 400}) {
		t.Errorf("Expected root at viewport center, got %v", n.Position)
	}
}

func TestExplicitPositionUsedVerbatim(t *testing.T) {
	e, store, _ := newEngine()
	root, _ := e.PlaceNode(Request{Content: "root"})

	pos := r2.Vec{X: 500, Y: 400} // on top of root
	id, err := e.PlaceNode(Request{Content: "manual", Position: &pos})
	if err != nil {
		t.Fatalf("PlaceNode() unexpected error: %v", err)
	}
	n, _ := store.Node(id)
	if n.Position != pos {
		t.Errorf("Expected %v, got %v", pos, n.Position)
	}
	if _, ok := store.Parent(id); ok {
		t.Error("Node without parent should not get an edge")
	}
	_ = root
}

func TestPlaceNodeIsIdempotent(t *testing.T) {
	e, store, _ := newEngine()
	root, _ := e.PlaceNode(Request{Content: "root"})

	first, err := e.PlaceNode(Request{Content: "alpha", ParentID: &root})
	if err != nil {
		t.Fatalf("PlaceNode() unexpected error: %v", err)
	}
	second, err := e.PlaceNode(Request{Content: "alpha", ParentID: &root})
	if err != nil {
		t.Fatalf("PlaceNode() unexpected error: %v", err)
	}

	if first != second {
		t.Errorf("Expected same id, got %d and %d", first, second)
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 nodes, got %d", store.Len())
	}
	if len(store.Edges()) != 1 {
		t.Errorf("Expected 1 edge, got %d", len(store.Edges()))
	}
}

func TestDedupIsPerParent(t *testing.T) {
	e, _, _ := newEngine()
	a, _ := e.PlaceNode(Request{Content: "A"})
	b, _ := e.PlaceNode(Request{Content: "B", ParentID: &a})

	xa, _ := e.PlaceNode(Request{Content: "X", ParentID: &a})
	xb, _ := e.PlaceNode(Request{Content: "X", ParentID: &b})

	if xa == xb {
		t.Errorf("Children of different parents must be distinct nodes, both got %d", xa)
	}
}

func TestInvalidParentLeavesStoreUntouched(t *testing.T) {
	e, store, _ := newEngine()
	e.PlaceNode(Request{Content: "root"})

	_, err := e.PlaceNode(Request{Content: "orphan", ParentID: ptr(int64(42))})
	if !errors.Is(err, graph.ErrInvalidReference) {
		t.Fatalf("Expected ErrInvalidReference, got %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Failed placement created nodes: %d", store.Len())
	}
}

func TestSearchVolumeAppliedOnCreate(t *testing.T) {
	e, store, _ := newEngine()
	root, _ := e.PlaceNode(Request{Content: "root"})

	id, _ := e.PlaceNode(Request{Content: "alpha", ParentID: &root, SearchVolume: ptr(7)})
	n, _ := store.Node(id)
	if n.DisplayLabel != "alpha\n(7)" {
		t.Errorf("Expected label with volume, got %q", n.DisplayLabel)
	}
}

func TestSpiralKeepsMinimumDistance(t *testing.T) {
	e, store, _ := newEngine()
	root, _ := e.PlaceNode(Request{Content: "root"})

	forced := map[int64]bool{}
	for i := 0; i < 25; i++ {
		p, err := e.Place(Request{Content: fmt.Sprintf("kw-%d", i), ParentID: &root})
		if err != nil {
			t.Fatalf("Place() unexpected error: %v", err)
		}
		if p.Steps > DefaultConfig().MaxSteps {
			t.Errorf("Place() took %d steps", p.Steps)
		}
		if p.Forced {
			forced[p.ID] = true
		}
	}

	nodes := store.Nodes()
	minDist := DefaultConfig().MinDistance
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if forced[nodes[i].ID] || forced[nodes[j].ID] {
				continue
			}
			if d := geometry.Distance(nodes[i].Position, nodes[j].Position); d < minDist {
				t.Errorf("nodes %d and %d are %.1f apart, want >= %.1f", nodes[i].ID, nodes[j].ID, d, minDist)
			}
		}
	}
}

func TestSpiralTerminatesWhenCrowded(t *testing.T) {
	e, store, _ := newEngine()
	cfg := DefaultConfig()
	cfg.MinDistance = 1e6 // nothing is ever free
	e.SetConfig(cfg)

	root, _ := e.PlaceNode(Request{Content: "root"})
	p, err := e.Place(Request{Content: "kw", ParentID: &root})
	if err != nil {
		t.Fatalf("Place() unexpected error: %v", err)
	}
	if !p.Forced || p.Steps != cfg.MaxSteps {
		t.Errorf("Expected forced placement after %d steps, got %+v", cfg.MaxSteps, p)
	}
	if store.Len() != 2 {
		t.Errorf("Forced placement must still create the node")
	}
}

func TestRecenterRoot(t *testing.T) {
	e, store, view := newEngine()
	if e.RecenterRoot() {
		t.Error("RecenterRoot() on empty store should report false")
	}

	root, _ := e.PlaceNode(Request{Content: "root"})
	view.Resize(r2.Vec{X: 200, Y: 100})

	n, _ := store.Node(root)
	if n.Position != (r2.Vec{X: 500, Y: 400}) {
		t.Fatalf("Resize must not move the root, got %v", n.Position)
	}

	if !e.RecenterRoot() {
		t.Fatal("RecenterRoot() reported false")
	}
	n, _ = store.Node(root)
	if n.Position != (r2.Vec{X: 100, Y: 50}) {
		t.Errorf("Expected root at new center, got %v", n.Position)
	}
}
