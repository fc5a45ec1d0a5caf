package render

import (
	"math"
	"testing"

	"github.com/ritzau/mindmap/pkg/geometry"
	"github.com/ritzau/mindmap/pkg/graph"
	"gonum.org/v1/gonum/spatial/r2"
)

func buildStore() *graph.Store {
	s := graph.NewStore()
	root := s.CreateNode("root", r2.Vec{X: 0, Y: 0})
	child := s.CreateNode("child", r2.Vec{X: 30, Y: 40})
	s.AddEdge(root.ID, child.ID)
	return s
}

func TestRenderEdgeGeometry(t *testing.T) {
	s := buildStore()
	view := geometry.NewViewState(r2.Vec{X: 800, Y: 600}, geometry.DefaultLimits())
	view.Zoom = 2
	view.Pan = r2.Vec{X: 100, Y: 10}

	scene := Render(s, view, DefaultPalette())

	if len(scene.Nodes) != 2 || len(scene.Edges) != 1 {
		t.Fatalf("Expected 2 nodes and 1 edge, got %d and %d", len(scene.Nodes), len(scene.Edges))
	}

	e := scene.Edges[0]
	if e.X1 != 100 || e.Y1 != 10 || e.X2 != 160 || e.Y2 != 90 {
		t.Errorf("Unexpected endpoints %+v", e)
	}
	if math.Abs(e.Length-100) > 1e-9 {
		t.Errorf("Expected length 100, got %v", e.Length)
	}
	if want := math.Atan2(80, 60) * 180 / math.Pi; math.Abs(e.Angle-want) > 1e-9 {
		t.Errorf("Expected angle %v, got %v", want, e.Angle)
	}

	if scene.Nodes[1].Depth != 1 {
		t.Errorf("Expected child depth 1, got %d", scene.Nodes[1].Depth)
	}
	w, h := LabelSize("child")
	if scene.Nodes[1].Width != 2*w || scene.Nodes[1].Height != 2*h {
		t.Errorf("Box not scaled by zoom: %+v", scene.Nodes[1])
	}
}

func TestLabelSizeMultiline(t *testing.T) {
	w, h := LabelSize("alpha\n(42)")
	if w != 5*CharWidth+2*Padding {
		t.Errorf("Unexpected width %v", w)
	}
	if h != 2*LineHeight+2*Padding {
		t.Errorf("Unexpected height %v", h)
	}
}

func TestPaletteDarkensWithVolume(t *testing.T) {
	p := DefaultPalette()
	low, high, over := 0, 5000, 1000000

	l0, _, _ := p.Fill(nil).Lab()
	lLow, _, _ := p.Fill(&low).Lab()
	lHigh, _, _ := p.Fill(&high).Lab()
	lOver, _, _ := p.Fill(&over).Lab()

	if l0 != lLow {
		t.Errorf("Unknown volume should color like zero volume")
	}
	if !(lHigh < lLow) {
		t.Errorf("Higher volume should be darker: %v vs %v", lHigh, lLow)
	}
	atMax := p.MaxVolume
	lMax, _, _ := p.Fill(&atMax).Lab()
	if math.Abs(lOver-lMax) > 1e-9 {
		t.Errorf("Volume above max should clamp")
	}

	if _, text := p.Colors(nil); text != darkText {
		t.Errorf("Light fill should use dark text, got %s", text)
	}
	if _, text := p.Colors(&over); text != lightText {
		t.Errorf("Dark fill should use light text, got %s", text)
	}
}

func TestComputeDiff(t *testing.T) {
	s := buildStore()
	view := geometry.NewViewState(r2.Vec{X: 800, Y: 600}, geometry.DefaultLimits())
	palette := DefaultPalette()

	first := Render(s, view, palette)
	if d := ComputeDiff(nil, first); !d.FullScene || len(d.AddedNodes) != 2 {
		t.Fatalf("First diff should be full scene, got %+v", d)
	}

	snap := CreateSnapshot(first)
	if d := ComputeDiff(snap, Render(s, view, palette)); !d.Empty() {
		t.Errorf("Unchanged scene should give empty diff, got %+v", d)
	}

	extra := s.CreateNode("extra", r2.Vec{X: 500, Y: 500})
	s.AddEdge(1, extra.ID)
	s.SetVolume(2, 42)
	s.SetPosition(1, r2.Vec{X: 5, Y: 5})

	d := ComputeDiff(snap, Render(s, view, palette))
	if len(d.AddedNodes) != 1 || d.AddedNodes[0].ID != extra.ID {
		t.Errorf("Expected added node %d, got %+v", extra.ID, d.AddedNodes)
	}
	if len(d.ModifiedNodes) != 2 {
		t.Errorf("Expected 2 modified nodes, got %d", len(d.ModifiedNodes))
	}
	if len(d.AddedEdges) != 1 || len(d.ModifiedEdges) != 1 {
		t.Errorf("Expected 1 added and 1 modified edge, got %d and %d", len(d.AddedEdges), len(d.ModifiedEdges))
	}

	view.SetZoom(2, r2.Vec{})
	if d := ComputeDiff(snap, Render(s, view, palette)); !d.FullScene {
		t.Error("View change should produce a full scene")
	}
}
