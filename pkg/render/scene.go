package render

import (
	"math"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/ritzau/mindmap/pkg/geometry"
	"github.com/ritzau/mindmap/pkg/graph"
	"gonum.org/v1/gonum/spatial/r2"
)

// Label box metrics in world units
const (
	CharWidth  = 8.0
	LineHeight = 18.0
	Padding    = 10.0
)

// Source is the graph data a render pass reads
type Source interface {
	Nodes() []graph.Node
	Edges() []graph.Edge
	Depths() map[int64]int
}

// NodeBox is a node laid out in screen space
type NodeBox struct {
	ID        int64   `json:"id"`
	Content   string  `json:"content"`
	Label     string  `json:"label"`
	Icon      string  `json:"icon,omitempty"`
	Volume    *int    `json:"volume,omitempty"`
	Depth     int     `json:"depth"`
	X         float64 `json:"x"` // screen center
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Fill      string  `json:"fill"`
	TextColor string  `json:"textColor"`
}

// EdgeLine is an edge in screen space. Angle is in degrees.
type EdgeLine struct {
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Length float64 `json:"length"`
	Angle  float64 `json:"angle"`
}

// View is the pan/zoom state a scene was rendered with
type View struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"panX"`
	PanY float64 `json:"panY"`
}

// Scene is the output of one render pass
type Scene struct {
	View  View       `json:"view"`
	Nodes []NodeBox  `json:"nodes"`
	Edges []EdgeLine `json:"edges"`
}

// Render computes the scene for the current graph and view. It does not
// mutate either.
func Render(src Source, view *geometry.ViewState, palette Palette) *Scene {
	nodes := src.Nodes()
	depths := src.Depths()

	scene := &Scene{
		View:  View{Zoom: view.Zoom, PanX: view.Pan.X, PanY: view.Pan.Y},
		Nodes: make([]NodeBox, 0, len(nodes)),
		Edges: make([]EdgeLine, 0),
	}

	screen := make(map[int64]r2.Vec, len(nodes))
	for _, n := range nodes {
		p := view.ToScreen(n.Position)
		screen[n.ID] = p

		w, h := LabelSize(n.DisplayLabel)
		fill, text := palette.Colors(n.SearchVolume)
		scene.Nodes = append(scene.Nodes, NodeBox{
			ID:        n.ID,
			Content:   n.Content,
			Label:     n.DisplayLabel,
			Icon:      n.IconName,
			Volume:    n.SearchVolume,
			Depth:     depths[n.ID],
			X:         p.X,
			Y:         p.Y,
			Width:     w * view.Zoom,
			Height:    h * view.Zoom,
			Fill:      fill,
			TextColor: text,
		})
	}

	for _, e := range src.Edges() {
		from, ok1 := screen[e.From]
		to, ok2 := screen[e.To]
		if !ok1 || !ok2 {
			continue
		}
		d := r2.Sub(to, from)
		scene.Edges = append(scene.Edges, EdgeLine{
			From:   e.From,
			To:     e.To,
			X1:     from.X,
			Y1:     from.Y,
			X2:     to.X,
			Y2:     to.Y,
			Length: r2.Norm(d),
			Angle:  math.Atan2(d.Y, d.X) * 180 / math.Pi,
		})
	}

	return scene
}

// LabelSize returns the unscaled box size for a possibly multi-line label
func LabelSize(label string) (width, height float64) {
	lines := strings.Split(label, "\n")
	widest := 0
	for _, line := range lines {
		widest = max(widest, runewidth.StringWidth(line))
	}
	return float64(widest)*CharWidth + 2*Padding, float64(len(lines))*LineHeight + 2*Padding
}
