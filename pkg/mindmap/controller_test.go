package mindmap

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/ritzau/mindmap/pkg/annotation"
	"github.com/ritzau/mindmap/pkg/graph"
	"github.com/ritzau/mindmap/pkg/interaction"
)

func childContents(c *Controller, id int64) []string {
	var out []string
	for _, child := range c.Children(id) {
		n, _ := c.Node(child)
		out = append(out, n.Content)
	}
	sort.Strings(out)
	return out
}

func TestTurnGrowsKeywordChildren(t *testing.T) {
	c := NewController(DefaultOptions())

	turn, err := c.StartTurn("what is go?")
	if err != nil {
		t.Fatalf("StartTurn() unexpected error: %v", err)
	}
	if turn != graph.FirstID {
		t.Errorf("Expected first turn at id %d, got %d", graph.FirstID, turn)
	}

	for _, chunk := range []string{"Go is a language. ", "[[goroutines, ", "channels, goroutines]]", " rocket"} {
		if err := c.FeedChunk(turn, chunk); err != nil {
			t.Fatalf("FeedChunk(%q) unexpected error: %v", chunk, err)
		}
	}

	if got, want := childContents(c, turn), []string{"channels", "goroutines"}; !reflect.DeepEqual(got, want) {
		t.Errorf("children: want %q, got %q", want, got)
	}
	n, _ := c.Node(turn)
	if n.IconName != "rocket" {
		t.Errorf("Expected icon rocket, got %q", n.IconName)
	}

	final, err := c.EndTurn(turn)
	if err != nil {
		t.Fatalf("EndTurn() unexpected error: %v", err)
	}
	if !reflect.DeepEqual(final.Annotation.Keywords, []string{"goroutines", "channels", "goroutines"}) {
		t.Errorf("Unexpected final keywords %q", final.Annotation.Keywords)
	}
	if final.Chunks != 4 {
		t.Errorf("Expected 4 chunks, got %d", final.Chunks)
	}
	if final.Started.IsZero() || final.DurationMs < 0 {
		t.Errorf("Expected turn timing, got started %v after %dms", final.Started, final.DurationMs)
	}

	if err := c.FeedChunk(turn, "late"); !errors.Is(err, ErrUnknownTurn) {
		t.Errorf("Expected ErrUnknownTurn after end, got %v", err)
	}
	if len(c.Nodes()) != 3 {
		t.Errorf("Expected 3 nodes, got %d", len(c.Nodes()))
	}
}

func TestOnChunkIsIdempotent(t *testing.T) {
	c := NewController(DefaultOptions())
	turn, _ := c.StartTurn("q")

	text := "answer [[a, b]] bulb"
	for i := 0; i < 3; i++ {
		if err := c.OnChunk(turn, text); err != nil {
			t.Fatalf("OnChunk() unexpected error: %v", err)
		}
	}

	if len(c.Nodes()) != 3 || len(c.Edges()) != 2 {
		t.Errorf("Expected 3 nodes and 2 edges, got %d and %d", len(c.Nodes()), len(c.Edges()))
	}
}

func TestEmptyKeywordsAreSkipped(t *testing.T) {
	c := NewController(DefaultOptions())
	turn, _ := c.StartTurn("q")
	c.FeedChunk(turn, "[[ , x,]]")

	if got := childContents(c, turn); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Expected only x, got %q", got)
	}
}

func TestActivationChainsTurns(t *testing.T) {
	c := NewController(DefaultOptions())
	var activated []int64
	c.OnActivate(func(content string, id int64) { activated = append(activated, id) })

	root, _ := c.StartTurn("root question")
	c.FeedChunk(root, "[[alpha, beta]]")
	c.EndTurn(root)

	alpha := c.Children(root)[0]
	alphaNode, _ := c.Node(alpha)
	screen := c.View()
	p := screen.ToScreen(alphaNode.Position)

	c.HandleEvent(interaction.Event{Type: interaction.PointerDown, Target: interaction.TargetNode, NodeID: alpha, X: p.X, Y: p.Y, Timestamp: 0})
	c.HandleEvent(interaction.Event{Type: interaction.PointerUp, Target: interaction.TargetNode, NodeID: alpha, X: p.X, Y: p.Y, Timestamp: 50})

	if !reflect.DeepEqual(activated, []int64{alpha}) {
		t.Fatalf("Expected activation of %d, got %v", alpha, activated)
	}

	// the network layer answers the activation with a new turn for the keyword
	turn, err := c.StartTurn(alphaNode.Content)
	if err != nil {
		t.Fatalf("StartTurn() unexpected error: %v", err)
	}
	if turn != alpha {
		t.Errorf("Clicked keyword should be the turn node, got %d want %d", turn, alpha)
	}

	// a free-form submission hangs under the last activated node
	next, _ := c.StartTurn("follow-up")
	if parent, ok := c.Parent(next); !ok || parent != alpha {
		t.Errorf("Expected follow-up under %d, got %d (%v)", alpha, parent, ok)
	}
}

func TestVolumeMerge(t *testing.T) {
	c := NewController(DefaultOptions())
	turn, _ := c.StartTurn("q")
	c.FeedChunk(turn, "[[alpha, beta]]")

	find := func(content string) graph.Node {
		for _, n := range c.Nodes() {
			if n.Content == content {
				return n
			}
		}
		t.Fatalf("node %q not found", content)
		return graph.Node{}
	}

	if updated := c.OnVolumes(map[string]int{"alpha": 42}); updated != 1 {
		t.Errorf("Expected 1 updated node, got %d", updated)
	}
	if got := find("alpha").DisplayLabel; got != "alpha\n(42)" {
		t.Errorf("Expected %q, got %q", "alpha\n(42)", got)
	}
	if got := find("beta").DisplayLabel; got != "beta" {
		t.Errorf("Other labels must stay untouched, got %q", got)
	}

	c.OnVolumes(map[string]int{"alpha": 50})
	if got := find("alpha").DisplayLabel; got != "alpha\n(50)" {
		t.Errorf("Expected last write to win, got %q", got)
	}

	// later nodes pick up known volumes on creation
	c.OnVolumes(map[string]int{"gamma": 7})
	turn2, _ := c.StartTurn("q2")
	c.FeedChunk(turn2, "[[gamma]]")
	if got := find("gamma").DisplayLabel; got != "gamma\n(7)" {
		t.Errorf("Expected known volume on creation, got %q", got)
	}
}

func TestMalformedVolumesIgnored(t *testing.T) {
	c := NewController(DefaultOptions())
	turn, _ := c.StartTurn("q")
	c.FeedChunk(turn, "[[alpha]]")

	updated, err := c.OnVolumesRaw([]byte(`{"alpha": "lots"`))
	if !errors.Is(err, annotation.ErrMalformedVolumePayload) {
		t.Fatalf("Expected ErrMalformedVolumePayload, got %v", err)
	}
	if updated != 0 {
		t.Errorf("Malformed payload updated %d nodes", updated)
	}
	for _, n := range c.Nodes() {
		if n.SearchVolume != nil {
			t.Errorf("Node %q got a volume", n.Content)
		}
	}
}

func TestClearResets(t *testing.T) {
	c := NewController(DefaultOptions())
	turn, _ := c.StartTurn("q")
	ctx := c.turns[turn].Context()
	c.FeedChunk(turn, "[[a, b]]")
	c.OnVolumes(map[string]int{"fresh": 3})
	c.view.SetZoom(3, c.view.Center())

	c.OnClear()

	if len(c.Nodes()) != 0 || len(c.Edges()) != 0 {
		t.Fatalf("Expected empty graph after clear")
	}
	if ctx.Err() == nil {
		t.Error("Open turn should be cancelled by clear")
	}
	if v := c.View(); v.Zoom != 1 {
		t.Errorf("Expected zoom reset, got %v", v.Zoom)
	}
	if c.hasActivated {
		t.Error("Last activated node should be forgotten")
	}

	id, _ := c.StartTurn("fresh")
	if id != graph.FirstID {
		t.Errorf("Expected id %d after clear, got %d", graph.FirstID, id)
	}
	if n, _ := c.Node(id); n.SearchVolume != nil {
		t.Error("Volumes should be forgotten by clear")
	}
	if _, ok := c.Parent(id); ok {
		t.Error("First turn after clear should be a root")
	}
}

func TestRestartingTurnCancelsOldStream(t *testing.T) {
	c := NewController(DefaultOptions())
	turn, _ := c.StartTurn("q")
	old := c.turns[turn].Context()

	again, _ := c.OnTurnStart("q", &turn)
	if again != turn {
		t.Fatalf("Expected the same node, got %d", again)
	}
	if old.Err() == nil {
		t.Error("Replaced stream should be cancelled")
	}
	if c.turns[turn].Context().Err() != nil {
		t.Error("New stream should be open")
	}
}

func TestInvalidParentStrictness(t *testing.T) {
	missing := int64(99)

	lenient := NewController(DefaultOptions())
	if _, err := lenient.OnTurnStart("x", &missing); err != nil {
		t.Errorf("Lenient controller should swallow invalid references, got %v", err)
	}
	if len(lenient.Nodes()) != 0 {
		t.Error("Invalid reference must not create nodes")
	}

	opts := DefaultOptions()
	opts.Strict = true
	strict := NewController(opts)
	if _, err := strict.OnTurnStart("x", &missing); !errors.Is(err, graph.ErrInvalidReference) {
		t.Errorf("Strict controller should return ErrInvalidReference, got %v", err)
	}
}
