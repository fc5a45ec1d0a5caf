package mindmap

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ritzau/mindmap/pkg/interaction"
	"github.com/ritzau/mindmap/pkg/pubsub"
	"github.com/ritzau/mindmap/pkg/render"
)

func nextEvent(t *testing.T, sub pubsub.Subscription) pubsub.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("Timeout waiting for %s event", sub.Topic())
		return pubsub.Event{}
	}
}

func TestSessionPublishesSceneDiffs(t *testing.T) {
	pub := pubsub.NewSSEPublisher()
	defer pub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := pub.Subscribe(ctx, TopicScene)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	s := NewSession(DefaultOptions(), pub)
	defer s.Close()

	turn, err := s.StartTurn("root")
	if err != nil {
		t.Fatalf("StartTurn() unexpected error: %v", err)
	}

	var first render.SceneDiff
	if err := json.Unmarshal(nextEvent(t, sub).Data, &first); err != nil {
		t.Fatalf("Failed to decode diff: %v", err)
	}
	if !first.FullScene || len(first.AddedNodes) != 1 {
		t.Errorf("Expected full scene with 1 node, got %+v", first)
	}

	if err := s.FeedChunk(turn, "[[a, b]]"); err != nil {
		t.Fatalf("FeedChunk() unexpected error: %v", err)
	}
	var second render.SceneDiff
	if err := json.Unmarshal(nextEvent(t, sub).Data, &second); err != nil {
		t.Fatalf("Failed to decode diff: %v", err)
	}
	if second.FullScene || len(second.AddedNodes) != 2 || len(second.AddedEdges) != 2 {
		t.Errorf("Expected incremental diff adding 2 nodes and 2 edges, got %+v", second)
	}
}

func TestSessionStatusEvents(t *testing.T) {
	pub := pubsub.NewSSEPublisher()
	defer pub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := pub.Subscribe(ctx, TopicStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	s := NewSession(DefaultOptions(), pub)
	turn, _ := s.StartTurn("q")
	s.FeedChunk(turn, "[[x]] star")
	s.EndTurn(turn)
	s.Clear()

	var types []string
	for range 3 {
		types = append(types, nextEvent(t, sub).Type)
	}
	want := []string{StatusTurnStarted, StatusTurnFinalized, StatusCleared}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: want %s, got %s", i, want[i], types[i])
		}
	}
}

func TestSessionTurnContextCancelled(t *testing.T) {
	s := NewSession(DefaultOptions(), nil)
	defer s.Close()

	turn, _ := s.StartTurn("q")
	ctx, ok := s.TurnContext(turn)
	if !ok {
		t.Fatal("Expected open turn")
	}
	if _, err := s.EndTurn(turn); err != nil {
		t.Fatalf("EndTurn() unexpected error: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("Turn context should be done after end")
	}
	if _, ok := s.TurnContext(turn); ok {
		t.Error("Ended turn should not have a context")
	}
}

func TestSessionActivationMayReenter(t *testing.T) {
	s := NewSession(DefaultOptions(), nil)
	defer s.Close()

	root, _ := s.StartTurn("root")
	s.FeedChunk(root, "[[child]]")
	s.EndTurn(root)

	var child int64
	var p struct{ X, Y float64 }
	s.Read(func(c *Controller) {
		child = c.Children(root)[0]
		n, _ := c.Node(child)
		v := c.View()
		sp := v.ToScreen(n.Position)
		p.X, p.Y = sp.X, sp.Y
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var started int64
	s.OnActivate(func(content string, nodeID int64) {
		defer wg.Done()
		// starting a turn from the callback must not deadlock
		started, _ = s.StartTurnAt(content, nodeID)
	})

	s.HandleEvent(interaction.Event{Type: interaction.PointerDown, Target: interaction.TargetNode, NodeID: child, X: p.X, Y: p.Y, Timestamp: 1000})
	s.HandleEvent(interaction.Event{Type: interaction.PointerUp, Target: interaction.TargetNode, NodeID: child, X: p.X, Y: p.Y, Timestamp: 1100})
	wg.Wait()

	if started != child {
		t.Errorf("Expected turn on clicked node %d, got %d", child, started)
	}
}

func TestSessionFeedAfterReplacement(t *testing.T) {
	s := NewSession(DefaultOptions(), nil)
	defer s.Close()

	turn, _ := s.StartTurn("q")
	old, _ := s.TurnContext(turn)

	if _, err := s.StartTurnAt("q", turn); err != nil {
		t.Fatalf("StartTurnAt() unexpected error: %v", err)
	}
	if err := s.FeedChunkContext(old, turn, "[[stale]]"); err == nil {
		t.Error("Expected the replaced stream to be rejected")
	}
	if _, err := s.EndTurnContext(old, turn); err == nil {
		t.Error("Expected the replaced stream not to end the new turn")
	}

	current, _ := s.TurnContext(turn)
	if err := s.FeedChunkContext(current, turn, "[[fresh]]"); err != nil {
		t.Fatalf("FeedChunkContext() unexpected error: %v", err)
	}
	s.Read(func(c *Controller) {
		kids := c.Children(turn)
		if len(kids) != 1 {
			t.Fatalf("Expected one child, got %d", len(kids))
		}
		if n, _ := c.Node(kids[0]); n.Content != "fresh" {
			t.Errorf("Expected fresh child, got %q", n.Content)
		}
	})
}
