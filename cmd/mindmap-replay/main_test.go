package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/ritzau/mindmap/pkg/mindmap"
)

const transcript = `: turn what is go?
data: Go is a language. 

data: [[goroutines, channels]] rocket

data: SEARCH_VOLUMES{"goroutines": 1200}

data: [END]

: turn goroutines
data: Lightweight threads. [[scheduler]]

data: [END]
`

func TestReplay(t *testing.T) {
	s := mindmap.NewSession(mindmap.DefaultOptions(), nil)
	defer s.Close()

	if err := replay(s, strings.NewReader(transcript)); err != nil {
		t.Fatalf("replay() unexpected error: %v", err)
	}

	s.Read(func(c *mindmap.Controller) {
		if n := len(c.Nodes()); n != 4 {
			t.Fatalf("Expected 4 nodes, got %d", n)
		}
		byContent := make(map[string]int64)
		for _, n := range c.Nodes() {
			byContent[n.Content] = n.ID
		}

		root, _ := c.Node(byContent["what is go?"])
		if root.IconName != "rocket" {
			t.Errorf("Expected rocket icon on root, got %q", root.IconName)
		}
		g, _ := c.Node(byContent["goroutines"])
		if g.DisplayLabel != "goroutines\n(1200)" {
			t.Errorf("Expected volume label, got %q", g.DisplayLabel)
		}
		if parent, _ := c.Parent(byContent["scheduler"]); parent != g.ID {
			t.Errorf("Follow-up turn should grow from the keyword node, got parent %d", parent)
		}
	})
}

func TestReplayTextBeforeTurn(t *testing.T) {
	s := mindmap.NewSession(mindmap.DefaultOptions(), nil)
	defer s.Close()

	err := replay(s, strings.NewReader("data: orphan\n"))
	if !errors.Is(err, errNoTurn) {
		t.Errorf("Expected errNoTurn, got %v", err)
	}
}
