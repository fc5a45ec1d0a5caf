package graph

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
	"gonum.org/v1/gonum/spatial/r2"
)

// ErrNotForest is returned by CheckForest
var ErrNotForest = errors.New("graph is not a forest")

// ErrInvalidReference is returned when an operation names a node id that is not in the store
var ErrInvalidReference = errors.New("invalid node reference")

// FirstID is the id allocated to the first node of a session
const FirstID int64 = 1

// Node is a mindmap node. Positions are world coordinates of the node center.
type Node struct {
	ID           int64  `json:"id"`
	Content      string `json:"content"`
	DisplayLabel string `json:"displayLabel"`
	Position     r2.Vec `json:"position"`
	SearchVolume *int   `json:"searchVolume,omitempty"`
	IconName     string `json:"iconName,omitempty"`
}

// Edge is a directed parent -> child connection
type Edge struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// DisplayLabel derives the rendered label from content and an optional volume
func DisplayLabel(content string, volume *int) string {
	if volume == nil {
		return content
	}
	return content + "\n(" + strconv.Itoa(*volume) + ")"
}

// Store owns the nodes and edges of one mindmap session
type Store struct {
	graph  *simple.DirectedGraph
	nodes  map[int64]*Node
	nextID int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		graph:  simple.NewDirectedGraph(),
		nodes:  make(map[int64]*Node),
		nextID: FirstID,
	}
}

// CreateNode allocates the next id and inserts a node with no edges
func (s *Store) CreateNode(content string, position r2.Vec) Node {
	node := &Node{
		ID:           s.nextID,
		Content:      content,
		DisplayLabel: DisplayLabel(content, nil),
		Position:     position,
	}
	s.nodes[node.ID] = node
	s.graph.AddNode(simple.Node(node.ID))
	s.nextID++
	return *node
}

// AddEdge adds a directed edge. Adding an existing edge is a no-op.
func (s *Store) AddEdge(from, to int64) error {
	if _, ok := s.nodes[from]; !ok {
		return fmt.Errorf("edge source %d: %w", from, ErrInvalidReference)
	}
	if _, ok := s.nodes[to]; !ok {
		return fmt.Errorf("edge target %d: %w", to, ErrInvalidReference)
	}
	if from == to {
		return fmt.Errorf("self-loop on %d: %w", from, ErrInvalidReference)
	}

	if !s.graph.HasEdgeFromTo(from, to) {
		s.graph.SetEdge(s.graph.NewEdge(s.graph.Node(from), s.graph.Node(to)))
	}
	return nil
}

// Node returns a copy of the node with the given id
func (s *Store) Node(id int64) (Node, bool) {
	node, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// Has reports whether id is in the store
func (s *Store) Has(id int64) bool {
	_, ok := s.nodes[id]
	return ok
}

// FindChild returns the child of parentID whose content equals content exactly.
// Comparison is on canonical content, never on the display label.
func (s *Store) FindChild(parentID int64, content string) (Node, bool) {
	if !s.Has(parentID) {
		return Node{}, false
	}
	for _, childID := range s.Children(parentID) {
		if child := s.nodes[childID]; child.Content == content {
			return *child, true
		}
	}
	return Node{}, false
}

// Children returns the ids of the direct children of id in ascending order
func (s *Store) Children(id int64) []int64 {
	if !s.Has(id) {
		return nil
	}
	return sortedIDs(s.graph.From(id))
}

// Parent returns the parent of id if it has one
func (s *Store) Parent(id int64) (int64, bool) {
	if !s.Has(id) {
		return 0, false
	}
	parents := sortedIDs(s.graph.To(id))
	if len(parents) == 0 {
		return 0, false
	}
	return parents[0], true
}

// Roots returns the ids of all nodes without an incoming edge
func (s *Store) Roots() []int64 {
	var roots []int64
	for id := range s.nodes {
		if s.graph.To(id).Len() == 0 {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// Root returns the first inserted node of the session, if any
func (s *Store) Root() (Node, bool) {
	roots := s.Roots()
	if len(roots) == 0 {
		return Node{}, false
	}
	return *s.nodes[roots[0]], true
}

// Depths returns the tree depth of every node, roots at depth 0
func (s *Store) Depths() map[int64]int {
	depths := make(map[int64]int, len(s.nodes))
	for _, root := range s.Roots() {
		var bf traverse.BreadthFirst
		bf.Walk(s.graph, s.graph.Node(root), func(n graph.Node, d int) bool {
			if _, seen := depths[n.ID()]; !seen {
				depths[n.ID()] = d
			}
			return false
		})
	}
	return depths
}

// SetPosition moves a node
func (s *Store) SetPosition(id int64, position r2.Vec) error {
	node, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("set position of %d: %w", id, ErrInvalidReference)
	}
	node.Position = position
	return nil
}

// SetVolume stores a search volume and recomputes the display label
func (s *Store) SetVolume(id int64, volume int) error {
	node, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("set volume of %d: %w", id, ErrInvalidReference)
	}
	node.SearchVolume = &volume
	node.DisplayLabel = DisplayLabel(node.Content, node.SearchVolume)
	return nil
}

// SetIcon stores an icon name hint
func (s *Store) SetIcon(id int64, icon string) error {
	node, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("set icon of %d: %w", id, ErrInvalidReference)
	}
	node.IconName = icon
	return nil
}

// Nodes returns a snapshot of all nodes ordered by id
func (s *Store) Nodes() []Node {
	nodes := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, *node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Edges returns a snapshot of all edges ordered by (from, to)
func (s *Store) Edges() []Edge {
	var edges []Edge
	iter := s.graph.Edges()
	for iter.Next() {
		e := iter.Edge()
		edges = append(edges, Edge{From: e.From().ID(), To: e.To().ID()})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// Len returns the number of nodes
func (s *Store) Len() int {
	return len(s.nodes)
}

// Clear removes everything and restarts id allocation
func (s *Store) Clear() {
	s.graph = simple.NewDirectedGraph()
	s.nodes = make(map[int64]*Node)
	s.nextID = FirstID
}

// CheckForest verifies that no node has more than one parent and that the
// edges contain no cycle
func (s *Store) CheckForest() error {
	for id := range s.nodes {
		if n := s.graph.To(id).Len(); n > 1 {
			return fmt.Errorf("node %d has %d parents: %w", id, n, ErrNotForest)
		}
	}
	for _, scc := range topo.TarjanSCC(s.graph) {
		if len(scc) > 1 {
			ids := make([]int64, len(scc))
			for i, n := range scc {
				ids[i] = n.ID()
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			return fmt.Errorf("cycle through %v: %w", ids, ErrNotForest)
		}
	}
	return nil
}

func sortedIDs(iter graph.Nodes) []int64 {
	var ids []int64
	for iter.Next() {
		ids = append(ids, iter.Node().ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
