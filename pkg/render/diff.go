package render

import (
	"sort"
)

// SceneDiff is the difference between two rendered scenes
type SceneDiff struct {
	View          View       `json:"view"`
	AddedNodes    []NodeBox  `json:"addedNodes"`
	RemovedNodes  []int64    `json:"removedNodes"`
	ModifiedNodes []NodeBox  `json:"modifiedNodes"`
	AddedEdges    []EdgeLine `json:"addedEdges"`
	RemovedEdges  []EdgeKey  `json:"removedEdges"`
	ModifiedEdges []EdgeLine `json:"modifiedEdges"`
	FullScene     bool       `json:"fullScene"` // true when every element is listed as added
}

// EdgeKey identifies an edge
type EdgeKey struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Empty reports whether the diff changes nothing
func (d *SceneDiff) Empty() bool {
	return !d.FullScene &&
		len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 && len(d.ModifiedNodes) == 0 &&
		len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0 && len(d.ModifiedEdges) == 0
}

// Snapshot indexes a scene for diffing
type Snapshot struct {
	View  View
	Nodes map[int64]NodeBox
	Edges map[EdgeKey]EdgeLine
}

// CreateSnapshot creates a snapshot from a scene
func CreateSnapshot(scene *Scene) *Snapshot {
	snapshot := &Snapshot{
		View:  scene.View,
		Nodes: make(map[int64]NodeBox, len(scene.Nodes)),
		Edges: make(map[EdgeKey]EdgeLine, len(scene.Edges)),
	}
	for _, n := range scene.Nodes {
		snapshot.Nodes[n.ID] = n
	}
	for _, e := range scene.Edges {
		snapshot.Edges[EdgeKey{From: e.From, To: e.To}] = e
	}
	return snapshot
}

// ComputeDiff computes the changes from old to scene. A nil snapshot or a
// changed view produces a full scene, since every box moves.
func ComputeDiff(old *Snapshot, scene *Scene) *SceneDiff {
	if old == nil || old.View != scene.View {
		return &SceneDiff{
			View:       scene.View,
			AddedNodes: scene.Nodes,
			AddedEdges: scene.Edges,
			FullScene:  true,
		}
	}

	diff := &SceneDiff{
		View:          scene.View,
		AddedNodes:    make([]NodeBox, 0),
		RemovedNodes:  make([]int64, 0),
		ModifiedNodes: make([]NodeBox, 0),
		AddedEdges:    make([]EdgeLine, 0),
		RemovedEdges:  make([]EdgeKey, 0),
		ModifiedEdges: make([]EdgeLine, 0),
	}

	seenNodes := make(map[int64]bool, len(scene.Nodes))
	for _, n := range scene.Nodes {
		seenNodes[n.ID] = true
		prev, exists := old.Nodes[n.ID]
		switch {
		case !exists:
			diff.AddedNodes = append(diff.AddedNodes, n)
		case !nodesEqual(prev, n):
			diff.ModifiedNodes = append(diff.ModifiedNodes, n)
		}
	}
	for id := range old.Nodes {
		if !seenNodes[id] {
			diff.RemovedNodes = append(diff.RemovedNodes, id)
		}
	}
	sort.Slice(diff.RemovedNodes, func(i, j int) bool { return diff.RemovedNodes[i] < diff.RemovedNodes[j] })

	seenEdges := make(map[EdgeKey]bool, len(scene.Edges))
	for _, e := range scene.Edges {
		key := EdgeKey{From: e.From, To: e.To}
		seenEdges[key] = true
		prev, exists := old.Edges[key]
		switch {
		case !exists:
			diff.AddedEdges = append(diff.AddedEdges, e)
		case prev != e:
			diff.ModifiedEdges = append(diff.ModifiedEdges, e)
		}
	}
	for key := range old.Edges {
		if !seenEdges[key] {
			diff.RemovedEdges = append(diff.RemovedEdges, key)
		}
	}

	return diff
}

// nodesEqual compares everything a client draws
func nodesEqual(a, b NodeBox) bool {
	sameVolume := (a.Volume == nil && b.Volume == nil) ||
		(a.Volume != nil && b.Volume != nil && *a.Volume == *b.Volume)
	return a.ID == b.ID &&
		a.Content == b.Content &&
		a.Label == b.Label &&
		a.Icon == b.Icon &&
		sameVolume &&
		a.Depth == b.Depth &&
		a.X == b.X && a.Y == b.Y &&
		a.Width == b.Width && a.Height == b.Height &&
		a.Fill == b.Fill && a.TextColor == b.TextColor
}
