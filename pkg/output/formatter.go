package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/ritzau/mindmap/pkg/graph"
)

// Tree is the graph access the report needs
type Tree interface {
	Roots() []int64
	Children(id int64) []int64
	Node(id int64) (graph.Node, bool)
}

// PrintTree prints the mindmap as an indented tree with colors: roots in
// bold, search volumes in cyan, icons in yellow, followed by a summary of
// how many nodes carry a volume.
func PrintTree(w io.Writer, title string, t Tree) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	bold.Fprintln(w, title)
	bold.Fprintln(w, strings.Repeat("=", max(len(title), 8)))

	total, withVolume := 0, 0
	var walk func(id int64, depth int)
	walk = func(id int64, depth int) {
		n, ok := t.Node(id)
		if !ok {
			return
		}
		total++

		fmt.Fprint(w, strings.Repeat("  ", depth))
		if depth == 0 {
			bold.Fprint(w, n.Content)
		} else {
			fmt.Fprintf(w, "- %s", n.Content)
		}
		if n.SearchVolume != nil {
			withVolume++
			cyan.Fprintf(w, " (%d)", *n.SearchVolume)
		}
		if n.IconName != "" {
			yellow.Fprintf(w, " [%s]", n.IconName)
		}
		fmt.Fprintln(w)

		for _, child := range t.Children(id) {
			walk(child, depth+1)
		}
	}

	roots := t.Roots()
	for _, root := range roots {
		walk(root, 0)
	}
	fmt.Fprintln(w)

	if total == 0 {
		red.Fprintln(w, "Empty mindmap")
		return
	}
	summary := green
	if withVolume < total {
		summary = yellow
	}
	summary.Fprintf(w, "Summary: %d node(s) in %d tree(s), %d with search volume\n", total, len(roots), withVolume)
}
