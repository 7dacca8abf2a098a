package layer

// Entry is one element of the walk: a node paired with its hierarchy path.
type Entry struct {
	// Node is the visited layer node.
	Node *Node

	// Path is the ordered list of ancestor group names from the top of
	// the hierarchy down to (but excluding) the node itself. Paths need
	// not be unique before sanitization.
	Path []string
}

// Depth returns the nesting level of the entry (0 for top-level nodes).
func (e Entry) Depth() int {
	return len(e.Path)
}

// WalkOptions controls the traversal.
type WalkOptions struct {
	// IgnoreInvisible skips any node whose own visibility flag is false,
	// together with its entire subtree. An invisible group suppresses all
	// descendants regardless of their individual flags.
	IgnoreInvisible bool
}

// Walk traverses the image's layer forest depth-first in the document's
// native top-to-bottom, outer-to-inner order and calls fn for every visited
// node. Traversal stops early when fn returns false.
//
// The walk never mutates the tree. An empty image produces zero calls.
// The traversal uses an explicit stack so that arbitrarily deep group
// nesting cannot exhaust the call stack.
func Walk(img *Image, opts WalkOptions, fn func(Entry) bool) {
	type frame struct {
		node *Node
		path []string
	}

	// Seed the stack with top-level layers in reverse so that the first
	// layer is popped first.
	stack := make([]frame, 0, len(img.Layers))
	for i := len(img.Layers) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: img.Layers[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if opts.IgnoreInvisible && !f.node.Visible {
			continue
		}

		if !fn(Entry{Node: f.node, Path: f.path}) {
			return
		}

		if f.node.Kind != Group {
			continue
		}
		childPath := append(append([]string{}, f.path...), f.node.Name)
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], path: childPath})
		}
	}
}

// Collect runs Walk to completion and returns every visited entry in order.
func Collect(img *Image, opts WalkOptions) []Entry {
	var entries []Entry
	Walk(img, opts, func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}
