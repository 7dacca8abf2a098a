// Package layer defines the in-memory model of a multi-layer image and the
// traversal that turns its layer hierarchy into an ordered export sequence.
//
// The model is deliberately pixel-free: nodes carry names, visibility,
// blend attributes, and bounding geometry, while pixel content lives behind
// the host capability surface. The engine treats the tree as read-only;
// transforms during an export run are applied to a disposable working copy
// owned by the host.
package layer

import "image"

// Kind distinguishes the two structural variants of a layer node.
type Kind int

const (
	// Leaf is a plain paint layer with pixel content and no children.
	Leaf Kind = iota

	// Group is a layer group; it owns an ordered list of children and has
	// no pixel content of its own.
	Group
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Leaf:
		return "leaf"
	case Group:
		return "group"
	default:
		return "unknown"
	}
}

// Node is one layer in the hierarchy. Children is populated only for Group
// nodes. The parent reference is lookup-only; ownership always flows
// downward from the Image.
type Node struct {
	// Name is the layer name as authored in the source document.
	Name string

	// Kind is the structural variant (Leaf or Group).
	Kind Kind

	// Visible is the layer's own visibility flag. Effective visibility
	// also depends on every ancestor group.
	Visible bool

	// Opacity is in [0, 1].
	Opacity float64

	// Mode is the blend mode identifier (host vocabulary, "normal" at
	// minimum).
	Mode string

	// Bounds is the layer's bounding geometry in image coordinates.
	Bounds image.Rectangle

	// Children are the node's ordered children, top-to-bottom. Only set
	// for Group nodes.
	Children []*Node

	parent *Node
}

// Parent returns the node's parent group, or nil for a top-level node.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsGroup reports whether the node is a layer group.
func (n *Node) IsGroup() bool {
	return n.Kind == Group
}

// AddChild appends child to the group's children and records the parent
// link. It panics if n is not a group, since that is a programming error in
// tree construction, never a runtime condition.
func (n *Node) AddChild(child *Node) {
	if n.Kind != Group {
		panic("layer: AddChild on non-group node")
	}
	child.parent = n
	n.Children = append(n.Children, child)
}

// Image is the root container: an ordered forest of layer nodes,
// top-to-bottom in the document's native stacking order.
type Image struct {
	// Name is the document name (used for diagnostics only).
	Name string

	// Width and Height are the canvas dimensions in pixels.
	Width  int
	Height int

	// Layers are the top-level nodes, top-to-bottom.
	Layers []*Node
}

// Canvas returns the image canvas as a rectangle anchored at the origin.
func (img *Image) Canvas() image.Rectangle {
	return image.Rect(0, 0, img.Width, img.Height)
}

// NewLeaf constructs a visible leaf node with normal blending.
func NewLeaf(name string) *Node {
	return &Node{Name: name, Kind: Leaf, Visible: true, Opacity: 1, Mode: "normal"}
}

// NewGroup constructs a visible group node with normal blending.
func NewGroup(name string, children ...*Node) *Node {
	g := &Node{Name: name, Kind: Group, Visible: true, Opacity: 1, Mode: "normal"}
	for _, c := range children {
		g.AddChild(c)
	}
	return g
}
