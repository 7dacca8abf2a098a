package planner

import (
	"fmt"

	"github.com/mgreer/layerexport/internal/layer"
)

// Spec describes the export of one node. Specs are created by planning and
// consumed exactly once by the export driver, in plan order.
type Spec struct {
	// Node is the layer (or group, when MergeGroup is set) to export.
	// It refers into the original image; the driver copies it into the
	// disposable working image before any transform.
	Node *layer.Node

	// Path is the node's hierarchy path (ancestor group names, raw).
	Path []string

	// Dir is the output directory for this spec.
	Dir string

	// FileName is the final disambiguated file name within Dir.
	FileName string

	// OutputPath is Dir joined with FileName.
	OutputPath string

	// Extension is the on-disk extension (no leading period).
	Extension string

	// Format identifies the export format used for format-config reuse.
	Format string

	// MergeGroup marks a top-level group that the driver flattens into a
	// single layer before export.
	MergeGroup bool

	// Backgrounds are the background contributors composited beneath
	// this node, in hierarchy order (later on top).
	Backgrounds []*layer.Node
}

// LayerName returns the node's original name for diagnostics.
func (s *Spec) LayerName() string {
	return s.Node.Name
}

// Plan is the ordered sequence of export specs for one run, immutable once
// computed.
type Plan struct {
	// OutputRoot is the configured export root directory.
	OutputRoot string

	// Specs are the exports, in execution order.
	Specs []Spec

	// EmptyDirs are directories created for groups left without any
	// exportable descendant (only populated when the option is on).
	EmptyDirs []string
}

// Total returns the number of layers to export.
func (p *Plan) Total() int {
	return len(p.Specs)
}

// Empty reports whether the plan exports nothing.
func (p *Plan) Empty() bool {
	return len(p.Specs) == 0
}

// NamingCollisionError reports that two specs resolved to one output path
// and disambiguation could not find a free slot.
type NamingCollisionError struct {
	// Path is the contested output path.
	Path string
}

func (e *NamingCollisionError) Error() string {
	return fmt.Sprintf("naming collision at %q: no free disambiguation slot", e.Path)
}
