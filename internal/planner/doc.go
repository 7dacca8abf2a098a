// Package planner computes the export plan for one batch run.
//
// Planning is pure: it walks the layer hierarchy, applies the bracket-layer
// policy, resolves names and directories, and produces an immutable ordered
// list of export specs. No file is written during planning; any error here
// aborts the run before the driver starts.
//
// Key responsibilities:
//   - Walk the hierarchy with the visibility filter
//   - Apply the bracket-layer policy and collect background contributors
//   - Select exportable nodes (leaves, or merged top-level groups)
//   - Resolve filename stem, extension, and format per node
//   - Partition specs so same-format runs are contiguous
//   - Map hierarchy paths to output directories and plan empty ones
//   - Disambiguate colliding output paths deterministically
package planner
