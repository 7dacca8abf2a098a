package planner

import (
	"fmt"
	"path/filepath"

	"github.com/mgreer/layerexport/internal/background"
	"github.com/mgreer/layerexport/internal/layer"
	"github.com/mgreer/layerexport/internal/naming"
	"github.com/mgreer/layerexport/internal/settings"
)

// Options are the planning-time configuration axes. Driver-time options
// (cropping, compositing, overwrite, error policy) do not affect the plan.
type Options struct {
	// OutputDir is the export root directory.
	OutputDir string

	// GroupsAsDirectories maps ancestor groups to nested directories.
	GroupsAsDirectories bool

	// IgnoreInvisible prunes invisible subtrees during the walk.
	IgnoreInvisible bool

	// MergeGroups collapses each top-level group into one exported layer.
	MergeGroups bool

	// CreateEmptyDirs plans directories for groups without exportable
	// descendants.
	CreateEmptyDirs bool

	// ExtensionMode selects the name-resolution strategy.
	ExtensionMode naming.ExtensionMode

	// StripMode selects the trailing-token strip policy.
	StripMode naming.StripMode

	// BracketMode selects the bracket-layer policy.
	BracketMode background.Mode

	// DefaultExtension is the fallback/default export format.
	DefaultExtension string
}

// OptionsFromSettings derives planning options from the persisted settings.
func OptionsFromSettings(outputDir string, s *settings.Settings) Options {
	return Options{
		OutputDir:           outputDir,
		GroupsAsDirectories: s.GroupsAsDirectories,
		IgnoreInvisible:     s.IgnoreInvisible,
		MergeGroups:         s.MergeGroups,
		CreateEmptyDirs:     s.CreateEmptyDirs,
		ExtensionMode:       s.ExtMode(),
		StripMode:           s.Strip(),
		BracketMode:         s.Bracket(),
		DefaultExtension:    s.DefaultExtension,
	}
}

// Build computes the export plan for one run. The plan is deterministic for
// identical (image, options) inputs and is never re-derived mid-run.
func Build(img *layer.Image, opts Options) (*Plan, error) {
	defaultExt := naming.NormalizeExtension(opts.DefaultExtension)
	if !naming.IsValidExtension(defaultExt) {
		return nil, fmt.Errorf("%w: %q", settings.ErrInvalidExtension, opts.DefaultExtension)
	}

	entries := layer.Collect(img, layer.WalkOptions{IgnoreInvisible: opts.IgnoreInvisible})
	res := background.Resolve(entries, opts.BracketMode)

	type pending struct {
		cand  background.Candidate
		name  naming.Resolution
		merge bool
	}

	var pendings []pending
	for _, c := range res.Candidates {
		exportable, merge := selectNode(c, opts.MergeGroups)
		if !exportable {
			continue
		}
		r := naming.Resolve(c.ExportName, defaultExt, opts.ExtensionMode, opts.StripMode)
		if r.Excluded {
			continue
		}
		pendings = append(pendings, pending{cand: c, name: r, merge: merge})
	}

	// Under use-as-extension the plan is partitioned so same-format specs
	// run contiguously: the interactive format dialog then appears once
	// per distinct format instead of once per layer.
	if opts.ExtensionMode == naming.ExtUseAsExtension {
		var order []string
		buckets := make(map[string][]pending)
		for _, p := range pendings {
			if _, seen := buckets[p.name.Extension]; !seen {
				order = append(order, p.name.Extension)
			}
			buckets[p.name.Extension] = append(buckets[p.name.Extension], p)
		}
		partitioned := make([]pending, 0, len(pendings))
		for _, ext := range order {
			partitioned = append(partitioned, buckets[ext]...)
		}
		pendings = partitioned
	}

	plan := &Plan{OutputRoot: opts.OutputDir}
	claimed := make(map[string]bool)
	for _, p := range pendings {
		dir := dirFor(opts, p.cand.Path)
		file := naming.FileName(naming.Sanitize(p.name.Stem), p.name.Extension)
		full, ok := naming.Uniquify(filepath.Join(dir, file), func(path string) bool {
			return claimed[path]
		})
		if !ok {
			return nil, &NamingCollisionError{Path: filepath.Join(dir, file)}
		}
		claimed[full] = true

		spec := Spec{
			Node:       p.cand.Node,
			Path:       p.cand.Path,
			Dir:        dir,
			FileName:   filepath.Base(full),
			OutputPath: full,
			Extension:  p.name.Extension,
			Format:     p.name.Format,
			MergeGroup: p.merge,
		}
		for _, bg := range res.Backgrounds.ForScope(p.cand.Path) {
			spec.Backgrounds = append(spec.Backgrounds, bg.Node)
		}
		plan.Specs = append(plan.Specs, spec)
	}

	if opts.CreateEmptyDirs {
		plan.EmptyDirs = emptyGroupDirs(res.Candidates, plan.Specs, opts)
	}

	return plan, nil
}

// selectNode decides whether a candidate becomes an export spec. Without
// merging, only leaves export and groups contribute directory structure.
// With merging, only top-level candidates export: leaves directly, groups
// flattened into one layer.
func selectNode(c background.Candidate, mergeGroups bool) (exportable, merge bool) {
	if mergeGroups {
		if c.Depth() != 0 {
			return false, false
		}
		if c.Node.IsGroup() {
			if len(c.Node.Children) == 0 {
				return false, false
			}
			return true, true
		}
		return true, false
	}
	return !c.Node.IsGroup(), false
}

// dirFor maps a hierarchy path to an output directory.
func dirFor(opts Options, path []string) string {
	if !opts.GroupsAsDirectories {
		return opts.OutputDir
	}
	dir := opts.OutputDir
	for _, seg := range path {
		dir = filepath.Join(dir, naming.Sanitize(seg))
	}
	return dir
}

// emptyGroupDirs plans a directory for every group candidate that ended up
// with no exported spec beneath it.
func emptyGroupDirs(cands []background.Candidate, specs []Spec, opts Options) []string {
	var dirs []string
	seen := make(map[string]bool)

	for _, c := range cands {
		if !c.Node.IsGroup() {
			continue
		}
		if opts.MergeGroups && c.Depth() != 0 {
			// Nested groups are merged into their top-level ancestor.
			continue
		}

		groupPath := append(append([]string{}, c.Path...), c.Node.Name)
		if hasSpecUnder(specs, c.Node, groupPath) {
			continue
		}

		dir := filepath.Join(dirFor(opts, c.Path), naming.Sanitize(c.ExportName))
		if dir == opts.OutputDir || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	return dirs
}

func hasSpecUnder(specs []Spec, group *layer.Node, groupPath []string) bool {
	for _, s := range specs {
		if s.Node == group {
			return true
		}
		if len(s.Path) < len(groupPath) {
			continue
		}
		match := true
		for i, seg := range groupPath {
			if s.Path[i] != seg {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
