// Package background classifies square-bracketed layers and applies the
// configured bracket-layer policy to the export sequence.
//
// A layer whose trimmed name matches `[...]` is a background contributor.
// Contributors sharing identical bracket text form one background group and
// are composited together, later contributors on top. Depending on the
// policy, bracketed layers are exported normally, removed and composited
// beneath every exported layer in their scope, removed entirely, or become
// the only exported layers.
package background

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mgreer/layerexport/internal/layer"
)

// Mode is the bracket-layer policy.
type Mode int

const (
	// ModeNormal exports bracketed layers like any other layer, with the
	// brackets stripped from their names.
	ModeNormal Mode = iota

	// ModeBackground removes bracketed layers from the export sequence
	// and composites them beneath every exported layer whose hierarchy
	// scope they contain.
	ModeBackground

	// ModeIgnore removes bracketed layers and never composites them.
	ModeIgnore

	// ModeIgnoreOthers inverts the selection: only bracketed layers are
	// exported (brackets stripped), everything else is dropped.
	ModeIgnoreOthers
)

// ParseMode parses the persisted settings value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "normal":
		return ModeNormal, nil
	case "background":
		return ModeBackground, nil
	case "ignore":
		return ModeIgnore, nil
	case "ignore-others":
		return ModeIgnoreOthers, nil
	default:
		return 0, fmt.Errorf("unknown bracket-layer mode %q", s)
	}
}

// String returns the settings-file spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeBackground:
		return "background"
	case ModeIgnore:
		return "ignore"
	case ModeIgnoreOthers:
		return "ignore-others"
	default:
		return "normal"
	}
}

var bracketRe = regexp.MustCompile(`^\[.+\]$`)

// IsBracketed reports whether a layer name (after trimming surrounding
// whitespace) uses the `[...]` background syntax.
func IsBracketed(name string) bool {
	return bracketRe.MatchString(strings.TrimSpace(name))
}

// BracketText returns the literal text between the brackets, or the name
// itself when it is not bracketed.
func BracketText(name string) string {
	trimmed := strings.TrimSpace(name)
	if !bracketRe.MatchString(trimmed) {
		return name
	}
	return trimmed[1 : len(trimmed)-1]
}

// Set is the collection of background contributors for one run, grouped by
// literal bracket text in first-seen hierarchy order.
type Set struct {
	groups map[string][]layer.Entry
	order  []string
}

// Empty reports whether the set has no contributors.
func (s *Set) Empty() bool {
	return s == nil || len(s.order) == 0
}

// Groups returns the bracket texts in first-seen order.
func (s *Set) Groups() []string {
	if s == nil {
		return nil
	}
	return s.order
}

// Contributors returns the entries sharing the given bracket text, in
// hierarchy order (the later contributor composites on top).
func (s *Set) Contributors(text string) []layer.Entry {
	if s == nil {
		return nil
	}
	return s.groups[text]
}

// ForScope returns every contributor whose hierarchy scope contains a node
// at the given path, in hierarchy order. A contributor's scope is the group
// it lives in: it applies to nodes in that group and any nested subgroup.
func (s *Set) ForScope(path []string) []layer.Entry {
	if s.Empty() {
		return nil
	}
	var out []layer.Entry
	for _, text := range s.order {
		for _, e := range s.groups[text] {
			if pathHasPrefix(path, e.Path) {
				out = append(out, e)
			}
		}
	}
	return out
}

func pathHasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

func (s *Set) add(e layer.Entry) {
	text := BracketText(e.Node.Name)
	if s.groups == nil {
		s.groups = make(map[string][]layer.Entry)
	}
	if _, seen := s.groups[text]; !seen {
		s.order = append(s.order, text)
	}
	s.groups[text] = append(s.groups[text], e)
}

// Candidate is an entry that survived the bracket policy, with the name it
// will export under.
type Candidate struct {
	layer.Entry

	// ExportName is the node name after bracket handling; naming operates
	// on this instead of Node.Name.
	ExportName string
}

// Resolution is the outcome of applying a bracket policy to the walked
// sequence.
type Resolution struct {
	// Candidates are the entries remaining in the export sequence, in
	// hierarchy order.
	Candidates []Candidate

	// Backgrounds is the set of removed background contributors; empty
	// except under ModeBackground.
	Backgrounds *Set
}

// Resolve applies the bracket-layer policy to the full walked sequence.
// Under ModeBackground a bracketed group contributes as a whole, so its
// descendants are dropped from the candidate list along with it.
func Resolve(entries []layer.Entry, mode Mode) Resolution {
	var res Resolution
	res.Backgrounds = &Set{}

	switch mode {
	case ModeNormal:
		for _, e := range entries {
			res.Candidates = append(res.Candidates, Candidate{Entry: e, ExportName: BracketText(e.Node.Name)})
		}

	case ModeBackground, ModeIgnore:
		skip := newSubtreeSkipper()
		for _, e := range entries {
			if skip.inSkippedSubtree(e) {
				continue
			}
			if IsBracketed(e.Node.Name) {
				if mode == ModeBackground {
					res.Backgrounds.add(e)
				}
				skip.skipSubtree(e)
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{Entry: e, ExportName: e.Node.Name})
		}

	case ModeIgnoreOthers:
		for _, e := range entries {
			if !IsBracketed(e.Node.Name) {
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{Entry: e, ExportName: BracketText(e.Node.Name)})
		}
	}

	return res
}

// subtreeSkipper tracks bracketed groups whose descendants must be dropped
// from the candidate sequence.
type subtreeSkipper struct {
	roots []layer.Entry
}

func newSubtreeSkipper() *subtreeSkipper {
	return &subtreeSkipper{}
}

func (s *subtreeSkipper) skipSubtree(e layer.Entry) {
	if e.Node.IsGroup() {
		s.roots = append(s.roots, e)
	}
}

func (s *subtreeSkipper) inSkippedSubtree(e layer.Entry) bool {
	for _, root := range s.roots {
		rootPath := append(append([]string{}, root.Path...), root.Node.Name)
		if pathHasPrefix(e.Path, rootPath) {
			return true
		}
	}
	return false
}
