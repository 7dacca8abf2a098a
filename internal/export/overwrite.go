package export

import "fmt"

// OverwriteDecision is the action taken when a target file already exists.
type OverwriteDecision int

const (
	// OverwriteReplace writes over the existing file.
	OverwriteReplace OverwriteDecision = iota

	// OverwriteSkip leaves the existing file and records the layer as
	// skipped.
	OverwriteSkip

	// OverwriteRenameNew writes the export under a disambiguated name and
	// keeps the existing file untouched.
	OverwriteRenameNew

	// OverwriteRenameExisting moves the existing file to a disambiguated
	// name and writes the export under the planned path.
	OverwriteRenameExisting

	// OverwriteCancel stops the whole batch.
	OverwriteCancel
)

// String returns the settings-file spelling of the decision.
func (d OverwriteDecision) String() string {
	switch d {
	case OverwriteSkip:
		return "skip"
	case OverwriteRenameNew:
		return "rename-new"
	case OverwriteRenameExisting:
		return "rename-existing"
	case OverwriteCancel:
		return "cancel"
	default:
		return "replace"
	}
}

// ParseOverwriteDecision parses a persisted overwrite policy. The "ask"
// policy has no fixed decision; callers resolve it to an interactive
// chooser before building the request.
func ParseOverwriteDecision(s string) (OverwriteDecision, error) {
	switch s {
	case "replace":
		return OverwriteReplace, nil
	case "skip":
		return OverwriteSkip, nil
	case "rename-new":
		return OverwriteRenameNew, nil
	case "rename-existing":
		return OverwriteRenameExisting, nil
	case "cancel":
		return OverwriteCancel, nil
	default:
		return 0, fmt.Errorf("unknown overwrite policy %q", s)
	}
}

// OverwriteChooser decides what to do with a pre-existing target file. An
// interactive implementation may block on user input.
type OverwriteChooser interface {
	// Choose returns the decision for path. The path always exists when
	// Choose is called.
	Choose(path string) (OverwriteDecision, error)
}

// FixedChooser applies one decision to every conflict, used for the
// non-interactive overwrite policies.
type FixedChooser struct {
	Decision OverwriteDecision
}

// Choose returns the fixed decision.
func (c FixedChooser) Choose(string) (OverwriteDecision, error) {
	return c.Decision, nil
}
