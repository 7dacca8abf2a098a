// Package naming computes output filenames for exported layers.
//
// A layer name may carry a trailing ".ext" token. Depending on the active
// extension-handling mode that token selects the export format, restricts
// which layers are exported, or is ignored; independently, the strip policy
// decides whether the token stays in the filename stem. The package also
// provides filesystem sanitization and deterministic collision
// disambiguation so that resolution is a pure function of (name, options).
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ExtensionMode selects how a layer name's trailing extension token is
// interpreted.
type ExtensionMode int

const (
	// ExtDefault ignores trailing tokens for format selection: every layer
	// exports with the configured default extension.
	ExtDefault ExtensionMode = iota

	// ExtMatchingOnly exports only layers whose trailing token equals the
	// configured default extension (case-insensitive).
	ExtMatchingOnly

	// ExtUseAsExtension uses a syntactically valid trailing token as the
	// layer's export format, falling back to the default extension
	// otherwise.
	ExtUseAsExtension
)

// StripMode selects whether an identified trailing extension token is
// removed from the filename stem.
type StripMode int

const (
	// StripIfIdentical removes the token only when it equals the default
	// extension.
	StripIfIdentical StripMode = iota

	// StripAlways removes the token unconditionally.
	StripAlways

	// StripNever preserves the token verbatim, so the on-disk name may
	// contain the extension twice.
	StripNever
)

// ParseExtensionMode parses the persisted settings value.
func ParseExtensionMode(s string) (ExtensionMode, error) {
	switch s {
	case "default", "no-special-handling":
		return ExtDefault, nil
	case "matching-only":
		return ExtMatchingOnly, nil
	case "use-as-extension":
		return ExtUseAsExtension, nil
	default:
		return 0, fmt.Errorf("unknown extension mode %q", s)
	}
}

// String returns the settings-file spelling of the mode.
func (m ExtensionMode) String() string {
	switch m {
	case ExtMatchingOnly:
		return "matching-only"
	case ExtUseAsExtension:
		return "use-as-extension"
	default:
		return "default"
	}
}

// ParseStripMode parses the persisted settings value.
func ParseStripMode(s string) (StripMode, error) {
	switch s {
	case "identical", "strip-if-identical":
		return StripIfIdentical, nil
	case "always":
		return StripAlways, nil
	case "never":
		return StripNever, nil
	default:
		return 0, fmt.Errorf("unknown strip mode %q", s)
	}
}

// String returns the settings-file spelling of the mode.
func (m StripMode) String() string {
	switch m {
	case StripAlways:
		return "always"
	case StripNever:
		return "never"
	default:
		return "identical"
	}
}

// extensionRe matches a syntactically valid extension token: a letter
// followed by up to nine letters or digits.
var extensionRe = regexp.MustCompile(`^[a-z][a-z0-9]{0,9}$`)

// SplitExtension splits a layer name into its stem and trailing extension
// token. The token is lowercased. Names with no period, a leading period
// only, or a trailing period have no token.
func SplitExtension(name string) (stem, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return name, ""
	}
	return name[:idx], strings.ToLower(name[idx+1:])
}

// IsValidExtension reports whether ext can be used as a file extension.
func IsValidExtension(ext string) bool {
	return extensionRe.MatchString(ext)
}

// CanonicalFormat maps an extension to its format identifier so that
// spelling variants share one format configuration.
func CanonicalFormat(ext string) string {
	switch ext {
	case "jpg", "jpe", "jfif":
		return "jpeg"
	case "tif":
		return "tiff"
	default:
		return ext
	}
}

// NormalizeExtension lowercases ext and removes any leading periods, the
// form used everywhere else in this package.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimLeft(ext, "."))
}

// Resolution is the outcome of resolving one layer name.
type Resolution struct {
	// Stem is the filename without extension, not yet sanitized.
	Stem string

	// Extension is the on-disk extension (no leading period).
	Extension string

	// Format identifies the export format, canonicalized across
	// extension spellings.
	Format string

	// Excluded is set under ExtMatchingOnly when the layer's trailing
	// token does not match the default extension.
	Excluded bool
}

// Resolve computes the filename stem, extension, and format for a layer
// name. defaultExt must already be normalized. The result is deterministic:
// identical inputs always produce identical resolutions.
//
// The strip policy runs first on the identified trailing token; extension
// selection then re-reads the (possibly stripped) stem. Under
// ExtUseAsExtension a token that selects the format is consumed into the
// extension rather than left in the stem, except under StripNever, which
// preserves the token verbatim and so may double the extension on disk.
func Resolve(name, defaultExt string, extMode ExtensionMode, stripMode StripMode) Resolution {
	stripped, token := SplitExtension(name)

	stem := name
	switch stripMode {
	case StripAlways:
		if token != "" {
			stem = stripped
		}
	case StripIfIdentical:
		if token != "" && token == defaultExt {
			stem = stripped
		}
	case StripNever:
		// Token stays in the stem verbatim.
	}

	res := Resolution{Stem: stem, Extension: defaultExt}
	switch extMode {
	case ExtMatchingOnly:
		// Exclusion tests the original token, before any stripping.
		if token != defaultExt {
			res.Excluded = true
		}
	case ExtUseAsExtension:
		innerStem, inner := SplitExtension(stem)
		if inner != "" && IsValidExtension(inner) {
			res.Extension = inner
			if stripMode != StripNever {
				res.Stem = innerStem
			}
		}
	}
	res.Format = CanonicalFormat(res.Extension)
	return res
}

// FileName joins a resolved stem and extension into the final filename.
func FileName(stem, ext string) string {
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

// Uniquify disambiguates path against already-claimed paths by appending
// " (1)", " (2)", ... to the filename stem, before the extension. taken
// reports whether a candidate path is already claimed. The boolean result
// is false when no free slot was found within a sane bound, which callers
// treat as a naming collision error.
func Uniquify(path string, taken func(string) bool) (string, bool) {
	if !taken(path) {
		return path, true
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	stem, ext := SplitExtension(base)
	if ext != "" {
		ext = "." + base[len(stem)+1:] // preserve original casing
	}

	for i := 1; i <= 9999; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if !taken(candidate) {
			return candidate, true
		}
	}
	return "", false
}
