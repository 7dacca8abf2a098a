// Package settings holds the persisted export options and their TOML store.
//
// The option set mirrors the engine's configuration axes: directory layout,
// visibility filtering, cropping, extension handling, bracket-layer policy,
// merging, and the error/overwrite policies. Settings are loaded once at
// startup and saved only on explicit user action.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/mgreer/layerexport/internal/background"
	"github.com/mgreer/layerexport/internal/naming"
)

// ErrInvalidExtension indicates a malformed or unsupported default
// extension.
var ErrInvalidExtension = errors.New("invalid default extension")

// Error policies for the export driver loop.
const (
	// OnErrorAbort halts the batch at the first failing layer.
	OnErrorAbort = "abort"

	// OnErrorSkip records the failure and continues with the next layer.
	OnErrorSkip = "skip"
)

// Overwrite policies for pre-existing target files.
const (
	OverwriteReplace        = "replace"
	OverwriteSkip           = "skip"
	OverwriteRenameNew      = "rename-new"
	OverwriteRenameExisting = "rename-existing"
	OverwriteAsk            = "ask"
)

// Settings is the full persisted option set.
type Settings struct {
	// OutputDirectory is the export root. Empty means the caller decides
	// (the CLI defaults to the working directory).
	OutputDirectory string `toml:"output_directory"`

	// GroupsAsDirectories maps each ancestor group to a nested output
	// directory instead of flattening everything into the root.
	GroupsAsDirectories bool `toml:"groups_as_directories"`

	// IgnoreInvisible skips invisible layers and their whole subtrees.
	IgnoreInvisible bool `toml:"ignore_invisible"`

	// Autocrop crops each exported layer to its opaque bounds.
	Autocrop bool `toml:"autocrop"`

	// UseImageSize exports at the image canvas size instead of the
	// layer's own bounds.
	UseImageSize bool `toml:"use_image_size"`

	// ExtensionMode selects the Name Resolver matching strategy:
	// "default", "matching-only", or "use-as-extension".
	ExtensionMode string `toml:"extension_mode"`

	// StripMode selects the strip policy for trailing extension tokens:
	// "identical", "always", or "never".
	StripMode string `toml:"strip_mode"`

	// BracketMode selects the bracket-layer policy: "normal",
	// "background", "ignore", or "ignore-others".
	BracketMode string `toml:"bracket_mode"`

	// CropToBackground crops composited exports to the background's
	// bounds instead of the foreground layer's own bounds.
	CropToBackground bool `toml:"crop_to_background"`

	// MergeGroups collapses each top-level group into one flattened
	// layer named after the group.
	MergeGroups bool `toml:"merge_groups"`

	// CreateEmptyDirs creates directories for groups even when filtering
	// leaves them with no exportable descendant.
	CreateEmptyDirs bool `toml:"create_empty_dirs"`

	// IgnoreLayerModes forces normal blend mode before export.
	IgnoreLayerModes bool `toml:"ignore_layer_modes"`

	// DefaultExtension is the fallback/default export format.
	DefaultExtension string `toml:"default_extension"`

	// OnError is the partial-failure policy: "abort" or "skip".
	OnError string `toml:"on_error"`

	// Overwrite is the policy for pre-existing target files.
	Overwrite string `toml:"overwrite"`
}

// Default returns the out-of-the-box option set.
func Default() *Settings {
	return &Settings{
		ExtensionMode:    naming.ExtDefault.String(),
		StripMode:        naming.StripIfIdentical.String(),
		BracketMode:      background.ModeNormal.String(),
		DefaultExtension: "png",
		OnError:          OnErrorAbort,
		Overwrite:        OverwriteReplace,
	}
}

// Validate checks every option and normalizes the default extension.
// Any error during validation aborts planning before a single file is
// written.
func (s *Settings) Validate() error {
	ext := naming.NormalizeExtension(s.DefaultExtension)
	if !naming.IsValidExtension(ext) {
		return fmt.Errorf("%w: %q", ErrInvalidExtension, s.DefaultExtension)
	}
	s.DefaultExtension = ext

	if _, err := naming.ParseExtensionMode(s.ExtensionMode); err != nil {
		return fmt.Errorf("invalid extension mode: %w", err)
	}
	if _, err := naming.ParseStripMode(s.StripMode); err != nil {
		return fmt.Errorf("invalid strip mode: %w", err)
	}
	if _, err := background.ParseMode(s.BracketMode); err != nil {
		return fmt.Errorf("invalid bracket-layer mode: %w", err)
	}

	switch s.OnError {
	case OnErrorAbort, OnErrorSkip:
	default:
		return fmt.Errorf("invalid on_error policy %q", s.OnError)
	}

	switch s.Overwrite {
	case OverwriteReplace, OverwriteSkip, OverwriteRenameNew, OverwriteRenameExisting, OverwriteAsk:
	default:
		return fmt.Errorf("invalid overwrite policy %q", s.Overwrite)
	}

	return nil
}

// ExtMode returns the parsed extension mode. Call Validate first.
func (s *Settings) ExtMode() naming.ExtensionMode {
	m, _ := naming.ParseExtensionMode(s.ExtensionMode)
	return m
}

// Strip returns the parsed strip mode. Call Validate first.
func (s *Settings) Strip() naming.StripMode {
	m, _ := naming.ParseStripMode(s.StripMode)
	return m
}

// Bracket returns the parsed bracket-layer mode. Call Validate first.
func (s *Settings) Bracket() background.Mode {
	m, _ := background.ParseMode(s.BracketMode)
	return m
}

// Keys lists the settable option keys in stable order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(*Settings, string) error{
	"output-directory":      func(s *Settings, v string) error { s.OutputDirectory = v; return nil },
	"groups-as-directories": boolSetter(func(s *Settings, v bool) { s.GroupsAsDirectories = v }),
	"ignore-invisible":      boolSetter(func(s *Settings, v bool) { s.IgnoreInvisible = v }),
	"autocrop":              boolSetter(func(s *Settings, v bool) { s.Autocrop = v }),
	"use-image-size":        boolSetter(func(s *Settings, v bool) { s.UseImageSize = v }),
	"extension-mode":        func(s *Settings, v string) error { s.ExtensionMode = v; return nil },
	"strip-mode":            func(s *Settings, v string) error { s.StripMode = v; return nil },
	"bracket-mode":          func(s *Settings, v string) error { s.BracketMode = v; return nil },
	"crop-to-background":    boolSetter(func(s *Settings, v bool) { s.CropToBackground = v }),
	"merge-groups":          boolSetter(func(s *Settings, v bool) { s.MergeGroups = v }),
	"create-empty-dirs":     boolSetter(func(s *Settings, v bool) { s.CreateEmptyDirs = v }),
	"ignore-layer-modes":    boolSetter(func(s *Settings, v bool) { s.IgnoreLayerModes = v }),
	"default-extension":     func(s *Settings, v string) error { s.DefaultExtension = v; return nil },
	"on-error":              func(s *Settings, v string) error { s.OnError = v; return nil },
	"overwrite":             func(s *Settings, v string) error { s.Overwrite = v; return nil },
}

func boolSetter(assign func(*Settings, bool)) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", v)
		}
		assign(s, b)
		return nil
	}
}

// Set assigns a single option by its CLI key and re-validates the result.
func (s *Settings) Set(key, value string) error {
	setter, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	if err := setter(s, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return s.Validate()
}
