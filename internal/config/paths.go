// Package config manages layerexport configuration file locations.
//
// All persisted state lives under one root (default: ~/.layerexport):
// settings.toml with the export options, and formats.toml with the
// last-used per-format export configurations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains the filesystem paths used by layerexport.
type Paths struct {
	// Root is the base directory for all layerexport data
	// (default: ~/.layerexport).
	Root string

	// Settings is the path to the persisted export settings file.
	Settings string

	// Formats is the path to the persisted last-used format
	// configurations.
	Formats string
}

// DefaultPaths returns the default paths for layerexport.
// The root can be overridden with the LAYEREXPORT_ROOT environment variable.
func DefaultPaths() (*Paths, error) {
	root := os.Getenv("LAYEREXPORT_ROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		root = filepath.Join(home, ".layerexport")
	}

	return &Paths{
		Root:     root,
		Settings: filepath.Join(root, "settings.toml"),
		Formats:  filepath.Join(root, "formats.toml"),
	}, nil
}

// EnsureDirectories creates the root directory if it doesn't exist.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.Root, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p.Root, err)
	}
	return nil
}
