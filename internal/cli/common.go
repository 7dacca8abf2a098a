package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mgreer/layerexport/internal/clock"
	"github.com/mgreer/layerexport/internal/config"
	"github.com/mgreer/layerexport/internal/export"
	"github.com/mgreer/layerexport/internal/fsops"
	"github.com/mgreer/layerexport/internal/hash"
	"github.com/mgreer/layerexport/internal/host/rasterhost"
	"github.com/mgreer/layerexport/internal/settings"
)

// environment bundles the wired dependencies behind a command invocation.
type environment struct {
	paths    *config.Paths
	fs       fsops.FS
	store    *settings.Store
	settings *settings.Settings
	logger   *zap.Logger
}

// newEnvironment loads the persisted settings, applies any flag overrides
// from cmd, and wires the real implementations.
func newEnvironment(cmd *cobra.Command) (*environment, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	fs := fsops.NewRealFS()
	store := settings.NewStore(fs, paths)
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	if err := applySettingFlags(cmd, cfg); err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	return &environment{
		paths:    paths,
		fs:       fs,
		store:    store,
		settings: cfg,
		logger:   logger,
	}, nil
}

// newDriver wires the export driver against the given host.
func (e *environment) newDriver(h *rasterhost.Host) *export.Driver {
	return export.New(h, e.fs, hash.NewSHA256Hasher(), &clock.RealClock{}, e.logger)
}

// registerSettingFlags declares one flag per persisted setting key, so any
// option can be overridden for a single run without saving it.
func registerSettingFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("output-directory", "o", "", "Export root directory (default: working directory)")
	f.Bool("groups-as-directories", false, "Map layer groups to nested directories")
	f.Bool("ignore-invisible", false, "Skip invisible layers and their subtrees")
	f.Bool("autocrop", false, "Crop each exported layer to its opaque bounds")
	f.Bool("use-image-size", false, "Export at the image canvas size")
	f.Bool("merge-groups", false, "Merge each top-level group into one image")
	f.Bool("create-empty-dirs", false, "Create directories for groups with nothing to export")
	f.Bool("ignore-layer-modes", false, "Force normal blend mode before export")
	f.Bool("crop-to-background", false, "Crop composited exports to the background's bounds")
	f.String("extension-mode", "", "Extension handling: default, matching-only, or use-as-extension")
	f.String("strip-mode", "", "Strip trailing extension tokens: identical, always, or never")
	f.String("bracket-mode", "", "Bracket-layer policy: normal, background, ignore, or ignore-others")
	f.String("default-extension", "", "Default export extension (e.g. png, jpg)")
	f.String("on-error", "", "Layer failure policy: abort or skip")
	f.String("overwrite", "", "Existing-file policy: replace, skip, rename-new, rename-existing, or ask")
}

// applySettingFlags folds every changed setting flag into cfg, validating
// each assignment.
func applySettingFlags(cmd *cobra.Command, cfg *settings.Settings) error {
	var applyErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if applyErr != nil || !isSettingKey(f.Name) {
			return
		}
		if err := cfg.Set(f.Name, f.Value.String()); err != nil {
			applyErr = fmt.Errorf("--%s: %w", f.Name, err)
		}
	})
	return applyErr
}

func isSettingKey(name string) bool {
	for _, k := range settings.Keys() {
		if k == name {
			return true
		}
	}
	return false
}

// outputDir resolves the export root: the configured directory, or the
// working directory when none is set.
func (e *environment) outputDir() (string, error) {
	if e.settings.OutputDirectory != "" {
		return e.settings.OutputDirectory, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}

// outputJSON outputs a value as JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
