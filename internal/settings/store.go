package settings

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/mgreer/layerexport/internal/config"
	"github.com/mgreer/layerexport/internal/fsops"
	"github.com/mgreer/layerexport/internal/host"
)

// Store persists settings and last-used format configurations as TOML
// under the layerexport config root.
type Store struct {
	fs    fsops.FS
	paths *config.Paths
}

// NewStore creates a Store reading and writing through fs at the given
// paths.
func NewStore(fs fsops.FS, paths *config.Paths) *Store {
	return &Store{fs: fs, paths: paths}
}

// Load reads the persisted settings. A missing settings file yields the
// defaults, not an error; a malformed file is reported.
func (s *Store) Load() (*Settings, error) {
	exists, err := s.fs.Exists(s.paths.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to check settings file: %w", err)
	}
	if !exists {
		return Default(), nil
	}

	data, err := s.fs.ReadFile(s.paths.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	loaded := Default()
	if err := toml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.paths.Settings, err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", s.paths.Settings, err)
	}
	return loaded, nil
}

// Save writes the settings atomically.
func (s *Store) Save(cfg *Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.fs.AtomicWrite(s.paths.Settings, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// formatsFile is the on-disk shape of the last-used format configurations.
type formatsFile struct {
	Formats map[string]host.FormatConfig `toml:"formats"`
}

// LoadFormatConfigs reads the last-used configuration per format. A missing
// file yields an empty map.
func (s *Store) LoadFormatConfigs() (map[string]host.FormatConfig, error) {
	exists, err := s.fs.Exists(s.paths.Formats)
	if err != nil {
		return nil, fmt.Errorf("failed to check formats file: %w", err)
	}
	if !exists {
		return map[string]host.FormatConfig{}, nil
	}

	data, err := s.fs.ReadFile(s.paths.Formats)
	if err != nil {
		return nil, fmt.Errorf("failed to read formats file: %w", err)
	}

	var file formatsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.paths.Formats, err)
	}
	if file.Formats == nil {
		file.Formats = map[string]host.FormatConfig{}
	}
	return file.Formats, nil
}

// SaveFormatConfigs writes the last-used configuration per format
// atomically.
func (s *Store) SaveFormatConfigs(configs map[string]host.FormatConfig) error {
	data, err := toml.Marshal(formatsFile{Formats: configs})
	if err != nil {
		return fmt.Errorf("failed to encode format configs: %w", err)
	}
	if err := s.fs.AtomicWrite(s.paths.Formats, data, 0644); err != nil {
		return fmt.Errorf("failed to write formats file: %w", err)
	}
	return nil
}
