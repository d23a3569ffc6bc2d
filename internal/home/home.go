// Package home manages the sampleindex home directory layout.
//
// The home directory owns all persistent control-plane state: the metadata
// store and the sample index configuration.
//
// Layout:
//
//	<root>/
//	  metadata.db   or  metadata.json   (metadata store, type-dependent)
//	  sampleindex.yaml                   (sample index configuration, optional)
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a sampleindex home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/sampleindex
//   - macOS:   ~/Library/Application Support/sampleindex
//   - Windows: %APPDATA%/sampleindex
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "sampleindex")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// MetadataPath returns the metadata store path for the given store type
// ("sqlite" or "json").
func (d Dir) MetadataPath(storeType string) string {
	if storeType == "json" {
		return filepath.Join(d.root, "metadata.json")
	}
	return filepath.Join(d.root, "metadata.db")
}

// ConfigPath returns the path of the sample index configuration file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "sampleindex.yaml")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
