// Package home manages the lectern home directory layout.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the lectern home directory.
	DefaultDirName = ".lectern"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// ManifestFileName is the timing manifest name inside an export
	// directory.
	ManifestFileName = "manifest.yaml"
)

// PageAudioName returns the audio file name for a page within an export
// directory. Page numbers are 1-indexed.
func PageAudioName(pageNum int) string {
	return fmt.Sprintf("page_%04d.wav", pageNum)
}

// DocumentAudioName returns the concatenated audio file name for a
// document within an export directory.
func DocumentAudioName(name string) string {
	return name + ".wav"
}

// Dir represents the lectern home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.lectern).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// EnsureExists creates the home directory if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ExportsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	return nil
}

// ExportsDir returns the default output directory for narrated documents.
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, "exports")
}

// DocumentExportDir returns the export directory for one document.
func (d *Dir) DocumentExportDir(name string) string {
	return filepath.Join(d.ExportsDir(), name)
}

// PageAudioPath returns the path for one page's audio file.
// Page numbers are 1-indexed.
func (d *Dir) PageAudioPath(name string, pageNum int) string {
	return filepath.Join(d.DocumentExportDir(name), PageAudioName(pageNum))
}

// DocumentAudioPath returns the path for a document's concatenated audio.
func (d *Dir) DocumentAudioPath(name string) string {
	return filepath.Join(d.DocumentExportDir(name), DocumentAudioName(name))
}

// ManifestPath returns the path for a document's timing manifest.
func (d *Dir) ManifestPath(name string) string {
	return filepath.Join(d.DocumentExportDir(name), ManifestFileName)
}

// EnsureDocumentExportDir creates the export directory for a document.
func (d *Dir) EnsureDocumentExportDir(name string) error {
	return os.MkdirAll(d.DocumentExportDir(name), 0o755)
}
