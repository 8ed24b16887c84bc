package geometry

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"

	"voxelprint.ai/internal/protocol"
)

//go:embed minecraft-print.scad
var libraryText []byte

// LibrarySource returns the SCAD module library that generated models include.
func LibrarySource() []byte { return append([]byte(nil), libraryText...) }

// WriteLibrary writes the module library into dir unless a file of that name
// already exists there.
func WriteLibrary(dir string) error {
	path := filepath.Join(dir, Library)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return protocol.FileWriteError(path, err)
	}
	if err := os.WriteFile(path, libraryText, 0o644); err != nil {
		return protocol.FileWriteError(path, err)
	}
	return nil
}
