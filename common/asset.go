package common

import (
	"fmt"
	"os"
	"path/filepath"
)

// RawAsset is the fetched avatar before it is persisted
type RawAsset struct {
	SourceURL string
	Data      []byte
}

// MasterAsset is the canonical size-optimized avatar on disk
type MasterAsset struct {
	Path   string
	Format Format
	Size   int64
	Width  int
	Height int
}

// Filename returns the base name of the master file
func (m MasterAsset) Filename() string {
	return filepath.Base(m.Path)
}

// Variant is a derived rendition keyed by dimension and format.
// Dimension 0 is the full-size alternate-format rendition.
type Variant struct {
	Path      string
	Dimension int
	Format    Format
	Quality   int
	Size      int64
}

// Key identifies the variant within the catalog
func (v Variant) Key() string {
	if v.Dimension == 0 {
		return fmt.Sprintf("full/%s", v.Format)
	}
	return fmt.Sprintf("%d/%s", v.Dimension, v.Format)
}

// References is the set of values the markup document must agree on
type References struct {
	MasterURL    string
	AlternateURL string
	SiteURL      string
	Width        int
	Height       int

	// RetiredAlternateURL is where the alternate would live. When no
	// alternate exists, sources still pointing at it are removed.
	RetiredAlternateURL string
}

// HasAlternate reports whether a full-size alternate rendition exists
func (r References) HasAlternate() bool {
	return r.AlternateURL != ""
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &FileSystemError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &FileSystemError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &FileSystemError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &FileSystemError{Op: "write", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return &FileSystemError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &FileSystemError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
