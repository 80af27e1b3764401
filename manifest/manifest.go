// Package manifest records every asset a build produced, with its size
// and BLAKE3 digest, in asset-manifest.yaml at the root of the output tree.
package manifest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"sitebuild/common"
)

// Filename is the manifest's name inside the output directory
const Filename = "asset-manifest.yaml"

// Entry describes one file on disk
type Entry struct {
	Key       string `yaml:"key,omitempty"`
	Path      string `yaml:"path"`
	Format    string `yaml:"format,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
	Quality   int    `yaml:"quality,omitempty"`
	Algorithm string `yaml:"algorithm,omitempty"`
	Source    string `yaml:"source,omitempty"`
	Size      int64  `yaml:"size"`
	BLAKE3    string `yaml:"blake3"`
}

// Manifest is the document written after a build
type Manifest struct {
	GeneratedAt time.Time `yaml:"generated_at"`
	SourceURL   string    `yaml:"source_url,omitempty"`
	// Fallback is true when the document still points at the remote avatar
	Fallback   bool    `yaml:"fallback"`
	Master     *Entry  `yaml:"master,omitempty"`
	Variants   []Entry `yaml:"variants,omitempty"`
	Compressed []Entry `yaml:"compressed,omitempty"`

	root string
}

// New creates an empty manifest whose paths are relative to root
func New(root string) *Manifest {
	return &Manifest{GeneratedAt: time.Now().UTC(), root: root}
}

// AddMaster records the optimized master
func (m *Manifest) AddMaster(master common.MasterAsset) error {
	entry, err := m.entry(master.Path)
	if err != nil {
		return err
	}
	entry.Format = string(master.Format)
	m.Master = entry
	return nil
}

// AddVariant records one derived rendition
func (m *Manifest) AddVariant(v common.Variant) error {
	entry, err := m.entry(v.Path)
	if err != nil {
		return err
	}
	entry.Key = v.Key()
	entry.Format = string(v.Format)
	entry.Dimension = v.Dimension
	entry.Quality = v.Quality
	m.Variants = append(m.Variants, *entry)
	return nil
}

// AddCompressed records one compressed sibling
func (m *Manifest) AddCompressed(source, path, algorithm string) error {
	entry, err := m.entry(path)
	if err != nil {
		return err
	}
	entry.Source = source
	entry.Algorithm = algorithm
	m.Compressed = append(m.Compressed, *entry)
	return nil
}

func (m *Manifest) entry(path string) (*Entry, error) {
	digest, size, err := Digest(path)
	if err != nil {
		return nil, err
	}
	rel := path
	if m.root != "" {
		if r, err := filepath.Rel(m.root, path); err == nil {
			rel = r
		}
	}
	return &Entry{Path: filepath.ToSlash(rel), Size: size, BLAKE3: digest}, nil
}

// Write marshals the manifest and replaces path atomically
func (m *Manifest) Write(path string) error {
	sort.Slice(m.Variants, func(i, j int) bool { return m.Variants[i].Path < m.Variants[j].Path })
	sort.Slice(m.Compressed, func(i, j int) bool { return m.Compressed[i].Path < m.Compressed[j].Path })

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return common.WriteFileAtomic(path, data, 0644)
}

// Load reads a manifest written by Write
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.root = filepath.Dir(path)
	return &m, nil
}

// Digest returns the hex BLAKE3-256 digest and size of a file
func Digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, &common.FileSystemError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, &common.FileSystemError{Op: "read", Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Check re-hashes every recorded file and returns the paths whose
// content no longer matches or that were removed
func (m *Manifest) Check() ([]string, error) {
	var entries []Entry
	if m.Master != nil {
		entries = append(entries, *m.Master)
	}
	entries = append(entries, m.Variants...)
	entries = append(entries, m.Compressed...)

	var changed []string
	for _, e := range entries {
		digest, _, err := Digest(filepath.Join(m.root, filepath.FromSlash(e.Path)))
		if errors.Is(err, os.ErrNotExist) {
			changed = append(changed, e.Path)
			continue
		}
		if err != nil {
			return nil, err
		}
		if digest != e.BLAKE3 {
			changed = append(changed, e.Path)
		}
	}
	return changed, nil
}
