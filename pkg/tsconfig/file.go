// Package tsconfig discovers TypeScript project configurations, resolves which
// configuration owns each input file, and keeps the results cached across a
// session with selective invalidation on file-system events.
package tsconfig

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
)

// Origin tells how a set of configurations was obtained.
type Origin string

const (
	// OriginProperty is a list set through the tsconfig paths property.
	OriginProperty Origin = "PROPERTY"
	// OriginLookup is a list discovered by walking the project tree.
	OriginLookup Origin = "LOOKUP"
	// OriginFallback is a synthetic configuration covering the whole project.
	OriginFallback Origin = "FALLBACK"
)

// Origins lists origins in precedence order.
var Origins = []Origin{OriginProperty, OriginLookup, OriginFallback}

// Sentinel errors.
var (
	// ErrConfigResolution indicates a configuration could not be read or parsed.
	ErrConfigResolution = errors.New("tsconfig resolution failed")
	// ErrTypeCheckingDisabled indicates the project is too large for the wildcard fallback.
	ErrTypeCheckingDisabled = errors.New("type checking disabled")
)

// File is a loaded configuration. It is immutable once constructed.
type File struct {
	path       string
	files      []string
	references []string
	members    map[string]struct{}
}

// NewFile builds a File. Paths are cleaned; the input slices are copied.
func NewFile(path string, files, references []string) *File {
	cfg := &File{
		path:       filepath.Clean(path),
		files:      make([]string, 0, len(files)),
		references: make([]string, 0, len(references)),
		members:    make(map[string]struct{}, len(files)),
	}

	for _, f := range files {
		clean := filepath.Clean(f)
		cfg.files = append(cfg.files, clean)
		cfg.members[clean] = struct{}{}
	}

	for _, ref := range references {
		cfg.references = append(cfg.references, filepath.Clean(ref))
	}

	return cfg
}

// Path returns the absolute configuration path.
func (f *File) Path() string { return f.path }

// Files returns the files the configuration resolves to.
func (f *File) Files() []string { return slices.Clone(f.files) }

// References returns the referenced or extended configuration paths.
func (f *File) References() []string { return slices.Clone(f.references) }

// Contains reports whether path is one of the configuration's files.
func (f *File) Contains(path string) bool {
	_, ok := f.members[filepath.Clean(path)]

	return ok
}

// IsConfigName reports whether a base name looks like a tsconfig file.
func IsConfigName(name string) bool {
	return strings.Contains(name, "tsconfig") && strings.HasSuffix(name, ".json")
}

// containsDir reports whether dir is an ancestor directory of path.
func containsDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
