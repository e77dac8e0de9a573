package launch

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/openfroyo/launchpad/pkg/engine"
)

// FileType tells the remote side how to install a staged file.
type FileType string

const (
	// FileTypePlain is copied into the evaluator's working directory.
	FileTypePlain FileType = "PLAIN"

	// FileTypeLib is placed on the evaluator's library path.
	FileTypeLib FileType = "LIB"
)

// Validate checks if the file type is valid.
func (t FileType) Validate() error {
	switch t {
	case FileTypePlain, FileTypeLib:
		return nil
	default:
		return fmt.Errorf("invalid file type: %s", t)
	}
}

// FileResource is a single file shipped with an evaluator.
type FileResource struct {
	Name string   `json:"name" validate:"required"`
	Path string   `json:"path" validate:"required"`
	Type FileType `json:"kind" validate:"required,oneof=PLAIN LIB"`
}

// NewFileResource builds a resource named after the file's base name.
func NewFileResource(path string, kind FileType) FileResource {
	return FileResource{Name: filepath.Base(path), Path: path, Type: kind}
}

// ResourceSet is a duplicate-free collection of files keyed by path. Once
// sealed it rejects additions.
type ResourceSet struct {
	kind   FileType
	paths  map[string]struct{}
	order  []string
	sealed bool
	mu     sync.Mutex
}

// NewResourceSet creates an empty set whose entries all carry kind.
func NewResourceSet(kind FileType) *ResourceSet {
	return &ResourceSet{
		kind:  kind,
		paths: make(map[string]struct{}),
	}
}

// Add inserts path. Adding a path already present is a no-op and reports false.
func (s *ResourceSet) Add(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return false, engine.NewConflictError("resources are sealed after launch", nil).
			WithCode(engine.ErrCodeSealed).
			WithResource(path)
	}
	if path == "" {
		return false, engine.NewPermanentError("resource path is empty", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if _, ok := s.paths[path]; ok {
		return false, nil
	}
	s.paths[path] = struct{}{}
	s.order = append(s.order, path)
	return true, nil
}

// Seal freezes the set.
func (s *ResourceSet) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Unseal reopens the set. It is meant for a launch attempt that sealed the
// set but never reached dispatch.
func (s *ResourceSet) Unseal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = false
}

// Sealed reports whether Seal was called.
func (s *ResourceSet) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Len returns the number of distinct paths.
func (s *ResourceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Resources returns one FileResource per path in insertion order.
func (s *ResourceSet) Resources() []FileResource {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FileResource, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, NewFileResource(p, s.kind))
	}
	return out
}
