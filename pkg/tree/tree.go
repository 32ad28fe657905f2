// Package tree builds and queries file forests: ordered sets of root
// FileNodes produced from flat path lists or remote repository listings.
//
// A Forest is stored as an arena keyed by path. Each directory entry keeps the
// ordered paths of its children, so lookups are O(1) and an update only has to
// replace the one entry it touches. Entries are never mutated after a Forest
// has been built; Update returns a new Forest that shares every untouched
// entry with its input.
package tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
)

// Separator joins path segments.
const Separator = "/"

var (
	// ErrInvalidPath is returned for empty paths, empty segments and
	// leading or trailing separators.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathConflict is returned when one path needs a node to be both a
	// file and a directory.
	ErrPathConflict = errors.New("path conflict")
)

// PathError records the path that made a construction fail.
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PathError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %q", e.Err, e.Path)
	}
	return fmt.Sprintf("%s: %q: %s", e.Err, e.Path, e.Reason)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

type entry struct {
	node     models.FileNode // Children is always nil in the arena
	children []string
}

// Forest is an immutable file forest.
type Forest struct {
	entries map[string]*entry
	roots   []string
}

func newForest(capacity int) *Forest {
	return &Forest{entries: make(map[string]*entry, capacity)}
}

// Len returns the number of nodes in the forest.
func (f *Forest) Len() int {
	if f == nil {
		return 0
	}
	return len(f.entries)
}

// Roots returns the paths of the root nodes in order.
func (f *Forest) Roots() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.roots...)
}

// Get returns the node stored at path. The returned node has no Children;
// use ChildPaths or Nodes to walk the hierarchy.
func (f *Forest) Get(path string) (models.FileNode, bool) {
	if f == nil {
		return models.FileNode{}, false
	}
	e, ok := f.entries[path]
	if !ok {
		return models.FileNode{}, false
	}
	return detach(e.node), true
}

// detach copies the content pointer so callers cannot write through to the
// arena.
func detach(n models.FileNode) models.FileNode {
	if n.Content != nil {
		c := *n.Content
		n.Content = &c
	}
	return n
}

// ChildPaths returns the ordered child paths of the directory at path.
func (f *Forest) ChildPaths(path string) []string {
	if f == nil {
		return nil
	}
	e, ok := f.entries[path]
	if !ok {
		return nil
	}
	return append([]string(nil), e.children...)
}

// Flatten returns every node exactly once in pre-order: a directory precedes
// its descendants, and all descendants of one sibling precede the next
// sibling. The returned nodes carry no Children.
func (f *Forest) Flatten() []models.FileNode {
	if f == nil {
		return nil
	}
	out := make([]models.FileNode, 0, len(f.entries))
	f.walk(f.roots, 0, func(n models.FileNode, _ int) {
		out = append(out, n)
	})
	return out
}

// Walk visits every node in pre-order with its depth (roots are depth 0).
func (f *Forest) Walk(fn func(n models.FileNode, depth int)) {
	if f == nil {
		return
	}
	f.walk(f.roots, 0, fn)
}

func (f *Forest) walk(paths []string, depth int, fn func(models.FileNode, int)) {
	for _, p := range paths {
		e := f.entries[p]
		fn(detach(e.node), depth)
		if len(e.children) > 0 {
			f.walk(e.children, depth+1, fn)
		}
	}
}

// Paths returns all node paths in pre-order.
func (f *Forest) Paths() []string {
	nodes := f.Flatten()
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Path
	}
	return out
}

// Files returns the file nodes in pre-order.
func (f *Forest) Files() []models.FileNode {
	var out []models.FileNode
	for _, n := range f.Flatten() {
		if n.Kind == models.KindFile {
			out = append(out, n)
		}
	}
	return out
}

// CountByStatus counts file nodes per status.
func (f *Forest) CountByStatus() map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, n := range f.Files() {
		counts[n.Status]++
	}
	return counts
}

// Nodes materializes the forest as nested FileNodes. The result is a fresh
// copy and may be modified by the caller.
func (f *Forest) Nodes() []*models.FileNode {
	if f == nil {
		return nil
	}
	return f.materialize(f.roots)
}

func (f *Forest) materialize(paths []string) []*models.FileNode {
	out := make([]*models.FileNode, 0, len(paths))
	for _, p := range paths {
		e := f.entries[p]
		n := detach(e.node)
		if n.Kind == models.KindDir {
			n.Children = f.materialize(e.children)
		}
		out = append(out, &n)
	}
	return out
}

// MarshalJSON encodes the forest as its nested node list.
func (f *Forest) MarshalJSON() ([]byte, error) {
	nodes := f.Nodes()
	if nodes == nil {
		nodes = []*models.FileNode{}
	}
	return json.Marshal(nodes)
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + Separator + name
}

// ParentPath strips the last segment of path. Root-level paths have the
// empty parent.
func ParentPath(path string) string {
	i := strings.LastIndex(path, Separator)
	if i < 0 {
		return ""
	}
	return path[:i]
}

// BaseName returns the last segment of path.
func BaseName(path string) string {
	return path[strings.LastIndex(path, Separator)+1:]
}

// SplitPath validates path and returns its segments.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, &PathError{Path: path, Reason: "empty", Err: ErrInvalidPath}
	}
	segments := strings.Split(path, Separator)
	for _, seg := range segments {
		switch seg {
		case "":
			return nil, &PathError{Path: path, Reason: "empty segment", Err: ErrInvalidPath}
		case ".", "..":
			return nil, &PathError{Path: path, Reason: "relative segment", Err: ErrInvalidPath}
		}
	}
	return segments, nil
}
