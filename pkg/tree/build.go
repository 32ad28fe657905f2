package tree

import (
	"sort"
	"strings"

	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
)

// FromPaths builds a forest from slash-delimited file paths. Directories are
// inferred from path prefixes. Input is sorted first so the result does not
// depend on input order; the caller's slice is left untouched.
//
// A path that extends an existing file ("a/b" then "a/b/c") fails with
// ErrPathConflict, as does an invalid path with ErrInvalidPath. Repeated
// identical paths are merged.
func FromPaths(paths []string) (*Forest, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	f := newForest(len(sorted))
	for _, p := range sorted {
		if err := f.addPath(p); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Forest) addPath(path string) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}

	current := ""
	for i, seg := range segments {
		parent := current
		current = BuildChildPath(parent, seg)
		isFile := i == len(segments)-1

		if existing, ok := f.entries[current]; ok {
			switch {
			case existing.node.Kind == models.KindFile && !isFile:
				return &PathError{Path: path, Reason: current + " is a file", Err: ErrPathConflict}
			case existing.node.Kind == models.KindDir && isFile:
				return &PathError{Path: path, Reason: current + " is a directory", Err: ErrPathConflict}
			}
			continue
		}

		kind := models.KindDir
		if isFile {
			kind = models.KindFile
		}
		f.insert(current, seg, kind)

		if parent == "" {
			f.roots = append(f.roots, current)
		} else {
			p := f.entries[parent]
			p.children = append(p.children, current)
		}
	}
	return nil
}

func (f *Forest) insert(path, name string, kind models.Kind) {
	e := &entry{node: models.FileNode{
		Name:   name,
		Path:   path,
		Kind:   kind,
		Status: models.StatusPending,
	}}
	if kind == models.KindDir {
		e.children = []string{}
	}
	f.entries[path] = e
}

// EntryKind is the object type reported by a remote listing.
type EntryKind string

const (
	EntryBlob EntryKind = "blob"
	EntryTree EntryKind = "tree"
)

// ListingEntry is one record of a remote repository listing.
type ListingEntry struct {
	Path string    `json:"path"`
	Kind EntryKind `json:"type"`
}

// FromListing builds a forest from a remote listing. Records of unknown kind
// (submodule commits, for instance) are skipped; the first record wins when a
// path repeats. A record whose parent is missing from the listing, as happens
// with truncated results, is attached at the root instead of being dropped.
//
// Children of every directory, and the roots, are ordered directories first
// and then by name.
func FromListing(records []ListingEntry) *Forest {
	f := newForest(len(records))

	order := make([]string, 0, len(records))
	for _, r := range records {
		var kind models.Kind
		switch r.Kind {
		case EntryBlob:
			kind = models.KindFile
		case EntryTree:
			kind = models.KindDir
		default:
			continue
		}
		if r.Path == "" {
			continue
		}
		if _, ok := f.entries[r.Path]; ok {
			continue
		}
		f.insert(r.Path, BaseName(r.Path), kind)
		order = append(order, r.Path)
	}

	sort.Strings(order)
	for _, p := range order {
		parent := ParentPath(p)
		if pe, ok := f.entries[parent]; ok && parent != "" && pe.node.Kind == models.KindDir {
			pe.children = append(pe.children, p)
			continue
		}
		f.roots = append(f.roots, p)
	}

	f.sortChildren(f.roots)
	return f
}

// sortChildren orders paths directories first, then by case-sensitive name,
// and recurses into every directory.
func (f *Forest) sortChildren(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := f.entries[paths[i]].node, f.entries[paths[j]].node
		if a.Kind != b.Kind {
			return a.Kind == models.KindDir
		}
		return strings.Compare(a.Name, b.Name) < 0
	})
	for _, p := range paths {
		if e := f.entries[p]; len(e.children) > 0 {
			f.sortChildren(e.children)
		}
	}
}
