package tree

import "github.com/lassestilvang/code-migration-autopilot/pkg/models"

// Patch describes a change to a single file node. Nil fields are left alone.
type Patch struct {
	Status  *models.Status
	Content *string
}

// SetStatus returns a patch that replaces a node's status.
func SetStatus(s models.Status) Patch {
	return Patch{Status: &s}
}

// SetContent returns a patch that replaces a node's content.
func SetContent(content string) Patch {
	return Patch{Content: &content}
}

// Update returns a forest in which the node at path has p applied. Every
// other node keeps its value. The receiver is never modified.
//
// An unknown path is not an error: the receiver is returned as is. Status and
// content only apply to file nodes; patching a directory is also a no-op, as
// is a patch carrying an unknown status.
func (f *Forest) Update(path string, p Patch) *Forest {
	if f == nil {
		return nil
	}
	e, ok := f.entries[path]
	if !ok || e.node.Kind != models.KindFile {
		return f
	}
	if p.Status != nil && !p.Status.Valid() {
		return f
	}

	node := e.node
	changed := false
	if p.Status != nil && node.Status != *p.Status {
		node.Status = *p.Status
		changed = true
	}
	if p.Content != nil && (node.Content == nil || *node.Content != *p.Content) {
		content := *p.Content
		node.Content = &content
		changed = true
	}
	if !changed {
		return f
	}

	entries := make(map[string]*entry, len(f.entries))
	for k, v := range f.entries {
		entries[k] = v
	}
	entries[path] = &entry{node: node, children: e.children}
	return &Forest{entries: entries, roots: f.roots}
}
