// Package models contains the data types shared by the tree builders, the
// migration workflow and the presentation layers.
package models

import "encoding/json"

// Kind tells a directory node from a file node. It never changes once a node
// has been created.
type Kind string

const (
	KindDir  Kind = "dir"
	KindFile Kind = "file"
)

// Status is the generation progress of a file node.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusError:
		return true
	}
	return false
}

// FileNode represents a file or directory in a source or generated project.
// Directories carry Children (possibly empty) and never Content; files carry
// an optional Content and never Children.
type FileNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Kind     Kind        `json:"type"`
	Status   Status      `json:"status,omitempty"`
	Content  *string     `json:"content,omitempty"`
	Children []*FileNode `json:"children,omitempty"`
}

type plainNode FileNode

// MarshalJSON always writes children for directories, as [] when empty, and
// never for files.
func (n FileNode) MarshalJSON() ([]byte, error) {
	if n.Kind != KindDir {
		n.Children = nil
		return json.Marshal(plainNode(n))
	}
	children := n.Children
	if children == nil {
		children = []*FileNode{}
	}
	return json.Marshal(struct {
		plainNode
		Children []*FileNode `json:"children"`
	}{plainNode(n), children})
}

// IsDir reports whether the node is a directory.
func (n *FileNode) IsDir() bool {
	return n.Kind == KindDir
}

// HasContent reports whether content has been fetched or generated.
func (n *FileNode) HasContent() bool {
	return n.Content != nil
}
