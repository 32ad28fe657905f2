// Package source fetches the file listing and file contents of a legacy
// repository.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

var (
	// ErrInvalidURL is returned for URLs without an owner and repository.
	ErrInvalidURL = errors.New("invalid repository URL")

	// ErrRateLimited is returned when the host throttles requests.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNotFound is returned for missing repositories, branches and files.
	ErrNotFound = errors.New("not found")
)

// Repo identifies a hosted repository.
type Repo struct {
	Host   string
	Owner  string
	Name   string
	Branch string // empty means the default branch
}

// ParseURL extracts owner, repository and optional branch from a repository
// URL such as https://github.com/owner/repo, https://github.com/owner/repo.git
// or https://github.com/owner/repo/tree/branch. A missing scheme is accepted.
func ParseURL(raw string) (Repo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Repo{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Repo{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return Repo{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Repo{}, fmt.Errorf("%w: %q needs owner and repository", ErrInvalidURL, raw)
	}

	repo := Repo{
		Host:  u.Host,
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}
	if repo.Name == "" {
		return Repo{}, fmt.Errorf("%w: %q has an empty repository name", ErrInvalidURL, raw)
	}
	if len(parts) >= 4 && parts[2] == "tree" {
		repo.Branch = strings.Join(parts[3:], "/")
	}
	return repo, nil
}

// FullName returns "owner/name".
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// CloneURL returns the HTTPS clone URL.
func (r Repo) CloneURL() string {
	return "https://" + r.Host + "/" + r.Owner + "/" + r.Name + ".git"
}

func (r Repo) String() string {
	if r.Branch == "" {
		return r.Host + "/" + r.FullName()
	}
	return r.Host + "/" + r.FullName() + "@" + r.Branch
}

// Info describes an opened snapshot.
type Info struct {
	Backend   string `json:"backend"`
	Branch    string `json:"branch"`
	Truncated bool   `json:"truncated,omitempty"`
	Sample    bool   `json:"sample,omitempty"`
}

// Snapshot is a fetched repository listing that can serve file contents.
type Snapshot interface {
	// Tree returns the repository forest. Every node is pending.
	Tree() *tree.Forest

	// Info describes where the listing came from.
	Info() Info

	// ReadFile returns the content of the file at path.
	ReadFile(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the snapshot.
	Close() error
}

// Source opens repository snapshots.
type Source interface {
	// Name returns the backend identifier ("github", "git", "sample").
	Name() string

	// Open fetches the listing of repo.
	Open(ctx context.Context, repo Repo) (Snapshot, error)
}
