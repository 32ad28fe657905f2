// Package gitclone fetches repositories with a shallow git clone into a
// temporary directory. It works for any host that speaks the git protocol
// and is not subject to REST API rate limits.
package gitclone

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitignore "github.com/monochromegane/go-gitignore"
	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

// MaxFileSize caps ReadFile, matching the GitHub contents API limit.
const MaxFileSize = 1 << 20

// Config holds clone settings.
type Config struct {
	Token   string // sent as HTTP basic auth password when set
	Depth   int    // 0 clones full history
	TempDir string // parent of clone directories, os.TempDir when empty
	// URL maps a repo to its clone URL. Defaults to Repo.CloneURL.
	URL func(source.Repo) string
}

// Source clones repositories.
type Source struct {
	cfg Config
}

// New creates a clone source.
func New(cfg Config) *Source {
	if cfg.URL == nil {
		cfg.URL = source.Repo.CloneURL
	}
	return &Source{cfg: cfg}
}

// Name returns "git".
func (s *Source) Name() string { return "git" }

// Open clones repo and indexes its working tree. Paths matched by the root
// .gitignore and the .git directory are left out.
func (s *Source) Open(ctx context.Context, repo source.Repo) (source.Snapshot, error) {
	dir, err := os.MkdirTemp(s.cfg.TempDir, "migrate-git-")
	if err != nil {
		return nil, fmt.Errorf("create clone directory: %w", err)
	}

	opts := &git.CloneOptions{
		URL:           s.cfg.URL(repo),
		Depth:         s.cfg.Depth,
		SingleBranch:  true,
		ReferenceName: plumbing.HEAD,
	}
	if repo.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
	}
	if s.cfg.Token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: s.cfg.Token}
	}

	logging.Debug("cloning repository", zap.String("url", opts.URL), zap.String("dir", dir))
	r, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		os.RemoveAll(dir)
		metrics.RecordSourceFetch(s.Name(), "listing", false)
		return nil, fmt.Errorf("clone %s: %w", repo.FullName(), classify(err))
	}

	branch := repo.Branch
	if head, err := r.Head(); err == nil && head.Name().IsBranch() {
		branch = head.Name().Short()
	}

	entries, err := Walk(dir)
	if err != nil {
		os.RemoveAll(dir)
		metrics.RecordSourceFetch(s.Name(), "listing", false)
		return nil, err
	}
	metrics.RecordSourceFetch(s.Name(), "listing", true)

	return &snapshot{
		dir:    dir,
		forest: tree.FromListing(entries),
		info:   source.Info{Backend: s.Name(), Branch: branch},
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, plumbing.ErrReferenceNotFound):
		return fmt.Errorf("%w: %v", source.ErrNotFound, err)
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %v", source.ErrNotFound, err)
	}
	return err
}

// Walk lists root as listing entries with slash-separated relative paths.
func Walk(root string) ([]tree.ListingEntry, error) {
	var matcher gitignore.IgnoreMatcher
	ignorePath := filepath.Join(root, ".gitignore")
	if f, err := os.Open(ignorePath); err == nil {
		matcher = gitignore.NewGitIgnoreFromReader(root, f)
		f.Close()
	}

	var entries []tree.ListingEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if path == root {
			return nil
		}

		isDir := d.IsDir()
		if isDir && d.Name() == ".git" {
			return fs.SkipDir
		}
		if matcher != nil && matcher.Match(path, isDir) {
			if isDir {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		kind := tree.EntryBlob
		if isDir {
			kind = tree.EntryTree
		}
		entries = append(entries, tree.ListingEntry{Path: filepath.ToSlash(rel), Kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return entries, nil
}

type snapshot struct {
	dir    string
	forest *tree.Forest
	info   source.Info
}

func (s *snapshot) Tree() *tree.Forest { return s.forest }

func (s *snapshot) Info() source.Info { return s.info }

// ReadFile reads a file that is part of the listing.
func (s *snapshot) ReadFile(_ context.Context, path string) (string, error) {
	n, ok := s.forest.Get(path)
	if !ok || n.Kind != models.KindFile {
		return "", fmt.Errorf("%w: %s", source.ErrNotFound, path)
	}
	full := filepath.Join(s.dir, filepath.FromSlash(path))
	if !strings.HasPrefix(full, filepath.Clean(s.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", source.ErrNotFound, path)
	}

	info, err := os.Stat(full)
	if err != nil {
		metrics.RecordSourceFetch("git", "content", false)
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		metrics.RecordSourceFetch("git", "content", false)
		return "", fmt.Errorf("%s is too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(full)
	metrics.RecordSourceFetch("git", "content", err == nil)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Close removes the clone directory.
func (s *snapshot) Close() error {
	return os.RemoveAll(s.dir)
}
