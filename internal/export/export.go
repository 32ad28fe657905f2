// Package export writes generated projects to a storage backend.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/config"
	"github.com/lassestilvang/code-migration-autopilot/internal/export/local"
	s3backend "github.com/lassestilvang/code-migration-autopilot/internal/export/s3"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

var (
	// ErrDisabled is returned by NewBackend when exports are turned off.
	ErrDisabled = errors.New("export disabled")

	// ErrExists is returned when an export would overwrite an object.
	ErrExists = errors.New("object already exists")

	// ErrNothingToExport is returned for forests without generated files.
	ErrNothingToExport = errors.New("no generated files to export")
)

// Backend is the interface for export storage backends.
type Backend interface {
	// GetObject opens an exported object.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// NewBackend creates the backend selected by cfg.ExportBackend.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.ExportBackend {
	case "", "none":
		return nil, ErrDisabled
	case "local":
		return local.New(local.Config{RootPath: cfg.ExportLocalPath, CreateDirs: true})
	case "s3":
		return s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.ExportBackend)
	}
}

// Options controls an export.
type Options struct {
	// Overwrite replaces existing objects instead of failing with ErrExists.
	Overwrite bool
}

// Result summarizes a finished export.
type Result struct {
	Prefix string
	Keys   []string
	Bytes  int64
}

// Export writes every generated file of f below prefix. Files without
// content and files whose generation failed are skipped. On failure the export is undone: new objects are
// removed and overwritten objects get their previous content back.
func Export(ctx context.Context, b Backend, prefix string, f *tree.Forest, opts Options) (*Result, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		if _, err := tree.SplitPath(prefix); err != nil {
			return nil, fmt.Errorf("export prefix: %w", err)
		}
	}

	var files []models.FileNode
	for _, n := range f.Files() {
		if n.Content == nil {
			continue
		}
		if n.Status == models.StatusError {
			continue
		}
		files = append(files, n)
	}
	if len(files) == 0 {
		return nil, ErrNothingToExport
	}

	res := &Result{Prefix: prefix}
	var undo journal
	for _, n := range files {
		key := n.Path
		if prefix != "" {
			key = path.Join(prefix, n.Path)
		}

		exists, err := b.ObjectExists(ctx, key)
		if err != nil {
			undo.rollback(ctx, b)
			return nil, fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			if !opts.Overwrite {
				undo.rollback(ctx, b)
				return nil, fmt.Errorf("%w: %s", ErrExists, key)
			}
			prev, err := readObject(ctx, b, key)
			if err != nil {
				undo.rollback(ctx, b)
				return nil, fmt.Errorf("read %s: %w", key, err)
			}
			undo.replaced = append(undo.replaced, saved{key: key, content: prev})
		}

		content := *n.Content
		if err := b.PutObject(ctx, key, strings.NewReader(content), int64(len(content))); err != nil {
			if !exists {
				// a failed put may leave a partial object behind
				undo.created = append(undo.created, key)
			}
			undo.rollback(ctx, b)
			return nil, err
		}
		if !exists {
			undo.created = append(undo.created, key)
		}
		res.Keys = append(res.Keys, key)
		res.Bytes += int64(len(content))
	}

	logging.Info("export finished",
		zap.String("backend", b.Type()),
		zap.String("prefix", prefix),
		zap.Int("files", len(res.Keys)),
		zap.Int64("bytes", res.Bytes))
	return res, nil
}

type saved struct {
	key     string
	content []byte
}

// journal records what an export changed so it can be undone.
type journal struct {
	created  []string
	replaced []saved
}

func (j *journal) rollback(ctx context.Context, b Backend) {
	ctx = context.WithoutCancel(ctx)
	for _, k := range j.created {
		if err := b.DeleteObject(ctx, k); err != nil {
			logging.Warn("export rollback failed", zap.String("key", k), zap.Error(err))
		}
	}
	for _, s := range j.replaced {
		if err := b.PutObject(ctx, s.key, bytes.NewReader(s.content), int64(len(s.content))); err != nil {
			logging.Warn("export restore failed", zap.String("key", s.key), zap.Error(err))
		}
	}
}

func readObject(ctx context.Context, b Backend, key string) ([]byte, error) {
	rc, _, err := b.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
