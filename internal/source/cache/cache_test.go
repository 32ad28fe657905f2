package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

func newTestCache(maxSize int64, ttl time.Duration) (*Cache, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(maxSize, ttl)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetPut(t *testing.T) {
	c, _ := newTestCache(100, 0)
	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache hit")
	}
	c.Put("a", "hello")
	if got, ok := c.Get("a"); !ok || got != "hello" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	c.Put("a", "hi")
	size, max, count := c.Stats()
	if size != 2 || max != 100 || count != 1 {
		t.Errorf("Stats = %d, %d, %d", size, max, count)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, now := newTestCache(10, 0)
	c.Put("a", "aaaa")
	*now = now.Add(time.Second)
	c.Put("b", "bbbb")
	*now = now.Add(time.Second)
	c.Get("a")
	*now = now.Add(time.Second)
	c.Put("c", "cccc")

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s evicted", k)
		}
	}
	if size, _, _ := c.Stats(); size != 8 {
		t.Errorf("size = %d", size)
	}
}

func TestOversizedContentSkipped(t *testing.T) {
	c, _ := newTestCache(3, 0)
	c.Put("a", "toolong")
	if _, _, count := c.Stats(); count != 0 {
		t.Errorf("count = %d", count)
	}
}

func TestTTL(t *testing.T) {
	c, now := newTestCache(100, time.Minute)
	c.Put("a", "x")
	*now = now.Add(30 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry expired early")
	}
	*now = now.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("stale entry served")
	}
	if size, _, count := c.Stats(); size != 0 || count != 0 {
		t.Errorf("stale entry kept: %d bytes, %d entries", size, count)
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(100, 0)
	c.Put("a", "x")
	c.Put("b", "y")
	if n := c.Clear(); n != 2 {
		t.Errorf("Clear = %d", n)
	}
}

// countingSource serves one file and counts reads.
type countingSource struct {
	reads int
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Open(_ context.Context, repo source.Repo) (source.Snapshot, error) {
	if repo.Name == "missing" {
		return nil, source.ErrNotFound
	}
	return &countingSnapshot{src: s}, nil
}

type countingSnapshot struct{ src *countingSource }

func (s *countingSnapshot) Tree() *tree.Forest {
	f, _ := tree.FromPaths([]string{"main.go"})
	return f
}

func (s *countingSnapshot) Info() source.Info {
	return source.Info{Backend: "counting", Branch: "main"}
}

func (s *countingSnapshot) ReadFile(_ context.Context, path string) (string, error) {
	if path != "main.go" {
		return "", source.ErrNotFound
	}
	s.src.reads++
	return "package main", nil
}

func (s *countingSnapshot) Close() error { return nil }

func TestWrap(t *testing.T) {
	inner := &countingSource{}
	src := Wrap(inner, New(1<<20, time.Hour))
	ctx := context.Background()
	repo := source.Repo{Host: "github.com", Owner: "o", Name: "r"}

	if src.Name() != "counting" {
		t.Errorf("Name = %s", src.Name())
	}
	for i := 0; i < 2; i++ {
		snap, err := src.Open(ctx, repo)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Tree().Len() != 1 || snap.Info().Branch != "main" {
			t.Errorf("snapshot not passed through")
		}
		got, err := snap.ReadFile(ctx, "main.go")
		if err != nil || got != "package main" {
			t.Fatalf("ReadFile = %q, %v", got, err)
		}
		if _, err := snap.ReadFile(ctx, "nope.go"); !errors.Is(err, source.ErrNotFound) {
			t.Errorf("missing file err = %v", err)
		}
		snap.Close()
	}
	if inner.reads != 1 {
		t.Errorf("inner reads = %d, want 1", inner.reads)
	}

	other := repo
	other.Owner = "someone-else"
	snap, _ := src.Open(ctx, other)
	snap.ReadFile(ctx, "main.go")
	if inner.reads != 2 {
		t.Errorf("cache shared across repositories")
	}

	if _, err := src.Open(ctx, source.Repo{Name: "missing"}); !errors.Is(err, source.ErrNotFound) {
		t.Errorf("Open err = %v", err)
	}
}
