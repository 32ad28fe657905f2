package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lassestilvang/code-migration-autopilot/internal/source"
)

func testSource(t *testing.T, handler http.Handler) *Source {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewSource(New(Config{BaseURL: ts.URL, Token: "tok"}))
}

var repo = source.Repo{Host: "github.com", Owner: "acme", Name: "legacy"}

func TestOpenAndReadFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/legacy", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		json.NewEncoder(w).Encode(map[string]string{"default_branch": "develop"})
	})
	mux.HandleFunc("GET /repos/acme/legacy/git/trees/develop", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recursive") != "1" {
			t.Errorf("tree not recursive")
		}
		w.Write([]byte(`{"sha":"abc","truncated":false,"tree":[
			{"path":"src","type":"tree","mode":"040000"},
			{"path":"src/app.js","type":"blob","mode":"100644","size":10},
			{"path":"README.md","type":"blob"},
			{"path":"vendor/lib","type":"commit"}]}`))
	})
	mux.HandleFunc("GET /repos/acme/legacy/contents/src/app.js", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref") != "develop" {
			t.Errorf("ref = %q", r.URL.Query().Get("ref"))
		}
		enc := base64.StdEncoding.EncodeToString([]byte("console.log('hi');\n"))
		json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"encoding": "base64",
			"content":  enc[:8] + "\n" + enc[8:],
		})
	})

	src := testSource(t, mux)
	snap, err := src.Open(context.Background(), repo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer snap.Close()

	if snap.Info().Branch != "develop" {
		t.Errorf("branch = %s", snap.Info().Branch)
	}
	roots := snap.Tree().Roots()
	if len(roots) != 2 || roots[0] != "src" || roots[1] != "README.md" {
		t.Errorf("roots = %v", roots)
	}
	if snap.Tree().Len() != 3 {
		t.Errorf("Len = %d, want 3 (commit entry skipped)", snap.Tree().Len())
	}

	content, err := snap.ReadFile(context.Background(), "src/app.js")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "console.log('hi');\n" {
		t.Errorf("content = %q", content)
	}
}

func TestOpenExplicitBranchSkipsDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/legacy", func(w http.ResponseWriter, r *http.Request) {
		t.Error("details fetched despite explicit branch")
	})
	mux.HandleFunc("GET /repos/acme/legacy/git/trees/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tree":[{"path":"a.go","type":"blob"}],"truncated":true}`))
	})

	r := repo
	r.Branch = "v1"
	snap, err := testSource(t, mux).Open(context.Background(), r)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !snap.Info().Truncated {
		t.Error("truncated flag lost")
	}
}

func TestOpenFallsBackToMain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/legacy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /repos/acme/legacy/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tree":[]}`))
	})

	snap, err := testSource(t, mux).Open(context.Background(), repo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if snap.Info().Branch != "main" {
		t.Errorf("branch = %s", snap.Info().Branch)
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"forbidden", http.StatusForbidden, source.ErrRateLimited},
		{"too many", http.StatusTooManyRequests, source.ErrRateLimited},
		{"missing", http.StatusNotFound, source.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /repos/acme/legacy", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"default_branch": "main"})
			})
			mux.HandleFunc("GET /repos/acme/legacy/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Reset", "1700000000")
				w.WriteHeader(tt.status)
			})

			_, err := testSource(t, mux).Open(context.Background(), repo)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var rl *RateLimitError
			if errors.As(err, &rl) && rl.Reset.Unix() != 1700000000 {
				t.Errorf("reset = %v", rl.Reset)
			}
		})
	}
}

func TestContentRejectsDirectories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/legacy/contents/src", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"type": "dir"})
	})
	c := testSource(t, mux).client
	if _, err := c.Content(context.Background(), repo, "", "src"); err == nil {
		t.Error("expected error for directory content")
	}
}
