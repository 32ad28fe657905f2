package languages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	all := c.All()
	if len(all) != 13 {
		t.Fatalf("got %d languages, want 13", len(all))
	}
	if all[0].ID != "python2" || all[len(all)-1].ID != "java" {
		t.Errorf("catalog order changed: first %s, last %s", all[0].ID, all[len(all)-1].ID)
	}
	if c.Label("jquery") != "jQuery" {
		t.Errorf("Label(jquery) = %s", c.Label("jquery"))
	}
	if c.Label(DefaultTarget) != DefaultTarget {
		t.Error("free text target should pass through")
	}
	if len(c.Protocol()) != 13 {
		t.Error("Protocol lost entries")
	}
}

func TestDetect(t *testing.T) {
	c := Default()
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"src/app.js", "javascript", true},
		{"src/App.TSX", "react", true},
		{"main.go", "go", true},
		{"go.mod", "go", true},
		{"app/user.component.ts", "angular", true},
		{"app/user.ts", "typescript", true},
		{"Cargo.toml", "rust", true},
		{"legacy/index.php", "php", true},
		{"README.md", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		l, ok := c.Detect(tt.path)
		if ok != tt.ok || l.ID != tt.want {
			t.Errorf("Detect(%q) = %q, %v, want %q, %v", tt.path, l.ID, ok, tt.want, tt.ok)
		}
	}
}

func TestHistogram(t *testing.T) {
	f, err := tree.FromPaths([]string{"a.js", "b.js", "c.php", "README.md"})
	if err != nil {
		t.Fatal(err)
	}
	h := Default().Histogram(f)
	if len(h) != 2 || h[0].Label != "JavaScript (ES5)" || h[0].Files != 2 || h[1].Label != "PHP" {
		t.Errorf("Histogram = %+v", h)
	}
}

func TestContextFiles(t *testing.T) {
	f, err := tree.FromPaths([]string{
		"README.md", "package.json", "public/favicon.ico", "public/logo.PNG",
		"src/a.js", "src/b.js", "src/c.js", "yarn.lock",
	})
	if err != nil {
		t.Fatal(err)
	}

	got := ContextFiles(f, 2)
	if len(got) != 2 || got[0].Path != "src/a.js" || got[1].Path != "src/b.js" {
		t.Errorf("ContextFiles = %v", got)
	}
	if all := ContextFiles(f, 15); len(all) != 3 {
		t.Errorf("ContextFiles(15) returned %d files", len(all))
	}
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	tests := map[string]string{
		"missing id":   "- label: X\n",
		"duplicate id": "- id: a\n- id: a\n",
		"not a list":   "a: b\n",
	}
	for name, data := range tests {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "languages.yaml")
	os.WriteFile(name, []byte("- id: cobol\n  label: COBOL\n  extensions: [.cbl]\n"), 0644)

	c, err := LoadFile(name)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if l, ok := c.Detect("PAYROLL.CBL"); !ok || l.ID != "cobol" {
		t.Errorf("Detect = %+v, %v", l, ok)
	}
}
