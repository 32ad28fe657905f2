// Package languages holds the catalog of migration languages and the file
// classification used when ingesting repositories.
package languages

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

//go:embed languages.yaml
var defaultCatalog []byte

// DefaultTarget is the target of repository migrations unless overridden.
const DefaultTarget = "Next.js + TypeScript"

// Language is one catalog entry.
type Language struct {
	ID         string   `yaml:"id"`
	Label      string   `yaml:"label"`
	Lexer      string   `yaml:"lexer"`
	Extensions []string `yaml:"extensions"`
	Filenames  []string `yaml:"filenames"`
}

// Catalog is an ordered set of languages with lookup tables.
type Catalog struct {
	langs        []Language
	byID         map[string]int
	extensionMap map[string]int // longest extensions are matched first
	filenameMap  map[string]int
	extensions   []string
}

// Default returns the embedded catalog. It panics if the embedded file is
// malformed, which is caught by the package tests.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("languages: embedded catalog: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(name string) (*Catalog, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read language file %s: %w", name, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse language file %s: %w", name, err)
	}
	return c, nil
}

// Parse builds a catalog from YAML. The first language claiming an
// extension or filename keeps it.
func Parse(data []byte) (*Catalog, error) {
	var langs []Language
	if err := yaml.Unmarshal(data, &langs); err != nil {
		return nil, err
	}

	c := &Catalog{
		langs:        langs,
		byID:         make(map[string]int, len(langs)),
		extensionMap: make(map[string]int),
		filenameMap:  make(map[string]int),
	}
	for i, l := range langs {
		if l.ID == "" {
			return nil, fmt.Errorf("language %d has no id", i)
		}
		if _, dup := c.byID[l.ID]; dup {
			return nil, fmt.Errorf("duplicate language id %q", l.ID)
		}
		c.byID[l.ID] = i
		for _, ext := range l.Extensions {
			ext = strings.ToLower(ext)
			if _, ok := c.extensionMap[ext]; !ok {
				c.extensionMap[ext] = i
				c.extensions = append(c.extensions, ext)
			}
		}
		for _, fname := range l.Filenames {
			if _, ok := c.filenameMap[fname]; !ok {
				c.filenameMap[fname] = i
			}
		}
	}
	sort.SliceStable(c.extensions, func(i, j int) bool {
		return len(c.extensions[i]) > len(c.extensions[j])
	})
	return c, nil
}

// All returns the languages in catalog order.
func (c *Catalog) All() []Language {
	return append([]Language(nil), c.langs...)
}

// Lookup returns the language with id.
func (c *Catalog) Lookup(id string) (Language, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Language{}, false
	}
	return c.langs[i], true
}

// Label returns the display label of id, or id itself when unknown. Free
// text targets such as "Next.js + TypeScript" pass through unchanged.
func (c *Catalog) Label(id string) string {
	if l, ok := c.Lookup(id); ok {
		return l.Label
	}
	return id
}

// Detect returns the language of a file path by exact filename first and
// then by the longest matching extension.
func (c *Catalog) Detect(p string) (Language, bool) {
	base := path.Base(p)
	if i, ok := c.filenameMap[base]; ok {
		return c.langs[i], true
	}
	lower := strings.ToLower(base)
	for _, ext := range c.extensions {
		if strings.HasSuffix(lower, ext) {
			return c.langs[c.extensionMap[ext]], true
		}
	}
	return Language{}, false
}

// Histogram counts the files of f per detected language label, most common
// first.
func (c *Catalog) Histogram(f *tree.Forest) []Count {
	counts := make(map[string]int)
	for _, n := range f.Files() {
		if l, ok := c.Detect(n.Path); ok {
			counts[l.Label]++
		}
	}
	out := make([]Count, 0, len(counts))
	for label, n := range counts {
		out = append(out, Count{Label: label, Files: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Count is one histogram bucket.
type Count struct {
	Label string
	Files int
}

// Protocol converts the catalog for the API.
func (c *Catalog) Protocol() []protocol.Language {
	out := make([]protocol.Language, len(c.langs))
	for i, l := range c.langs {
		out[i] = protocol.Language{ID: l.ID, Label: l.Label, Extensions: l.Extensions}
	}
	return out
}

var skippedExtensions = []string{".md", ".json", ".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".lock"}

// IsContextCandidate reports whether a source file is worth sending to the
// model as context. Documentation, JSON manifests, lock files and images
// are skipped.
func IsContextCandidate(p string) bool {
	lower := strings.ToLower(path.Base(p))
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}

// ContextFiles returns up to max context candidates of f in pre-order.
func ContextFiles(f *tree.Forest, max int) []models.FileNode {
	var out []models.FileNode
	for _, n := range f.Files() {
		if len(out) >= max {
			break
		}
		if IsContextCandidate(n.Path) {
			out = append(out, n)
		}
	}
	return out
}
