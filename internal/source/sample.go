package source

import (
	"context"
	"fmt"

	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

// SampleReadme is the README served by the sample repository.
const SampleReadme = `
# Legacy Todo App
This is a simple jQuery based Todo application.
Structure:
- src/app.js: Main logic
`

var sampleFiles = map[string]string{
	"src/components/Header.js": "function renderHeader() {\n  $('#header').html('<h1>Todos</h1>');\n}\n",
	"src/components/Footer.js": "function renderFooter(count) {\n  $('#footer').text(count + ' items left');\n}\n",
	"src/app.js": `$(document).ready(function() {
  var todos = [];
  renderHeader();

  $('#add').click(function() {
    var text = $('#new-todo').val();
    if (!text) return;
    todos.push({ text: text, done: false });
    $('#new-todo').val('');
    render();
  });

  function render() {
    var list = $('#todo-list').empty();
    todos.forEach(function(t, i) {
      $('<li>').text(t.text).toggleClass('done', t.done).click(function() {
        todos[i].done = !todos[i].done;
        render();
      }).appendTo(list);
    });
    renderFooter(todos.filter(function(t) { return !t.done; }).length);
  }
});
`,
	"src/utils.js":      "function escapeHtml(s) {\n  return $('<div>').text(s).html();\n}\n",
	"src/config.js":     "var CONFIG = { storageKey: 'todos', maxItems: 100 };\n",
	"public/index.html": "<!DOCTYPE html>\n<html>\n<body>\n  <div id=\"header\"></div>\n  <input id=\"new-todo\"><button id=\"add\">Add</button>\n  <ul id=\"todo-list\"></ul>\n  <div id=\"footer\"></div>\n  <script src=\"https://code.jquery.com/jquery-1.12.4.min.js\"></script>\n  <script src=\"../src/app.js\"></script>\n</body>\n</html>\n",
	"public/favicon.ico": "",
	"package.json":       "{\n  \"name\": \"legacy-todo\",\n  \"version\": \"0.1.0\",\n  \"dependencies\": { \"jquery\": \"^1.12.4\" }\n}\n",
	"README.md":          SampleReadme,
	"styles.css":         "li.done { text-decoration: line-through; }\n",
}

var sampleListing = []tree.ListingEntry{
	{Path: "src", Kind: tree.EntryTree},
	{Path: "src/components", Kind: tree.EntryTree},
	{Path: "src/components/Header.js", Kind: tree.EntryBlob},
	{Path: "src/components/Footer.js", Kind: tree.EntryBlob},
	{Path: "src/app.js", Kind: tree.EntryBlob},
	{Path: "src/utils.js", Kind: tree.EntryBlob},
	{Path: "src/config.js", Kind: tree.EntryBlob},
	{Path: "public", Kind: tree.EntryTree},
	{Path: "public/index.html", Kind: tree.EntryBlob},
	{Path: "public/favicon.ico", Kind: tree.EntryBlob},
	{Path: "package.json", Kind: tree.EntryBlob},
	{Path: "README.md", Kind: tree.EntryBlob},
	{Path: "styles.css", Kind: tree.EntryBlob},
}

// SampleTree returns the forest of the built-in sample repository.
func SampleTree() *tree.Forest {
	return tree.FromListing(sampleListing)
}

// Sample is an offline Source that always serves the built-in jQuery todo
// application. It is used when a real fetch fails and the caller opted in to
// a demonstration run.
type Sample struct{}

// Name returns "sample".
func (Sample) Name() string { return "sample" }

// Open returns the sample snapshot for any repo.
func (Sample) Open(context.Context, Repo) (Snapshot, error) {
	return sampleSnapshot{forest: SampleTree()}, nil
}

type sampleSnapshot struct {
	forest *tree.Forest
}

func (s sampleSnapshot) Tree() *tree.Forest { return s.forest }

func (s sampleSnapshot) Info() Info {
	return Info{Backend: "sample", Branch: "main", Sample: true}
}

func (s sampleSnapshot) ReadFile(_ context.Context, path string) (string, error) {
	content, ok := sampleFiles[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return content, nil
}

func (s sampleSnapshot) Close() error { return nil }
