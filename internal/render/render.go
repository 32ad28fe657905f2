// Package render draws runs, trees and code for terminal output.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	dirStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	fileColors = map[models.Status]lipgloss.Color{
		models.StatusPending:    "240",
		models.StatusInProgress: "214",
		models.StatusDone:       "42",
		models.StatusError:      "196",
	}

	stateColors = map[models.AgentStatus]lipgloss.Color{
		models.AgentIdle:       "240",
		models.AgentAnalyzing:  "63",
		models.AgentPlanning:   "63",
		models.AgentConverting: "214",
		models.AgentVerifying:  "81",
		models.AgentCompleted:  "42",
		models.AgentError:      "196",
	}

	levelColors = map[models.LogLevel]lipgloss.Color{
		models.LogInfo:    "255",
		models.LogSuccess: "42",
		models.LogWarning: "208",
		models.LogError:   "196",
	}
)

// Renderer formats output with or without terminal styling.
type Renderer struct {
	plain bool
	theme string
}

// New returns a renderer. A plain renderer emits no escape sequences.
func New(plain bool) *Renderer {
	return &Renderer{plain: plain, theme: "monokai"}
}

// SetTheme selects the chroma style used by Code. Unknown names fall back to
// chroma's default style.
func (r *Renderer) SetTheme(name string) {
	r.theme = name
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) badge(color lipgloss.Color, label string) string {
	if r.plain {
		return "[" + label + "]"
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render("[" + label + "]")
}

// Title renders a heading.
func (r *Renderer) Title(text string) string {
	return r.style(titleStyle, text)
}

// Dim renders secondary text.
func (r *Renderer) Dim(text string) string {
	return r.style(dimStyle, text)
}

// StatusBadge renders the generation status of a file.
func (r *Renderer) StatusBadge(s models.Status) string {
	return r.badge(fileColors[s], string(s))
}

// StateBadge renders a workflow state.
func (r *Renderer) StateBadge(s models.AgentStatus) string {
	return r.badge(stateColors[s], strings.ToUpper(string(s)))
}

// Log renders one run log line.
func (r *Renderer) Log(e models.LogEntry) string {
	ts := e.Timestamp.Format("15:04:05")
	msg := e.Message
	if !r.plain {
		msg = lipgloss.NewStyle().Foreground(levelColors[e.Level]).Render(msg)
	}
	return fmt.Sprintf("%s %s %s", r.Dim(ts), r.badge(stateColors[e.Step], string(e.Step)), msg)
}

// Tree writes nodes with box-drawing connectors. Files carry a status badge
// when showStatus is set.
func (r *Renderer) Tree(w io.Writer, nodes []*models.FileNode, showStatus bool) error {
	var b strings.Builder
	r.writeTree(&b, nodes, "", showStatus)
	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) writeTree(b *strings.Builder, nodes []*models.FileNode, prefix string, showStatus bool) {
	for i, n := range nodes {
		connector := "├── "
		next := prefix + "│   "
		if i == len(nodes)-1 {
			connector = "└── "
			next = prefix + "    "
		}

		b.WriteString(r.Dim(prefix + connector))
		if n.IsDir() {
			b.WriteString(r.style(dirStyle, n.Name+"/"))
		} else {
			b.WriteString(n.Name)
			if showStatus && n.Status != "" {
				b.WriteString(" ")
				b.WriteString(r.StatusBadge(n.Status))
			}
		}
		b.WriteString("\n")

		if n.IsDir() {
			r.writeTree(b, n.Children, next, showStatus)
		}
	}
}

// Code writes code highlighted with the named chroma lexer. When the lexer is
// unknown the content is analysed, then printed as plain text.
func (r *Renderer) Code(w io.Writer, code, lexer string) error {
	if r.plain {
		_, err := io.WriteString(w, code)
		return err
	}

	l := lexers.Get(lexer)
	if l == nil {
		l = lexers.Analyse(code)
	}
	if l == nil {
		l = lexers.Fallback
	}
	l = chroma.Coalesce(l)

	style := styles.Get(r.theme)
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := l.Tokenise(nil, code)
	if err != nil {
		return fmt.Errorf("tokenise: %w", err)
	}
	return formatter.Format(w, style, iterator)
}
