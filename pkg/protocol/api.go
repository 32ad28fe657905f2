// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// Language is one entry of the language catalog.
type Language struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Extensions []string `json:"extensions,omitempty"`
}

// LanguagesResponse is returned by GET /api/v1/languages.
type LanguagesResponse struct {
	Languages []Language `json:"languages"`
}

// SnippetRequest is the body for POST /api/v1/snippets.
type SnippetRequest struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	SourceCode string `json:"source_code"`
}

// RepoRequest is the body for POST /api/v1/repos. TargetLang defaults to the
// analysis recommendation when empty.
type RepoRequest struct {
	URL        string `json:"url"`
	TargetLang string `json:"target_lang,omitempty"`
	// AutoConfirm skips the pause after planning.
	AutoConfirm bool `json:"auto_confirm,omitempty"`
}

// Run modes.
const (
	ModeSnippet = "snippet"
	ModeRepo    = "repo"
)

// RunResponse is the snapshot returned by GET /api/v1/runs/{id} and by the
// endpoints that start a run.
type RunResponse struct {
	ID              string               `json:"id"`
	Mode            string               `json:"mode"`
	Status          models.AgentStatus   `json:"status"`
	AwaitingConfirm bool                 `json:"awaiting_confirm,omitempty"`
	Error           string               `json:"error,omitempty"`
	SourceLang      string               `json:"source_lang,omitempty"`
	TargetLang      string               `json:"target_lang,omitempty"`
	RepoURL         string               `json:"repo_url,omitempty"`
	UsedSample      bool                 `json:"used_sample,omitempty"`
	Analysis        *models.Analysis     `json:"analysis,omitempty"`
	RepoAnalysis    *models.RepoAnalysis `json:"repo_analysis,omitempty"`
	Verification    *models.Verification `json:"verification,omitempty"`
	TargetCode      string               `json:"target_code,omitempty"`
	FileCounts      map[string]int       `json:"file_counts,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// LogsResponse is returned by GET /api/v1/runs/{id}/logs.
type LogsResponse struct {
	Logs []models.LogEntry `json:"logs"`
}

// TreeResponse is returned by GET /api/v1/runs/{id}/tree.
type TreeResponse struct {
	Side  string             `json:"side"`
	Roots []*models.FileNode `json:"roots"`
}

// FileResponse is returned by GET /api/v1/runs/{id}/files/{path...}.
type FileResponse struct {
	Side string          `json:"side"`
	Node models.FileNode `json:"node"`
}

// ExportRequest is the body for POST /api/v1/runs/{id}/export.
type ExportRequest struct {
	Prefix    string `json:"prefix,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// LogLevel is the body of GET and PUT /api/v1/admin/log-level.
type LogLevel struct {
	Level string `json:"level"`
}

// ExportResponse describes a finished export.
type ExportResponse struct {
	Backend string `json:"backend"`
	Prefix  string `json:"prefix"`
	Files   int    `json:"files"`
	Bytes   int64  `json:"bytes"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Runs   int    `json:"runs"`
}
