package models

import "time"

// Complexity is the model's estimate of migration effort.
type Complexity string

const (
	ComplexityLow    Complexity = "Low"
	ComplexityMedium Complexity = "Medium"
	ComplexityHigh   Complexity = "High"
)

// Analysis describes a source snippet before conversion.
type Analysis struct {
	Summary      string     `json:"summary"`
	Complexity   Complexity `json:"complexity"`
	Dependencies []string   `json:"dependencies"`
	Patterns     []string   `json:"patterns"`
	Risks        []string   `json:"risks"`
}

// RepoAnalysis describes a whole repository.
type RepoAnalysis struct {
	Analysis
	DetectedFramework       string `json:"detectedFramework"`
	RecommendedTarget       string `json:"recommendedTarget"`
	ArchitectureDescription string `json:"architectureDescription"`
}

// Verification is the outcome of reviewing converted code. FixedCode is only
// set when the review failed and the reviewer supplied a correction.
type Verification struct {
	Passed    bool     `json:"passed"`
	Issues    []string `json:"issues"`
	FixedCode string   `json:"fixedCode,omitempty"`
}

// AgentStatus is a workflow state.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentAnalyzing  AgentStatus = "analyzing"
	AgentPlanning   AgentStatus = "planning"
	AgentConverting AgentStatus = "converting"
	AgentVerifying  AgentStatus = "verifying"
	AgentCompleted  AgentStatus = "completed"
	AgentError      AgentStatus = "error"
)

// Final reports whether no further step runs from s without a reset.
func (s AgentStatus) Final() bool {
	return s == AgentCompleted || s == AgentError
}

// LogLevel classifies a log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one line of a run's user-facing log.
type LogEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Step      AgentStatus `json:"step"`
	Message   string      `json:"message"`
	Level     LogLevel    `json:"type"`
}
