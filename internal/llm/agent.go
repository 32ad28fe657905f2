package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/languages"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
)

// Operation names used for metrics and logs.
const (
	OpAnalyze     = "analyze"
	OpConvert     = "convert"
	OpVerify      = "verify"
	OpAnalyzeRepo = "analyze_repo"
	OpScaffold    = "scaffold"
	OpGenerate    = "generate"
)

// Fallback results used when a reply cannot be parsed.
var (
	FallbackScaffold = []string{"package.json", "app/page.tsx", "app/layout.tsx", "README.md"}
)

func fallbackAnalysis() models.Analysis {
	return models.Analysis{
		Summary:      "Failed to generate analysis.",
		Complexity:   models.ComplexityMedium,
		Dependencies: []string{},
		Patterns:     []string{},
		Risks:        []string{"JSON Parsing Failed"},
	}
}

func fallbackRepoAnalysis() models.RepoAnalysis {
	return models.RepoAnalysis{
		Analysis: models.Analysis{
			Summary:      "Could not analyze repository structure automatically.",
			Complexity:   models.ComplexityHigh,
			Dependencies: []string{},
			Patterns:     []string{},
			Risks:        []string{},
		},
		DetectedFramework:       "Unknown",
		RecommendedTarget:       languages.DefaultTarget,
		ArchitectureDescription: "A generic software architecture diagram.",
	}
}

func fallbackVerification() models.Verification {
	return models.Verification{Passed: true, Issues: []string{"Verification parsing failed"}}
}

// Agent turns migration steps into model requests.
//
// Transport errors from the Generator are returned to the caller. Replies
// that arrive but cannot be parsed degrade to fixed fallback values.
type Agent struct {
	gen         Generator
	budget      *Budget
	thinkingCap int32
}

// NewAgent creates an agent. budget may be nil.
func NewAgent(gen Generator, budget *Budget) *Agent {
	return &Agent{gen: gen, budget: budget}
}

// SetThinkingCap limits the thinking budget of every request. Zero removes
// the limit.
func (a *Agent) SetThinkingCap(n int32) {
	a.thinkingCap = n
}

// Budget returns the agent's context budget.
func (a *Agent) Budget() *Budget {
	return a.budget
}

func (a *Agent) call(ctx context.Context, op, prompt string, jsonReply bool, thinking int32) (string, error) {
	if a.thinkingCap > 0 && thinking > a.thinkingCap {
		thinking = a.thinkingCap
	}
	start := time.Now()
	text, err := a.gen.Generate(ctx, Request{Prompt: prompt, JSON: jsonReply, ThinkingBudget: thinking})
	metrics.RecordModelCall(op, time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	logging.Debug("model reply received",
		zap.String("operation", op),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

type snippetPrompt struct {
	SourceLang   string
	TargetLang   string
	SourceCode   string
	AnalysisJSON string
	TargetCode   string
}

// AnalyzeCode asks the model to analyze a snippet before conversion.
func (a *Agent) AnalyzeCode(ctx context.Context, sourceCode, sourceLang, targetLang string) (models.Analysis, error) {
	prompt, err := render("analysis", snippetPrompt{SourceLang: sourceLang, TargetLang: targetLang, SourceCode: sourceCode})
	if err != nil {
		return models.Analysis{}, err
	}
	text, err := a.call(ctx, OpAnalyze, prompt, true, BudgetLight)
	if err != nil {
		return models.Analysis{}, err
	}

	var out models.Analysis
	if err := decodeJSON(text, &out); err != nil {
		logging.Warn("failed to parse analysis JSON", zap.Error(err))
		return fallbackAnalysis(), nil
	}
	normalizeAnalysis(&out)
	return out, nil
}

// ConvertCode asks the model to rewrite a snippet in the target language.
func (a *Agent) ConvertCode(ctx context.Context, sourceCode, sourceLang, targetLang string, analysis models.Analysis) (string, error) {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}
	prompt, err := render("conversion", snippetPrompt{
		SourceLang:   sourceLang,
		TargetLang:   targetLang,
		SourceCode:   sourceCode,
		AnalysisJSON: string(analysisJSON),
	})
	if err != nil {
		return "", err
	}
	text, err := a.call(ctx, OpConvert, prompt, false, BudgetHeavy)
	if err != nil {
		return "", err
	}
	return StripFences(text), nil
}

type verificationReply struct {
	Passed    *bool    `json:"passed"`
	Issues    []string `json:"issues"`
	FixedCode string   `json:"fixedCode"`
}

// VerifyCode asks the model to review converted code. A failed review may
// carry a corrected version in FixedCode.
func (a *Agent) VerifyCode(ctx context.Context, targetCode, sourceLang, targetLang string) (models.Verification, error) {
	prompt, err := render("verification", snippetPrompt{SourceLang: sourceLang, TargetLang: targetLang, TargetCode: targetCode})
	if err != nil {
		return models.Verification{}, err
	}
	text, err := a.call(ctx, OpVerify, prompt, true, BudgetLight)
	if err != nil {
		return models.Verification{}, err
	}

	var reply verificationReply
	if err := decodeJSON(text, &reply); err != nil || reply.Passed == nil {
		logging.Warn("failed to parse verification JSON", zap.Error(err))
		return fallbackVerification(), nil
	}
	out := models.Verification{
		Passed: *reply.Passed,
		Issues: reply.Issues,
	}
	if out.Issues == nil {
		out.Issues = []string{}
	}
	if !out.Passed {
		out.FixedCode = StripFences(reply.FixedCode)
	}
	return out, nil
}

type repoPrompt struct {
	FileList     string
	Readme       string
	LanguageHint string
}

// AnalyzeRepository asks the model to classify a repository from its file
// paths and README. hint may summarize file counts per language.
func (a *Agent) AnalyzeRepository(ctx context.Context, paths []string, readme, hint string) (models.RepoAnalysis, error) {
	if paths == nil {
		paths = []string{}
	}
	fileList, err := json.Marshal(paths)
	if err != nil {
		return models.RepoAnalysis{}, fmt.Errorf("encode file list: %w", err)
	}
	prompt, err := render("repo", repoPrompt{FileList: string(fileList), Readme: readme, LanguageHint: hint})
	if err != nil {
		return models.RepoAnalysis{}, err
	}
	text, err := a.call(ctx, OpAnalyzeRepo, prompt, true, BudgetHeavy)
	if err != nil {
		return models.RepoAnalysis{}, err
	}

	var out models.RepoAnalysis
	if err := decodeJSON(text, &out); err != nil {
		logging.Warn("failed to parse repo analysis JSON", zap.Error(err))
		return fallbackRepoAnalysis(), nil
	}
	normalizeAnalysis(&out.Analysis)
	if out.DetectedFramework == "" {
		out.DetectedFramework = "Unknown"
	}
	if out.RecommendedTarget == "" {
		out.RecommendedTarget = languages.DefaultTarget
	}
	return out, nil
}

type scaffoldPrompt struct {
	Summary    string
	TargetLang string
}

// ScaffoldProject asks the model for the file list of the target project.
// Blank entries and surrounding slashes are dropped from the reply.
func (a *Agent) ScaffoldProject(ctx context.Context, summary, targetLang string) ([]string, error) {
	if targetLang == "" {
		targetLang = languages.DefaultTarget
	}
	prompt, err := render("scaffold", scaffoldPrompt{Summary: summary, TargetLang: targetLang})
	if err != nil {
		return nil, err
	}
	text, err := a.call(ctx, OpScaffold, prompt, true, BudgetLight)
	if err != nil {
		return nil, err
	}

	var paths []string
	if err := decodeJSON(text, &paths); err != nil {
		logging.Warn("failed to parse scaffold JSON", zap.Error(err))
		return append([]string(nil), FallbackScaffold...), nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), FallbackScaffold...), nil
	}
	return out, nil
}

type generatePrompt struct {
	Path       string
	Context    string
	TargetLang string
}

// GenerateFile asks the model for the contents of one target file, using
// sourceContext as reference. The context is cut to the agent's budget.
func (a *Agent) GenerateFile(ctx context.Context, path, sourceContext, targetLang string) (string, error) {
	if targetLang == "" {
		targetLang = languages.DefaultTarget
	}
	safe, truncated := a.budget.Truncate(sourceContext)
	if truncated {
		logging.Debug("source context truncated", zap.String("path", path))
	}
	prompt, err := render("generate", generatePrompt{Path: path, Context: safe, TargetLang: targetLang})
	if err != nil {
		return "", err
	}
	text, err := a.call(ctx, OpGenerate, prompt, false, BudgetHeavy)
	if err != nil {
		return "", err
	}
	return StripFences(text), nil
}

func normalizeAnalysis(a *models.Analysis) {
	switch a.Complexity {
	case models.ComplexityLow, models.ComplexityMedium, models.ComplexityHigh:
	default:
		a.Complexity = models.ComplexityMedium
	}
	if a.Dependencies == nil {
		a.Dependencies = []string{}
	}
	if a.Patterns == nil {
		a.Patterns = []string{}
	}
	if a.Risks == nil {
		a.Risks = []string{}
	}
}
