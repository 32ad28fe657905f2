package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/events"
	"github.com/lassestilvang/code-migration-autopilot/internal/languages"
	"github.com/lassestilvang/code-migration-autopilot/internal/llm"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

// Snippet defaults when a request leaves the languages empty.
const (
	DefaultSourceLang = "jquery"
	DefaultTargetLang = "react"
)

// DefaultSnippet is the example source offered when no code is given.
const DefaultSnippet = `// Example: Legacy jQuery to React Migration
$(document).ready(function() {
  var count = 0;

  $('#counter-btn').click(function() {
    count++;
    $('#count-display').text('Count: ' + count);

    if (count > 10) {
      $('#message').fadeIn();
    }
  });

  $('#reset-btn').on('click', function() {
    count = 0;
    $('#count-display').text('Count: 0');
    $('#message').hide();
  });
});`

// NoReadme is sent to the model when a repository has no README.
const NoReadme = "No README found."

// ErrEmptySource fails snippet runs without source code.
var ErrEmptySource = errors.New("source code is empty")

// Options tunes the pipelines.
type Options struct {
	// AllowSample substitutes the built-in sample repository when the
	// listing cannot be fetched.
	AllowSample      bool
	MaxContextFiles  int
	MaxAnalysisPaths int
}

// Engine executes runs. It is safe for concurrent use; each run executes
// its steps sequentially.
type Engine struct {
	agent   *llm.Agent
	source  source.Source
	catalog *languages.Catalog
	opts    Options
}

// NewEngine creates an engine. catalog may be nil for the embedded catalog.
func NewEngine(agent *llm.Agent, src source.Source, catalog *languages.Catalog, opts Options) *Engine {
	if catalog == nil {
		catalog = languages.Default()
	}
	if opts.MaxContextFiles <= 0 {
		opts.MaxContextFiles = 15
	}
	if opts.MaxAnalysisPaths <= 0 {
		opts.MaxAnalysisPaths = 500
	}
	return &Engine{agent: agent, source: src, catalog: catalog, opts: opts}
}

// Execute runs r to completion or failure and returns the failure. The run
// must be idle. Cancelling ctx, or calling r.Cancel, fails the run.
func (e *Engine) Execute(ctx context.Context, r *Run) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.state.Status != models.AgentIdle {
		r.mu.Unlock()
		return fmt.Errorf("%w: run is %s", ErrIllegalTransition, r.state.Status)
	}
	r.cancel = cancel
	start := r.state
	done := r.done
	r.mu.Unlock()

	metrics.RecordRunStarted(r.Mode)
	logging.Info("run started", logging.RunID(r.ID), zap.String("mode", r.Mode))

	var steps []StepFunc
	switch r.Mode {
	case protocol.ModeRepo:
		j := &repoJob{e: e, r: r}
		defer j.close()
		steps = []StepFunc{
			e.timed(models.AgentAnalyzing, j.analyze),
			e.timed(models.AgentPlanning, j.plan),
			e.timed(models.AgentConverting, j.convert),
			e.timed(models.AgentVerifying, j.verify),
			r.complete,
		}
	default:
		j := &snippetJob{e: e, r: r}
		steps = []StepFunc{
			e.timed(models.AgentAnalyzing, j.analyze),
			e.timed(models.AgentPlanning, j.plan),
			e.timed(models.AgentConverting, j.convert),
			e.timed(models.AgentVerifying, j.verify),
			r.complete,
		}
	}

	final, err := Pipeline(ctx, start, steps...)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = ErrCancelled
		}
		r.fail(final, err)
	}

	r.mu.Lock()
	r.cancel = nil
	r.mu.Unlock()

	metrics.RecordRunFinished(r.Mode, err == nil)
	logging.Info("run finished", logging.RunID(r.ID), zap.String("status", string(r.Status())))
	r.publish(events.Event{Type: events.EventDone, Status: string(r.Status())})
	close(done)
	return err
}

func (e *Engine) timed(step models.AgentStatus, fn StepFunc) StepFunc {
	return func(ctx context.Context, s State) (State, error) {
		start := time.Now()
		next, err := fn(ctx, s)
		metrics.RecordStep(string(step), time.Since(start))
		return next, err
	}
}

func (r *Run) complete(_ context.Context, s State) (State, error) {
	s, err := r.enter(s, models.AgentCompleted)
	if err != nil {
		return s, err
	}
	r.log(models.LogSuccess, "Migration Complete. System Ready.")
	return s, nil
}

// fail records err and moves the run from s to the error state.
func (r *Run) fail(s State, err error) {
	r.update(func(r *Run) { r.err = err.Error() })
	r.logf(models.LogError, "Migration failed: %v", err)
	if s.Status == models.AgentIdle {
		// error is only reachable from a working stage
		s, _ = Transition(s, models.AgentAnalyzing)
	}
	if _, terr := r.enter(s, models.AgentError); terr != nil {
		logging.Error("cannot record run failure", logging.RunID(r.ID), zap.Error(terr))
	}
}

type snippetJob struct {
	e *Engine
	r *Run
}

func (j *snippetJob) langs() (string, string) {
	src, tgt, _ := j.r.Settings()
	return j.e.catalog.Label(src), j.e.catalog.Label(tgt)
}

func (j *snippetJob) analyze(ctx context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentAnalyzing)
	if err != nil {
		return s, err
	}
	j.r.log(models.LogInfo, "Initializing migration sequence...")

	j.r.mu.RLock()
	code := j.r.sourceCode
	j.r.mu.RUnlock()
	if strings.TrimSpace(code) == "" {
		j.r.log(models.LogError, "Source code is empty. Aborting.")
		return s, ErrEmptySource
	}

	src, tgt := j.langs()
	j.r.logf(models.LogInfo, "Analyzing %s source and dependencies...", src)
	analysis, err := j.e.agent.AnalyzeCode(ctx, code, src, tgt)
	if err != nil {
		return s, err
	}
	j.r.update(func(r *Run) { r.analysis = &analysis })
	j.r.logf(models.LogSuccess, "Analysis complete. Complexity identified: %s", analysis.Complexity)
	return s, nil
}

func (j *snippetJob) plan(_ context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentPlanning)
	if err != nil {
		return s, err
	}
	j.r.mu.RLock()
	a := j.r.analysis
	j.r.mu.RUnlock()
	if a != nil && len(a.Risks) > 0 {
		j.r.logf(models.LogWarning, "Migration risks: %s", strings.Join(a.Risks, "; "))
	}
	return s, nil
}

func (j *snippetJob) convert(ctx context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentConverting)
	if err != nil {
		return s, err
	}
	src, tgt := j.langs()
	j.r.logf(models.LogInfo, "Generating %s code based on analysis strategy...", tgt)

	j.r.mu.RLock()
	code, analysis := j.r.sourceCode, j.r.analysis
	j.r.mu.RUnlock()
	if analysis == nil {
		analysis = &models.Analysis{}
	}

	converted, err := j.e.agent.ConvertCode(ctx, code, src, tgt, *analysis)
	if err != nil {
		return s, err
	}
	j.r.update(func(r *Run) { r.targetCode = converted })
	j.r.log(models.LogSuccess, "Code generation complete. Initiating verification...")
	return s, nil
}

func (j *snippetJob) verify(ctx context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentVerifying)
	if err != nil {
		return s, err
	}
	j.r.log(models.LogInfo, "Running static review of the converted code...")

	src, tgt := j.langs()
	v, err := j.e.agent.VerifyCode(ctx, j.r.TargetCode(), src, tgt)
	if err != nil {
		return s, err
	}
	j.r.update(func(r *Run) { r.verification = &v })

	switch {
	case v.Passed:
		j.r.log(models.LogSuccess, "Verification passed. No critical issues found.")
	case v.FixedCode != "":
		j.r.logf(models.LogWarning, "Issues detected: %s", strings.Join(v.Issues, ", "))
		j.r.update(func(r *Run) { r.targetCode = v.FixedCode })
		j.r.log(models.LogSuccess, "Auto-fix applied successfully.")
	default:
		j.r.logf(models.LogWarning, "Issues detected: %s", strings.Join(v.Issues, ", "))
		j.r.log(models.LogError, "Could not auto-fix. Manual review required.")
	}
	return s, nil
}

type repoJob struct {
	e    *Engine
	r    *Run
	snap source.Snapshot
}

func (j *repoJob) close() {
	if j.snap == nil {
		return
	}
	if err := j.snap.Close(); err != nil {
		logging.Warn("close snapshot", logging.RunID(j.r.ID), zap.Error(err))
	}
}

func (j *repoJob) analyze(ctx context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentAnalyzing)
	if err != nil {
		return s, err
	}
	_, _, url := j.r.Settings()
	repo, err := source.ParseURL(url)
	if err != nil {
		return s, err
	}

	j.r.logf(models.LogInfo, "Cloning repository structure from %s...", url)
	snap, err := j.e.source.Open(ctx, repo)
	if err != nil {
		if !j.e.opts.AllowSample || ctx.Err() != nil {
			return s, fmt.Errorf("fetch repository: %w", err)
		}
		j.r.logf(models.LogWarning, "Repository unavailable (%v). Using the built-in sample repository.", err)
		if snap, err = (source.Sample{}).Open(ctx, repo); err != nil {
			return s, err
		}
		j.r.update(func(r *Run) { r.usedSample = true })
	}
	j.snap = snap

	forest := snap.Tree()
	j.r.update(func(r *Run) { r.sourceTree = forest })
	if snap.Info().Truncated {
		j.r.log(models.LogWarning, "Repository listing was truncated by the host; some files are missing.")
	}
	j.r.logf(models.LogSuccess, "File index built: %d nodes detected.", forest.Len())

	j.r.log(models.LogInfo, "Reading README and package configuration...")
	readme, err := snap.ReadFile(ctx, "README.md")
	if err != nil {
		logging.Debug("README unavailable", logging.RunID(j.r.ID), zap.Error(err))
		readme = NoReadme
	}

	paths := forest.Paths()
	if len(paths) > j.e.opts.MaxAnalysisPaths {
		paths = paths[:j.e.opts.MaxAnalysisPaths]
	}
	var hint []string
	for _, c := range j.e.catalog.Histogram(forest) {
		hint = append(hint, fmt.Sprintf("%s: %d", c.Label, c.Files))
	}

	j.r.log(models.LogInfo, "Running deep static analysis...")
	analysis, err := j.e.agent.AnalyzeRepository(ctx, paths, readme, strings.Join(hint, ", "))
	if err != nil {
		return s, err
	}
	j.r.update(func(r *Run) { r.repoAnalysis = &analysis })
	return s, nil
}

func (j *repoJob) plan(ctx context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentPlanning)
	if err != nil {
		return s, err
	}

	var detected, target string
	var auto bool
	j.r.update(func(r *Run) {
		r.sourceLang = r.repoAnalysis.DetectedFramework
		if r.targetLang == "" {
			r.targetLang = languages.DefaultTarget
		}
		detected, target, auto = r.sourceLang, r.targetLang, r.autoConfirm
	})
	j.r.logf(models.LogSuccess, "Detected: %s. Target locked: %s.", detected, target)

	if auto {
		return s, nil
	}

	j.r.update(func(r *Run) { r.awaiting = true })
	j.r.publish(events.Event{Type: events.EventConfirm, Status: string(s.Status)})
	j.r.log(models.LogInfo, "Migration plan ready. Waiting for confirmation...")
	select {
	case <-j.r.confirm:
		j.r.log(models.LogInfo, "Migration confirmed.")
		return s, nil
	case <-ctx.Done():
		j.r.update(func(r *Run) { r.awaiting = false })
		return s, ctx.Err()
	}
}

func (j *repoJob) convert(ctx context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentConverting)
	if err != nil {
		return s, err
	}

	j.r.log(models.LogInfo, "Ingesting key legacy source files for context...")
	var b strings.Builder
	for _, f := range languages.ContextFiles(j.snap.Tree(), j.e.opts.MaxContextFiles) {
		content, err := j.snap.ReadFile(ctx, f.Path)
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			logging.Warn("failed to read context file", logging.RunID(j.r.ID), zap.String("path", f.Path), zap.Error(err))
			continue
		}
		b.WriteString(llm.ContextBlock(f.Path, content))
		j.r.update(func(r *Run) {
			r.sourceTree = r.sourceTree.Update(f.Path, tree.SetContent(content))
		})
	}
	sourceContext := b.String()
	if n := j.e.agent.Budget().Count(sourceContext); n >= 0 {
		metrics.RecordContextTokens(n)
		j.r.logf(models.LogSuccess, "Context loaded: %d chars, %d tokens.", len(sourceContext), n)
	} else {
		j.r.logf(models.LogSuccess, "Context loaded: %d chars.", len(sourceContext))
	}

	j.r.mu.RLock()
	summary, target := j.r.repoAnalysis.Summary, j.r.targetLang
	j.r.mu.RUnlock()

	j.r.logf(models.LogInfo, "Designing %s project structure...", target)
	paths, err := j.e.agent.ScaffoldProject(ctx, summary, target)
	if err != nil {
		return s, err
	}
	forest, err := tree.FromPaths(paths)
	if err != nil {
		return s, fmt.Errorf("scaffold: %w", err)
	}
	files := forest.Files()
	j.r.update(func(r *Run) { r.targetTree = forest })
	j.r.logf(models.LogSuccess, "Project scaffolded: %d files created.", len(files))

	for _, f := range files {
		j.r.setFileStatus(f.Path, models.StatusInProgress, nil)
		j.r.logf(models.LogInfo, "Generating %s...", f.Path)

		content, err := j.e.agent.GenerateFile(ctx, f.Path, sourceContext, target)
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			j.r.setFileStatus(f.Path, models.StatusError, nil)
			metrics.RecordFileGenerated(string(models.StatusError))
			j.r.logf(models.LogError, "Failed to generate %s", f.Path)
			logging.Warn("file generation failed", logging.RunID(j.r.ID), zap.String("path", f.Path), zap.Error(err))
			continue
		}
		j.r.setFileStatus(f.Path, models.StatusDone, &content)
		metrics.RecordFileGenerated(string(models.StatusDone))
	}
	return s, nil
}

func (j *repoJob) verify(_ context.Context, s State) (State, error) {
	s, err := j.r.enter(s, models.AgentVerifying)
	if err != nil {
		return s, err
	}
	counts := j.r.Tree(SideTarget).CountByStatus()
	total := counts[models.StatusDone] + counts[models.StatusError]
	if n := counts[models.StatusError]; n > 0 {
		j.r.logf(models.LogWarning, "%d of %d files failed to generate.", n, total)
	} else {
		j.r.logf(models.LogSuccess, "All %d files generated.", total)
	}
	return s, nil
}
