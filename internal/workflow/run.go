package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/events"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

var (
	// ErrNotAwaitingConfirm is returned by Confirm when the run is not
	// paused after planning.
	ErrNotAwaitingConfirm = errors.New("run is not awaiting confirmation")

	// ErrCancelled is the failure recorded for a run stopped by its caller.
	ErrCancelled = errors.New("migration cancelled")
)

// Sides of a run's file trees.
const (
	SideSource = "source"
	SideTarget = "target"
)

// Run is one migration. Its fields are guarded by mu; readers get copies.
type Run struct {
	ID   string
	Mode string

	mu           sync.RWMutex
	state        State
	err          string
	sourceLang   string
	targetLang   string
	repoURL      string
	autoConfirm  bool
	usedSample   bool
	sourceCode   string
	targetCode   string
	analysis     *models.Analysis
	repoAnalysis *models.RepoAnalysis
	verification *models.Verification
	sourceTree   *tree.Forest
	targetTree   *tree.Forest
	logs         []models.LogEntry
	awaiting     bool
	confirm      chan struct{}
	cancel       context.CancelFunc
	done         chan struct{}
	createdAt    time.Time
	updatedAt    time.Time

	events *events.Broadcaster
}

func newRun(mode string, b *events.Broadcaster) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		state:     State{Status: models.AgentIdle, Since: now},
		confirm:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		createdAt: now,
		updatedAt: now,
		events:    b,
	}
}

// NewSnippetRun creates an idle snippet run.
func NewSnippetRun(req protocol.SnippetRequest, b *events.Broadcaster) *Run {
	r := newRun(protocol.ModeSnippet, b)
	r.sourceLang = req.SourceLang
	r.targetLang = req.TargetLang
	r.sourceCode = req.SourceCode
	if r.sourceLang == "" {
		r.sourceLang = DefaultSourceLang
	}
	if r.targetLang == "" {
		r.targetLang = DefaultTargetLang
	}
	return r
}

// NewRepoRun creates an idle repository run.
func NewRepoRun(req protocol.RepoRequest, b *events.Broadcaster) *Run {
	r := newRun(protocol.ModeRepo, b)
	r.repoURL = req.URL
	r.targetLang = req.TargetLang
	r.autoConfirm = req.AutoConfirm
	return r
}

// Status returns the current workflow status.
func (r *Run) Status() models.AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Status
}

// Done is closed when the run's pipeline returns.
func (r *Run) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

// Err returns the failure message of a run in the error state.
func (r *Run) Err() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// AwaitingConfirm reports whether the run is paused after planning.
func (r *Run) AwaitingConfirm() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.awaiting
}

// Confirm lets a paused repository run continue with conversion.
func (r *Run) Confirm() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.awaiting {
		return ErrNotAwaitingConfirm
	}
	r.awaiting = false
	select {
	case r.confirm <- struct{}{}:
	default:
	}
	return nil
}

// Cancel stops the run. A finished run is left alone.
func (r *Run) Cancel() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of the run's public state.
func (r *Run) Snapshot() protocol.RunResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp := protocol.RunResponse{
		ID:              r.ID,
		Mode:            r.Mode,
		Status:          r.state.Status,
		AwaitingConfirm: r.awaiting,
		Error:           r.err,
		SourceLang:      r.sourceLang,
		TargetLang:      r.targetLang,
		RepoURL:         r.repoURL,
		UsedSample:      r.usedSample,
		TargetCode:      r.targetCode,
		CreatedAt:       r.createdAt,
		UpdatedAt:       r.updatedAt,
	}
	if r.analysis != nil {
		a := *r.analysis
		resp.Analysis = &a
	}
	if r.repoAnalysis != nil {
		a := *r.repoAnalysis
		resp.RepoAnalysis = &a
	}
	if r.verification != nil {
		v := *r.verification
		resp.Verification = &v
	}
	if r.targetTree != nil {
		resp.FileCounts = make(map[string]int)
		for s, n := range r.targetTree.CountByStatus() {
			resp.FileCounts[string(s)] = n
		}
	}
	return resp
}

// Logs returns a copy of the run's log.
func (r *Run) Logs() []models.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.LogEntry{}, r.logs...)
}

// Tree returns the source or target forest, or nil when it does not exist
// yet.
func (r *Run) Tree(side string) *tree.Forest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch side {
	case SideSource:
		return r.sourceTree
	case SideTarget:
		return r.targetTree
	}
	return nil
}

// TargetCode returns the converted snippet.
func (r *Run) TargetCode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.targetCode
}

// Settings returns the languages and repository URL of the run.
func (r *Run) Settings() (sourceLang, targetLang, repoURL string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sourceLang, r.targetLang, r.repoURL
}

// reset returns a finished run to idle and clears its results so it can
// execute again. Inputs and logs are kept. The previous Execute must have
// returned.
func (r *Run) reset() error {
	r.mu.Lock()
	select {
	case <-r.done:
	default:
		r.mu.Unlock()
		return ErrRunActive
	}
	ns, err := Transition(r.state, models.AgentIdle)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.state = ns
	r.err = ""
	r.usedSample = false
	r.analysis = nil
	r.repoAnalysis = nil
	r.verification = nil
	r.sourceTree = nil
	r.targetTree = nil
	r.awaiting = false
	if r.Mode == protocol.ModeSnippet {
		r.targetCode = ""
	}
	select {
	case <-r.confirm:
	default:
	}
	r.done = make(chan struct{})
	r.updatedAt = time.Now()
	r.mu.Unlock()

	r.publish(events.Event{Type: events.EventStatus, Status: string(ns.Status)})
	r.log(models.LogInfo, "Run reset.")
	return nil
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.updatedAt = time.Now()
	r.mu.Unlock()

	r.publish(events.Event{Type: events.EventStatus, Status: string(s.Status)})
}

// enter moves the run to next.
func (r *Run) enter(s State, next models.AgentStatus) (State, error) {
	ns, err := Transition(s, next)
	if err != nil {
		return s, err
	}
	r.setState(ns)
	return ns, nil
}

func (r *Run) update(fn func(r *Run)) {
	r.mu.Lock()
	fn(r)
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

// setFileStatus applies a status patch to the target forest.
func (r *Run) setFileStatus(path string, status models.Status, content *string) {
	p := tree.SetStatus(status)
	p.Content = content
	r.update(func(r *Run) {
		r.targetTree = r.targetTree.Update(path, p)
	})
	r.publish(events.Event{Type: events.EventFile, Path: path, Status: string(status)})
}

func (r *Run) log(level models.LogLevel, msg string) {
	r.mu.Lock()
	entry := models.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Step:      r.state.Status,
		Message:   msg,
		Level:     level,
	}
	r.logs = append(r.logs, entry)
	r.mu.Unlock()

	fields := []zap.Field{logging.RunID(r.ID), zap.String("step", string(entry.Step))}
	switch level {
	case models.LogError:
		logging.Error(msg, fields...)
	case models.LogWarning:
		logging.Warn(msg, fields...)
	default:
		logging.Info(msg, fields...)
	}
	r.publish(events.Event{Type: events.EventLog, Message: msg, Level: string(level), Status: string(entry.Step)})
}

func (r *Run) logf(level models.LogLevel, format string, args ...interface{}) {
	r.log(level, fmt.Sprintf(format, args...))
}

func (r *Run) publish(e events.Event) {
	if r.events == nil {
		return
	}
	e.RunID = r.ID
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	r.events.Publish(e)
}
