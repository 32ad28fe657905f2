package workflow

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/events"
	"github.com/lassestilvang/code-migration-autopilot/internal/export"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
)

var (
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunActive is returned when an operation needs a finished run.
	ErrRunActive = errors.New("run is still active")

	// ErrNoProject is returned when exporting a run without a generated
	// project.
	ErrNoProject = errors.New("run has no generated project")
)

// Manager starts runs in the background and keeps them in memory. The
// oldest finished runs are evicted once more than maxRuns are held.
type Manager struct {
	engine   *Engine
	events   *events.Broadcaster
	exporter export.Backend
	maxRuns  int

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager. exporter may be nil to disable exports.
func NewManager(engine *Engine, b *events.Broadcaster, exporter export.Backend, maxRuns int) *Manager {
	if maxRuns <= 0 {
		maxRuns = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine:   engine,
		events:   b,
		exporter: exporter,
		maxRuns:  maxRuns,
		runs:     make(map[string]*Run),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartSnippet creates a snippet run and executes it in the background.
func (m *Manager) StartSnippet(req protocol.SnippetRequest) *Run {
	r := NewSnippetRun(req, m.events)
	m.add(r)
	m.launch(r)
	return r
}

// StartRepo validates the repository URL, creates a repository run and
// executes it in the background.
func (m *Manager) StartRepo(req protocol.RepoRequest) (*Run, error) {
	if _, err := source.ParseURL(req.URL); err != nil {
		return nil, err
	}
	r := NewRepoRun(req, m.events)
	m.add(r)
	m.launch(r)
	return r, nil
}

func (m *Manager) launch(r *Run) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.engine.Execute(m.ctx, r); err != nil {
			logging.Debug("run ended with error", logging.RunID(r.ID), zap.Error(err))
		}
	}()
}

func (m *Manager) add(r *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	m.order = append(m.order, r.ID)

	for i := 0; len(m.runs) > m.maxRuns && i < len(m.order); {
		old := m.runs[m.order[i]]
		if old == r || !old.Status().Final() {
			i++
			continue
		}
		delete(m.runs, old.ID)
		m.order = append(m.order[:i], m.order[i+1:]...)
		logging.Debug("run evicted", logging.RunID(old.ID))
	}
}

// Get returns the run with the given ID.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

// List returns snapshots of all runs, oldest first.
func (m *Manager) List() []protocol.RunResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.RunResponse, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.runs[id].Snapshot())
	}
	return out
}

// Len returns the number of runs held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

// Confirm resumes a repository run paused after planning.
func (m *Manager) Confirm(id string) error {
	r, err := m.Get(id)
	if err != nil {
		return err
	}
	return r.Confirm()
}

// Cancel stops a run.
func (m *Manager) Cancel(id string) error {
	r, err := m.Get(id)
	if err != nil {
		return err
	}
	if r.Status().Final() {
		return nil
	}
	r.Cancel()
	return nil
}

// Restart resets a finished run and executes it again.
func (m *Manager) Restart(id string) (*Run, error) {
	r, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	done := r.Done()
	if !r.Status().Final() {
		return nil, ErrRunActive
	}
	// the status turns final before Execute has published its last event
	<-done
	if err := r.reset(); err != nil {
		return nil, err
	}
	m.launch(r)
	return r, nil
}

// ExportEnabled reports whether a storage backend is configured.
func (m *Manager) ExportEnabled() bool {
	return m.exporter != nil
}

// ExportBackend returns the backend type, or "none".
func (m *Manager) ExportBackend() string {
	if m.exporter == nil {
		return "none"
	}
	return m.exporter.Type()
}

// Export writes the generated project of a completed run under prefix,
// which defaults to the run ID.
func (m *Manager) Export(ctx context.Context, id, prefix string, opts export.Options) (*export.Result, error) {
	if m.exporter == nil {
		return nil, export.ErrDisabled
	}
	r, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Status() != models.AgentCompleted {
		return nil, ErrRunActive
	}
	forest := r.Tree(SideTarget)
	if forest == nil {
		return nil, ErrNoProject
	}
	if prefix == "" {
		prefix = r.ID
	}
	res, err := export.Export(ctx, m.exporter, prefix, forest, opts)
	if err != nil {
		return nil, err
	}
	r.logf(models.LogSuccess, "Exported %d files to %s:%s.", len(res.Keys), m.exporter.Type(), res.Prefix)
	return res, nil
}

// Shutdown cancels all active runs and waits for them to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
