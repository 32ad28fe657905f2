// Package api provides the HTTP server and handlers for migration runs.
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/auth"
	"github.com/lassestilvang/code-migration-autopilot/internal/events"
	"github.com/lassestilvang/code-migration-autopilot/internal/export"
	"github.com/lassestilvang/code-migration-autopilot/internal/languages"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
	"github.com/lassestilvang/code-migration-autopilot/internal/quota"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/internal/workflow"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

// maxBodySize bounds request bodies, pasted snippets included.
const maxBodySize = 2 << 20

// Server is the migration HTTP server.
type Server struct {
	manager     *workflow.Manager
	catalog     *languages.Catalog
	auth        *auth.Auth
	broadcaster *events.Broadcaster
	limiter     *quota.RateLimiter
}

// NewServer creates a new server.
func NewServer(manager *workflow.Manager, catalog *languages.Catalog, authHandler *auth.Auth, broadcaster *events.Broadcaster) *Server {
	if catalog == nil {
		catalog = languages.Default()
	}
	if authHandler == nil {
		authHandler = auth.New("")
	}
	return &Server{
		manager:     manager,
		catalog:     catalog,
		auth:        authHandler,
		broadcaster: broadcaster,
	}
}

// SetRateLimiter limits how often each client may start or restart runs.
func (s *Server) SetRateLimiter(rl *quota.RateLimiter) {
	s.limiter = rl
}

// limited wraps fn with the run rate limiter, if any.
func (s *Server) limited(fn http.HandlerFunc) http.Handler {
	return s.limiter.Middleware(fn)
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)

	// Protected endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/v1/languages", s.handleLanguages)
	protected.Handle("POST /api/v1/snippets", s.limited(s.handleStartSnippet))
	protected.Handle("POST /api/v1/repos", s.limited(s.handleStartRepo))

	protected.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	protected.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	protected.HandleFunc("POST /api/v1/runs/{id}/confirm", s.handleConfirm)
	protected.HandleFunc("POST /api/v1/runs/{id}/cancel", s.handleCancel)
	protected.Handle("POST /api/v1/runs/{id}/restart", s.limited(s.handleRestart))
	protected.HandleFunc("GET /api/v1/runs/{id}/logs", s.handleLogs)
	protected.HandleFunc("GET /api/v1/runs/{id}/tree", s.handleTree)
	protected.HandleFunc("GET /api/v1/runs/{id}/files/{path...}", s.handleFile)
	protected.HandleFunc("GET /api/v1/runs/{id}/events", s.handleEvents)
	protected.HandleFunc("POST /api/v1/runs/{id}/export", s.handleExport)

	protected.HandleFunc("GET /api/v1/admin/log-level", s.handleGetLogLevel)
	protected.HandleFunc("PUT /api/v1/admin/log-level", s.handleSetLogLevel)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok", Runs: s.manager.Len()})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.LanguagesResponse{Languages: s.catalog.Protocol()})
}

// ─── Runs ───────────────────────────────────────────────────────────────────

func (s *Server) handleStartSnippet(w http.ResponseWriter, r *http.Request) {
	var req protocol.SnippetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	run := s.manager.StartSnippet(req)
	logging.Info("snippet run started",
		logging.RunID(run.ID),
		zap.String("source_lang", req.SourceLang),
		zap.String("target_lang", req.TargetLang),
		zap.Int("chars", len(req.SourceCode)))
	sendJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) handleStartRepo(w http.ResponseWriter, r *http.Request) {
	var req protocol.RepoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	run, err := s.manager.StartRepo(req)
	if err != nil {
		sendFailure(w, err)
		return
	}
	logging.Info("repository run started", logging.RunID(run.ID), zap.String("url", req.URL))
	sendJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := run.Confirm(); err != nil {
		sendFailure(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Cancel(id); err != nil {
		sendFailure(w, err)
		return
	}
	run, _ := s.manager.Get(id)
	<-run.Done()
	sendJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	run, err := s.manager.Restart(r.PathValue("id"))
	if err != nil {
		sendFailure(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, protocol.LogsResponse{Logs: run.Logs()})
}

// ─── Trees ──────────────────────────────────────────────────────────────────

func (s *Server) forest(w http.ResponseWriter, r *http.Request) (*tree.Forest, string, bool) {
	run, ok := s.lookup(w, r)
	if !ok {
		return nil, "", false
	}
	side := r.URL.Query().Get("side")
	if side == "" {
		side = workflow.SideTarget
	}
	if side != workflow.SideSource && side != workflow.SideTarget {
		sendError(w, http.StatusBadRequest, "side must be source or target")
		return nil, "", false
	}
	f := run.Tree(side)
	if f == nil {
		sendError(w, http.StatusNotFound, side+" tree not available")
		return nil, "", false
	}
	return f, side, true
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	f, side, ok := s.forest(w, r)
	if !ok {
		return
	}
	resp := protocol.TreeResponse{Side: side, Roots: f.Nodes()}

	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		defer gw.Close()
		json.NewEncoder(gw).Encode(resp)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	f, side, ok := s.forest(w, r)
	if !ok {
		return
	}
	path := r.PathValue("path")
	node, found := f.Get(path)
	if !found {
		sendError(w, http.StatusNotFound, "path not found: "+path)
		return
	}

	if r.URL.Query().Get("raw") != "" {
		if node.Content == nil {
			sendError(w, http.StatusNotFound, "no content: "+path)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(*node.Content))
		return
	}
	sendJSON(w, http.StatusOK, protocol.FileResponse{Side: side, Node: node})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.broadcaster.Subscribe(run.ID)
	defer s.broadcaster.Unsubscribe(ch)
	done := run.Done()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// current state first, so late subscribers do not miss a final run
	status := run.Status()
	writeEvent(w, events.Event{Type: events.EventStatus, RunID: run.ID, Status: string(status)})
	if status.Final() {
		writeEvent(w, events.Event{Type: events.EventDone, RunID: run.ID, Status: string(status)})
		flusher.Flush()
		return
	}
	if run.AwaitingConfirm() {
		writeEvent(w, events.Event{Type: events.EventConfirm, RunID: run.ID, Status: string(status)})
	}
	flusher.Flush()

	streamEvents(r.Context(), w, flusher, ch, done, func() events.Event {
		return events.Event{Type: events.EventDone, RunID: run.ID, Status: string(run.Status())}
	})
}

// streamEvents copies events to w until a done event, or until done is
// closed. The broadcaster drops events for slow readers, so once done is
// closed the buffered events are flushed and a done event from final is
// written if none was buffered.
func streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ch <-chan events.Event, done <-chan struct{}, final func() events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, event)
			flusher.Flush()
			if event.Type == events.EventDone {
				return
			}
		case <-done:
			for {
				select {
				case event, ok := <-ch:
					if ok {
						writeEvent(w, event)
						if event.Type != events.EventDone {
							continue
						}
					}
				default:
					writeEvent(w, final())
				}
				flusher.Flush()
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event events.Event) {
	data, err := events.MarshalEvent(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}

// ─── Export ─────────────────────────────────────────────────────────────────

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req protocol.ExportRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	res, err := s.manager.Export(r.Context(), id, req.Prefix, export.Options{Overwrite: req.Overwrite})
	if err != nil {
		sendFailure(w, err)
		return
	}
	sendJSON(w, http.StatusOK, protocol.ExportResponse{
		Backend: s.manager.ExportBackend(),
		Prefix:  res.Prefix,
		Files:   len(res.Keys),
		Bytes:   res.Bytes,
	})
}

// ─── Admin ──────────────────────────────────────────────────────────────────

func (s *Server) handleGetLogLevel(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.LogLevel{Level: logging.Level()})
}

func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	if !s.auth.IsAdmin(r.Context()) {
		sendError(w, http.StatusForbidden, "admin access required")
		return
	}
	var req protocol.LogLevel
	if !decodeBody(w, r, &req) {
		return
	}
	if err := logging.SetLevel(req.Level); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.Info("log level changed", zap.String("level", logging.Level()))
	sendJSON(w, http.StatusOK, protocol.LogLevel{Level: logging.Level()})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*workflow.Run, bool) {
	run, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		sendFailure(w, err)
		return nil, false
	}
	return run, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrInvalidURL), errors.Is(err, tree.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotAwaitingConfirm),
		errors.Is(err, workflow.ErrRunActive),
		errors.Is(err, workflow.ErrNoProject),
		errors.Is(err, export.ErrExists),
		errors.Is(err, export.ErrNothingToExport):
		return http.StatusConflict
	case errors.Is(err, export.ErrDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func sendFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.Error("request failed", zap.Error(err))
	}
	sendError(w, code, err.Error())
}

func sendError(w http.ResponseWriter, code int, message string) {
	sendJSON(w, code, protocol.ErrorResponse{Error: message, Code: code})
}

func sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}
