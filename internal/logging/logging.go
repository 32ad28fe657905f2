// Package logging holds the process-wide zap logger and the HTTP request
// logging middleware.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxLogger struct{}

var (
	mu     sync.RWMutex
	global = zap.NewNop() // entries are dropped until Init
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config selects the level, encoding and destination of the logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // "console" for humans, anything else for JSON
	OutputPath string // stdout, stderr or a file; stderr when empty
}

// Init builds a logger from cfg and makes it the global one.
func Init(cfg Config) error {
	logger, err := New(cfg)
	if err != nil {
		return err
	}
	Replace(logger)
	return nil
}

// New builds a logger from cfg. Its level is the shared one changed by
// SetLevel; an unknown level falls back to info.
func New(cfg Config) (*zap.Logger, error) {
	if err := SetLevel(cfg.Level); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}
	return zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Replace swaps the global logger and returns a func restoring the previous
// one.
func Replace(logger *zap.Logger) func() {
	mu.Lock()
	prev := global
	global = logger
	mu.Unlock()
	return func() { Replace(prev) }
}

// L returns the global logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes buffered entries of the global logger.
func Sync() error {
	return L().Sync()
}

// Level returns the current level of loggers built by New.
func Level() string {
	return level.Level().String()
}

// SetLevel changes the level of loggers built by New at runtime.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	level.SetLevel(l)
	return nil
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// RunID tags entries with a migration run.
func RunID(id string) zap.Field {
	return zap.String("run_id", id)
}

// WithContext returns the request-scoped logger stored by Middleware, or the
// global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(ctxLogger{}).(*zap.Logger); ok {
		return logger
	}
	return L()
}

// statusRecorder keeps the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// Flush keeps event streams working through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Middleware tags each request with an ID, taken from X-Request-ID or
// generated, echoes it in the response and logs the outcome. Health checks
// are logged at debug level, server errors at warn.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		logger := L().With(zap.String("request_id", id))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxLogger{}, logger)))

		log := logger.Info
		switch {
		case rec.status >= http.StatusInternalServerError:
			log = logger.Warn
		case r.URL.Path == "/health":
			log = logger.Debug
		}
		log("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.bytes),
			zap.Duration("took", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}
