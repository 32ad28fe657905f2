// Migration Server
//
// Features:
// - Snippet and repository migrations driven by a Gemini model
// - GitHub REST or git clone repository sources
// - SSE run progress
// - Project export to local disk or S3
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lassestilvang/code-migration-autopilot/internal/app"
	"github.com/lassestilvang/code-migration-autopilot/internal/config"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Migration Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		logging.Fatal("startup failed", zap.Error(err))
	}
	if cfg.JWTSecret == "" {
		logging.Warn("JWT_SECRET not set, API is unauthenticated")
	}
	if a.Limiter.Enabled() {
		logging.Info("run rate limit enabled", zap.Int("per_minute", cfg.RunRateLimit))
	}

	errorLog := zap.NewStdLog(logging.L().Named("http"))
	metricsServer := &http.Server{
		Addr:     cfg.MetricsAddr,
		Handler:  metrics.Handler(),
		ErrorLog: errorLog,
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          errorLog,
	}
	if cfg.TLSEnabled() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		var err error
		if cfg.TLSEnabled() {
			logging.Info("server listening (TLS)", zap.String("addr", cfg.ListenAddr))
			err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Periodic rate limiter cleanup
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := a.Limiter.Prune(10 * time.Minute); n > 0 {
					logging.Debug("pruned rate limit buckets", zap.Int("count", n))
				}
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := a.Manager.Shutdown(shutdownCtx); err != nil {
			logging.Warn("runs still active at shutdown", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
