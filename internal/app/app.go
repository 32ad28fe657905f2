// Package app assembles the migration service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/api"
	"github.com/lassestilvang/code-migration-autopilot/internal/auth"
	"github.com/lassestilvang/code-migration-autopilot/internal/config"
	"github.com/lassestilvang/code-migration-autopilot/internal/events"
	"github.com/lassestilvang/code-migration-autopilot/internal/export"
	"github.com/lassestilvang/code-migration-autopilot/internal/languages"
	"github.com/lassestilvang/code-migration-autopilot/internal/llm"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/quota"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/internal/source/cache"
	"github.com/lassestilvang/code-migration-autopilot/internal/source/gitclone"
	"github.com/lassestilvang/code-migration-autopilot/internal/source/github"
	"github.com/lassestilvang/code-migration-autopilot/internal/workflow"
)

// App holds the wired components.
type App struct {
	Catalog     *languages.Catalog
	Broadcaster *events.Broadcaster
	Manager     *workflow.Manager
	Limiter     *quota.RateLimiter
	Server      *api.Server
	Source      source.Source
}

// New builds the service. gen may be nil, in which case a Gemini client is
// created from cfg.
func New(ctx context.Context, cfg *config.Config, gen llm.Generator) (*App, error) {
	if gen == nil {
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("model client: %w", err)
		}
		logging.Info("model client initialized", zap.String("model", g.Model()))
		gen = g
	}

	tok, err := llm.NewTiktoken(cfg.TokenizerModel)
	if err != nil {
		logging.Warn("tokenizer unavailable, context is capped by characters only", zap.Error(err))
		tok = nil
	}
	agent := llm.NewAgent(gen, llm.NewBudget(tok, cfg.ContextTokenBudget))
	agent.SetThinkingCap(int32(cfg.ThinkingBudget))

	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	src := NewSource(cfg)
	logging.Info("repository source initialized", zap.String("backend", src.Name()))

	exporter, err := export.NewBackend(ctx, cfg)
	switch {
	case errors.Is(err, export.ErrDisabled):
		logging.Info("export disabled")
		exporter = nil
	case err != nil:
		return nil, fmt.Errorf("export backend: %w", err)
	default:
		logging.Info("export backend initialized", zap.String("backend", cfg.ExportBackend))
	}

	broadcaster := events.NewBroadcaster()
	engine := workflow.NewEngine(agent, src, catalog, workflow.Options{
		AllowSample:      cfg.AllowSampleFallback,
		MaxContextFiles:  cfg.MaxContextFiles,
		MaxAnalysisPaths: cfg.MaxAnalysisPaths,
	})
	manager := workflow.NewManager(engine, broadcaster, exporter, cfg.MaxRuns)

	authHandler := auth.New(cfg.JWTSecret)
	limiter := quota.NewRateLimiter(cfg.RunRateLimit)
	srv := api.NewServer(manager, catalog, authHandler, broadcaster)
	srv.SetRateLimiter(limiter)

	return &App{
		Catalog:     catalog,
		Broadcaster: broadcaster,
		Manager:     manager,
		Limiter:     limiter,
		Server:      srv,
		Source:      src,
	}, nil
}

// LoadCatalog returns the built-in language catalog, or the one read from
// cfg.LanguagesFile when set.
func LoadCatalog(cfg *config.Config) (*languages.Catalog, error) {
	if cfg.LanguagesFile == "" {
		return languages.Default(), nil
	}
	return languages.LoadFile(cfg.LanguagesFile)
}

// NewSource returns the configured repository source, wrapped in a content
// cache unless the cache is disabled.
func NewSource(cfg *config.Config) source.Source {
	var src source.Source
	if cfg.SourceBackend == "git" {
		src = gitclone.New(gitclone.Config{Token: cfg.GitHubToken, Depth: 1})
	} else {
		src = github.NewSource(github.New(github.Config{
			BaseURL: cfg.GitHubAPIURL,
			Token:   cfg.GitHubToken,
		}))
	}
	if cfg.SourceCacheBytes > 0 {
		ttl := time.Duration(cfg.SourceCacheTTLSec) * time.Second
		src = cache.Wrap(src, cache.New(cfg.SourceCacheBytes, ttl))
	}
	return src
}
