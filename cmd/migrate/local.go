package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/app"
	"github.com/lassestilvang/code-migration-autopilot/internal/config"
	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/pkg/client"
)

// localConfig maps the CLI settings onto the server configuration.
func localConfig() *config.Config {
	return &config.Config{
		LogLevel:            viper.GetString("log_level"),
		LogFormat:           "console",
		GeminiAPIKey:        viper.GetString("gemini_api_key"),
		GeminiModel:         viper.GetString("model"),
		ThinkingBudget:      viper.GetInt("thinking_budget"),
		SourceBackend:       viper.GetString("source"),
		GitHubAPIURL:        viper.GetString("github_api_url"),
		GitHubToken:         viper.GetString("github_token"),
		AllowSampleFallback: viper.GetBool("allow_sample"),
		ContextTokenBudget:  viper.GetInt("context_token_budget"),
		TokenizerModel:      viper.GetString("tokenizer_model"),
		MaxContextFiles:     viper.GetInt("max_context_files"),
		MaxAnalysisPaths:    viper.GetInt("max_analysis_paths"),
		LanguagesFile:       viper.GetString("languages_file"),
		ExportBackend:       "local",
		ExportLocalPath:     viper.GetString("export_dir"),
		SourceCacheBytes:    viper.GetInt64("source_cache_bytes"),
		SourceCacheTTLSec:   viper.GetInt("source_cache_ttl_seconds"),
		MaxRuns:             10,
	}
}

// connect returns a client for the configured server, or starts the API on
// a loopback listener and returns a client for it. The returned func stops
// whatever was started.
func connect(ctx context.Context) (*client.Client, func(), error) {
	if url := viper.GetString("server"); url != "" {
		return client.New(client.Config{
			BaseURL:   url,
			AuthToken: viper.GetString("token"),
			Timeout:   2 * time.Minute,
		}), func() {}, nil
	}

	cfg := localConfig()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stderr"}); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	if cfg.GeminiAPIKey == "" {
		return nil, nil, errors.New("a Gemini API key is required: set GEMINI_API_KEY or use --server")
	}

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("listen: %w", err)
	}
	httpServer := &http.Server{
		Handler:  a.Server.Handler(),
		ErrorLog: zap.NewStdLog(logging.L().Named("http")),
	}
	go httpServer.Serve(ln)

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Manager.Shutdown(shutdownCtx)
		httpServer.Close()
		logging.Sync()
	}
	return client.New(client.Config{BaseURL: "http://" + ln.Addr().String(), Timeout: 2 * time.Minute}), stop, nil
}
