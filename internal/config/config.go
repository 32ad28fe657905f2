// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all migration server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Model
	GeminiAPIKey   string
	GeminiModel    string
	ThinkingBudget int

	// Source ("github" or "git", default: "github")
	SourceBackend       string
	GitHubAPIURL        string
	GitHubToken         string
	AllowSampleFallback bool

	// Repository file cache, disabled when SourceCacheBytes is 0
	SourceCacheBytes  int64
	SourceCacheTTLSec int

	// Context ingestion
	ContextTokenBudget int
	TokenizerModel     string
	MaxContextFiles    int
	MaxAnalysisPaths   int

	// Language catalog YAML, embedded catalog when empty
	LanguagesFile string

	// Export backend ("none", "local" or "s3", default: "none")
	ExportBackend   string
	ExportLocalPath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Auth (optional, empty disables bearer checks)
	JWTSecret string

	// Runs a client may start per minute, 0 for no limit.
	RunRateLimit int

	// Runs kept in memory before the oldest finished ones are evicted.
	MaxRuns int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiModel:         envOr("GEMINI_MODEL", "gemini-2.5-pro"),
		ThinkingBudget:      envInt("GEMINI_THINKING_BUDGET", 2048),
		SourceBackend:       envOr("SOURCE_BACKEND", "github"),
		GitHubAPIURL:        envOr("GITHUB_API_URL", "https://api.github.com"),
		GitHubToken:         envOr("GITHUB_TOKEN", ""),
		AllowSampleFallback: envBool("ALLOW_SAMPLE_FALLBACK", false),
		SourceCacheBytes:    envInt64("SOURCE_CACHE_BYTES", 64<<20),
		SourceCacheTTLSec:   envInt("SOURCE_CACHE_TTL_SECONDS", 600),
		ContextTokenBudget:  envInt("CONTEXT_TOKEN_BUDGET", 12000),
		TokenizerModel:      envOr("TOKENIZER_MODEL", "gpt-4"),
		MaxContextFiles:     envInt("MAX_CONTEXT_FILES", 15),
		MaxAnalysisPaths:    envInt("MAX_ANALYSIS_PATHS", 500),
		LanguagesFile:       envOr("LANGUAGES_FILE", ""),
		ExportBackend:       envOr("EXPORT_BACKEND", "none"),
		ExportLocalPath:     envOr("EXPORT_LOCAL_PATH", "/data/exports"),
		S3Endpoint:          envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:            envOr("S3_BUCKET", "migrations"),
		S3AccessKey:         envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:         envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		S3UseSSL:            envBool("S3_USE_SSL", false),
		TLSCertFile:         envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:          envOr("TLS_KEY_FILE", ""),
		JWTSecret:           envOr("JWT_SECRET", ""),
		RunRateLimit:        envInt("RUN_RATE_LIMIT", 10),
		MaxRuns:             envInt("MAX_RUNS", 100),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	c.SourceBackend = strings.ToLower(c.SourceBackend)
	switch c.SourceBackend {
	case "github", "git":
	default:
		return fmt.Errorf("SOURCE_BACKEND must be github or git, got %q", c.SourceBackend)
	}

	c.ExportBackend = strings.ToLower(c.ExportBackend)
	switch c.ExportBackend {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("EXPORT_BACKEND must be none, local or s3, got %q", c.ExportBackend)
	}

	if c.SourceCacheBytes < 0 || c.SourceCacheTTLSec < 0 {
		return fmt.Errorf("source cache limits must not be negative")
	}
	if c.RunRateLimit < 0 {
		return fmt.Errorf("RUN_RATE_LIMIT must not be negative")
	}
	if c.MaxContextFiles < 0 || c.MaxAnalysisPaths <= 0 || c.ContextTokenBudget <= 0 {
		return fmt.Errorf("context limits must be positive")
	}
	return nil
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
