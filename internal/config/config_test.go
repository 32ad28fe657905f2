package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Errorf("addrs = %s, %s", cfg.ListenAddr, cfg.MetricsAddr)
	}
	if cfg.GeminiModel != "gemini-2.5-pro" {
		t.Errorf("GeminiModel = %s", cfg.GeminiModel)
	}
	if cfg.MaxContextFiles != 15 || cfg.MaxAnalysisPaths != 500 {
		t.Errorf("context limits = %d, %d", cfg.MaxContextFiles, cfg.MaxAnalysisPaths)
	}
	if cfg.SourceBackend != "github" || cfg.ExportBackend != "none" {
		t.Errorf("backends = %s, %s", cfg.SourceBackend, cfg.ExportBackend)
	}
	if cfg.AllowSampleFallback {
		t.Error("sample fallback should be off by default")
	}
	if cfg.TLSEnabled() {
		t.Error("TLS should be off by default")
	}
	if cfg.RunRateLimit != 10 {
		t.Errorf("RunRateLimit = %d", cfg.RunRateLimit)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Error("expected error without GEMINI_API_KEY")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("SOURCE_BACKEND", "GIT")
	t.Setenv("EXPORT_BACKEND", "s3")
	t.Setenv("MAX_CONTEXT_FILES", "4")
	t.Setenv("ALLOW_SAMPLE_FALLBACK", "true")
	t.Setenv("S3_USE_SSL", "not-a-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourceBackend != "git" {
		t.Errorf("SourceBackend = %s", cfg.SourceBackend)
	}
	if cfg.ExportBackend != "s3" || cfg.MaxContextFiles != 4 || !cfg.AllowSampleFallback {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.S3UseSSL {
		t.Error("invalid bool should fall back to default")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SOURCE_BACKEND", "svn"},
		{"EXPORT_BACKEND", "ftp"},
		{"CONTEXT_TOKEN_BUDGET", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "k")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s accepted", tt.key, tt.value)
			}
		})
	}
}
