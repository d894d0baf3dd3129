package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"aicoder/pkg/agent/llmerrors"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestBuildConfigDefaults(t *testing.T) {
	cfg, err := buildConfig("", lookupFrom(map[string]string{
		EnvEndpoint: "https://api.example.com/v1/chat/completions",
	}))
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}

	if cfg.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", cfg.Model, DefaultModel)
	}
	if cfg.WorkspaceDir != DefaultWorkspaceDir {
		t.Errorf("WorkspaceDir = %q, want %q", cfg.WorkspaceDir, DefaultWorkspaceDir)
	}
	if cfg.RequestTimeout != 300*time.Second {
		t.Errorf("RequestTimeout = %v, want 300s", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if !cfg.EnableRateLimiting {
		t.Error("EnableRateLimiting should default to true")
	}
	if cfg.RequestDelay != 6*time.Second {
		t.Errorf("RequestDelay = %v, want 6s", cfg.RequestDelay)
	}
	if cfg.MaxDebugAttempts != 5 {
		t.Errorf("MaxDebugAttempts = %d, want 5", cfg.MaxDebugAttempts)
	}
	if cfg.ExecTimeout != 30*time.Second {
		t.Errorf("ExecTimeout = %v, want 30s", cfg.ExecTimeout)
	}
	if cfg.EnableMemory {
		t.Error("EnableMemory should default to false")
	}
}

func TestBuildConfigEnvOverrides(t *testing.T) {
	cfg, err := buildConfig("", lookupFrom(map[string]string{
		EnvEndpoint:           "http://localhost:8080/v1/chat/completions",
		EnvModel:              "local-model",
		EnvProvider:           "ollama",
		EnvWorkspaceDir:       "/tmp/ws",
		EnvTimeoutSeconds:     "60",
		EnvMaxRetries:         "3",
		EnvEnableRateLimiting: "false",
		EnvRequestDelay:       "2",
		EnvMaxDebugAttempts:   "2",
		EnvExecTimeout:        "10",
		EnvEnableMemory:       "true",
		EnvMemoryWindow:       "7",
	}))
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}

	if cfg.Model != "local-model" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Provider != ProviderOllama {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.RequestTimeout != time.Minute {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.EnableRateLimiting {
		t.Error("rate limiting should be disabled")
	}
	if cfg.RequestDelay != 2*time.Second {
		t.Errorf("RequestDelay = %v", cfg.RequestDelay)
	}
	if !cfg.EnableMemory || cfg.MemoryWindow != 7 {
		t.Errorf("memory settings: enabled=%v window=%d", cfg.EnableMemory, cfg.MemoryWindow)
	}
}

func TestBuildConfigYamlOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aicoder.yaml")
	yamlBody := `
endpoint: https://yaml.example.com/v1/chat/completions
model: yaml-model
max_retries: 2
request_delay_seconds: 9
enable_memory: true
`
	if err := os.WriteFile(path, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}

	// Env wins over yaml where both name a key; yaml wins over defaults.
	cfg, err := buildConfig(path, lookupFrom(map[string]string{
		EnvModel: "env-model",
	}))
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}

	if cfg.Endpoint != "https://yaml.example.com/v1/chat/completions" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Model != "env-model" {
		t.Errorf("Model = %q, env should win over yaml", cfg.Model)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2 from yaml", cfg.MaxRetries)
	}
	if cfg.RequestDelay != 9*time.Second {
		t.Errorf("RequestDelay = %v, want 9s from yaml", cfg.RequestDelay)
	}
	if !cfg.EnableMemory {
		t.Error("EnableMemory should come from yaml")
	}
}

func TestBuildConfigMissingExplicitYaml(t *testing.T) {
	_, err := buildConfig(filepath.Join(t.TempDir(), "nope.yaml"), lookupFrom(map[string]string{
		EnvEndpoint: "https://api.example.com",
	}))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
	if !llmerrors.Is(err, llmerrors.KindConfig) {
		t.Errorf("expected config kind, got %v", err)
	}
}

func TestBuildConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing endpoint", map[string]string{}},
		{"bad endpoint scheme", map[string]string{EnvEndpoint: "ftp://example.com"}},
		{"bad provider", map[string]string{EnvEndpoint: "https://e.com", EnvProvider: "bedrock"}},
		{"zero retries", map[string]string{EnvEndpoint: "https://e.com", EnvMaxRetries: "0"}},
		{"non-numeric timeout", map[string]string{EnvEndpoint: "https://e.com", EnvTimeoutSeconds: "fast"}},
		{"non-bool rate limit", map[string]string{EnvEndpoint: "https://e.com", EnvEnableRateLimiting: "maybe"}},
		{"zero debug attempts", map[string]string{EnvEndpoint: "https://e.com", EnvMaxDebugAttempts: "0"}},
		{"memory without window", map[string]string{EnvEndpoint: "https://e.com", EnvEnableMemory: "true", EnvMemoryWindow: "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := buildConfig("", lookupFrom(tc.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !llmerrors.Is(err, llmerrors.KindConfig) {
				t.Errorf("expected config kind, got %v", err)
			}
		})
	}
}

func TestProviderNormalization(t *testing.T) {
	cfg, err := buildConfig("", lookupFrom(map[string]string{
		EnvEndpoint: "https://e.com",
		EnvProvider: "Auto",
	}))
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	if cfg.Provider != ProviderAuto {
		t.Errorf("Provider = %q, want auto normalized to empty", cfg.Provider)
	}
}

func TestModelFromGeminiEndpoint(t *testing.T) {
	cfg, err := buildConfig("", lookupFrom(map[string]string{
		EnvEndpoint: "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent",
	}))
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	if cfg.Model != "gemini-2.5-flash-lite" {
		t.Errorf("Model = %q, want model parsed from endpoint", cfg.Model)
	}

	// Explicit model wins over the endpoint-derived one.
	cfg, err = buildConfig("", lookupFrom(map[string]string{
		EnvEndpoint: "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent",
		EnvModel:    "gemini-2.0-pro",
	}))
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	if cfg.Model != "gemini-2.0-pro" {
		t.Errorf("Model = %q", cfg.Model)
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := Config{Provider: ProviderOllama}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("ollama should not require a key: %v", err)
	}

	cfg = Config{APIKey: "  "}
	err := cfg.RequireAPIKey()
	if err == nil {
		t.Fatal("blank key should be rejected")
	}
	if !llmerrors.Is(err, llmerrors.KindConfig) {
		t.Errorf("expected config kind, got %v", err)
	}

	cfg = Config{APIKey: "sk-test"}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetConfigBeforeLoad(t *testing.T) {
	mu.Lock()
	saved := config
	config = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		config = saved
		mu.Unlock()
	}()

	_, err := GetConfig()
	if err == nil {
		t.Fatal("expected error before LoadConfig")
	}
	if !llmerrors.Is(err, llmerrors.KindConfig) {
		t.Errorf("expected config kind, got %v", err)
	}
}
