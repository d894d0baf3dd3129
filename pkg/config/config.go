// Package config provides configuration loading, validation, and management
// for the code generation pipeline.
//
// Sources are applied in increasing precedence:
//
//  1. Built-in defaults
//  2. Optional aicoder.yaml overlay (explicit -config path, or the working dir)
//  3. A .env file, loaded into the process environment via godotenv
//  4. Process environment variables
//
// The API key additionally resolves through the encrypted secrets file
// (see secrets.go) before falling back to the environment.
//
// A single global Config instance is maintained in memory, protected by
// mutex. GetConfig returns the config BY VALUE (copy, not reference) to
// prevent external mutation; updates go through the Set* functions.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/logx"
)

// Environment variable names understood by LoadConfig.
const (
	EnvAPIKey             = "MCP_API_KEY"
	EnvEndpoint           = "MCP_ENDPOINT"
	EnvModel              = "MCP_MODEL"
	EnvProvider           = "MCP_PROVIDER"
	EnvWorkspaceDir       = "WORKSPACE_DIR"
	EnvUsageLogFile       = "USAGE_LOG_FILE"
	EnvTimeoutSeconds     = "TIMEOUT_SECONDS"
	EnvMaxRetries         = "MAX_RETRIES"
	EnvEnableRateLimiting = "ENABLE_RATE_LIMITING"
	EnvRequestDelay       = "REQUEST_DELAY_SECONDS"
	EnvMaxDebugAttempts   = "MAX_DEBUG_ATTEMPTS"
	EnvExecTimeout        = "EXEC_TIMEOUT_SECONDS"
	EnvConversationLogDir = "CONVERSATION_LOG_DIR"
	EnvDBPath             = "DB_PATH"
	EnvEnableMemory       = "ENABLE_MEMORY"
	EnvMemoryWindow       = "MEMORY_WINDOW"
	EnvUIHost             = "UI_HOST"
	EnvUIPort             = "UI_PORT"
)

// Provider override values for EnvProvider. Empty (or "auto") keeps the
// raw HTTP client whose wire dialect is chosen by endpoint inspection;
// the named values select an official SDK client instead.
const (
	ProviderAuto           = ""
	ProviderAnthropic      = "anthropic"
	ProviderGoogle         = "google"
	ProviderOllama         = "ollama"
	ProviderOpenAIOfficial = "openai-official"
)

// Defaults applied before any overlay.
const (
	DefaultModel              = "gpt-4"
	DefaultWorkspaceDir       = "./workspace"
	DefaultUsageLogFile       = "api_usage.json"
	DefaultConversationLogDir = "./logs/conversations"
	DefaultDBPath             = "aicoder.db"
	DefaultRequestTimeout     = 300 * time.Second
	DefaultMaxRetries         = 5
	DefaultRequestDelay       = 6 * time.Second
	DefaultMaxDebugAttempts   = 5
	DefaultExecTimeout        = 30 * time.Second
	DefaultMemoryWindow       = 5
	DefaultUIHost             = "localhost"
	DefaultUIPort             = 8000
)

// YamlConfigName is the overlay file probed in the working directory when
// no explicit -config path is given.
const YamlConfigName = "aicoder.yaml"

// Config holds every tunable the pipeline reads at startup. All durations
// arrive as integer seconds in the environment and the yaml overlay.
type Config struct {
	// LLM endpoint settings.
	APIKey   string // never serialized
	Endpoint string
	Model    string
	Provider string // SDK override, see Provider* constants

	// Filesystem locations.
	WorkspaceDir       string
	UsageLogFile       string
	ConversationLogDir string
	DBPath             string

	// Client behavior.
	RequestTimeout     time.Duration // per LLM call
	MaxRetries         int           // attempts per call, including the first
	EnableRateLimiting bool
	RequestDelay       time.Duration // minimum gap between LLM calls
	MaxDebugAttempts   int
	ExecTimeout        time.Duration // per sandbox subprocess

	// Role memory.
	EnableMemory bool
	MemoryWindow int

	// Web UI.
	UIHost string
	UIPort int
}

// Global config instance with mutex protection.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	mu     sync.RWMutex
	logger *logx.Logger
)

// getLogger returns the config logger, initializing it if needed.
func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// defaults returns a Config populated with built-in defaults only.
func defaults() *Config {
	return &Config{
		WorkspaceDir:       DefaultWorkspaceDir,
		UsageLogFile:       DefaultUsageLogFile,
		ConversationLogDir: DefaultConversationLogDir,
		DBPath:             DefaultDBPath,
		RequestTimeout:     DefaultRequestTimeout,
		MaxRetries:         DefaultMaxRetries,
		EnableRateLimiting: true,
		RequestDelay:       DefaultRequestDelay,
		MaxDebugAttempts:   DefaultMaxDebugAttempts,
		ExecTimeout:        DefaultExecTimeout,
		MemoryWindow:       DefaultMemoryWindow,
		UIHost:             DefaultUIHost,
		UIPort:             DefaultUIPort,
	}
}

// fileOverlay mirrors the yaml config file. Pointer fields distinguish
// "absent" from zero values so the overlay only touches keys it names.
type fileOverlay struct {
	Endpoint            *string `yaml:"endpoint"`
	Model               *string `yaml:"model"`
	Provider            *string `yaml:"provider"`
	WorkspaceDir        *string `yaml:"workspace_dir"`
	UsageLogFile        *string `yaml:"usage_log_file"`
	ConversationLogDir  *string `yaml:"conversation_log_dir"`
	DBPath              *string `yaml:"db_path"`
	TimeoutSeconds      *int    `yaml:"timeout_seconds"`
	MaxRetries          *int    `yaml:"max_retries"`
	EnableRateLimiting  *bool   `yaml:"enable_rate_limiting"`
	RequestDelaySeconds *int    `yaml:"request_delay_seconds"`
	MaxDebugAttempts    *int    `yaml:"max_debug_attempts"`
	ExecTimeoutSeconds  *int    `yaml:"exec_timeout_seconds"`
	EnableMemory        *bool   `yaml:"enable_memory"`
	MemoryWindow        *int    `yaml:"memory_window"`
	UIHost              *string `yaml:"ui_host"`
	UIPort              *int    `yaml:"ui_port"`
}

// LoadConfig loads configuration (usually done once at startup): defaults,
// then the yaml overlay at yamlPath (or ./aicoder.yaml when yamlPath is
// empty), then a .env file, then the environment. The result is validated
// and installed as the global instance.
func LoadConfig(yamlPath string) error {
	// .env first so its values are visible as ordinary env vars.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		getLogger().Warn("could not load .env file: %v", err)
	}

	cfg, err := buildConfig(yamlPath, os.LookupEnv)
	if err != nil {
		return err
	}

	// API key precedence: decrypted secrets file, then environment.
	if key, keyErr := GetSecret(EnvAPIKey); keyErr == nil {
		cfg.APIKey = key
	}

	mu.Lock()
	config = cfg
	mu.Unlock()
	return nil
}

// GetConfig returns a copy of the current configuration.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, llmerrors.New(llmerrors.KindConfig, "config not loaded, call LoadConfig first")
	}
	return *config, nil
}

// SetAPIKey updates the API key on the global instance, for callers that
// obtained the key after load (interactive prompt, secrets unlock).
func SetAPIKey(key string) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return llmerrors.New(llmerrors.KindConfig, "config not loaded, call LoadConfig first")
	}
	config.APIKey = key
	return nil
}

// Validate checks the assembled config for contradictions a run could not
// survive. Called by LoadConfig; exported for callers that build a Config
// by hand.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return llmerrors.Newf(llmerrors.KindConfig, "%s is required", EnvEndpoint)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be an http(s) URL, got %q", EnvEndpoint, c.Endpoint)
	}
	switch c.Provider {
	case ProviderAuto, ProviderAnthropic, ProviderGoogle, ProviderOllama, ProviderOpenAIOfficial:
	default:
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be one of anthropic, google, ollama, openai-official (got %q)", EnvProvider, c.Provider)
	}
	if c.MaxRetries < 1 {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be at least 1, got %d", EnvMaxRetries, c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be positive", EnvTimeoutSeconds)
	}
	if c.RequestDelay < 0 {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be non-negative", EnvRequestDelay)
	}
	if c.MaxDebugAttempts < 1 {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be at least 1, got %d", EnvMaxDebugAttempts, c.MaxDebugAttempts)
	}
	if c.ExecTimeout <= 0 {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be positive", EnvExecTimeout)
	}
	if c.EnableMemory && c.MemoryWindow < 1 {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be at least 1 when memory is enabled", EnvMemoryWindow)
	}
	if c.UIPort < 1 || c.UIPort > 65535 {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be a valid port, got %d", EnvUIPort, c.UIPort)
	}
	return nil
}

// RequireAPIKey reports whether the config is ready to talk to a provider,
// as a typed error when it is not.
func (c *Config) RequireAPIKey() error {
	// Local inference needs no key.
	if c.Provider == ProviderOllama {
		return nil
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return llmerrors.Newf(llmerrors.KindConfig, "%s is required (set it in the environment, a .env file, or the encrypted secrets file)", EnvAPIKey)
	}
	return nil
}

// buildConfig assembles a Config from defaults, the optional yaml overlay,
// and the environment via the supplied lookup function.
func buildConfig(yamlPath string, getenv func(string) (string, bool)) (*Config, error) {
	cfg := defaults()

	if err := applyYaml(cfg, yamlPath); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}

	cfg.Provider = normalizeProvider(cfg.Provider)
	cfg.Model = resolveModel(cfg.Model, cfg.Endpoint)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyYaml merges the overlay file into cfg. A missing file is only an
// error when the caller named it explicitly.
func applyYaml(cfg *Config, yamlPath string) error {
	explicit := yamlPath != ""
	if !explicit {
		yamlPath = YamlConfigName
	}

	data, err := os.ReadFile(yamlPath)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return llmerrors.Wrap(llmerrors.KindConfig, err, fmt.Sprintf("failed to read config file %s", yamlPath))
	}

	var o fileOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return llmerrors.Wrap(llmerrors.KindConfig, err, fmt.Sprintf("failed to parse config file %s", yamlPath))
	}

	setString(&cfg.Endpoint, o.Endpoint)
	setString(&cfg.Model, o.Model)
	setString(&cfg.Provider, o.Provider)
	setString(&cfg.WorkspaceDir, o.WorkspaceDir)
	setString(&cfg.UsageLogFile, o.UsageLogFile)
	setString(&cfg.ConversationLogDir, o.ConversationLogDir)
	setString(&cfg.DBPath, o.DBPath)
	setSeconds(&cfg.RequestTimeout, o.TimeoutSeconds)
	setInt(&cfg.MaxRetries, o.MaxRetries)
	setBool(&cfg.EnableRateLimiting, o.EnableRateLimiting)
	setSeconds(&cfg.RequestDelay, o.RequestDelaySeconds)
	setInt(&cfg.MaxDebugAttempts, o.MaxDebugAttempts)
	setSeconds(&cfg.ExecTimeout, o.ExecTimeoutSeconds)
	setBool(&cfg.EnableMemory, o.EnableMemory)
	setInt(&cfg.MemoryWindow, o.MemoryWindow)
	setString(&cfg.UIHost, o.UIHost)
	setInt(&cfg.UIPort, o.UIPort)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setSeconds(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Second
	}
}

// applyEnv merges environment variables into cfg. Parse failures are
// configuration errors, not silent fallbacks.
func applyEnv(cfg *Config, getenv func(string) (string, bool)) error {
	envString(&cfg.APIKey, getenv, EnvAPIKey)
	envString(&cfg.Endpoint, getenv, EnvEndpoint)
	envString(&cfg.Model, getenv, EnvModel)
	envString(&cfg.Provider, getenv, EnvProvider)
	envString(&cfg.WorkspaceDir, getenv, EnvWorkspaceDir)
	envString(&cfg.UsageLogFile, getenv, EnvUsageLogFile)
	envString(&cfg.ConversationLogDir, getenv, EnvConversationLogDir)
	envString(&cfg.DBPath, getenv, EnvDBPath)
	envString(&cfg.UIHost, getenv, EnvUIHost)

	if err := envSeconds(&cfg.RequestTimeout, getenv, EnvTimeoutSeconds); err != nil {
		return err
	}
	if err := envInt(&cfg.MaxRetries, getenv, EnvMaxRetries); err != nil {
		return err
	}
	if err := envBool(&cfg.EnableRateLimiting, getenv, EnvEnableRateLimiting); err != nil {
		return err
	}
	if err := envSeconds(&cfg.RequestDelay, getenv, EnvRequestDelay); err != nil {
		return err
	}
	if err := envInt(&cfg.MaxDebugAttempts, getenv, EnvMaxDebugAttempts); err != nil {
		return err
	}
	if err := envSeconds(&cfg.ExecTimeout, getenv, EnvExecTimeout); err != nil {
		return err
	}
	if err := envBool(&cfg.EnableMemory, getenv, EnvEnableMemory); err != nil {
		return err
	}
	if err := envInt(&cfg.MemoryWindow, getenv, EnvMemoryWindow); err != nil {
		return err
	}
	if err := envInt(&cfg.UIPort, getenv, EnvUIPort); err != nil {
		return err
	}
	return nil
}

func envString(dst *string, getenv func(string) (string, bool), name string) {
	if v, ok := getenv(name); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, getenv func(string) (string, bool), name string) error {
	v, ok := getenv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be an integer, got %q", name, v)
	}
	*dst = n
	return nil
}

func envBool(dst *bool, getenv func(string) (string, bool), name string) error {
	v, ok := getenv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be a boolean, got %q", name, v)
	}
	*dst = b
	return nil
}

func envSeconds(dst *time.Duration, getenv func(string) (string, bool), name string) error {
	v, ok := getenv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return llmerrors.Newf(llmerrors.KindConfig, "%s must be an integer number of seconds, got %q", name, v)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

// normalizeProvider folds the "auto" spelling into the empty default.
func normalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "auto" {
		return ProviderAuto
	}
	return p
}

// resolveModel fills an unset model, preferring the model named inside a
// Gemini-style endpoint (".../models/<model>:generateContent") over the
// generic default.
func resolveModel(model, endpoint string) string {
	if model != "" {
		return model
	}
	if fromEndpoint := modelFromEndpoint(endpoint); fromEndpoint != "" {
		return fromEndpoint
	}
	return DefaultModel
}

func modelFromEndpoint(endpoint string) string {
	_, after, found := strings.Cut(endpoint, "/models/")
	if !found {
		return ""
	}
	if model, _, ok := strings.Cut(after, ":"); ok {
		return model
	}
	return after
}
