// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for sensorbridge.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.sensorbridge/config.toml
//   - ~/.sensorbridge/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/sensorbridge/internal/usage"
	"github.com/jeranaias/sensorbridge/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sensorbridge configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// API configures access to the device telemetry API.
	API APIConfig `toml:"api" json:"api"`

	// Cache configures the fetch result cache.
	Cache CacheConfig `toml:"cache" json:"cache"`

	// LLM configures the Groq answer generation backend.
	LLM LLMConfig `toml:"llm" json:"llm"`

	// Usage configures quota tracking and persistence.
	Usage UsageConfig `toml:"usage" json:"usage"`
}

// APIConfig contains device API connection settings.
type APIConfig struct {
	// BaseURL is the device API root, e.g. "http://192.168.1.50:8000".
	BaseURL string `toml:"base_url" json:"base_url"`

	// TimeoutSeconds is the per-attempt HTTP timeout.
	TimeoutSeconds int `toml:"timeout_seconds" json:"timeout_seconds"`

	// MaxRetries is how many times a retryable failure is retried.
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// RateLimitPerSecond paces outbound requests to the gateway.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second" json:"rate_limit_per_second"`
	RateLimitBurst     int     `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	SuccessTTLSeconds int `toml:"success_ttl_seconds" json:"success_ttl_seconds"`
	FailureTTLSeconds int `toml:"failure_ttl_seconds" json:"failure_ttl_seconds"`
}

// LLMConfig contains Groq settings.
type LLMConfig struct {
	// GroqKey is the API key. Prefer the SENSORBRIDGE_GROQ_KEY
	// environment variable over storing it in the file.
	GroqKey string `toml:"groq_key" json:"groq_key"`

	Model          string `toml:"model" json:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds"`
}

// UsageConfig contains quota tracking settings.
type UsageConfig struct {
	// StatePath persists the current day's counters; LedgerPath is the
	// SQLite archive of completed days. Empty disables each.
	StatePath  string `toml:"state_path" json:"state_path"`
	LedgerPath string `toml:"ledger_path" json:"ledger_path"`

	// Limits maps model identifiers to their daily quotas.
	Limits map[string]usage.ModelLimits `toml:"limits" json:"limits"`
}

// =============================================================================
// DEFAULTS & PATHS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".sensorbridge")
	return &Config{
		Version: "1",
		API: APIConfig{
			BaseURL:            "http://localhost:8000",
			TimeoutSeconds:     15,
			MaxRetries:         3,
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
		},
		Cache: CacheConfig{
			SuccessTTLSeconds: 300,
			FailureTTLSeconds: 30,
		},
		LLM: LLMConfig{
			Model:          "llama-3.1-8b-instant",
			TimeoutSeconds: 60,
		},
		Usage: UsageConfig{
			StatePath:  filepath.Join(base, "usage.json"),
			LedgerPath: filepath.Join(base, "usage.db"),
			Limits: map[string]usage.ModelLimits{
				"llama-3.1-8b-instant": {RequestsPerDay: 14400, TokensPerDay: 500000},
			},
		},
	}
}

// ConfigDir returns the sensorbridge configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".sensorbridge"), nil
}

// ConfigPathTOML returns the path of the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path of the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration with TOML preferred, JSON as fallback, and
// built-in defaults when neither file exists. Environment overrides
// and validation apply in every path.
func Load() (*Config, error) {
	cfg := Default()

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finalize(cfg)
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finalize(cfg)
		}
	}

	return finalize(cfg)
}

// LoadFromPath loads configuration from a specific file, dispatching
// on the extension.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = LoadTOML(cfg, path)
	case ".json":
		err = LoadJSON(cfg, path)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadTOML loads configuration from a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to the TOML config path atomically.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// =============================================================================
// OVERRIDES, DEFAULTS, VALIDATION
// =============================================================================

// ApplyEnvOverrides applies SENSORBRIDGE_* environment variables on
// top of the loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SENSORBRIDGE_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("SENSORBRIDGE_GROQ_KEY"); v != "" {
		c.LLM.GroqKey = v
	}
	if v := os.Getenv("SENSORBRIDGE_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SENSORBRIDGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.API.MaxRetries = n
		}
	}
	if v := os.Getenv("SENSORBRIDGE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.API.TimeoutSeconds = n
		}
	}
}

// SetDefaults fills any zero-valued fields with defaults.
func (c *Config) SetDefaults() {
	def := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	if c.API.MaxRetries < 0 {
		c.API.MaxRetries = def.API.MaxRetries
	}
	if c.API.RateLimitPerSecond <= 0 {
		c.API.RateLimitPerSecond = def.API.RateLimitPerSecond
	}
	if c.API.RateLimitBurst <= 0 {
		c.API.RateLimitBurst = def.API.RateLimitBurst
	}
	if c.Cache.SuccessTTLSeconds <= 0 {
		c.Cache.SuccessTTLSeconds = def.Cache.SuccessTTLSeconds
	}
	if c.Cache.FailureTTLSeconds <= 0 {
		c.Cache.FailureTTLSeconds = def.Cache.FailureTTLSeconds
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = def.LLM.TimeoutSeconds
	}
	if c.Usage.Limits == nil {
		c.Usage.Limits = def.Usage.Limits
	}
}

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationError{Field: "api.base_url", Message: "must be a valid absolute URL"}
	}
	if c.Cache.FailureTTLSeconds > c.Cache.SuccessTTLSeconds {
		return ValidationError{
			Field:   "cache.failure_ttl_seconds",
			Message: "must not exceed success TTL",
		}
	}
	for model, limits := range c.Usage.Limits {
		if limits.RequestsPerDay < 0 || limits.TokensPerDay < 0 {
			return ValidationError{
				Field:   "usage.limits." + model,
				Message: "quotas must be non-negative",
			}
		}
	}
	return nil
}

// =============================================================================
// GLOBAL CONFIG
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on
// first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		globalConfigMu.Lock()
		defer globalConfigMu.Unlock()
		if globalConfig != nil {
			// SetGlobal ran before first access; keep it.
			return
		}
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets global config state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
