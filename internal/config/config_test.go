// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sensorbridge/internal/usage"
)

func negativeLimits() usage.ModelLimits {
	return usage.ModelLimits{RequestsPerDay: -1}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300, cfg.Cache.SuccessTTLSeconds)
	assert.Equal(t, 30, cfg.Cache.FailureTTLSeconds)
	assert.Equal(t, 3, cfg.API.MaxRetries)
}

func TestLoadFromPathTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1"

[api]
base_url = "http://192.168.1.50:8000"
max_retries = 5

[llm]
model = "llama-3.3-70b-versatile"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "http://192.168.1.50:8000", cfg.API.BaseURL)
	assert.Equal(t, 5, cfg.API.MaxRetries)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
	// Unset fields fall back to defaults.
	assert.Equal(t, 15, cfg.API.TimeoutSeconds)
}

func TestLoadFromPathJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api":{"base_url":"http://10.0.0.2:9000"}}`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:9000", cfg.API.BaseURL)
}

func TestLoadFromPathUnsupported(t *testing.T) {
	_, err := LoadFromPath("config.yaml")
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SENSORBRIDGE_API_URL", "http://override:8000")
	t.Setenv("SENSORBRIDGE_GROQ_KEY", "gsk_env")
	t.Setenv("SENSORBRIDGE_MAX_RETRIES", "7")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "http://override:8000", cfg.API.BaseURL)
	assert.Equal(t, "gsk_env", cfg.LLM.GroqKey)
	assert.Equal(t, 7, cfg.API.MaxRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "not a url"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url")

	cfg = Default()
	cfg.Cache.FailureTTLSeconds = 600
	assert.Error(t, cfg.Validate(), "failure TTL above success TTL must not validate")

	cfg = Default()
	cfg.Usage.Limits["llama-3.1-8b-instant"] = negativeLimits()
	assert.Error(t, cfg.Validate())
}

func TestSetDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLM.Model)
	assert.NotEmpty(t, cfg.Usage.Limits)
}

func TestGlobalSetAndReset(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	custom := Default()
	custom.API.BaseURL = "http://test:8000"
	SetGlobal(custom)

	assert.Equal(t, "http://test:8000", Global().API.BaseURL)
}
