// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the home directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, env := range []string{
		"OPENROUTER_API_KEY", "GLOSSA_PROVIDER", "GLOSSA_API_KEY", "GLOSSA_MODEL",
		"GLOSSA_BASE_URL", "GLOSSA_STREAM_TIMEOUT", "GLOSSA_STORAGE",
		"GLOSSA_SESSION_DIR", "GLOSSA_REDIS_ADDR", "GLOSSA_LOG_LEVEL",
	} {
		t.Setenv(env, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openrouter", cfg.Backend.Provider)
	assert.Equal(t, "file", cfg.Persistence.Driver)
	assert.Equal(t, 300*time.Millisecond, cfg.Persistence.Debounce.Duration)
	assert.Equal(t, 2*time.Second, cfg.Persistence.FlushDeadline.Duration)
	assert.Zero(t, cfg.Stream.Timeout.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_TOML(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".glossa", "config.toml")
	writeFile(t, path, `
[backend]
provider = "ollama"
model = "llama3.2"
rate_limit = 0.5

[stream]
timeout = "45s"

[persistence]
driver = "sqlite"
debounce = "1s"
max_wait = "5s"

[explain.styles]
eli5 = "Explain like I am five"
`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Backend.Provider)
	assert.Equal(t, 0.5, cfg.Backend.RateLimit)
	assert.Equal(t, 45*time.Second, cfg.Stream.Timeout.Duration)
	assert.Equal(t, time.Second, cfg.Persistence.Debounce.Duration)
	assert.Equal(t, "Explain like I am five", cfg.StylePrompt("eli5"))
	assert.Equal(t, "Summarize", cfg.StylePrompt("summarize"), "defaults survive partial style maps")

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestLoad_JSONFallback(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".glossa", "config.json"),
		`{"backend":{"provider":"scripted"},"stream":{"timeout":"2s"}}`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "scripted", cfg.Backend.Provider)
	assert.Equal(t, 2*time.Second, cfg.Stream.Timeout.Duration)
}

func TestLoad_Invalid(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".glossa", "config.toml"), `
[persistence]
driver = "redis"
`)
	_, err := Load()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "persistence.redis_addr", verrs[0].Field)
}

func TestLoad_BadDuration(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom.toml")
	writeFile(t, path, "[stream]\ntimeout = \"soon\"\n")
	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or")
	t.Setenv("GLOSSA_API_KEY", "sk-glossa")
	t.Setenv("GLOSSA_STORAGE", "memory")
	t.Setenv("GLOSSA_STREAM_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-glossa", cfg.Backend.APIKey, "GLOSSA_API_KEY wins")
	assert.Equal(t, "memory", cfg.Persistence.Driver)
	assert.Equal(t, 90*time.Second, cfg.Stream.Timeout.Duration)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"provider", func(c *Config) { c.Backend.Provider = "gpt" }, "backend.provider"},
		{"base url", func(c *Config) { c.Backend.BaseURL = "ftp://x" }, "backend.base_url"},
		{"rate limit", func(c *Config) { c.Backend.RateLimit = -1 }, "backend.rate_limit"},
		{"driver", func(c *Config) { c.Persistence.Driver = "s3" }, "persistence.driver"},
		{"max wait", func(c *Config) { c.Persistence.MaxWait = D(time.Millisecond) }, "persistence.max_wait"},
		{"timeout", func(c *Config) { c.Stream.Timeout = D(-time.Second) }, "stream.timeout"},
		{"style", func(c *Config) { c.Explain.DefaultStyle = "missing" }, "explain.default_style"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
	assert.NoError(t, Default().Validate())
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestGet(t *testing.T) {
	cfg := Default()
	v, err := cfg.Get("backend.provider")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", v)

	v, err = cfg.Get("persistence.debounce")
	require.NoError(t, err)
	assert.Equal(t, "300ms", v)

	_, err = cfg.Get("backend.nope")
	assert.Error(t, err)
	_, err = cfg.Get("backend.model.x")
	assert.Error(t, err)
}

func TestGetAllKeys(t *testing.T) {
	cfg := Default()
	keys := GetAllKeys()
	assert.Contains(t, keys, "backend.api_key")
	assert.Contains(t, keys, "persistence.last_known_good_ttl")
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestString_RedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Backend.APIKey = "sk-secret"
	assert.NotContains(t, cfg.String(), "sk-secret")
	assert.Equal(t, "sk-secret", cfg.Backend.APIKey)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Backend.Model = "test/model"
	cfg.Stream.Timeout = D(10 * time.Second)
	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "test/model", loaded.Backend.Model)
	assert.Equal(t, 10*time.Second, loaded.Stream.Timeout.Duration)
}
