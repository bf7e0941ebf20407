// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete glossa configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend selects the AI completion service
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Stream bounds individual backend calls
	Stream StreamConfig `toml:"stream" json:"stream"`

	// Persistence configures where sessions are stored and how saves are batched
	Persistence PersistenceConfig `toml:"persistence" json:"persistence"`

	// Explain holds the named explanation styles
	Explain ExplainConfig `toml:"explain" json:"explain"`

	// Fallback overrides the wording of error messages by category
	Fallback FallbackConfig `toml:"fallback" json:"fallback"`

	// Log configures the log file
	Log LogConfig `toml:"log" json:"log"`
}

// BackendConfig contains AI backend configuration.
type BackendConfig struct {
	// Provider is one of "openrouter", "ollama" or "scripted"
	Provider string `toml:"provider" json:"provider"`
	// BaseURL overrides the provider's default endpoint
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIKey is the OpenRouter API key
	APIKey string `toml:"api_key" json:"api_key"`
	// Model is the model identifier passed to the provider
	Model string `toml:"model" json:"model"`
	// MaxRetries for rate limits and server errors before streaming starts
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RateLimit is the maximum requests per second (0 = unlimited)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// Burst is the number of requests allowed above RateLimit at once
	Burst int `toml:"burst" json:"burst"`
}

// StreamConfig contains stream configuration.
type StreamConfig struct {
	// Timeout bounds each backend call (0 = none)
	Timeout Duration `toml:"timeout" json:"timeout"`
}

// PersistenceConfig contains session storage configuration.
type PersistenceConfig struct {
	// Driver is one of "file", "sqlite", "redis" or "memory"
	Driver string `toml:"driver" json:"driver"`
	// Dir is the session directory of the file driver (default: ~/.glossa/sessions)
	Dir string `toml:"dir" json:"dir"`
	// DSN is the database path of the sqlite driver (default: ~/.glossa/sessions.db)
	DSN string `toml:"dsn" json:"dsn"`
	// RedisAddr is the host:port of the redis driver
	RedisAddr string `toml:"redis_addr" json:"redis_addr"`

	Debounce      Duration `toml:"debounce" json:"debounce"`
	MaxWait       Duration `toml:"max_wait" json:"max_wait"`
	FlushDeadline Duration `toml:"flush_deadline" json:"flush_deadline"`
	MaxRetryDelay Duration `toml:"max_retry_delay" json:"max_retry_delay"`
	// LastKnownGoodTTL keeps loaded sessions to serve when storage fails (0 = off)
	LastKnownGoodTTL Duration `toml:"last_known_good_ttl" json:"last_known_good_ttl"`
}

// ExplainConfig contains explanation styles.
type ExplainConfig struct {
	// DefaultStyle names the style used when none is given
	DefaultStyle string `toml:"default_style" json:"default_style"`
	// Styles maps a style name to its prompt
	Styles map[string]string `toml:"styles" json:"styles"`
}

// FallbackConfig overrides fallback message texts.
type FallbackConfig struct {
	// Texts maps a category ("rate_limited", "timeout"...) to its text
	Texts map[string]string `toml:"texts" json:"texts"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is a zerolog level name (default: "info")
	Level string `toml:"level" json:"level"`
	// File is the log file path (default: ~/.glossa/glossa.log)
	File string `toml:"file" json:"file"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `toml:"max_backups" json:"max_backups"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a string such as "300ms" in
// config files.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultStyles are the explanation styles available without configuration.
var DefaultStyles = map[string]string{
	"explain":   "Explain",
	"summarize": "Summarize",
	"simplify":  "Explain in simple terms",
	"define":    "Define the key terms in",
	"translate": "Translate into English",
}

// Default returns a configuration with default values.
func Default() *Config {
	styles := make(map[string]string, len(DefaultStyles))
	for k, v := range DefaultStyles {
		styles[k] = v
	}
	return &Config{
		Version: "1",
		Backend: BackendConfig{
			Provider:   "openrouter",
			Model:      "openrouter/auto",
			MaxRetries: 2,
			Burst:      1,
		},
		Persistence: PersistenceConfig{
			Driver:        "file",
			Debounce:      D(300 * time.Millisecond),
			MaxWait:       D(2 * time.Second),
			FlushDeadline: D(2 * time.Second),
			MaxRetryDelay: D(30 * time.Second),
		},
		Explain: ExplainConfig{
			DefaultStyle: "explain",
			Styles:       styles,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults fills in any missing values with defaults.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Backend.Provider == "" {
		c.Backend.Provider = d.Backend.Provider
	}
	if c.Backend.Model == "" && c.Backend.Provider == "openrouter" {
		c.Backend.Model = d.Backend.Model
	}
	if c.Backend.Burst <= 0 {
		c.Backend.Burst = d.Backend.Burst
	}
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = d.Persistence.Driver
	}
	if c.Persistence.Debounce.Duration == 0 {
		c.Persistence.Debounce = d.Persistence.Debounce
	}
	if c.Persistence.FlushDeadline.Duration == 0 {
		c.Persistence.FlushDeadline = d.Persistence.FlushDeadline
	}
	if c.Persistence.MaxRetryDelay.Duration == 0 {
		c.Persistence.MaxRetryDelay = d.Persistence.MaxRetryDelay
	}
	if c.Explain.DefaultStyle == "" {
		c.Explain.DefaultStyle = d.Explain.DefaultStyle
	}
	if c.Explain.Styles == nil {
		c.Explain.Styles = d.Explain.Styles
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = d.Log.MaxBackups
	}
}

// StylePrompt resolves a style name to its prompt. Unknown names are used
// as the prompt itself, and an empty name selects the default style.
func (c *Config) StylePrompt(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Explain.DefaultStyle
	}
	if p, ok := c.Explain.Styles[strings.ToLower(name)]; ok {
		return p
	}
	return name
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the glossa configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".glossa"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Writes config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# glossa configuration file\n")
	sb.WriteString("# Generated by glossa - edit with care\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Providers lists the accepted backend.provider values.
var Providers = []string{"openrouter", "ollama", "scripted"}

// Drivers lists the accepted persistence.driver values.
var Drivers = []string{"file", "sqlite", "redis", "memory"}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !contains(Providers, c.Backend.Provider) {
		add("backend.provider", "must be one of %s, got %q", strings.Join(Providers, ", "), c.Backend.Provider)
	}
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("backend.base_url", "must be an http or https URL, got %q", c.Backend.BaseURL)
		}
	}
	if c.Backend.MaxRetries < 0 || c.Backend.MaxRetries > 10 {
		add("backend.max_retries", "must be between 0 and 10, got %d", c.Backend.MaxRetries)
	}
	if c.Backend.RateLimit < 0 {
		add("backend.rate_limit", "must not be negative, got %g", c.Backend.RateLimit)
	}

	if c.Stream.Timeout.Duration < 0 {
		add("stream.timeout", "must not be negative")
	}

	p := c.Persistence
	if !contains(Drivers, p.Driver) {
		add("persistence.driver", "must be one of %s, got %q", strings.Join(Drivers, ", "), p.Driver)
	}
	if p.Driver == "redis" && p.RedisAddr == "" {
		add("persistence.redis_addr", "is required by the redis driver")
	}
	for field, d := range map[string]Duration{
		"persistence.debounce":            p.Debounce,
		"persistence.max_wait":            p.MaxWait,
		"persistence.flush_deadline":      p.FlushDeadline,
		"persistence.max_retry_delay":     p.MaxRetryDelay,
		"persistence.last_known_good_ttl": p.LastKnownGoodTTL,
	} {
		if d.Duration < 0 {
			add(field, "must not be negative")
		}
	}
	if p.MaxWait.Duration > 0 && p.MaxWait.Duration < p.Debounce.Duration {
		add("persistence.max_wait", "must not be shorter than persistence.debounce")
	}

	if _, ok := c.Explain.Styles[strings.ToLower(c.Explain.DefaultStyle)]; !ok && len(c.Explain.Styles) > 0 {
		add("explain.default_style", "style %q is not defined in explain.styles", c.Explain.DefaultStyle)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		add("log.level", "unknown level %q", c.Log.Level)
	}

	if len(errs) == 0 {
		return nil
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - GLOSSA_PROVIDER: overrides backend.provider
//   - GLOSSA_API_KEY: overrides backend.api_key (OPENROUTER_API_KEY is also read)
//   - GLOSSA_MODEL: overrides backend.model
//   - GLOSSA_BASE_URL: overrides backend.base_url
//   - GLOSSA_STREAM_TIMEOUT: overrides stream.timeout
//   - GLOSSA_STORAGE: overrides persistence.driver
//   - GLOSSA_SESSION_DIR: overrides persistence.dir
//   - GLOSSA_REDIS_ADDR: overrides persistence.redis_addr
//   - GLOSSA_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Backend.APIKey = key
	}
	setString := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	setString("GLOSSA_PROVIDER", &c.Backend.Provider)
	setString("GLOSSA_API_KEY", &c.Backend.APIKey)
	setString("GLOSSA_MODEL", &c.Backend.Model)
	setString("GLOSSA_BASE_URL", &c.Backend.BaseURL)
	setString("GLOSSA_STORAGE", &c.Persistence.Driver)
	setString("GLOSSA_SESSION_DIR", &c.Persistence.Dir)
	setString("GLOSSA_REDIS_ADDR", &c.Persistence.RedisAddr)
	setString("GLOSSA_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("GLOSSA_STREAM_TIMEOUT"); v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err == nil {
			c.Stream.Timeout = d
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring GLOSSA_STREAM_TIMEOUT: %v\n", err)
		}
	}
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by its TOML path (e.g., "backend.model").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if d, ok := field.Interface().(Duration); ok {
				return d.String(), nil
			}
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ","); tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// GetAllKeys returns all scalar configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if tag == "" {
				continue
			}
			if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(Duration{}) {
				walk(f.Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Explain.Styles = copyMap(c.Explain.Styles)
	clone.Fallback.Texts = copyMap(c.Fallback.Texts)
	return &clone
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns a TOML rendering of the config for display.
// SECURITY: Redacts the API key.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Backend.APIKey != "" {
		safe.Backend.APIKey = "[REDACTED]"
	}
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(safe); err != nil {
		return "config: " + err.Error()
	}
	return sb.String()
}

// FormatValue renders a Get result for display.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
