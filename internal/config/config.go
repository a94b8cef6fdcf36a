// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration management for agentdeck.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/agentdeck/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the root configuration for both the client and the server.
type Config struct {
	// Version of the config schema
	Version string `toml:"version" json:"version"`

	// Backend is the client-side connection configuration
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Server is the backend server configuration
	Server ServerConfig `toml:"server" json:"server"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// BackendConfig tells the client where the backend lives.
type BackendConfig struct {
	// URL is the backend base URL
	URL string `toml:"url" json:"url"`
	// AuthToken is sent as a bearer token when set
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// ServerConfig configures the `agentdeck serve` process.
type ServerConfig struct {
	// Port to listen on (loopback only)
	Port int `toml:"port" json:"port"`
	// DatabasePath is the SQLite file holding tasks and events
	DatabasePath string `toml:"database_path" json:"database_path"`
	// AuthEnabled requires a bearer token on every request
	AuthEnabled bool `toml:"auth_enabled" json:"auth_enabled"`
	// AuthToken is the expected bearer token when auth is enabled
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// RatePerSecond is the sustained per-client request rate
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second"`
	// RateBurst is the per-client burst allowance
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Theme is the color theme name: "dark", "light"
	Theme string `toml:"theme" json:"theme"`
	// SyntaxTheme is the chroma style for code blocks
	SyntaxTheme string `toml:"syntax_theme" json:"syntax_theme"`
	// ShowThinking renders reasoning blocks expanded by default
	ShowThinking bool `toml:"show_thinking" json:"show_thinking"`
	// Markdown enables glamour rendering of assistant messages
	Markdown bool `toml:"markdown" json:"markdown"`
	// ExportDir is where conversation exports are written
	ExportDir string `toml:"export_dir" json:"export_dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = "1"

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Version: CurrentVersion,
		Backend: BackendConfig{
			URL:         "http://127.0.0.1:8711",
			TimeoutSecs: 15,
		},
		Server: ServerConfig{
			Port:          8711,
			DatabasePath:  filepath.Join(home, ".agentdeck", "agentdeck.db"),
			RatePerSecond: 10,
			RateBurst:     30,
		},
		UI: UIConfig{
			Theme:        "dark",
			SyntaxTheme:  "monokai",
			ShowThinking: false,
			Markdown:     true,
			ExportDir:    filepath.Join(home, ".agentdeck", "exports"),
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the agentdeck configuration directory (~/.agentdeck).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".agentdeck"), nil
}

// ConfigPathTOML returns the primary config file path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the fallback config file path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir creates the configuration directory if needed.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration, trying TOML first, then JSON, then falling
// back to defaults. Environment overrides and validation apply in all cases.
func Load() (*Config, error) {
	cfg := Default()

	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finishLoad(cfg)
		}
	}

	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadJSON(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finishLoad(cfg)
		}
	}

	return finishLoad(cfg)
}

// LoadFromPath loads configuration from a specific file, picking the decoder
// by extension.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, err
	}
	return finishLoad(cfg)
}

func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
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

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to the primary TOML path atomically.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes TOML to the given path atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(buf.String()), 0600)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors accumulates all validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration, returning all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		errs = append(errs, ValidationError{"backend.url", "must start with http:// or https://"})
	}
	if c.Backend.TimeoutSecs < 1 {
		errs = append(errs, ValidationError{"backend.timeout_secs", "must be at least 1"})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", "must be between 1 and 65535"})
	}
	if c.Server.AuthEnabled && c.Server.AuthToken == "" {
		errs = append(errs, ValidationError{"server.auth_token", "required when auth is enabled"})
	}
	if c.Server.RatePerSecond <= 0 {
		errs = append(errs, ValidationError{"server.rate_per_second", "must be positive"})
	}
	if c.Server.RateBurst < 1 {
		errs = append(errs, ValidationError{"server.rate_burst", "must be at least 1"})
	}
	switch c.UI.Theme {
	case "dark", "light":
	default:
		errs = append(errs, ValidationError{"ui.theme", "must be \"dark\" or \"light\""})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values with defaults without touching set fields.
func (c *Config) SetDefaults() {
	def := Default()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Backend.URL == "" {
		c.Backend.URL = def.Backend.URL
	}
	if c.Backend.TimeoutSecs == 0 {
		c.Backend.TimeoutSecs = def.Backend.TimeoutSecs
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.DatabasePath == "" {
		c.Server.DatabasePath = def.Server.DatabasePath
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = def.Server.RatePerSecond
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = def.Server.RateBurst
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
	if c.UI.SyntaxTheme == "" {
		c.UI.SyntaxTheme = def.UI.SyntaxTheme
	}
	if c.UI.ExportDir == "" {
		c.UI.ExportDir = def.UI.ExportDir
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies AGENTDECK_* environment variables over the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if url := os.Getenv("AGENTDECK_BACKEND_URL"); url != "" {
		c.Backend.URL = url
	}
	if token := os.Getenv("AGENTDECK_AUTH_TOKEN"); token != "" {
		c.Backend.AuthToken = token
		c.Server.AuthToken = token
	}
	if port := os.Getenv("AGENTDECK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if db := os.Getenv("AGENTDECK_DB"); db != "" {
		c.Server.DatabasePath = db
	}
	if theme := os.Getenv("AGENTDECK_THEME"); theme != "" {
		c.UI.Theme = theme
	}
	if thinking := os.Getenv("AGENTDECK_SHOW_THINKING"); thinking != "" {
		c.UI.ShowThinking = thinking == "1" || strings.EqualFold(thinking, "true")
	}
}

// =============================================================================
// UTILITIES
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config for display with secrets redacted.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.Backend.AuthToken != "" {
		clone.Backend.AuthToken = "[redacted]"
	}
	if clone.Server.AuthToken != "" {
		clone.Server.AuthToken = "[redacted]"
	}
	data, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return "<unprintable config>"
	}
	return string(data)
}

// =============================================================================
// GLOBAL CONFIG
// =============================================================================

var (
	globalConfig *Config
	globalMu     sync.RWMutex
	globalOnce   sync.Once
)

// Global returns the process-wide configuration, loading it on first use.
func Global() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalMu.Lock()
		globalConfig = cfg
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalOnce.Do(func() {})
	globalMu.Lock()
	globalConfig = cfg
	globalMu.Unlock()
}

// ResetGlobalForTesting clears global state between tests.
func ResetGlobalForTesting() {
	globalMu.Lock()
	globalConfig = nil
	globalMu.Unlock()
	globalOnce = sync.Once{}
}
