// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromPathTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1"

[backend]
url = "http://127.0.0.1:9999"

[server]
port = 9999

[ui]
theme = "light"
show_thinking = true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Backend.URL != "http://127.0.0.1:9999" {
		t.Errorf("url = %q", cfg.Backend.URL)
	}
	if cfg.Server.Port != 9999 || cfg.UI.Theme != "light" || !cfg.UI.ShowThinking {
		t.Errorf("cfg = %+v", cfg)
	}
	// Unset fields picked up defaults.
	if cfg.Server.DatabasePath == "" || cfg.Server.RateBurst == 0 {
		t.Error("defaults not filled")
	}
}

func TestLoadFromPathJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"backend": {"url": "http://localhost:4000"}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:4000" {
		t.Errorf("url = %q", cfg.Backend.URL)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Backend.URL = "ftp://nope"
	cfg.Server.Port = 0
	cfg.UI.Theme = "solarized"
	cfg.Server.AuthEnabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config passed validation")
	}
	verrs, ok := err.(ValidateErrors)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if len(verrs) != 4 {
		t.Errorf("got %d errors, want 4: %v", len(verrs), verrs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTDECK_BACKEND_URL", "http://10.0.0.5:8711")
	t.Setenv("AGENTDECK_PORT", "9000")
	t.Setenv("AGENTDECK_SHOW_THINKING", "true")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Backend.URL != "http://10.0.0.5:8711" {
		t.Errorf("url = %q", cfg.Backend.URL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if !cfg.UI.ShowThinking {
		t.Error("show_thinking override ignored")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.UI.Theme = "light"
	cfg.Backend.AuthToken = "tok_123"

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.UI.Theme != "light" || loaded.Backend.AuthToken != "tok_123" {
		t.Errorf("round trip lost fields: %+v", loaded)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config written with mode %v, want 0600", info.Mode().Perm())
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Backend.AuthToken = "super-secret-token"
	cfg.Server.AuthToken = "another-secret"

	out := cfg.String()
	if strings.Contains(out, "super-secret-token") || strings.Contains(out, "another-secret") {
		t.Error("secrets leaked in String()")
	}
	if !strings.Contains(out, "[redacted]") {
		t.Error("redaction marker missing")
	}
}
