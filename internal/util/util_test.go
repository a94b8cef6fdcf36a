// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
		want     string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"truncated with ellipsis", "hello world", 8, "hello..."},
		{"tiny max", "hello", 2, "he"},
		{"zero max", "hello", 0, ""},
		{"multibyte runes counted once", "héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateRunes(tt.input, tt.maxRunes)
			if got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.want)
			}
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	// CJK characters are two columns wide.
	got := TruncateWidth("日本語のテスト", 9)
	if StringWidth(got) > 9 {
		t.Errorf("TruncateWidth result too wide: %q is %d columns", got, StringWidth(got))
	}
	if got == "日本語のテスト" {
		t.Error("expected truncation of wide string")
	}

	if got := TruncateWidth("short", 20); got != "short" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	if got := TruncateWidth("anything", 0); got != "" {
		t.Errorf("expected empty string for zero width, got %q", got)
	}
}

func TestPadWidth(t *testing.T) {
	if got := PadWidth("ab", 5); got != "ab   " {
		t.Errorf("PadWidth = %q, want %q", got, "ab   ")
	}
	// Wide runes count as two columns, so fewer spaces are added.
	if got := PadWidth("日本", 6); got != "日本  " {
		t.Errorf("PadWidth wide = %q, want %q", got, "日本  ")
	}
	if got := PadWidth("toolong", 3); got != "toolong" {
		t.Errorf("PadWidth over-width = %q, want unchanged", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("first line\nsecond line"); got != "first line" {
		t.Errorf("FirstLine = %q", got)
	}
	if got := FirstLine("  padded  "); got != "padded" {
		t.Errorf("FirstLine trim = %q", got)
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	if err := AtomicWriteFile(path, []byte("hello"), 0600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}

	// Overwrite replaces content fully.
	if err := AtomicWriteFile(path, []byte("replaced"), 0600); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "replaced" {
		t.Errorf("content after overwrite = %q", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry in dir, found %d", len(entries))
	}
}
