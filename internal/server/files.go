// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// ============================================================================
// FILE STORAGE
// ============================================================================

const (
	// MaxUploadSize caps a single uploaded file (16MB).
	MaxUploadSize = 16 * 1024 * 1024

	// DefaultMaxLines caps file content responses.
	DefaultMaxLines = 1000
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".svg": true, ".bmp": true, ".ico": true,
}

// ErrPathOutsideRoot is returned when a request path escapes the files root.
var ErrPathOutsideRoot = errors.New("path outside files root")

// resolveFilePath turns a client-supplied relative path into an absolute one
// under the files root, rejecting traversal.
func (s *Server) resolveFilePath(rel string) (string, error) {
	if strings.Contains(rel, "..") || strings.HasPrefix(rel, "/") {
		return "", ErrPathOutsideRoot
	}
	abs := filepath.Join(s.filesDir, filepath.FromSlash(path.Clean("/"+rel)))
	root := filepath.Clean(s.filesDir)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", ErrPathOutsideRoot
	}
	return abs, nil
}

// sanitizeFilename strips directory parts and characters that do not belong
// in a stored filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "._")
	if out == "" {
		return "uploaded_file"
	}
	return out
}

// saveUploadedFile writes data under the files root and returns the relative
// path it was stored at.
func (s *Server) saveUploadedFile(filename string, data []byte, subdirectory string) (string, error) {
	rel := sanitizeFilename(filename)
	if subdirectory != "" {
		dir, err := s.resolveFilePath(subdirectory)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		rel = path.Join(subdirectory, rel)
	} else if err := os.MkdirAll(s.filesDir, 0o755); err != nil {
		return "", err
	}
	abs, err := s.resolveFilePath(rel)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", err
	}
	return rel, nil
}

// ============================================================================
// FILE HANDLERS
// ============================================================================

// handleFileUpload accepts a multipart upload and stores it under the files
// root. The optional subdirectory query scopes where it lands.
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	rel, err := s.saveUploadedFile(header.Filename, data, r.URL.Query().Get("subdirectory"))
	if err != nil {
		if errors.Is(err, ErrPathOutsideRoot) {
			writeError(w, http.StatusBadRequest, "Invalid subdirectory")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	ext := strings.ToLower(filepath.Ext(rel))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"filename":      path.Base(rel),
		"relative_path": rel,
		"url":           "/api/v1/files/content/" + rel,
		"size":          len(data),
		"is_image":      imageExtensions[ext],
		"mime_type":     mime.TypeByExtension(ext),
	})
}

// fileTreeEntry is one row in a file tree listing.
type fileTreeEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "directory"
	Size int64  `json:"size,omitempty"`
}

// handleFileTree lists one directory level under the files root.
func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	dir := r.URL.Query().Get("directory")
	abs, err := s.resolveFilePath(dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid directory")
		return
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"entries": []fileTreeEntry{}})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read directory")
		return
	}

	out := make([]fileTreeEntry, 0, len(entries))
	for _, e := range entries {
		entry := fileTreeEntry{
			Name: e.Name(),
			Path: path.Join(dir, e.Name()),
			Type: "file",
		}
		if e.IsDir() {
			entry.Type = "directory"
		} else if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == "directory"
		}
		return out[i].Name < out[j].Name
	})
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// handleFileContent serves a stored file. Text responses are capped by the
// max_lines query; binary content streams as-is with its MIME type.
func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	rel := r.PathValue("path")
	abs, err := s.resolveFilePath(rel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	ext := strings.ToLower(filepath.Ext(abs))
	if imageExtensions[ext] {
		w.Header().Set("Content-Type", mime.TypeByExtension(ext))
		http.ServeFile(w, r, abs)
		return
	}

	maxLines := DefaultMaxLines
	if v := r.URL.Query().Get("max_lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxLines = n
		}
	}

	f, err := os.Open(abs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to open file")
		return
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lines, truncated := 0, false
	for scanner.Scan() {
		if lines >= maxLines {
			truncated = true
			break
		}
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
		lines++
	}
	if err := scanner.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":      rel,
		"content":   sb.String(),
		"lines":     lines,
		"truncated": truncated,
	})
}
// defaultFilesDir picks where uploads land when the caller does not say.
func defaultFilesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentdeck-files")
	}
	return filepath.Join(home, ".agentdeck", "files")
}
