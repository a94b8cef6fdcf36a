// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - system health checks.
//
// Command: doctor
// Short:   Run system health checks and diagnostics
//
// Health Checks Performed:
//   1. Config Valid       - Validates configuration file
//   2. Backend Reachable  - Checks if the agentdeck server responds
//   3. Database Writable  - Checks database directory permissions
//   4. Terminal Capable   - Checks TTY and color support
//
// Exit Codes:
//   0   All checks passed
//   1   One or more checks failed
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/agentdeck/internal/config"
)

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	doctorTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				MarginBottom(1)

	checkPassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	checkWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true)

	checkFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	checkMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)

	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// Symbol returns the rendered marker for the check status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return checkPassStyle.Render("[OK]")
	case CheckWarn:
		return checkWarnStyle.Render("[!!]")
	case CheckFail:
		return checkFailStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested fix command or instruction
}

// Render returns a formatted line for the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), checkMsgStyle.Render(c.Message))
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + fixStyle.Render("-> "+c.Fix)
	}
	return result
}

// =============================================================================
// HANDLE DOCTOR
// =============================================================================

// HandleDoctor handles the "doctor" command.
func HandleDoctor(args Args) error {
	checks := runAllChecks(args)

	passed := 0
	warned := 0
	failed := 0
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}

	fmt.Println()
	fmt.Println(doctorTitleStyle.Render("agentdeck Doctor"))
	fmt.Println(strings.Repeat("=", 41))
	fmt.Println()

	for _, check := range checks {
		fmt.Println(check.Render())
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 41))

	summaryParts := []string{
		fmt.Sprintf("%d passed", passed),
	}
	if warned > 0 {
		summaryParts = append(summaryParts, checkWarnStyle.Render(fmt.Sprintf("%d warning", warned)))
	}
	if failed > 0 {
		summaryParts = append(summaryParts, checkFailStyle.Render(fmt.Sprintf("%d failed", failed)))
	}

	fmt.Println(summaryStyle.Render(strings.Join(summaryParts, ", ")))
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d health check(s) failed", failed)
	}
	return nil
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

func runAllChecks(args Args) []*HealthCheck {
	var checks []*HealthCheck

	cfg, cfgCheck := checkConfigValid(args)
	checks = append(checks, cfgCheck)
	checks = append(checks, checkBackendReachable(cfg))
	checks = append(checks, checkDatabaseWritable(cfg))
	checks = append(checks, checkTerminalCapable())

	return checks
}

// checkConfigValid validates the configuration file. A missing file passes
// because defaults apply.
func checkConfigValid(args Args) (*config.Config, *HealthCheck) {
	check := &HealthCheck{
		Name: "Config Valid",
	}

	cfg, err := loadConfig(args)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %s", err)
		check.Fix = "Fix or delete the config file and re-run"
		return config.Default(), check
	}

	path, pathErr := config.ConfigPathTOML()
	if args.ConfigPath != "" {
		path = args.ConfigPath
		pathErr = nil
	}
	if pathErr == nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			check.Status = CheckPass
			check.Message = "Config valid (using defaults)"
			return cfg, check
		}
	}

	check.Status = CheckPass
	check.Message = "Config valid"
	return cfg, check
}

// checkBackendReachable hits the server health endpoint.
func checkBackendReachable(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{
		Name: "Backend Reachable",
	}

	client := newClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Backend not responding at %s", cfg.Backend.URL)
		check.Fix = "Run: agentdeck serve"
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Backend responding at %s", cfg.Backend.URL)
	return check
}

// checkDatabaseWritable verifies the database directory can be written.
func checkDatabaseWritable(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{
		Name: "Database Writable",
	}

	dbPath := cfg.Server.DatabasePath
	if dbPath == "" {
		check.Status = CheckWarn
		check.Message = "No database path configured"
		return check
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not create database directory: %s", err)
		check.Fix = fmt.Sprintf("Create manually: mkdir -p %s", dir)
		return check
	}

	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Database directory not writable: %s", err)
		check.Fix = fmt.Sprintf("Check permissions: chmod 755 %s", dir)
		return check
	}
	os.Remove(testFile)

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Database directory writable (%s)", dir)
	return check
}

// checkTerminalCapable reports TTY and color support.
func checkTerminalCapable() *HealthCheck {
	check := &HealthCheck{
		Name: "Terminal Capable",
	}

	if !IsTTY() {
		check.Status = CheckWarn
		check.Message = "Not running in an interactive terminal (chat UI unavailable)"
		return check
	}

	width := GetTerminalWidth()
	if width < MinTerminalWidth {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Terminal narrow (%d cols, %d recommended)", width, DefaultTerminalWidth)
		return check
	}

	if !ColorsEnabled() {
		check.Status = CheckWarn
		check.Message = "Terminal OK but colors disabled"
		check.Fix = "Unset NO_COLOR to enable styled output"
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Terminal OK (%d cols, colors enabled)", width)
	return check
}
