// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - shared setup for agentdeck commands.
package cli

import (
	"fmt"
	"time"

	"github.com/jeranaias/agentdeck/internal/agent"
	"github.com/jeranaias/agentdeck/internal/config"
)

// loadConfig loads configuration honoring the --config and --server flags
// and installs it as the process-wide config.
func loadConfig(args Args) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if args.ServerURL != "" {
		cfg.Backend.URL = args.ServerURL
	}

	config.SetGlobal(cfg)
	return cfg, nil
}

// newClient builds a backend client from config.
func newClient(cfg *config.Config) *agent.Client {
	clientConfig := &agent.ClientConfig{
		BaseURL:   cfg.Backend.URL,
		AuthToken: cfg.Backend.AuthToken,
		Timeout:   time.Duration(cfg.Backend.TimeoutSecs) * time.Second,
	}
	return agent.NewClientWithConfig(clientConfig)
}
