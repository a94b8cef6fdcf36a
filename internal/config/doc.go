// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration management for agentdeck.
//
// Configuration lives at ~/.agentdeck/config.toml (JSON fallback at
// config.json), with AGENTDECK_* environment variables applied on top and
// validation collecting every problem at once instead of failing on the
// first. The server can watch its config file and apply auth and rate-limit
// changes without a restart.
package config
