// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - the backend server command.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jeranaias/agentdeck/internal/config"
	"github.com/jeranaias/agentdeck/internal/server"
	"github.com/jeranaias/agentdeck/internal/store"
)

// HandleServe runs the backend server until interrupted.
func HandleServe(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	port := cfg.Server.Port
	if args.Port != 0 {
		port = args.Port
	}

	st, err := store.Open(cfg.Server.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv := server.NewServer(port, st).
		WithAuth(authConfig(cfg)).
		WithRateLimiter(server.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst))

	dataDir := filepath.Dir(cfg.Server.DatabasePath)
	srv.WithFilesDir(filepath.Join(dataDir, "files"))
	if archive, err := store.NewArchive(filepath.Join(dataDir, "archive")); err == nil {
		srv.WithArchive(archive)
	} else {
		log.Printf("ARCHIVE_UNAVAILABLE | err=%v", err)
	}

	// Auth and rate limits follow config file edits without a restart.
	var watcher *config.Watcher
	if args.ConfigPath == "" {
		if path, err := config.ConfigPathTOML(); err == nil {
			watcher, err = config.Watch(path, func(next *config.Config) {
				srv.ApplyConfig(authConfig(next),
					server.NewRateLimiter(next.Server.RatePerSecond, next.Server.RateBurst))
			})
			if err != nil {
				log.Printf("CONFIG_WATCH_UNAVAILABLE | err=%v", err)
			}
		}
	}
	if watcher != nil {
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	if !args.Quiet {
		fmt.Printf("agentdeck server listening on 127.0.0.1:%d\n", port)
		fmt.Printf("database: %s\n", cfg.Server.DatabasePath)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigChan:
		log.Printf("SERVER_STOPPING | signal=%s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// authConfig maps server config to middleware auth settings.
func authConfig(cfg *config.Config) *server.AuthConfig {
	return &server.AuthConfig{
		Enabled: cfg.Server.AuthEnabled,
		Token:   cfg.Server.AuthToken,
	}
}
