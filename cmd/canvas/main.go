// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command canvas starts the collaborative pixel canvas HTTP server.
//
// Configuration comes from environment variables, optionally overlaid by a
// YAML file named in CANVAS_CONFIG.
//
// # Environment Variables
//
//   - BIND_ADDR: Listen address (default: [::1]:8080)
//   - CANVAS_BOARD_PATH / CANVAS_DIFF_PATH: Board and diff log files
//   - CANVAS_COOLDOWN: Per-identity cooldown, e.g. 5m or 300 (default: 5m)
//   - CANVAS_REDIS_ADDR: Share cooldowns through Redis (optional)
//   - CANVAS_HISTORY_PATH: Badger directory for /v1/diffs (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector or "stdout"
//   - CANVAS_LOG_LEVEL / CANVAS_LOG_DIR / CANVAS_LOG_FORMAT: Logging
//   - CANVAS_CONFIG: YAML file applied after the environment
//
// # Usage
//
//	go build -o canvas ./cmd/canvas
//	CANVAS_BOARD_PATH=/data/board.txt ./canvas
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/AleutianCanvas/pkg/logging"
	"github.com/AleutianAI/AleutianCanvas/services/canvas"
)

func main() {
	cfg, err := canvas.ConfigFromEnv(os.LookupEnv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if path := os.Getenv("CANVAS_CONFIG"); path != "" {
		cfg, err = canvas.LoadConfigFile(path, cfg)
		if err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "canvas",
		Format:  logging.Format(strings.ToLower(cfg.LogFormat)),
	})
	defer logger.Close()
	logger.SetDefault()

	logger.Slog().Info("Starting canvas",
		"bind_addr", cfg.BindAddr,
		"board", cfg.BoardPath,
		"diffs", cfg.DiffPath,
	)

	svc, err := canvas.New(cfg)
	if err != nil {
		logger.Slog().Error("Failed to create canvas service", "error", err)
		logger.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Slog().Error("Canvas service error", "error", err)
		stop()
		logger.Close()
		os.Exit(1)
	}
}
