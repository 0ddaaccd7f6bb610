// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/fabianlopezdev/usa-presence-calculator-sub003/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &server.ServerConfig{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Logger:      logger,
		AppName:     "presence-server",
	}

	comps, err := server.SetupServer(cfg)
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}
	defer comps.Close()

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	logger.Info("Presence sync server listening", "addr", addr)
	logger.Info("Endpoints:")
	logger.Info("  POST /sync/pull   - Download changes since last sync version")
	logger.Info("  POST /sync/push   - Upload local changes with conflict detection")
	logger.Info("  POST /dev-signin  - Development signin to obtain JWT (user/device)")

	srv := &http.Server{
		Addr:    addr,
		Handler: comps.Handler,
	}

	if err := srv.ListenAndServe(); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}
