// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command server runs the motion service: comparison sessions over HTTP,
// WebSocket and SSE, reference motion ingestion from uploads and GCS
// notifications, and the idle session sweeper.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ifit-app/ifit-motion/internal/api"
	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const shutdownTimeout = 15 * time.Second

func main() {
	config, err := GetConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	closeLog, err := telemetry.SetupLogging(config.Application.LogFile)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = closeLog() }()
	slog.Info("logging initialized", "runtime", os.Getenv(cloud.EnvConfigRuntime))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("failed to setup OpenTelemetry", "error", err)
		os.Exit(1)
	}
	slog.Info("tracing initialized")

	if err := InitState(ctx, config); err != nil {
		slog.Error("failed to initialize state", "error", err)
		os.Exit(1)
	}
	defer state.Close()
	slog.Info("initialized state")

	r := gin.Default()
	r.Use(otelgin.Middleware(config.Application.Name))
	r.Use(cors.Default())

	pushTimeout := time.Duration(config.Session.PushTimeoutInSeconds) * time.Second
	apiGroup := r.Group("/api")
	{
		api.SessionRouter(apiGroup, state.manager, pushTimeout)
		api.MotionRouter(apiGroup, state.motions, state.ingestion)
		api.ResultRouter(apiGroup, state.results)
	}

	srv := &http.Server{
		Addr:    config.Application.ListenAddress,
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to listen", "error", err)
			cancel()
		}
	}()
	slog.Info("server ready", "address", config.Application.ListenAddress)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Sessions first, so their final events still reach open streams.
	if err := state.manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("sessions did not finish in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown failed", "error", err)
	}
	slog.Info("server exiting")
}
