// Screen element locator server: loads UI element definitions and serves
// locate and wait requests over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/screenpilot/platform/internal/config"
	"github.com/screenpilot/platform/internal/element"
	"github.com/screenpilot/platform/internal/orchestrator"
	"github.com/screenpilot/platform/internal/screen"
	"github.com/screenpilot/platform/internal/server"
)

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	doc, err := element.LoadDocument(cfg.ElementsFile)
	if err != nil {
		slog.Error("failed to load ui elements", "path", cfg.ElementsFile, "error", err)
		os.Exit(1)
	}
	if cfg.ReferenceDir != "" {
		doc.SetReferenceDir(cfg.ReferenceDir)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	capturer, err := screen.New(ctx, cfg.CaptureBackend)
	if err != nil {
		slog.Error("failed to open screen capture", "backend", cfg.CaptureBackend, "error", err)
		os.Exit(1)
	}

	mgr, err := orchestrator.New(cfg, doc, capturer)
	if err != nil {
		capturer.Close()
		slog.Error("failed to build manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	srv := server.New(mgr)

	// No write timeout: wait endpoints hold the response open until the
	// region changes or their own timeout fires.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("server starting", "http", cfg.HTTPAddr, "elements", cfg.ElementsFile, "backend", cfg.CaptureBackend)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}
