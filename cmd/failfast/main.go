package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yousuf/failfast/internal/bundler"
	"github.com/yousuf/failfast/internal/config"
	"github.com/yousuf/failfast/internal/logger"
	"github.com/yousuf/failfast/internal/metrics"
	"github.com/yousuf/failfast/internal/server"
	"github.com/yousuf/failfast/internal/session"
)

func main() {
	// Config file is optional; FAILFAST_* variables still apply without one
	cfg, err := config.Load(os.Getenv("FAILFAST_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: "main",
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := bundler.Initialize(); err != nil {
		appLog.Warn("rspack not found, execute_code is unavailable", "error", err)
	}

	sessionMgr := session.NewManager(cfg, appLog)

	handler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return server.NewMcpServer(sessionMgr, server.Options{
			WasmPath: cfg.Sandbox.WasmPath,
			Logger:   appLog.WithComponent("mcp").Logger,
		})
	}, &mcp.StreamableHTTPOptions{
		Stateless:    false,
		JSONResponse: false,
	})

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	if cfg.Server.MetricsPath != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics.Register(reg)
		mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		appLog.Info("failfast MCP server listening", "port", cfg.Server.Port, "metrics", cfg.Server.MetricsPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	appLog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		appLog.Error("server shutdown error", "error", err)
	}

	// Close all sessions; pending crash reports are allowed to finish
	if err := sessionMgr.CloseAll(); err != nil {
		appLog.Error("error closing sessions", "error", err)
	}

	appLog.Info("server stopped")
}
