package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lawnchairsociety/logsocket/internal/config"
	"github.com/lawnchairsociety/logsocket/internal/database"
	"github.com/lawnchairsociety/logsocket/internal/logger"
	"github.com/lawnchairsociety/logsocket/internal/logsocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config YAML file")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	logRoot := flag.String("root", "", "Log root directory (overrides logs.root)")
	flag.Parse()

	// Initialize logger first (before any logging)
	logConfig, _ := logger.LoadConfig(*configFile)
	logger.Initialize(logConfig)
	defer logger.Close()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Warning("Failed to load config, using defaults", "path", *configFile, "error", err)
		cfg = config.DefaultConfig()
	}
	if *logRoot != "" {
		cfg.Logs.Root = *logRoot
	}

	if len(cfg.WebSocket.AllowedOrigins) == 0 {
		logger.Info("WebSocket CORS policy", "mode", "same-origin")
	} else if len(cfg.WebSocket.AllowedOrigins) == 1 && cfg.WebSocket.AllowedOrigins[0] == "*" {
		logger.Warning("WebSocket CORS allows all origins (not recommended for production)")
	} else {
		logger.Info("WebSocket CORS policy", "allowed_origins", cfg.WebSocket.AllowedOrigins)
	}

	var (
		opts     []logsocket.HandlerOption
		sessions logsocket.SessionLister
	)
	if cfg.Database.Driver != "" {
		db, err := database.Open(databaseConfig(cfg.Database))
		if err != nil {
			log.Fatalf("Failed to open session database: %v", err)
		}
		defer db.Close()
		logger.Info("Session auditing enabled", "driver", cfg.Database.Driver)
		opts = append(opts, logsocket.WithSessionStore(db))
		sessions = db
	}

	h := logsocket.NewHandler(cfg, opts...)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logsocket.NewRouter(h, logsocket.NewFileHandler(cfg.Logs.Root), sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("logsocketd running", "addr", *addr, "root", cfg.Logs.Root, "poll_interval", cfg.Logs.PollInterval)
	logger.Info("Press Ctrl+C to shutdown")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked sockets are not tracked by http.Server; close them first.
	h.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warning("HTTP shutdown incomplete", "error", err)
	}
	logger.Info("Server stopped")
}

func databaseConfig(c config.DatabaseConfig) database.Config {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.Postgres.Host
	pg.Port = c.Postgres.Port
	pg.User = c.Postgres.User
	pg.Password = c.Postgres.Password
	pg.Database = c.Postgres.Database
	pg.SSLMode = c.Postgres.SSLMode

	return database.Config{
		Driver:     c.Driver,
		SQLitePath: c.SQLitePath,
		Postgres:   pg,
	}
}
