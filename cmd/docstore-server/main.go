// Package main provides the document service entry point.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/projectdocs/docstore/pkg/accounts"
	"github.com/projectdocs/docstore/pkg/db"
	"github.com/projectdocs/docstore/pkg/ha"
	"github.com/projectdocs/docstore/pkg/server"
)

func main() {
	var (
		configPath   string
		listenAddr   string
		databaseType string
		databaseDSN  string
		authMode     string
		logLevel     string
	)

	flag.StringVar(&configPath, "config", os.Getenv("DOCSTORE_CONFIG"), "Path to a YAML config file")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	flag.StringVar(&databaseType, "db-type", "", "Database type (sqlite, postgres or mysql)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&authMode, "auth-mode", "", "Identity mode (header or jwt)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	_ = flag.Set("logtostderr", "true")

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		glog.Fatalf("Invalid log level %q: %v", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	cfg = server.ConfigFromEnv(cfg)
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if databaseType != "" {
		cfg.DatabaseType = databaseType
	}
	if databaseDSN != "" {
		cfg.DatabaseDSN = databaseDSN
	}
	if authMode != "" {
		cfg.AuthMode = authMode
	}
	if err := cfg.Validate(); err != nil {
		glog.Fatalf("Invalid config: %v", err)
	}

	logger.Info("starting docstore server",
		"listen", cfg.ListenAddr,
		"database", cfg.DatabaseType,
		"authMode", cfg.AuthMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Open(cfg.DatabaseType, cfg.DatabaseDSN, db.Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		SlowThreshold:   500 * time.Millisecond,
		Logger:          logger,
	})
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	opts := []server.ServerOption{
		server.WithMigrationLocker(ha.NewMigrationLocker(gormDB, cfg.LockConfig())),
	}
	if cfg.JWTSecret != "" {
		issuer, err := accounts.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
		if err != nil {
			glog.Fatalf("Failed to create token issuer: %v", err)
		}
		opts = append(opts, server.WithTokenIssuer(issuer))
	}

	srv := server.NewServer(gormDB, cfg, logger, opts...)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize: %v", err)
	}
	router := srv.MountRoutes()
	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("docstore server ready", "listen", cfg.ListenAddr)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("docstore server stopped")
}
