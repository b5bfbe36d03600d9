// Traceloupe Web — server-rendered HTML dashboard for LLM app traces.
//
// Usage:
//
//	traceloupe-web [flags]
//
// Flags:
//
//	--addr  HTTP listen address (default: 127.0.0.1:9696)
//	--db    Path to SQLite database file (default: ~/.traceloupe/traceloupe.db)
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/traceloupe/traceloupe/internal/config"
	"github.com/traceloupe/traceloupe/internal/dashboard"
	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/internal/ingestion"
)

const shutdownGrace = 5 * time.Second

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "traceloupe-web"})

	cfg, err := config.Load(os.Getenv("TRACELOUPE_CONFIG"))
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	defaultDB := cfg.DBPath
	if defaultDB == "" {
		defaultDB = ingestion.DefaultConfig().DBPath
	}

	addr := flag.String("addr", cfg.DashboardAddr, "HTTP listen address")
	dbPath := flag.String("db", defaultDB, "Path to SQLite database file")
	flag.Parse()

	store, err := database.NewDBService(*dbPath)
	if err != nil {
		logger.Fatal("opening database", "path", *dbPath, "err", err)
	}
	defer store.Close()

	srv := dashboard.NewServer(store, logger)
	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("dashboard listening", "url", "http://"+*addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("done")
}
