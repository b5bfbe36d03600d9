// Traceloupe Daemon — the ingestion service for LLM app traces.
//
// Usage:
//
//	traceloupe-daemon [flags]
//
// Flags:
//
//	--listen    UDS path or TCP address to listen on (default: /tmp/traceloupe.sock; TCP on Windows)
//	--db        Path to SQLite database file (default: ~/.traceloupe/traceloupe.db)
//	--metrics   HTTP address for metrics and health (default: 127.0.0.1:9697)
//	--batch     Batch size for flush (default: 1000)
//	--flush     Flush interval (default: 500ms)
//
// Flags override the config file, which overrides the built-in defaults.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/traceloupe/traceloupe/internal/config"
	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/internal/ingestion"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "traceloupe-daemon"})

	cfg, err := config.Load(os.Getenv("TRACELOUPE_CONFIG"))
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	dcfg := ingestion.DefaultConfig()
	if cfg.ListenAddr != "" {
		dcfg.ListenAddr = cfg.ListenAddr
	}
	if cfg.DBPath != "" {
		dcfg.DBPath = cfg.DBPath
	}
	if cfg.MetricsAddr != "" {
		dcfg.MetricsAddr = cfg.MetricsAddr
	}
	if cfg.BatchSize > 0 {
		dcfg.BatchSize = cfg.BatchSize
	}
	if cfg.FlushIntervalMs > 0 {
		dcfg.FlushInterval = time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	}

	flag.StringVar(&dcfg.ListenAddr, "listen", dcfg.ListenAddr, "UDS path or TCP listen address")
	flag.StringVar(&dcfg.DBPath, "db", dcfg.DBPath, "Path to SQLite database file")
	flag.StringVar(&dcfg.MetricsAddr, "metrics", dcfg.MetricsAddr, "Metrics/health HTTP address")
	flag.IntVar(&dcfg.BatchSize, "batch", dcfg.BatchSize, "Batch size before flush")
	flag.DurationVar(&dcfg.FlushInterval, "flush", dcfg.FlushInterval, "Flush interval")
	flag.Parse()

	// Ensure the database directory exists
	dbDir := filepath.Dir(dcfg.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Fatal("creating database directory", "dir", dbDir, "err", err)
	}

	store, err := database.NewDBService(dcfg.DBPath)
	if err != nil {
		logger.Fatal("initializing database", "path", dcfg.DBPath, "err", err)
	}
	defer store.Close()

	daemon := ingestion.NewDaemonIngester(dcfg, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := daemon.Start(ctx); err != nil {
		logger.Fatal("starting daemon", "err", err)
	}

	// Startup banner
	fmt.Println()
	fmt.Println("  TRACELOUPE DAEMON")
	fmt.Println("  Trace ingestion for LLM apps")
	fmt.Println()
	fmt.Printf("  Listen:  %s\n", dcfg.ListenAddr)
	fmt.Printf("  DB:      %s\n", dcfg.DBPath)
	fmt.Printf("  Metrics: http://%s/metrics\n", dcfg.MetricsAddr)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop.")
	fmt.Println()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println()
	logger.Info("shutdown signal received")
	cancel()
	if err := daemon.Stop(); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("done")
}
