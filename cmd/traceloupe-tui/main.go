// Traceloupe TUI — interactive terminal explorer for LLM app traces.
//
// Usage:
//
//	traceloupe-tui [flags]
//
// Flags:
//
//	--db    Path to SQLite database file (default: ~/.traceloupe/traceloupe.db)
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/traceloupe/traceloupe/internal/config"
	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/internal/ingestion"
	"github.com/traceloupe/traceloupe/internal/tui"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "traceloupe-tui"})

	cfg, err := config.Load(os.Getenv("TRACELOUPE_CONFIG"))
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}

	defaultDB := cfg.DBPath
	if defaultDB == "" {
		defaultDB = ingestion.DefaultConfig().DBPath
	}

	dbPath := flag.String("db", defaultDB, "Path to SQLite database file")
	flag.Parse()

	store, err := database.NewDBService(*dbPath)
	if err != nil {
		logger.Fatal("opening database",
			"path", *dbPath, "err", err,
			"hint", "is the traceloupe daemon running? start it with: traceloupe-daemon")
	}
	defer store.Close()

	model := tui.NewModel(store)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
