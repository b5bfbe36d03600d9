// Traceloupe CLI — command-line interface for record queries, cost and
// score analysis, and feedback evaluation.
//
// Usage:
//
//	traceloupe <command> [flags]
//
// Commands:
//
//	records   List records, filterable by app and status
//	apps      List app versions, or diff two app config blobs
//	analyze   Analyze a record, or a feedback score trend for an app
//	score     Evaluate feedback definitions against unscored records
//	search    Full-text search over record inputs and outputs
//	status    Show daemon status and metrics
//	version   Print version information
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"

	"github.com/traceloupe/traceloupe/internal/analysis"
	"github.com/traceloupe/traceloupe/internal/config"
	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/internal/feedback"
	"github.com/traceloupe/traceloupe/internal/ingestion"
	"github.com/traceloupe/traceloupe/pkg/jsonutil"
	"github.com/traceloupe/traceloupe/pkg/timeutil"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "traceloupe"})

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("TRACELOUPE_CONFIG"))
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}

	switch os.Args[1] {
	case "records":
		cmdRecords(cfg)
	case "apps":
		cmdApps(cfg)
	case "analyze":
		cmdAnalyze(cfg)
	case "score":
		cmdScore(cfg)
	case "search":
		cmdSearch(cfg)
	case "status":
		cmdStatus(cfg)
	case "version":
		fmt.Printf("traceloupe v%s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Traceloupe — observability for LLM apps

Usage:
  traceloupe <command> [flags]

Commands:
  records    List records, filterable by app and status
  apps       List app versions, or diff two app config blobs
  analyze    Analyze a record, or a feedback score trend for an app
  score      Evaluate feedback definitions against unscored records
  search     Full-text search over record inputs and outputs
  status     Show daemon status and metrics
  version    Print version information

Run 'traceloupe <command> --help' for details on each command.`)
}

// defaultDBPath prefers the configured location, falling back to the
// daemon's platform default.
func defaultDBPath(cfg config.Config) string {
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	return ingestion.DefaultConfig().DBPath
}

func openStore(path string) *database.DBService {
	store, err := database.NewDBService(path)
	if err != nil {
		logger.Fatal("opening database", "path", path, "err", err)
	}
	return store
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatal("encoding output", "err", err)
	}
	fmt.Println(string(b))
}

// cmdRecords lists records matching a filter.
func cmdRecords(cfg config.Config) {
	fs := flag.NewFlagSet("records", flag.ExitOnError)
	db := fs.String("db", defaultDBPath(cfg), "Path to SQLite database")
	appID := fs.String("app", "", "Filter by app ID")
	status := fs.String("status", "", "Filter by status: running, completed, failed")
	limit := fs.Int("limit", 20, "Maximum results")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	fs.Parse(os.Args[2:])

	store := openStore(*db)
	defer store.Close()

	filter := database.RecordFilter{Limit: *limit}
	if *appID != "" {
		filter.AppID = appID
	}
	if *status != "" {
		filter.Status = status
	}

	records, err := store.QueryRecords(filter)
	if err != nil {
		logger.Fatal("querying records", "err", err)
	}

	if *asJSON {
		printJSON(records)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tAPP\tSTATUS\tDURATION\tTOKENS\tCOST\tSTARTED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t$%.4f\t%s\n",
			rec.RecordID, rec.AppID, rec.Status,
			timeutil.FormatDuration(rec.TotalTimeMs),
			rec.PromptTokens, rec.CompletionTokens, rec.CostUSD,
			timeutil.RelativeTime(rec.StartTime))
	}
	w.Flush()
}

// cmdApps lists app versions, or diffs the config blobs of two of them.
func cmdApps(cfg config.Config) {
	fs := flag.NewFlagSet("apps", flag.ExitOnError)
	db := fs.String("db", defaultDBPath(cfg), "Path to SQLite database")
	diff := fs.Bool("diff", false, "Diff the config blobs of two app IDs given as arguments")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	fs.Parse(os.Args[2:])

	store := openStore(*db)
	defer store.Close()

	if *diff {
		args := fs.Args()
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: traceloupe apps --diff <app-id-a> <app-id-b>")
			os.Exit(1)
		}
		diffApps(store, args[0], args[1])
		return
	}

	summaries, err := store.GetAppSummaries()
	if err != nil {
		logger.Fatal("querying apps", "err", err)
	}

	if *asJSON {
		printJSON(summaries)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "APP\tNAME\tVERSION\tRECORDS\tCOST\tSCORE\tLAST RECORD")
	for _, s := range summaries {
		score := "-"
		if s.MeanScore > 0 {
			score = fmt.Sprintf("%.2f", s.MeanScore)
		}
		last := "-"
		if s.LastRecordAt > 0 {
			last = timeutil.RelativeTime(s.LastRecordAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\t%s\t%s\n",
			s.AppID, s.AppName, s.AppVersion, s.RecordCount, s.TotalCostUSD, score, last)
	}
	w.Flush()
}

// diffApps prints a key-by-key diff of two app config blobs.
func diffApps(store database.Store, idA, idB string) {
	appA, err := store.GetApp(idA)
	if err != nil {
		logger.Fatal("loading app", "id", idA, "err", err)
	}
	appB, err := store.GetApp(idB)
	if err != nil {
		logger.Fatal("loading app", "id", idB, "err", err)
	}

	var oldJSON, newJSON string
	if appA.AppJSON != nil {
		oldJSON = *appA.AppJSON
	}
	if appB.AppJSON != nil {
		newJSON = *appB.AppJSON
	}

	diffs, err := jsonutil.ComputeJSONDiff(oldJSON, newJSON)
	if err != nil {
		logger.Fatal("diffing app configs", "err", err)
	}
	if len(diffs) == 0 {
		fmt.Printf("No config differences between %s and %s.\n", idA, idB)
		return
	}

	fmt.Printf("%s %s -> %s %s\n\n", appA.AppName, appA.AppVersion, appB.AppName, appB.AppVersion)
	for _, d := range diffs {
		switch d.Type {
		case "add":
			fmt.Printf("+ %s: %s\n", d.Path, d.NewValue)
		case "delete":
			fmt.Printf("- %s: %s\n", d.Path, d.OldValue)
		case "update":
			fmt.Printf("~ %s: %s -> %s\n", d.Path, d.OldValue, d.NewValue)
		}
	}
}

// cmdAnalyze runs the analysis suite on a record, or a score trend for
// an app+feedback pair.
func cmdAnalyze(cfg config.Config) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	db := fs.String("db", defaultDBPath(cfg), "Path to SQLite database")
	recordID := fs.String("record", "", "Record ID to analyze")
	appID := fs.String("app", "", "App ID for a score trend (requires --feedback)")
	feedbackName := fs.String("feedback", "", "Feedback name for the score trend")
	format := fs.String("format", "markdown", "Output format: markdown, json")
	fs.Parse(os.Args[2:])

	if *recordID == "" && *appID == "" {
		fmt.Fprintln(os.Stderr, "Error: --record or --app is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openStore(*db)
	defer store.Close()
	analyzer := analysis.NewAnalyzer(store)

	if *recordID != "" {
		report, err := analyzer.FullAnalysis(*recordID)
		if err != nil {
			logger.Fatal("analysis failed", "err", err)
		}
		switch *format {
		case "json":
			printJSON(report)
		case "markdown":
			fmt.Print(analyzer.FormatReport(report))
		default:
			fmt.Fprintf(os.Stderr, "Unknown format: %s\n", *format)
			os.Exit(1)
		}
		return
	}

	if *feedbackName == "" {
		fmt.Fprintln(os.Stderr, "Error: --feedback is required with --app")
		os.Exit(1)
	}
	trend, err := analyzer.AnalyzeScoreTrend(*appID, *feedbackName)
	if err != nil {
		logger.Fatal("trend analysis failed", "err", err)
	}
	switch *format {
	case "json":
		printJSON(trend)
	case "markdown":
		fmt.Print(analyzer.FormatTrendReport(trend))
	default:
		fmt.Fprintf(os.Stderr, "Unknown format: %s\n", *format)
		os.Exit(1)
	}
}

// cmdScore evaluates feedback definitions against unscored records,
// once by default or continuously with --watch.
func cmdScore(cfg config.Config) {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	db := fs.String("db", defaultDBPath(cfg), "Path to SQLite database")
	watch := fs.Bool("watch", false, "Keep polling for new records instead of one pass")
	fs.Parse(os.Args[2:])

	if cfg.OpenAIAPIKey == "" {
		logger.Fatal("no OpenAI API key configured",
			"hint", "set OPENAI_API_KEY or openai_api_key in config.toml")
	}

	store := openStore(*db)
	defer store.Close()

	provider, err := feedback.NewOpenAIProvider(feedback.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatal("building provider", "err", err)
	}

	interval := time.Duration(cfg.FeedbackPollSeconds) * time.Second
	runner := feedback.NewRunner(store, logger.WithPrefix("feedback"), interval)
	runner.Register(provider)

	if *watch {
		runner.Start(context.Background())
		logger.Info("scoring loop started", "interval", interval)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		runner.Stop()
		return
	}

	n, err := runner.RunOnce(context.Background())
	if err != nil {
		logger.Fatal("scoring failed", "err", err)
	}
	fmt.Printf("Scored %d records.\n", n)
}

// cmdSearch runs a full-text query over record inputs and outputs.
func cmdSearch(cfg config.Config) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	db := fs.String("db", defaultDBPath(cfg), "Path to SQLite database")
	limit := fs.Int("limit", 20, "Maximum results")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	fs.Parse(os.Args[2:])

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: traceloupe search [flags] <query>")
		os.Exit(1)
	}

	store := openStore(*db)
	defer store.Close()

	records, err := store.SearchRecords(query, *limit)
	if err != nil {
		logger.Fatal("search failed", "err", err)
	}

	if *asJSON {
		printJSON(records)
		return
	}
	if len(records) == 0 {
		fmt.Printf("No records match %q.\n", query)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tAPP\tSTATUS\tINPUT")
	for _, rec := range records {
		input := ""
		if rec.Input != nil {
			input = jsonutil.TruncateString(strings.ReplaceAll(*rec.Input, "\n", " "), 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.RecordID, rec.AppID, rec.Status, input)
	}
	w.Flush()
}

// cmdStatus shows the current daemon status by querying the metrics endpoint.
func cmdStatus(cfg config.Config) {
	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ingestion.DefaultConfig().MetricsAddr
	}
	url := fmt.Sprintf("http://%s/api/metrics", metricsAddr)

	resp, err := http.Get(url)
	if err != nil {
		fmt.Println("⚠ Traceloupe daemon is not running.")
		fmt.Printf("  Start it with: traceloupe-daemon\n")
		fmt.Printf("  (tried: %s)\n", url)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var metrics ingestion.IngestionMetrics
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		logger.Fatal("decoding metrics", "err", err)
	}

	fmt.Println("✅ Traceloupe daemon is running.")
	fmt.Println()
	fmt.Printf("  Apps registered:     %d\n", metrics.AppsRegistered)
	fmt.Printf("  Records ingested:    %d\n", metrics.RecordsIngested)
	fmt.Printf("  Calls ingested:      %d\n", metrics.CallsIngested)
	fmt.Printf("  Feedback results:    %d\n", metrics.FeedbackResults)
	fmt.Printf("  Batches committed:   %d\n", metrics.BatchesCommitted)
	fmt.Printf("  Errors:              %d\n", metrics.ErrorCount)
	fmt.Printf("  Uptime:              %s\n", timeutil.FormatUptime(time.Duration(metrics.Uptime)*time.Second))
}
