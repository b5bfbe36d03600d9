// Package ingestion implements the high-throughput, crash-safe ingestion
// service for traceloupe. It receives record data over a Unix socket (or
// TCP on Windows), buffers incoming data, and batches writes to the
// SQLite database for optimal throughput.
//
// Architecture:
//
//	Client SDK → Unix socket/TCP → Ingester → Batch Buffer → DBService
//
// The ingester uses buffered channels and a periodic flush to batch
// writes, committing every 500ms or 1000 items (whichever comes first).
// Batch payloads are journaled to pending_writes before processing so a
// crash mid-batch is replayed on the next startup.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/traceloupe/traceloupe/internal/database"
)

// Ingester defines the interface for the ingestion service.
// This abstraction allows for mocking in integration tests.
type Ingester interface {
	// Start begins listening for incoming record data.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the ingester, flushing remaining data.
	Stop() error
	// Metrics returns the current ingestion metrics.
	Metrics() IngestionMetrics
}

// IngestionMetrics tracks throughput and error rates.
type IngestionMetrics struct {
	AppsRegistered   int64 `json:"apps_registered"`
	RecordsIngested  int64 `json:"records_ingested"`
	CallsIngested    int64 `json:"calls_ingested"`
	FeedbackResults  int64 `json:"feedback_results"`
	ErrorCount       int64 `json:"error_count"`
	BatchesCommitted int64 `json:"batches_committed"`
	Uptime           int64 `json:"uptime_seconds"`
}

// Config holds configuration for the ingestion daemon.
type Config struct {
	// ListenAddr is the socket path or TCP address to listen on.
	// On Unix: a path like "/tmp/traceloupe.sock" for UDS
	// On Windows: "127.0.0.1:9695" for TCP
	ListenAddr string `json:"listen_addr"`

	// DBPath is the path to the SQLite database file.
	DBPath string `json:"db_path"`

	// MetricsAddr is the HTTP address for Prometheus metrics.
	// Empty string disables the metrics server.
	MetricsAddr string `json:"metrics_addr"`

	// BatchSize is the maximum number of items to batch before flushing.
	BatchSize int `json:"batch_size"`

	// FlushInterval is the maximum time between batch flushes.
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultConfig returns sensible defaults for the ingestion daemon.
func DefaultConfig() Config {
	listenAddr := "127.0.0.1:9695"
	if runtime.GOOS != "windows" {
		listenAddr = "/tmp/traceloupe.sock"
	}

	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".traceloupe", "traceloupe.db")

	return Config{
		ListenAddr:    listenAddr,
		DBPath:        dbPath,
		MetricsAddr:   "127.0.0.1:9697",
		BatchSize:     1000,
		FlushInterval: 500 * time.Millisecond,
	}
}

// ============================================================
// DaemonIngester Implementation
// ============================================================

// DaemonIngester is the production implementation of the Ingester interface.
// It manages the network listener, batch buffers, and flush goroutine.
type DaemonIngester struct {
	config  Config
	store   database.Store
	logger  *log.Logger
	metrics IngestionMetrics

	// Channels for buffered ingestion
	recordChan   chan *database.Record
	callChan     chan *database.Call
	feedbackChan chan *database.FeedbackResult

	listener net.Listener
	wg       sync.WaitGroup
	started  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDaemonIngester creates a new ingestion daemon with the given
// configuration. A nil logger falls back to a stderr logger.
func NewDaemonIngester(config Config, store database.Store, logger *log.Logger) *DaemonIngester {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "traceloupe-daemon"})
	}
	return &DaemonIngester{
		config:       config,
		store:        store,
		logger:       logger,
		recordChan:   make(chan *database.Record, config.BatchSize),
		callChan:     make(chan *database.Call, config.BatchSize*2),
		feedbackChan: make(chan *database.FeedbackResult, config.BatchSize),
		done:         make(chan struct{}),
	}
}

// Start begins listening for incoming connections and starts the batch
// flush goroutine. It also replays any pending writes from a previous crash.
func (d *DaemonIngester) Start(ctx context.Context) error {
	d.started = time.Now()

	// Replay pending writes from crash recovery
	if err := d.replayPending(); err != nil {
		d.logger.Warn("failed to replay pending writes", "err", err)
	}

	// Determine network type based on platform
	network := "tcp"
	if runtime.GOOS != "windows" {
		network = "unix"
		// Remove stale socket file
		os.Remove(d.config.ListenAddr)
	}

	listener, err := net.Listen(network, d.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.config.ListenAddr, err)
	}
	d.listener = listener

	ctx, d.cancel = context.WithCancel(ctx)

	// Start batch flush goroutine
	d.wg.Add(1)
	go d.flushLoop(ctx)

	// Start metrics server if configured
	if d.config.MetricsAddr != "" {
		d.wg.Add(1)
		go d.serveMetrics(ctx)
	}

	// Accept connections
	d.wg.Add(1)
	go d.acceptLoop(ctx)

	d.logger.Info("daemon listening", "addr", d.config.ListenAddr, "network", network)
	return nil
}

// Stop gracefully shuts down the ingester, flushing remaining buffered data.
func (d *DaemonIngester) Stop() error {
	d.logger.Info("shutting down")

	if d.cancel != nil {
		d.cancel()
	}

	if d.listener != nil {
		d.listener.Close()
	}

	// Close channels to signal flush goroutine
	close(d.recordChan)
	close(d.callChan)
	close(d.feedbackChan)

	d.wg.Wait()
	close(d.done)

	d.logger.Info("daemon stopped")
	return nil
}

// Metrics returns a snapshot of the current ingestion metrics.
func (d *DaemonIngester) Metrics() IngestionMetrics {
	return IngestionMetrics{
		AppsRegistered:   atomic.LoadInt64(&d.metrics.AppsRegistered),
		RecordsIngested:  atomic.LoadInt64(&d.metrics.RecordsIngested),
		CallsIngested:    atomic.LoadInt64(&d.metrics.CallsIngested),
		FeedbackResults:  atomic.LoadInt64(&d.metrics.FeedbackResults),
		ErrorCount:       atomic.LoadInt64(&d.metrics.ErrorCount),
		BatchesCommitted: atomic.LoadInt64(&d.metrics.BatchesCommitted),
		Uptime:           int64(time.Since(d.started).Seconds()),
	}
}

// acceptLoop handles incoming connections.
func (d *DaemonIngester) acceptLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.logger.Error("accept failed", "err", err)
				continue
			}
		}

		d.wg.Add(1)
		go d.handleConnection(ctx, conn)
	}
}

// handleConnection reads wire frames from a single client connection
// and acknowledges each with a status byte.
func (d *DaemonIngester) handleConnection(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	d.logger.Debug("new connection", "remote", conn.RemoteAddr())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				d.logger.Debug("connection read error", "err", err)
				atomic.AddInt64(&d.metrics.ErrorCount, 1)
			}
			return
		}

		ack := byte(ackOK)
		if err := d.processMessage(msgType, payload); err != nil {
			d.logger.Error("processing message", "type", fmt.Sprintf("0x%02x", byte(msgType)), "err", err)
			atomic.AddInt64(&d.metrics.ErrorCount, 1)
			ack = ackErr
		}

		conn.Write([]byte{ack})
	}
}

// processMessage deserializes and routes a wire message to the
// appropriate channel for batched insertion. Items arriving without an
// ID are assigned one so clients can fire and forget.
func (d *DaemonIngester) processMessage(msgType MessageType, payload []byte) error {
	switch msgType {
	case MsgApp:
		var app database.App
		if err := json.Unmarshal(payload, &app); err != nil {
			return fmt.Errorf("unmarshaling app: %w", err)
		}
		if app.AppID == "" {
			app.AppID = uuid.NewString()
		}
		// Apps are rare and everything else references them, so they
		// skip the buffer and land immediately.
		if err := d.store.InsertApp(&app); err != nil {
			return fmt.Errorf("inserting app: %w", err)
		}
		atomic.AddInt64(&d.metrics.AppsRegistered, 1)

	case MsgRecord:
		var rec database.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("unmarshaling record: %w", err)
		}
		if rec.RecordID == "" {
			rec.RecordID = uuid.NewString()
		}
		select {
		case d.recordChan <- &rec:
			atomic.AddInt64(&d.metrics.RecordsIngested, 1)
		default:
			// Channel full — insert directly to avoid data loss
			if err := d.store.InsertRecord(&rec); err != nil {
				return fmt.Errorf("direct record insert: %w", err)
			}
			atomic.AddInt64(&d.metrics.RecordsIngested, 1)
		}

	case MsgCall:
		var call database.Call
		if err := json.Unmarshal(payload, &call); err != nil {
			return fmt.Errorf("unmarshaling call: %w", err)
		}
		if call.CallID == "" {
			call.CallID = uuid.NewString()
		}
		select {
		case d.callChan <- &call:
			atomic.AddInt64(&d.metrics.CallsIngested, 1)
		default:
			if err := d.store.InsertCall(&call); err != nil {
				return fmt.Errorf("direct call insert: %w", err)
			}
			atomic.AddInt64(&d.metrics.CallsIngested, 1)
		}

	case MsgFeedback:
		var fr database.FeedbackResult
		if err := json.Unmarshal(payload, &fr); err != nil {
			return fmt.Errorf("unmarshaling feedback result: %w", err)
		}
		if fr.FeedbackResultID == "" {
			fr.FeedbackResultID = uuid.NewString()
		}
		select {
		case d.feedbackChan <- &fr:
			atomic.AddInt64(&d.metrics.FeedbackResults, 1)
		default:
			if err := d.store.InsertFeedbackResult(&fr); err != nil {
				return fmt.Errorf("direct feedback insert: %w", err)
			}
			atomic.AddInt64(&d.metrics.FeedbackResults, 1)
		}

	case MsgFeedbackDef:
		var def database.FeedbackDef
		if err := json.Unmarshal(payload, &def); err != nil {
			return fmt.Errorf("unmarshaling feedback def: %w", err)
		}
		if def.FeedbackDefID == "" {
			def.FeedbackDefID = uuid.NewString()
		}
		if err := d.store.InsertFeedbackDef(&def); err != nil {
			return fmt.Errorf("inserting feedback def: %w", err)
		}

	case MsgBatch:
		// Journal the raw batch before touching the store so a crash
		// mid-processing is replayed on restart.
		writeID, err := d.store.WritePendingPayload(payload)
		if err != nil {
			return fmt.Errorf("journaling batch: %w", err)
		}
		var batch BatchMessage
		if err := json.Unmarshal(payload, &batch); err != nil {
			return fmt.Errorf("unmarshaling batch: %w", err)
		}
		if err := d.processBatch(&batch); err != nil {
			return err
		}
		if err := d.store.CommitPendingPayload(writeID); err != nil {
			return fmt.Errorf("committing batch journal: %w", err)
		}

	default:
		return fmt.Errorf("unknown message type: 0x%02x", byte(msgType))
	}

	return nil
}

// processBatch handles a batch message containing mixed types.
// Ordering matters: apps before records before calls and feedback,
// matching the foreign key chain.
func (d *DaemonIngester) processBatch(batch *BatchMessage) error {
	for _, app := range batch.Apps {
		if err := d.store.InsertApp(app); err != nil {
			return fmt.Errorf("batch app insert: %w", err)
		}
		atomic.AddInt64(&d.metrics.AppsRegistered, 1)
	}

	for _, rec := range batch.Records {
		if err := d.store.InsertRecord(rec); err != nil {
			return fmt.Errorf("batch record insert: %w", err)
		}
		atomic.AddInt64(&d.metrics.RecordsIngested, 1)
	}

	if len(batch.Calls) > 0 {
		if err := d.store.BatchInsertCalls(batch.Calls); err != nil {
			return fmt.Errorf("batch call insert: %w", err)
		}
		atomic.AddInt64(&d.metrics.CallsIngested, int64(len(batch.Calls)))
	}

	for _, def := range batch.FeedbackDefs {
		if err := d.store.InsertFeedbackDef(def); err != nil {
			return fmt.Errorf("batch feedback def insert: %w", err)
		}
	}

	if len(batch.Feedbacks) > 0 {
		if err := d.store.BatchInsertFeedbackResults(batch.Feedbacks); err != nil {
			return fmt.Errorf("batch feedback insert: %w", err)
		}
		atomic.AddInt64(&d.metrics.FeedbackResults, int64(len(batch.Feedbacks)))
	}

	atomic.AddInt64(&d.metrics.BatchesCommitted, 1)
	return nil
}

// flushLoop periodically flushes buffered items to the database.
// It commits when either BatchSize items accumulate or FlushInterval elapses.
func (d *DaemonIngester) flushLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.FlushInterval)
	defer ticker.Stop()

	callBuf := make([]*database.Call, 0, d.config.BatchSize)
	feedbackBuf := make([]*database.FeedbackResult, 0, d.config.BatchSize)

	flush := func() {
		if len(callBuf) > 0 {
			if err := d.store.BatchInsertCalls(callBuf); err != nil {
				d.logger.Error("flushing call batch", "count", len(callBuf), "err", err)
				atomic.AddInt64(&d.metrics.ErrorCount, 1)
			} else {
				atomic.AddInt64(&d.metrics.BatchesCommitted, 1)
			}
			callBuf = callBuf[:0]
		}
		if len(feedbackBuf) > 0 {
			if err := d.store.BatchInsertFeedbackResults(feedbackBuf); err != nil {
				d.logger.Error("flushing feedback batch", "count", len(feedbackBuf), "err", err)
				atomic.AddInt64(&d.metrics.ErrorCount, 1)
			} else {
				atomic.AddInt64(&d.metrics.BatchesCommitted, 1)
			}
			feedbackBuf = feedbackBuf[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case rec, ok := <-d.recordChan:
			if !ok {
				flush()
				return
			}
			// Records are inserted immediately (low volume, everything
			// else hangs off them)
			if err := d.store.InsertRecord(rec); err != nil {
				d.logger.Error("inserting record", "record_id", rec.RecordID, "err", err)
				atomic.AddInt64(&d.metrics.ErrorCount, 1)
			}

		case call, ok := <-d.callChan:
			if !ok {
				flush()
				return
			}
			callBuf = append(callBuf, call)
			if len(callBuf) >= d.config.BatchSize {
				flush()
			}

		case fr, ok := <-d.feedbackChan:
			if !ok {
				flush()
				return
			}
			feedbackBuf = append(feedbackBuf, fr)
			if len(feedbackBuf) >= d.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// replayPending replays any pending writes from a previous crash.
func (d *DaemonIngester) replayPending() error {
	pending, err := d.store.GetPendingPayloads()
	if err != nil {
		return fmt.Errorf("getting pending payloads: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	d.logger.Info("replaying pending writes from crash recovery", "count", len(pending))

	for _, pw := range pending {
		var batch BatchMessage
		if err := json.Unmarshal(pw.Payload, &batch); err != nil {
			d.logger.Warn("skipping corrupt pending write", "write_id", pw.WriteID, "err", err)
			continue
		}

		if err := d.processBatch(&batch); err != nil {
			d.logger.Error("failed to replay pending write", "write_id", pw.WriteID, "err", err)
			continue
		}

		if err := d.store.CommitPendingPayload(pw.WriteID); err != nil {
			d.logger.Error("failed to commit pending write", "write_id", pw.WriteID, "err", err)
		}
	}

	return nil
}

// serveMetrics starts an HTTP server exposing ingestion metrics.
func (d *DaemonIngester) serveMetrics(ctx context.Context) {
	defer d.wg.Done()

	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Metrics endpoint (Prometheus-compatible text format)
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m := d.Metrics()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP traceloupe_apps_registered_total Total apps registered\n")
		fmt.Fprintf(w, "# TYPE traceloupe_apps_registered_total counter\n")
		fmt.Fprintf(w, "traceloupe_apps_registered_total %d\n", m.AppsRegistered)
		fmt.Fprintf(w, "# HELP traceloupe_records_ingested_total Total records ingested\n")
		fmt.Fprintf(w, "# TYPE traceloupe_records_ingested_total counter\n")
		fmt.Fprintf(w, "traceloupe_records_ingested_total %d\n", m.RecordsIngested)
		fmt.Fprintf(w, "# HELP traceloupe_calls_ingested_total Total calls ingested\n")
		fmt.Fprintf(w, "# TYPE traceloupe_calls_ingested_total counter\n")
		fmt.Fprintf(w, "traceloupe_calls_ingested_total %d\n", m.CallsIngested)
		fmt.Fprintf(w, "# HELP traceloupe_feedback_ingested_total Total feedback results ingested\n")
		fmt.Fprintf(w, "# TYPE traceloupe_feedback_ingested_total counter\n")
		fmt.Fprintf(w, "traceloupe_feedback_ingested_total %d\n", m.FeedbackResults)
		fmt.Fprintf(w, "# HELP traceloupe_ingest_errors_total Total ingest errors\n")
		fmt.Fprintf(w, "# TYPE traceloupe_ingest_errors_total counter\n")
		fmt.Fprintf(w, "traceloupe_ingest_errors_total %d\n", m.ErrorCount)
		fmt.Fprintf(w, "# HELP traceloupe_batches_flushed_total Total batches flushed\n")
		fmt.Fprintf(w, "# TYPE traceloupe_batches_flushed_total counter\n")
		fmt.Fprintf(w, "traceloupe_batches_flushed_total %d\n", m.BatchesCommitted)
		fmt.Fprintf(w, "# HELP traceloupe_call_buffer_depth Buffered calls awaiting flush\n")
		fmt.Fprintf(w, "# TYPE traceloupe_call_buffer_depth gauge\n")
		fmt.Fprintf(w, "traceloupe_call_buffer_depth %d\n", len(d.callChan))
		fmt.Fprintf(w, "# HELP traceloupe_feedback_buffer_depth Buffered feedback results awaiting flush\n")
		fmt.Fprintf(w, "# TYPE traceloupe_feedback_buffer_depth gauge\n")
		fmt.Fprintf(w, "traceloupe_feedback_buffer_depth %d\n", len(d.feedbackChan))
		fmt.Fprintf(w, "# HELP traceloupe_uptime_seconds Uptime in seconds\n")
		fmt.Fprintf(w, "# TYPE traceloupe_uptime_seconds gauge\n")
		fmt.Fprintf(w, "traceloupe_uptime_seconds %d\n", m.Uptime)
	})

	// JSON metrics for programmatic access
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.Metrics())
	})

	server := &http.Server{
		Addr:    d.config.MetricsAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	d.logger.Info("metrics server listening", "url", fmt.Sprintf("http://%s/metrics", d.config.MetricsAddr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		d.logger.Error("metrics server", "err", err)
	}
}
