// Package database provides the storage layer for traceloupe.
//
// It implements the Store interface using SQLite with WAL mode,
// FTS5 full-text search, and indexes tuned for the record timeline
// queries the viewers run. The DBService struct is the primary
// entry point for all database operations.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// Store defines the interface for record data persistence.
// This abstraction allows for mocking in tests and potential
// future backends beyond SQLite.
type Store interface {
	// InsertApp registers an app version, updating its config blob if
	// it already exists.
	InsertApp(app *App) error
	// InsertRecord persists a run of an app. Re-inserting the same
	// record finalizes it (output, status, timing, cost).
	InsertRecord(rec *Record) error
	// InsertCall persists one instrumented call within a record.
	InsertCall(call *Call) error
	// InsertFeedbackDef registers a feedback definition.
	InsertFeedbackDef(def *FeedbackDef) error
	// InsertFeedbackResult persists a feedback result, updating
	// score/status on conflict as the evaluation progresses.
	InsertFeedbackResult(fr *FeedbackResult) error

	// BatchInsertCalls inserts multiple calls in a single transaction.
	BatchInsertCalls(calls []*Call) error
	// BatchInsertFeedbackResults inserts multiple feedback results in a
	// single transaction.
	BatchInsertFeedbackResults(frs []*FeedbackResult) error

	// QueryApps returns all registered apps.
	QueryApps() ([]*App, error)
	// GetApp returns a single app by ID.
	GetApp(appID string) (*App, error)
	// GetAppSummaries returns per-app aggregates for list views.
	GetAppSummaries() ([]*AppSummary, error)
	// QueryRecords returns records matching the filter, newest first.
	QueryRecords(filter RecordFilter) ([]*Record, error)
	// GetRecord returns a single record by ID.
	GetRecord(recordID string) (*Record, error)
	// QueryCalls returns all calls for a record, ordered by start offset.
	QueryCalls(recordID string) ([]*Call, error)
	// GetFeedbackForRecord returns all feedback results for a record.
	GetFeedbackForRecord(recordID string) ([]*FeedbackResult, error)
	// GetFeedbackDefs returns all registered feedback definitions.
	GetFeedbackDefs() ([]*FeedbackDef, error)
	// RecordsMissingFeedback returns completed records with no result
	// yet for the given definition, oldest first.
	RecordsMissingFeedback(defID string, limit int) ([]*Record, error)
	// SearchRecords performs full-text search over record input/output.
	SearchRecords(query string, limit int) ([]*Record, error)
	// GetRecordStats returns aggregated statistics for a record.
	GetRecordStats(recordID string) (*RecordStats, error)

	// WritePendingPayload stores a raw payload for crash recovery.
	WritePendingPayload(payload []byte) (int64, error)
	// CommitPendingPayload marks a pending write as committed.
	CommitPendingPayload(writeID int64) error
	// GetPendingPayloads returns all payloads that haven't been committed.
	GetPendingPayloads() ([]PendingWrite, error)

	// Close gracefully shuts down the database connection.
	Close() error
}

// Record lifecycle statuses.
const (
	RecordStatusRunning   = "running"
	RecordStatusCompleted = "completed"
	RecordStatusFailed    = "failed"
)

// Feedback evaluation statuses, in lifecycle order.
const (
	FeedbackStatusPending = "pending"
	FeedbackStatusRunning = "running"
	FeedbackStatusDone    = "done"
	FeedbackStatusFailed  = "failed"
)

// ============================================================
// Domain Models
// ============================================================

// App is one registered version of an instrumented application.
// AppJSON holds the serialized app configuration (chain structure,
// model parameters) used for version-to-version diffing.
type App struct {
	AppID      string  `json:"app_id"`
	AppName    string  `json:"app_name"`
	AppVersion string  `json:"app_version"`
	AppJSON    *string `json:"app_json,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

// Record is a single end-to-end run of an app: one input, one output,
// and the call tree that produced it.
type Record struct {
	RecordID         string  `json:"record_id"`
	AppID            string  `json:"app_id"`
	Input            *string `json:"input,omitempty"`
	Output           *string `json:"output,omitempty"`
	Tags             *string `json:"tags,omitempty"`
	Status           string  `json:"status"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	StartTime        int64   `json:"start_time"`
	TotalTimeMs      int64   `json:"total_time_ms"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	RecordJSON       *string `json:"record_json,omitempty"`
}

// Call is one instrumented component invocation within a record.
// StartOffsetMs is measured from the record's start, which lets the
// timeline views position calls without consulting wall-clock times.
type Call struct {
	CallID           string  `json:"call_id"`
	RecordID         string  `json:"record_id"`
	ParentCallID     *string `json:"parent_call_id,omitempty"`
	Component        string  `json:"component"`
	Operation        string  `json:"operation"`
	Model            *string `json:"model,omitempty"`
	Args             *string `json:"args,omitempty"`
	Rets             *string `json:"rets,omitempty"`
	StartOffsetMs    int64   `json:"start_offset_ms"`
	DurationMs       int64   `json:"duration_ms"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Status           string  `json:"status"`
	ErrorMessage     *string `json:"error_message,omitempty"`
}

// FeedbackDef describes one evaluation: a named provider-backed check
// with a pass threshold on its 0..1 score.
type FeedbackDef struct {
	FeedbackDefID string  `json:"feedback_def_id"`
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	Prompt        *string `json:"prompt,omitempty"`
	Threshold     float64 `json:"threshold"`
	FeedbackJSON  *string `json:"feedback_json,omitempty"`
}

// FeedbackResult is the outcome of running one feedback definition
// against one record. Rows are upserted as the evaluation moves
// through pending -> running -> done/failed.
type FeedbackResult struct {
	FeedbackResultID string  `json:"feedback_result_id"`
	RecordID         string  `json:"record_id"`
	FeedbackDefID    string  `json:"feedback_def_id"`
	Name             string  `json:"name"`
	Score            float64 `json:"score"`
	Status           string  `json:"status"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	CallsJSON        *string `json:"calls_json,omitempty"`
	CostUSD          float64 `json:"cost_usd"`
	UpdatedAt        int64   `json:"updated_at"`
}

// RecordFilter defines query parameters for record listing.
type RecordFilter struct {
	AppID  *string `json:"app_id,omitempty"`
	Status *string `json:"status,omitempty"`
	Since  *int64  `json:"since,omitempty"` // Unix nanoseconds
	Until  *int64  `json:"until,omitempty"` // Unix nanoseconds
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// RecordStats holds aggregated statistics for a single record.
type RecordStats struct {
	RecordID              string  `json:"record_id"`
	TotalCalls            int     `json:"total_calls"`
	LLMCalls              int     `json:"llm_calls"`
	RetrievalCalls        int     `json:"retrieval_calls"`
	ToolCalls             int     `json:"tool_calls"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalDurationMs       int64   `json:"total_duration_ms"`
	FeedbackCount         int     `json:"feedback_count"`
	MeanScore             float64 `json:"mean_score"`
}

// AppSummary holds per-app aggregates for the apps list.
type AppSummary struct {
	AppID        string  `json:"app_id"`
	AppName      string  `json:"app_name"`
	AppVersion   string  `json:"app_version"`
	RecordCount  int     `json:"record_count"`
	LastRecordAt int64   `json:"last_record_at"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	MeanScore    float64 `json:"mean_score"`
}

// PendingWrite represents an uncommitted ingestion payload.
type PendingWrite struct {
	WriteID   int64  `json:"write_id"`
	Payload   []byte `json:"payload"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// ============================================================
// DBService Implementation
// ============================================================

// DBService implements the Store interface using SQLite.
// It manages the database connection pool, prepared statements,
// and ensures thread-safe access through a read-write mutex.
type DBService struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	// Prepared statements for hot-path operations
	stmtInsertApp         *sql.Stmt
	stmtInsertRecord      *sql.Stmt
	stmtInsertCall        *sql.Stmt
	stmtInsertFeedbackDef *sql.Stmt
	stmtInsertFeedback    *sql.Stmt
	stmtInsertPending     *sql.Stmt
	stmtCommitPending     *sql.Stmt
}

// NewDBService creates a new database service, initializes the schema,
// and prepares frequently-used statements.
//
// The path parameter specifies the SQLite database file location.
// Use ":memory:" for in-memory databases (useful for testing).
func NewDBService(path string) (*DBService, error) {
	// Enable WAL mode, foreign keys, and other optimizations via DSN
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_cache_size=-64000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	// Set connection pool parameters for SQLite
	// SQLite handles concurrency through WAL mode, so we limit writers
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	svc := &DBService{
		db:   db,
		path: path,
	}

	if err := svc.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	if err := svc.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}

	return svc, nil
}

// initSchema reads the embedded schema.sql and executes it to create
// all tables, indexes, triggers, and FTS5 virtual tables.
func (s *DBService) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// prepareStatements creates prepared statements for frequently-used
// insert and update operations to minimize parsing overhead.
func (s *DBService) prepareStatements() error {
	var err error

	s.stmtInsertApp, err = s.db.Prepare(`
		INSERT INTO apps (app_id, app_name, app_version, app_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			app_name = excluded.app_name,
			app_version = excluded.app_version,
			app_json = COALESCE(excluded.app_json, apps.app_json)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertApp: %w", err)
	}

	s.stmtInsertRecord, err = s.db.Prepare(`
		INSERT INTO records (record_id, app_id, input, output, tags, status, error_message,
			start_time, total_time_ms, prompt_tokens, completion_tokens, cost_usd, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			output = COALESCE(excluded.output, records.output),
			status = excluded.status,
			error_message = excluded.error_message,
			total_time_ms = excluded.total_time_ms,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			cost_usd = excluded.cost_usd,
			record_json = COALESCE(excluded.record_json, records.record_json)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertRecord: %w", err)
	}

	s.stmtInsertCall, err = s.db.Prepare(`
		INSERT INTO calls (call_id, record_id, parent_call_id, component, operation, model,
			args, rets, start_offset_ms, duration_ms, prompt_tokens, completion_tokens,
			status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			rets = COALESCE(excluded.rets, calls.rets),
			duration_ms = excluded.duration_ms,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			status = excluded.status,
			error_message = excluded.error_message
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertCall: %w", err)
	}

	s.stmtInsertFeedbackDef, err = s.db.Prepare(`
		INSERT INTO feedback_defs (feedback_def_id, name, provider, prompt, threshold, feedback_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(feedback_def_id) DO UPDATE SET
			name = excluded.name,
			provider = excluded.provider,
			prompt = COALESCE(excluded.prompt, feedback_defs.prompt),
			threshold = excluded.threshold,
			feedback_json = COALESCE(excluded.feedback_json, feedback_defs.feedback_json)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertFeedbackDef: %w", err)
	}

	s.stmtInsertFeedback, err = s.db.Prepare(`
		INSERT INTO feedbacks (feedback_result_id, record_id, feedback_def_id, name, score,
			status, error_message, calls_json, cost_usd, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feedback_result_id) DO UPDATE SET
			score = excluded.score,
			status = excluded.status,
			error_message = excluded.error_message,
			calls_json = COALESCE(excluded.calls_json, feedbacks.calls_json),
			cost_usd = excluded.cost_usd,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertFeedback: %w", err)
	}

	s.stmtInsertPending, err = s.db.Prepare(`
		INSERT INTO pending_writes (payload, status) VALUES (?, 'pending')
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertPending: %w", err)
	}

	s.stmtCommitPending, err = s.db.Prepare(`
		UPDATE pending_writes SET status = 'committed', committed_at = ? WHERE write_id = ?
	`)
	if err != nil {
		return fmt.Errorf("preparing CommitPending: %w", err)
	}

	return nil
}

// InsertApp registers an app. If an app with the same ID already
// exists, its name, version, and config blob are refreshed.
func (s *DBService) InsertApp(app *App) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := app.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixNano()
	}

	_, err := s.stmtInsertApp.Exec(
		app.AppID, app.AppName, app.AppVersion, app.AppJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting app %s: %w", app.AppID, err)
	}
	return nil
}

// InsertRecord persists a record. Records arrive twice in the common
// case: once when the run starts and again when it finishes, so the
// conflict clause finalizes output, status, timing, and cost.
func (s *DBService) InsertRecord(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.stmtInsertRecord.Exec(
		rec.RecordID, rec.AppID, rec.Input, rec.Output, rec.Tags,
		rec.Status, rec.ErrorMessage, rec.StartTime, rec.TotalTimeMs,
		rec.PromptTokens, rec.CompletionTokens, rec.CostUSD, rec.RecordJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.RecordID, err)
	}
	return nil
}

// InsertCall persists one call within an existing record.
func (s *DBService) InsertCall(call *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.stmtInsertCall.Exec(
		call.CallID, call.RecordID, call.ParentCallID, call.Component,
		call.Operation, call.Model, call.Args, call.Rets,
		call.StartOffsetMs, call.DurationMs,
		call.PromptTokens, call.CompletionTokens,
		call.Status, call.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting call %s: %w", call.CallID, err)
	}
	return nil
}

// InsertFeedbackDef registers a feedback definition.
func (s *DBService) InsertFeedbackDef(def *FeedbackDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.stmtInsertFeedbackDef.Exec(
		def.FeedbackDefID, def.Name, def.Provider, def.Prompt,
		def.Threshold, def.FeedbackJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting feedback def %s: %w", def.FeedbackDefID, err)
	}
	return nil
}

// InsertFeedbackResult persists a feedback result. Results are
// upserted as the evaluation progresses, so a pending row written at
// enqueue time is overwritten by the final score.
func (s *DBService) InsertFeedbackResult(fr *FeedbackResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedAt := fr.UpdatedAt
	if updatedAt == 0 {
		updatedAt = time.Now().UnixNano()
	}

	_, err := s.stmtInsertFeedback.Exec(
		fr.FeedbackResultID, fr.RecordID, fr.FeedbackDefID, fr.Name,
		fr.Score, fr.Status, fr.ErrorMessage, fr.CallsJSON,
		fr.CostUSD, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting feedback result %s: %w", fr.FeedbackResultID, err)
	}
	return nil
}

// BatchInsertCalls inserts multiple calls within a single transaction
// for improved throughput during batch ingestion.
func (s *DBService) BatchInsertCalls(calls []*Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch call transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt := tx.Stmt(s.stmtInsertCall)
	for _, call := range calls {
		_, err := stmt.Exec(
			call.CallID, call.RecordID, call.ParentCallID, call.Component,
			call.Operation, call.Model, call.Args, call.Rets,
			call.StartOffsetMs, call.DurationMs,
			call.PromptTokens, call.CompletionTokens,
			call.Status, call.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("batch inserting call %s: %w", call.CallID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch call transaction: %w", err)
	}
	return nil
}

// BatchInsertFeedbackResults inserts multiple feedback results within
// a single transaction.
func (s *DBService) BatchInsertFeedbackResults(frs []*FeedbackResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch feedback transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.stmtInsertFeedback)
	for _, fr := range frs {
		updatedAt := fr.UpdatedAt
		if updatedAt == 0 {
			updatedAt = time.Now().UnixNano()
		}
		_, err := stmt.Exec(
			fr.FeedbackResultID, fr.RecordID, fr.FeedbackDefID, fr.Name,
			fr.Score, fr.Status, fr.ErrorMessage, fr.CallsJSON,
			fr.CostUSD, updatedAt,
		)
		if err != nil {
			return fmt.Errorf("batch inserting feedback result %s: %w", fr.FeedbackResultID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch feedback transaction: %w", err)
	}
	return nil
}

// QueryApps returns all registered apps ordered by name and version.
func (s *DBService) QueryApps() ([]*App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT app_id, app_name, app_version, app_json, created_at
		FROM apps
		ORDER BY app_name ASC, app_version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying apps: %w", err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		a := &App{}
		if err := rows.Scan(&a.AppID, &a.AppName, &a.AppVersion, &a.AppJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning app row: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// GetApp returns a single app by ID.
func (s *DBService) GetApp(appID string) (*App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := &App{}
	err := s.db.QueryRow(`
		SELECT app_id, app_name, app_version, app_json, created_at
		FROM apps WHERE app_id = ?
	`, appID).Scan(&a.AppID, &a.AppName, &a.AppVersion, &a.AppJSON, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("querying app %s: %w", appID, err)
	}
	return a, nil
}

// GetAppSummaries returns per-app aggregates for the apps list:
// record count, most recent activity, total cost, and mean feedback
// score over completed evaluations.
func (s *DBService) GetAppSummaries() ([]*AppSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT a.app_id, a.app_name, a.app_version,
			COUNT(r.record_id) as record_count,
			COALESCE(MAX(r.start_time), 0) as last_record_at,
			COALESCE(SUM(r.cost_usd), 0) as total_cost_usd,
			COALESCE((
				SELECT AVG(f.score) FROM feedbacks f
				INNER JOIN records fr ON f.record_id = fr.record_id
				WHERE fr.app_id = a.app_id AND f.status = 'done'
			), 0) as mean_score
		FROM apps a
		LEFT JOIN records r ON r.app_id = a.app_id
		GROUP BY a.app_id
		ORDER BY last_record_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying app summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*AppSummary
	for rows.Next() {
		sm := &AppSummary{}
		if err := rows.Scan(
			&sm.AppID, &sm.AppName, &sm.AppVersion, &sm.RecordCount,
			&sm.LastRecordAt, &sm.TotalCostUSD, &sm.MeanScore,
		); err != nil {
			return nil, fmt.Errorf("scanning app summary row: %w", err)
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// QueryRecords returns records matching the given filter criteria.
// Results are ordered by start_time descending (most recent first).
func (s *DBService) QueryRecords(filter RecordFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT record_id, app_id, input, output, tags, status, error_message,
		start_time, total_time_ms, prompt_tokens, completion_tokens, cost_usd, record_json
		FROM records WHERE 1=1`
	args := make([]interface{}, 0)

	if filter.AppID != nil {
		query += ` AND app_id = ?`
		args = append(args, *filter.AppID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.Since != nil {
		query += ` AND start_time >= ?`
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += ` AND start_time <= ?`
		args = append(args, *filter.Until)
	}

	query += ` ORDER BY start_time DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else {
		query += ` LIMIT 100`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetRecord returns a single record by ID.
func (s *DBService) GetRecord(recordID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &Record{}
	err := s.db.QueryRow(`
		SELECT record_id, app_id, input, output, tags, status, error_message,
			start_time, total_time_ms, prompt_tokens, completion_tokens, cost_usd, record_json
		FROM records WHERE record_id = ?
	`, recordID).Scan(
		&r.RecordID, &r.AppID, &r.Input, &r.Output, &r.Tags,
		&r.Status, &r.ErrorMessage, &r.StartTime, &r.TotalTimeMs,
		&r.PromptTokens, &r.CompletionTokens, &r.CostUSD, &r.RecordJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("querying record %s: %w", recordID, err)
	}
	return r, nil
}

// QueryCalls returns all calls for a given record, ordered by start
// offset. This is the primary query for the timeline views.
func (s *DBService) QueryCalls(recordID string) ([]*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT call_id, record_id, parent_call_id, component, operation, model,
			args, rets, start_offset_ms, duration_ms, prompt_tokens, completion_tokens,
			status, error_message
		FROM calls
		WHERE record_id = ?
		ORDER BY start_offset_ms ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("querying calls for record %s: %w", recordID, err)
	}
	defer rows.Close()

	return scanCalls(rows)
}

// GetFeedbackForRecord returns all feedback results for a record,
// ordered by name. This powers the bottom feedback pane in the TUI.
func (s *DBService) GetFeedbackForRecord(recordID string) ([]*FeedbackResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT feedback_result_id, record_id, feedback_def_id, name, score,
			status, error_message, calls_json, cost_usd, updated_at
		FROM feedbacks
		WHERE record_id = ?
		ORDER BY name ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("querying feedback for record %s: %w", recordID, err)
	}
	defer rows.Close()

	return scanFeedbackResults(rows)
}

// GetFeedbackDefs returns all registered feedback definitions.
func (s *DBService) GetFeedbackDefs() ([]*FeedbackDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT feedback_def_id, name, provider, prompt, threshold, feedback_json
		FROM feedback_defs
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying feedback defs: %w", err)
	}
	defer rows.Close()

	var defs []*FeedbackDef
	for rows.Next() {
		d := &FeedbackDef{}
		if err := rows.Scan(
			&d.FeedbackDefID, &d.Name, &d.Provider, &d.Prompt,
			&d.Threshold, &d.FeedbackJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning feedback def row: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// RecordsMissingFeedback returns completed records that have no
// feedback result yet for the given definition, oldest first. The
// feedback runner polls this to find work.
func (s *DBService) RecordsMissingFeedback(defID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT r.record_id, r.app_id, r.input, r.output, r.tags, r.status, r.error_message,
			r.start_time, r.total_time_ms, r.prompt_tokens, r.completion_tokens, r.cost_usd, r.record_json
		FROM records r
		WHERE r.status = 'completed'
			AND NOT EXISTS (
				SELECT 1 FROM feedbacks f
				WHERE f.record_id = r.record_id AND f.feedback_def_id = ?
			)
		ORDER BY r.start_time ASC
		LIMIT ?
	`, defID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying records missing feedback %s: %w", defID, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SearchRecords performs full-text search over record input and output
// using the FTS5 index. Returns matching records with BM25 relevance ranking.
func (s *DBService) SearchRecords(query string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT r.record_id, r.app_id, r.input, r.output, r.tags, r.status, r.error_message,
			r.start_time, r.total_time_ms, r.prompt_tokens, r.completion_tokens, r.cost_usd, r.record_json
		FROM records r
		INNER JOIN records_fts f ON r.record_id = f.record_id
		WHERE records_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching records for %q: %w", query, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetRecordStats returns aggregated statistics for a record.
// Used by the TUI detail pane and the analysis engine.
func (s *DBService) GetRecordStats(recordID string) (*RecordStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &RecordStats{RecordID: recordID}

	err := s.db.QueryRow(`
		SELECT
			COUNT(*) as total_calls,
			COALESCE(SUM(CASE WHEN component = 'LLM' THEN 1 ELSE 0 END), 0) as llm_calls,
			COALESCE(SUM(CASE WHEN component = 'RETRIEVAL' THEN 1 ELSE 0 END), 0) as retrieval_calls,
			COALESCE(SUM(CASE WHEN component = 'TOOL' THEN 1 ELSE 0 END), 0) as tool_calls,
			COALESCE(SUM(prompt_tokens), 0) as total_prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) as total_completion_tokens,
			COALESCE(SUM(duration_ms), 0) as total_duration_ms
		FROM calls
		WHERE record_id = ?
	`, recordID).Scan(
		&stats.TotalCalls, &stats.LLMCalls, &stats.RetrievalCalls, &stats.ToolCalls,
		&stats.TotalPromptTokens, &stats.TotalCompletionTokens, &stats.TotalDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying record stats for %s: %w", recordID, err)
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(AVG(CASE WHEN status = 'done' THEN score END), 0)
		FROM feedbacks
		WHERE record_id = ?
	`, recordID).Scan(&stats.FeedbackCount, &stats.MeanScore)
	if err != nil {
		return nil, fmt.Errorf("counting feedback for record %s: %w", recordID, err)
	}

	return stats, nil
}

// WritePendingPayload stores a raw payload in the pending_writes table
// for crash recovery. Returns the write ID for later commitment.
func (s *DBService) WritePendingPayload(payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.stmtInsertPending.Exec(payload)
	if err != nil {
		return 0, fmt.Errorf("writing pending payload: %w", err)
	}
	return result.LastInsertId()
}

// CommitPendingPayload marks a pending write as committed.
func (s *DBService) CommitPendingPayload(writeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	_, err := s.stmtCommitPending.Exec(now, writeID)
	if err != nil {
		return fmt.Errorf("committing pending payload %d: %w", writeID, err)
	}
	return nil
}

// GetPendingPayloads returns all uncommitted payloads for crash recovery.
func (s *DBService) GetPendingPayloads() ([]PendingWrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT write_id, payload, status, created_at
		FROM pending_writes
		WHERE status = 'pending'
		ORDER BY write_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pending payloads: %w", err)
	}
	defer rows.Close()

	var writes []PendingWrite
	for rows.Next() {
		var w PendingWrite
		if err := rows.Scan(&w.WriteID, &w.Payload, &w.Status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning pending write: %w", err)
		}
		writes = append(writes, w)
	}
	return writes, rows.Err()
}

// Close gracefully shuts down the database, closing all prepared statements
// and the underlying connection pool.
func (s *DBService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []*sql.Stmt{
		s.stmtInsertApp, s.stmtInsertRecord, s.stmtInsertCall,
		s.stmtInsertFeedbackDef, s.stmtInsertFeedback,
		s.stmtInsertPending, s.stmtCommitPending,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}

// ============================================================
// Scan Helpers
// ============================================================

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(
			&r.RecordID, &r.AppID, &r.Input, &r.Output, &r.Tags,
			&r.Status, &r.ErrorMessage, &r.StartTime, &r.TotalTimeMs,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD, &r.RecordJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanCalls(rows *sql.Rows) ([]*Call, error) {
	var calls []*Call
	for rows.Next() {
		c := &Call{}
		if err := rows.Scan(
			&c.CallID, &c.RecordID, &c.ParentCallID, &c.Component,
			&c.Operation, &c.Model, &c.Args, &c.Rets,
			&c.StartOffsetMs, &c.DurationMs,
			&c.PromptTokens, &c.CompletionTokens,
			&c.Status, &c.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func scanFeedbackResults(rows *sql.Rows) ([]*FeedbackResult, error) {
	var results []*FeedbackResult
	for rows.Next() {
		fr := &FeedbackResult{}
		if err := rows.Scan(
			&fr.FeedbackResultID, &fr.RecordID, &fr.FeedbackDefID, &fr.Name,
			&fr.Score, &fr.Status, &fr.ErrorMessage, &fr.CallsJSON,
			&fr.CostUSD, &fr.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning feedback result row: %w", err)
		}
		results = append(results, fr)
	}
	return results, rows.Err()
}
