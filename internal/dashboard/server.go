// Package dashboard serves the traceloupe web UI.
//
// Two pages, both rendered server-side with html/template: a record
// index with per-app filtering, and a per-record waterfall whose
// background is a time-grid ruler overlaid with call bars scaled onto
// the same pixel axis, feedback chips below. A JSON endpoint exposes
// the raw record payload for scripting.
//
// Handlers follow a load-then-render shape: a load function aggregates
// store rows into a view struct, the handler maps errors to status
// codes, and a shared render helper executes the template consts from
// templates.go.
package dashboard

import (
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"github.com/traceloupe/traceloupe/internal/database"
)

// indexRecordLimit caps how many records the index page lists.
const indexRecordLimit = 200

// Server serves the dashboard over a database.Store.
type Server struct {
	store  database.Store
	logger *log.Logger
	mux    *http.ServeMux
}

// NewServer wires the route table. A nil logger falls back to stderr.
func NewServer(store database.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "traceloupe-web"})
	}

	s := &Server{store: store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/record", s.handleRecord)
	mux.HandleFunc("/api/record", s.handleRecordJSON)
	s.mux = mux

	return s
}

// Handler returns the route table for mounting in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ============================================================================
// Record index
// ============================================================================

// indexData backs the record index page.
type indexData struct {
	Apps      []*database.AppSummary
	Records   []recordRow
	AppFilter string
	TotalCost float64
	TotalRecs int
}

// recordRow pairs a record with its app name and the mean score over
// its completed feedback results.
type recordRow struct {
	Record    *database.Record
	AppName   string
	MeanScore float64
	HasScore  bool
}

func (s *Server) loadIndex(appFilter string) (*indexData, error) {
	apps, err := s.store.GetAppSummaries()
	if err != nil {
		return nil, fmt.Errorf("loading app summaries: %w", err)
	}

	filter := database.RecordFilter{Limit: indexRecordLimit}
	if appFilter != "" {
		filter.AppID = &appFilter
	}
	records, err := s.store.QueryRecords(filter)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	data := &indexData{Apps: apps, AppFilter: appFilter}
	names := make(map[string]string, len(apps))
	for _, a := range apps {
		names[a.AppID] = a.AppName
		data.TotalCost += a.TotalCostUSD
		data.TotalRecs += a.RecordCount
	}

	for _, rec := range records {
		row := recordRow{Record: rec, AppName: names[rec.AppID]}
		results, err := s.store.GetFeedbackForRecord(rec.RecordID)
		if err != nil {
			return nil, fmt.Errorf("loading feedback for %s: %w", rec.RecordID, err)
		}
		var sum float64
		var n int
		for _, fr := range results {
			if fr.Status == database.FeedbackStatusDone {
				sum += fr.Score
				n++
			}
		}
		if n > 0 {
			row.MeanScore = sum / float64(n)
			row.HasScore = true
		}
		data.Records = append(data.Records, row)
	}

	return data, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data, err := s.loadIndex(r.URL.Query().Get("app"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, tmplIndex, data)
}

// ============================================================================
// Shared plumbing
// ============================================================================

// render parses the base layout plus one content template and executes
// it. Parse errors surface as a 500; execute errors can only be logged
// since the header has already been written.
func (s *Server) render(w http.ResponseWriter, tmplStr string, data any) {
	t, err := template.New("page").Funcs(funcMap).Parse(tmplBase + tmplStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		s.logger.Error("template execute failed", "err", err)
	}
}

// httpStatus maps a load error to a response code: a row that does not
// exist is the caller's 404, anything else is a server-side 500.
func httpStatus(err error) int {
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
