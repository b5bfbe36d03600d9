package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/internal/timegrid"
)

// timelineWidth is the fixed drawable width of the waterfall axis in
// pixels. Gridline offsets and call bars are both scaled against it so
// the ruler and the bars share one coordinate system.
const timelineWidth = 960

// indentPerDepth is the label indent per call-tree level, in pixels.
const indentPerDepth = 14

// recordData is the raw per-record payload, served as-is by the JSON
// endpoint and wrapped with geometry for the HTML page.
type recordData struct {
	Record   *database.Record           `json:"record"`
	App      *database.App              `json:"app"`
	Stats    *database.RecordStats      `json:"stats"`
	Calls    []*database.Call           `json:"calls"`
	Feedback []*database.FeedbackResult `json:"feedback"`
}

// loadRecord gathers everything the waterfall page shows for one
// record. Store errors already name the entity and ID, so they pass
// through unwrapped.
func (s *Server) loadRecord(recordID string) (*recordData, error) {
	rec, err := s.store.GetRecord(recordID)
	if err != nil {
		return nil, err
	}
	app, err := s.store.GetApp(rec.AppID)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.GetRecordStats(recordID)
	if err != nil {
		return nil, err
	}
	calls, err := s.store.QueryCalls(recordID)
	if err != nil {
		return nil, err
	}
	feedback, err := s.store.GetFeedbackForRecord(recordID)
	if err != nil {
		return nil, err
	}
	return &recordData{
		Record:   rec,
		App:      app,
		Stats:    stats,
		Calls:    calls,
		Feedback: feedback,
	}, nil
}

// ============================================================================
// Timeline geometry
// ============================================================================

// timelineView is the computed geometry of one waterfall render:
// gridlines from the time-grid layout plus one positioned bar per
// call, all in pixels on the same axis.
type timelineView struct {
	Width      int
	TotalMs    int64
	IntervalMs int64
	Gridlines  []gridline
	Bars       []callBar
}

// gridline is one vertical ruler line. OffsetPx is the distance from
// the left edge of the axis; the label is drawn just right of it.
type gridline struct {
	OffsetPx float64
	Label    string
}

// callBar is one call positioned on the axis. Depth comes from the
// parent chain and drives the label indent.
type callBar struct {
	Call     *database.Call
	Depth    int
	IndentPx int
	LeftPx   float64
	WidthPx  float64
}

// buildTimeline scales a record's calls onto the fixed-width axis and
// lays a tick grid over it. The axis spans the record's total time,
// stretched to cover any call that runs past it.
func buildTimeline(rec *database.Record, calls []*database.Call) timelineView {
	totalMs := rec.TotalTimeMs
	for _, c := range calls {
		if end := c.StartOffsetMs + c.DurationMs; end > totalMs {
			totalMs = end
		}
	}

	view := timelineView{Width: timelineWidth, TotalMs: totalMs}

	layout := timegrid.Compute(timelineWidth, totalMs)
	view.IntervalMs = layout.Interval
	for tick := range layout.Ticks() {
		view.Gridlines = append(view.Gridlines, gridline{
			OffsetPx: tick.Offset,
			Label:    tick.Label(),
		})
	}

	var scale float64
	if totalMs > 0 {
		scale = float64(timelineWidth) / float64(totalMs)
	}
	for _, node := range orderCalls(calls) {
		view.Bars = append(view.Bars, callBar{
			Call:     node.call,
			Depth:    node.depth,
			IndentPx: node.depth * indentPerDepth,
			LeftPx:   float64(node.call.StartOffsetMs) * scale,
			WidthPx:  float64(node.call.DurationMs) * scale,
		})
	}

	return view
}

// callNode is a call with its depth in the parent tree.
type callNode struct {
	call  *database.Call
	depth int
}

// orderCalls flattens the parent/child relationships into tree order:
// each call directly after its parent, depth tracking the nesting.
// A record whose parent IDs never resolve falls back to the flat
// store order.
func orderCalls(calls []*database.Call) []callNode {
	if len(calls) == 0 {
		return nil
	}

	childrenOf := make(map[string][]*database.Call)
	for _, c := range calls {
		parentID := ""
		if c.ParentCallID != nil {
			parentID = *c.ParentCallID
		}
		childrenOf[parentID] = append(childrenOf[parentID], c)
	}

	var result []callNode
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, child := range childrenOf[parentID] {
			result = append(result, callNode{call: child, depth: depth})
			walk(child.CallID, depth+1)
		}
	}
	walk("", 0)

	if len(result) == 0 {
		for _, c := range calls {
			result = append(result, callNode{call: c, depth: 0})
		}
	}

	return result
}

// ============================================================================
// Handlers
// ============================================================================

// recordPage backs the waterfall page template.
type recordPage struct {
	Record   *database.Record
	App      *database.App
	Stats    *database.RecordStats
	Feedback []*database.FeedbackResult
	Timeline timelineView
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id parameter", http.StatusBadRequest)
		return
	}
	data, err := s.loadRecord(id)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	s.render(w, tmplRecord, recordPage{
		Record:   data.Record,
		App:      data.App,
		Stats:    data.Stats,
		Feedback: data.Feedback,
		Timeline: buildTimeline(data.Record, data.Calls),
	})
}

func (s *Server) handleRecordJSON(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id parameter", http.StatusBadRequest)
		return
	}
	data, err := s.loadRecord(id)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding record payload", "err", err)
	}
}
