package dashboard

import (
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/pkg/timeutil"
)

// ============================================================================
// Template helpers
// ============================================================================

var funcMap = template.FuncMap{
	"fmtTime":     timeutil.FormatTimestampFull,
	"relTime":     timeutil.RelativeTime,
	"fmtDuration": timeutil.FormatDuration,
	"fmtOffset":   timeutil.FormatOffset,
	"fmtCost": func(c float64) string {
		if c == 0 {
			return "$0"
		}
		if c < 0.001 {
			return fmt.Sprintf("$%.5f", c)
		}
		return fmt.Sprintf("$%.4f", c)
	},
	"fmtTokens": func(n int) string {
		if n >= 1_000_000 {
			return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
		}
		if n >= 1000 {
			return fmt.Sprintf("%.1fk", float64(n)/1000)
		}
		return strconv.Itoa(n)
	},
	"fmtPx": func(f float64) string {
		return strconv.FormatFloat(f, 'f', 1, 64)
	},
	"truncate": func(s string, n int) string {
		s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
		runes := []rune(s)
		if len(runes) > n {
			return string(runes[:n]) + "…"
		}
		return s
	},
	"deref": func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	},
	"scorePct": func(score float64) string {
		return fmt.Sprintf("%.0f%%", score*100)
	},
	"scoreColor": func(score float64) string {
		switch {
		case score >= 0.8:
			return "#3fb950"
		case score >= 0.5:
			return "#d29922"
		default:
			return "#f85149"
		}
	},
	// componentColor matches the TUI palette so a call reads the same
	// color in both surfaces.
	"componentColor": func(component string) string {
		switch component {
		case "LLM":
			return "#bc8cff"
		case "RETRIEVAL":
			return "#58a6ff"
		case "TOOL":
			return "#3fb950"
		case "MEMORY":
			return "#d29922"
		case "PLANNING":
			return "#76e3ea"
		default:
			return "#8b949e"
		}
	},
	"statusClass": func(status string) string {
		switch status {
		case database.RecordStatusCompleted, database.FeedbackStatusDone, "ok":
			return "ok"
		case database.RecordStatusRunning, database.FeedbackStatusPending:
			return "warn"
		default:
			return "err"
		}
	},
}

// ============================================================================
// Base layout
// ============================================================================

const tmplBase = `
{{define "base"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>traceloupe</title>
<style>
*{box-sizing:border-box;margin:0;padding:0}
body{font-family:'JetBrains Mono',monospace,sans-serif;background:#0d1117;color:#c9d1d9;font-size:13px;line-height:1.5}
a{color:#58a6ff;text-decoration:none}
a:hover{text-decoration:underline}
nav{background:#161b22;border-bottom:1px solid #30363d;padding:8px 16px;display:flex;gap:16px;align-items:center}
nav .brand{color:#f0f6fc;font-weight:700;font-size:15px;margin-right:8px}
nav a{color:#8b949e;padding:4px 8px;border-radius:4px}
nav a:hover{color:#c9d1d9;background:#21262d;text-decoration:none}
main{padding:16px}
h1{font-size:16px;font-weight:700;color:#f0f6fc;margin-bottom:12px}
h2{font-size:13px;font-weight:600;color:#8b949e;text-transform:uppercase;letter-spacing:.06em;margin:16px 0 8px}
.cards{display:flex;gap:12px;flex-wrap:wrap;margin-bottom:16px}
.card{background:#161b22;border:1px solid #30363d;border-radius:6px;padding:12px 16px;min-width:120px}
.card .val{font-size:22px;font-weight:700;color:#f0f6fc}
.card .lbl{font-size:11px;color:#8b949e;margin-top:2px}
table{width:100%;border-collapse:collapse;font-size:12px}
th{text-align:left;padding:6px 10px;border-bottom:1px solid #30363d;color:#8b949e;font-weight:600;font-size:11px;text-transform:uppercase;letter-spacing:.05em}
td{padding:5px 10px;border-bottom:1px solid #21262d;vertical-align:top}
tr:hover td{background:#161b22}
.tag{display:inline-block;padding:0 5px;border-radius:4px;font-size:10px;background:#21262d;border:1px solid #30363d}
.mono{font-family:monospace;font-size:11px;color:#79c0ff}
.dim{color:#8b949e}
.ok{color:#56d364}
.warn{color:#f59e0b}
.err{color:#f87171}
.section{background:#161b22;border:1px solid #30363d;border-radius:6px;margin-bottom:16px;overflow:hidden}
.section-hdr{padding:8px 12px;border-bottom:1px solid #30363d;font-size:11px;font-weight:600;color:#8b949e;text-transform:uppercase;letter-spacing:.05em;background:#0d1117}
pre{white-space:pre-wrap;word-break:break-all;font-family:monospace;font-size:11px;color:#c9d1d9}
.meta td:first-child{color:#8b949e;font-size:11px;text-transform:uppercase;width:130px}
/* Waterfall */
.wf{overflow-x:auto;padding:8px 12px}
.wf-head{display:flex;font-size:11px;color:#8b949e;text-transform:uppercase;letter-spacing:.05em;border-bottom:1px solid #30363d;padding-bottom:4px;margin-bottom:4px}
.wf-body{display:flex}
.wf-labels{width:280px;flex-shrink:0;padding-top:14px}
.wf-label{height:22px;line-height:22px;overflow:hidden;text-overflow:ellipsis;white-space:nowrap;font-size:11px}
.wf-canvas{position:relative;min-height:80px;flex-shrink:0;padding-top:14px}
.grid-line{position:absolute;top:0;bottom:0;width:1px;background:#21262d}
.grid-label{position:absolute;top:1px;margin-left:4px;font-size:9px;color:#484f58;white-space:nowrap}
.wf-row{position:relative;height:22px}
.wf-bar{position:absolute;top:4px;height:14px;border-radius:3px;min-width:3px;opacity:.9}
.wf-bar:hover{opacity:1}
/* Feedback chips */
.chip{display:inline-block;margin:2px 6px 2px 0;padding:2px 8px;border-radius:10px;font-size:11px;background:#21262d;border:1px solid #30363d}
</style>
</head>
<body>
<nav>
  <span class="brand">traceloupe</span>
  <a href="/">Records</a>
</nav>
<main>
{{template "content" .}}
</main>
</body>
</html>
{{end}}
`

// ============================================================================
// Record index
// ============================================================================

const tmplIndex = `
{{define "content"}}
<h1>Records</h1>
<div class="cards">
  <div class="card"><div class="val">{{len .Apps}}</div><div class="lbl">Apps</div></div>
  <div class="card"><div class="val">{{.TotalRecs}}</div><div class="lbl">Records</div></div>
  <div class="card"><div class="val">{{fmtCost .TotalCost}}</div><div class="lbl">Total cost</div></div>
</div>

<div class="section">
  <div class="section-hdr">Apps</div>
  <table>
  <tr><th>App</th><th>Version</th><th>Records</th><th>Cost</th><th>Mean score</th><th>Last record</th></tr>
  {{range .Apps}}
  <tr>
    <td><a href="/?app={{.AppID}}">{{.AppName}}</a></td>
    <td class="dim">{{.AppVersion}}</td>
    <td>{{.RecordCount}}</td>
    <td>{{fmtCost .TotalCostUSD}}</td>
    <td>{{if .MeanScore}}<span style="color:{{scoreColor .MeanScore}}">{{scorePct .MeanScore}}</span>{{else}}<span class="dim">&mdash;</span>{{end}}</td>
    <td class="dim">{{relTime .LastRecordAt}}</td>
  </tr>
  {{end}}
  </table>
</div>

<h2>Records{{if .AppFilter}} &middot; {{.AppFilter}} <a href="/" style="font-size:11px">clear</a>{{end}}</h2>
<div class="section">
<table>
<tr><th>Record</th><th>App</th><th>Status</th><th>Started</th><th>Duration</th><th>Tokens</th><th>Cost</th><th>Score</th><th>Input</th></tr>
{{range .Records}}
<tr>
  <td class="mono"><a href="/record?id={{.Record.RecordID}}">{{truncate .Record.RecordID 20}}</a></td>
  <td>{{.AppName}}</td>
  <td><span class="{{statusClass .Record.Status}}">{{.Record.Status}}</span></td>
  <td class="dim">{{relTime .Record.StartTime}}</td>
  <td class="dim">{{fmtDuration .Record.TotalTimeMs}}</td>
  <td class="dim">{{fmtTokens .Record.PromptTokens}} / {{fmtTokens .Record.CompletionTokens}}</td>
  <td>{{fmtCost .Record.CostUSD}}</td>
  <td>{{if .HasScore}}<span style="color:{{scoreColor .MeanScore}}">{{scorePct .MeanScore}}</span>{{else}}<span class="dim">&mdash;</span>{{end}}</td>
  <td class="dim">{{truncate (deref .Record.Input) 60}}</td>
</tr>
{{end}}
</table>
{{if not .Records}}<div class="dim" style="padding:20px;text-align:center">No records yet. Point an SDK at the daemon and run your app.</div>{{end}}
</div>
{{end}}
`

// ============================================================================
// Record waterfall
// ============================================================================

const tmplRecord = `
{{define "content"}}
<h1>Record <span class="mono">{{.Record.RecordID}}</span></h1>

<div class="cards">
  <div class="card"><div class="val {{statusClass .Record.Status}}">{{.Record.Status}}</div><div class="lbl">Status</div></div>
  <div class="card"><div class="val">{{fmtDuration .Record.TotalTimeMs}}</div><div class="lbl">Duration</div></div>
  <div class="card"><div class="val">{{fmtTokens .Record.PromptTokens}} / {{fmtTokens .Record.CompletionTokens}}</div><div class="lbl">Prompt / completion</div></div>
  <div class="card"><div class="val">{{fmtCost .Record.CostUSD}}</div><div class="lbl">Cost</div></div>
  <div class="card"><div class="val">{{.Stats.TotalCalls}}</div><div class="lbl">Calls</div></div>
  {{if .Stats.FeedbackCount}}<div class="card"><div class="val" style="color:{{scoreColor .Stats.MeanScore}}">{{scorePct .Stats.MeanScore}}</div><div class="lbl">Mean score ({{.Stats.FeedbackCount}})</div></div>{{end}}
</div>

<div class="section">
  <div class="section-hdr">Record</div>
  <table class="meta" style="width:auto">
    <tr><td>App</td><td>{{.App.AppName}} <span class="dim">{{.App.AppVersion}}</span></td></tr>
    <tr><td>Started</td><td>{{fmtTime .Record.StartTime}}</td></tr>
    {{if .Record.Tags}}<tr><td>Tags</td><td>{{deref .Record.Tags}}</td></tr>{{end}}
    {{if .Record.ErrorMessage}}<tr><td>Error</td><td class="err">{{deref .Record.ErrorMessage}}</td></tr>{{end}}
  </table>
</div>

<h2>Waterfall <span class="dim" style="font-weight:400;text-transform:none">tick every {{.Timeline.IntervalMs}}ms</span></h2>
<div class="section">
<div class="wf">
  <div class="wf-head"><div style="width:280px">Call</div><div>Timeline &middot; {{fmtDuration .Timeline.TotalMs}}</div></div>
  <div class="wf-body">
    <div class="wf-labels">
      {{range .Timeline.Bars}}
      <div class="wf-label" style="padding-left:{{.IndentPx}}px" title="{{.Call.Operation}}">
        <span class="tag" style="color:{{componentColor .Call.Component}}">{{.Call.Component}}</span>
        {{.Call.Operation}}
      </div>
      {{end}}
    </div>
    <div class="wf-canvas" style="width:{{.Timeline.Width}}px">
      {{range .Timeline.Gridlines}}<div class="grid-line" style="left:{{fmtPx .OffsetPx}}px"></div><span class="grid-label" style="left:{{fmtPx .OffsetPx}}px">{{.Label}}</span>{{end}}
      {{range .Timeline.Bars}}
      <div class="wf-row">
        <div class="wf-bar" style="left:{{fmtPx .LeftPx}}px;width:{{fmtPx .WidthPx}}px;background:{{componentColor .Call.Component}}"
             title="{{.Call.Operation}} {{fmtOffset .Call.StartOffsetMs}} {{fmtDuration .Call.DurationMs}}{{if .Call.Model}} {{deref .Call.Model}}{{end}}{{if .Call.ErrorMessage}} &mdash; {{deref .Call.ErrorMessage}}{{end}}"></div>
      </div>
      {{end}}
    </div>
  </div>
  {{if not .Timeline.Bars}}<div class="dim" style="padding:8px 0">No calls recorded.</div>{{end}}
</div>
</div>

{{if .Feedback}}
<h2>Feedback</h2>
<div class="section" style="padding:8px 12px">
  {{range .Feedback}}
  <span class="chip" {{if eq .Status "done"}}style="border-color:{{scoreColor .Score}}"{{end}} title="{{if .ErrorMessage}}{{deref .ErrorMessage}}{{end}}">
    {{.Name}}
    {{if eq .Status "done"}}<span style="color:{{scoreColor .Score}}">{{scorePct .Score}}</span>{{else}}<span class="{{statusClass .Status}}">{{.Status}}</span>{{end}}
  </span>
  {{end}}
</div>
{{end}}

{{if .Record.Input}}
<div class="section">
  <div class="section-hdr">Input</div>
  <pre style="padding:12px;max-height:250px;overflow:auto">{{deref .Record.Input}}</pre>
</div>
{{end}}
{{if .Record.Output}}
<div class="section">
  <div class="section-hdr">Output</div>
  <pre style="padding:12px;max-height:250px;overflow:auto">{{deref .Record.Output}}</pre>
</div>
{{end}}
{{end}}
`
