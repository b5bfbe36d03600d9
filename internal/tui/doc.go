// Package tui implements the traceloupe terminal user interface.
//
// This is an interactive record explorer built with Charmbracelet's
// BubbleTea, Lipgloss, and Bubbles libraries.
//
// Component architecture:
//
//	model.go        — root model, message routing, Init/Update
//	theme.go        — centralized color + style definitions
//	header.go       — top bar with record context + footer hints
//	recordlist.go   — record selector (initial screen) with FTS search
//	timeline.go     — tick ruler + call tree with offset/duration bars
//	detail.go       — call metadata, token usage bars, arg previews
//	feedbackview.go — feedback scores against their thresholds
//	helpers.go      — call tree building, truncation, etc.
package tui
