package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/traceloupe/traceloupe/internal/database"
)

// ────────────────────────────────────────────────────────────
// Call tree construction
// ────────────────────────────────────────────────────────────

// callNode represents a call in the tree view with its depth level.
type callNode struct {
	call  *database.Call
	depth int
}

// buildCallTree constructs a flat depth-ordered list from parent
// relationships. A call whose parent never arrived (SDKs can drop
// intermediate frames) is promoted to a root instead of vanishing.
func buildCallTree(calls []*database.Call) []callNode {
	if len(calls) == 0 {
		return nil
	}

	byID := make(map[string]*database.Call, len(calls))
	for _, c := range calls {
		byID[c.CallID] = c
	}

	childrenOf := make(map[string][]*database.Call)
	for _, c := range calls {
		parentID := ""
		if c.ParentCallID != nil {
			if _, ok := byID[*c.ParentCallID]; ok {
				parentID = *c.ParentCallID
			}
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

	// Cyclic parent links would produce no roots at all; fall back to
	// flat order rather than an empty pane.
	if len(result) == 0 {
		for _, c := range calls {
			result = append(result, callNode{call: c, depth: 0})
		}
	}

	return result
}

// ────────────────────────────────────────────────────────────
// Component rendering
// ────────────────────────────────────────────────────────────

// componentTag returns the short bracketed tag for a call component.
func componentTag(component string) string {
	switch component {
	case "LLM":
		return "[LLM]"
	case "RETRIEVAL":
		return "[RET]"
	case "TOOL":
		return "[TOOL]"
	case "MEMORY":
		return "[MEM]"
	case "PLANNING":
		return "[PLAN]"
	case "CHAIN":
		return "[CHAIN]"
	default:
		return "[" + component + "]"
	}
}

// componentStyle returns the color style for a call component.
func componentStyle(component string) lipgloss.Style {
	switch component {
	case "LLM":
		return callLLMStyle
	case "RETRIEVAL":
		return callRetrievalStyle
	case "TOOL":
		return callToolStyle
	case "MEMORY":
		return callMemoryStyle
	case "PLANNING":
		return callPlanningStyle
	default:
		return callNormalStyle
	}
}

// ────────────────────────────────────────────────────────────
// Small utilities
// ────────────────────────────────────────────────────────────

// truncate cuts a string to maxLen and appends "..." if truncated.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// shortID returns the first n characters of an ID for display.
func shortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}

func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
