// Package timegrid computes gridline geometry for timeline rulers.
//
// Given a drawable width and a total elapsed time, it selects a tick
// interval from a fixed menu of round durations so that gridlines stay
// at least a minimum distance apart, then exposes the position, time,
// and label of every gridline. The same computation backs the web
// waterfall (pixel widths) and the TUI ruler (cell widths); the width
// unit is whatever the caller measures in.
package timegrid

import (
	"fmt"
	"iter"
)

// DefaultIntervals is the menu of candidate tick spacings in
// milliseconds, finest first. Selection walks the list in order and
// keeps the first interval whose gridline count fits the width, so a
// finer spacing always wins when there is room for it.
var DefaultIntervals = []int64{100, 500, 1000, 5000, 10000, 30000, 60000}

const (
	// DefaultMinColumnWidth is the minimum readable spacing between
	// adjacent gridlines, in the caller's width unit.
	DefaultMinColumnWidth = 100

	// fallbackInterval is used when even the coarsest menu entry
	// produces too many gridlines for the available width.
	fallbackInterval = 1

	// maxColumns bounds the gridline count for degenerate
	// width/duration ratios (very long record, very narrow ruler).
	maxColumns = 1000
)

// Grid configures a layout computation. The zero value uses
// DefaultMinColumnWidth and DefaultIntervals.
type Grid struct {
	// MinColumnWidth overrides the minimum gridline spacing.
	// The TUI uses a smaller value than the pixel default since a
	// terminal cell is much wider than a pixel.
	MinColumnWidth float64

	// Intervals overrides the tick interval menu. Must be ascending.
	Intervals []int64
}

// Layout is the result of one layout pass. It is a pure function of
// the inputs: no state is kept between passes, and recomputing with
// the same width and duration yields an identical Layout.
type Layout struct {
	// Interval is the selected tick spacing in milliseconds, either a
	// menu member or the 1ms fallback.
	Interval int64

	// Columns is the number of gridlines to draw. Zero when the
	// duration is shorter than the finest interval or the inputs are
	// out of range.
	Columns int

	// ColumnWidth is the width of one interval in the caller's unit.
	ColumnWidth float64
}

// Tick is a single gridline.
type Tick struct {
	// Index is 1-based; the first gridline sits one interval in from
	// the left edge.
	Index int

	// Offset is the distance from the left edge, Index * ColumnWidth.
	Offset float64

	// Time is the instant the gridline marks, Index * Interval ms.
	Time int64
}

// Label returns the text drawn beside the gridline, e.g. "1500ms".
func (t Tick) Label() string {
	return fmt.Sprintf("%dms", t.Time)
}

// Compute lays out a grid using the default minimum column width and
// interval menu.
func Compute(totalWidth float64, totalTime int64) Layout {
	return Grid{}.Layout(totalWidth, totalTime)
}

// Layout computes gridline geometry for a ruler of totalWidth units
// spanning totalTime milliseconds.
//
// The interval is chosen by a coarsen-until-it-fits search: the
// gridline count a candidate would produce is floor(totalTime/t), and
// the first candidate whose count is strictly below
// floor(totalWidth/MinColumnWidth) is kept. When no candidate fits,
// the 1ms fallback applies and the gridline count is capped so a
// pathological duration cannot explode the render.
//
// Non-positive width or duration yields the zero Layout: zero
// gridlines and no division performed.
func (g Grid) Layout(totalWidth float64, totalTime int64) Layout {
	if totalWidth <= 0 || totalTime <= 0 {
		return Layout{}
	}

	minWidth := g.MinColumnWidth
	if minWidth <= 0 {
		minWidth = DefaultMinColumnWidth
	}
	intervals := g.Intervals
	if len(intervals) == 0 {
		intervals = DefaultIntervals
	}

	maxCols := int64(totalWidth / minWidth)

	interval := int64(fallbackInterval)
	for _, t := range intervals {
		if totalTime/t < maxCols {
			interval = t
			break
		}
	}

	cols := totalTime / interval
	if cols > maxColumns {
		cols = maxColumns
	}

	return Layout{
		Interval:    interval,
		Columns:     int(cols),
		ColumnWidth: float64(interval) / float64(totalTime) * totalWidth,
	}
}

// Tick returns the i-th gridline, 1-based. Callers iterate over
// [1..Columns]; nothing is precomputed or stored.
func (l Layout) Tick(i int) Tick {
	return Tick{
		Index:  i,
		Offset: float64(i) * l.ColumnWidth,
		Time:   int64(i) * l.Interval,
	}
}

// Ticks yields every gridline in order. Each Tick is computed on
// demand, so a capped degenerate layout costs no allocation up front.
func (l Layout) Ticks() iter.Seq[Tick] {
	return func(yield func(Tick) bool) {
		for i := 1; i <= l.Columns; i++ {
			if !yield(l.Tick(i)) {
				return
			}
		}
	}
}
