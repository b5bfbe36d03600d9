package timegrid

import (
	"math"
	"testing"
)

// TestComputeSelectsFinestFittingInterval verifies the
// coarsen-until-it-fits search: 100ms would produce 20 gridlines
// against a budget of 10, so 500ms is the first interval that fits.
func TestComputeSelectsFinestFittingInterval(t *testing.T) {
	l := Compute(1000, 2000)

	if l.Interval != 500 {
		t.Errorf("expected interval=500, got %d", l.Interval)
	}
	if l.Columns != 4 {
		t.Errorf("expected 4 columns, got %d", l.Columns)
	}
	if math.Abs(l.ColumnWidth-250) > 1e-9 {
		t.Errorf("expected column width=250, got %f", l.ColumnWidth)
	}
}

// TestComputeCoarsensForLongDurations verifies a long record picks a
// coarse interval: two minutes over 1000px lands on the 30s spacing.
func TestComputeCoarsensForLongDurations(t *testing.T) {
	l := Compute(1000, 120000)

	if l.Interval != 30000 {
		t.Errorf("expected interval=30000, got %d", l.Interval)
	}
	if l.Columns != 4 {
		t.Errorf("expected 4 columns, got %d", l.Columns)
	}
	if math.Abs(l.ColumnWidth-250) > 1e-9 {
		t.Errorf("expected column width=250, got %f", l.ColumnWidth)
	}
}

// TestComputeFitIsStrict verifies the boundary case: a candidate whose
// gridline count equals the budget exactly is rejected, not kept.
func TestComputeFitIsStrict(t *testing.T) {
	// maxCols=10; 100ms gives exactly 10 gridlines, so 500ms wins.
	l := Compute(1000, 1000)

	if l.Interval != 500 {
		t.Errorf("expected interval=500, got %d", l.Interval)
	}
	if l.Columns != 2 {
		t.Errorf("expected 2 columns, got %d", l.Columns)
	}
}

// TestComputeFallbackIsCapped verifies the degenerate case: a narrow
// ruler over a long duration falls back to 1ms but never renders an
// unbounded number of gridlines.
func TestComputeFallbackIsCapped(t *testing.T) {
	l := Compute(100, 100000)

	if l.Interval != 1 {
		t.Errorf("expected fallback interval=1, got %d", l.Interval)
	}
	if l.Columns != maxColumns {
		t.Errorf("expected columns capped at %d, got %d", maxColumns, l.Columns)
	}
}

// TestComputeZeroAndNegativeInputs verifies out-of-range inputs
// produce an empty layout rather than a NaN position or a panic.
func TestComputeZeroAndNegativeInputs(t *testing.T) {
	cases := []struct {
		name  string
		width float64
		time  int64
	}{
		{"zero duration", 500, 0},
		{"zero width", 0, 5000},
		{"negative duration", 500, -100},
		{"negative width", -10, 1000},
	}

	for _, tc := range cases {
		l := Compute(tc.width, tc.time)
		if l.Columns != 0 {
			t.Errorf("%s: expected 0 columns, got %d", tc.name, l.Columns)
		}
		if l.ColumnWidth != 0 {
			t.Errorf("%s: expected 0 column width, got %f", tc.name, l.ColumnWidth)
		}
		if math.IsNaN(l.ColumnWidth) || math.IsInf(l.ColumnWidth, 0) {
			t.Errorf("%s: column width is not finite: %f", tc.name, l.ColumnWidth)
		}
	}
}

// TestComputeShortDuration verifies a duration shorter than the finest
// interval renders no interior gridlines.
func TestComputeShortDuration(t *testing.T) {
	l := Compute(1000, 50)

	if l.Interval != 100 {
		t.Errorf("expected interval=100, got %d", l.Interval)
	}
	if l.Columns != 0 {
		t.Errorf("expected 0 columns, got %d", l.Columns)
	}
}

// TestIntervalAlwaysFromMenu verifies that across a wide sweep of
// inputs the selected interval is either a menu member or the 1ms
// fallback, never anything else.
func TestIntervalAlwaysFromMenu(t *testing.T) {
	widths := []float64{50, 100, 250, 500, 1000, 1920, 5000}
	times := []int64{1, 10, 99, 100, 101, 999, 1000, 12345, 60000, 3600000, 86400000}

	menu := map[int64]bool{1: true}
	for _, iv := range DefaultIntervals {
		menu[iv] = true
	}

	for _, w := range widths {
		for _, d := range times {
			l := Compute(w, d)
			if !menu[l.Interval] {
				t.Errorf("Compute(%f, %d): interval %d not in menu", w, d, l.Interval)
			}
		}
	}
}

// TestWidthMonotonicity verifies that widening the ruler at a fixed
// duration never coarsens the selected interval.
func TestWidthMonotonicity(t *testing.T) {
	times := []int64{500, 2000, 30000, 120000, 600000}
	widths := []float64{100, 200, 400, 800, 1600, 3200, 6400}

	for _, d := range times {
		var prev int64
		for _, w := range widths {
			l := Compute(w, d)
			if prev != 0 && l.Interval > prev {
				t.Errorf("time=%d: interval grew from %d to %d at width %f",
					d, prev, l.Interval, w)
			}
			prev = l.Interval
		}
	}
}

// TestFitProperty verifies that every non-fallback selection actually
// fits the width budget: floor(time/interval) < floor(width/100).
func TestFitProperty(t *testing.T) {
	widths := []float64{150, 300, 640, 1000, 2560}
	times := []int64{120, 900, 4500, 33000, 240000}

	for _, w := range widths {
		for _, d := range times {
			l := Compute(w, d)
			if l.Interval == 1 {
				continue
			}
			if d/l.Interval >= int64(w/DefaultMinColumnWidth) {
				t.Errorf("Compute(%f, %d): %d gridlines do not fit budget %d",
					w, d, d/l.Interval, int64(w/DefaultMinColumnWidth))
			}
		}
	}
}

// TestLayoutIsPure verifies identical inputs give identical layouts.
func TestLayoutIsPure(t *testing.T) {
	a := Compute(1000, 2000)
	b := Compute(1000, 2000)

	if a != b {
		t.Errorf("expected identical layouts, got %+v and %+v", a, b)
	}
}

// TestTickGeometry verifies gridline positions, times, and labels.
func TestTickGeometry(t *testing.T) {
	l := Compute(1000, 2000)

	tick := l.Tick(2)
	if tick.Index != 2 {
		t.Errorf("expected index=2, got %d", tick.Index)
	}
	if math.Abs(tick.Offset-500) > 1e-9 {
		t.Errorf("expected offset=500, got %f", tick.Offset)
	}
	if tick.Time != 1000 {
		t.Errorf("expected time=1000, got %d", tick.Time)
	}
	if tick.Label() != "1000ms" {
		t.Errorf("expected label=1000ms, got %s", tick.Label())
	}
}

// TestTicksIteratesInOrder verifies the iterator yields every gridline
// exactly once, first to last.
func TestTicksIteratesInOrder(t *testing.T) {
	l := Compute(1000, 2000)

	var got []Tick
	for tick := range l.Ticks() {
		got = append(got, tick)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 ticks, got %d", len(got))
	}
	wantLabels := []string{"500ms", "1000ms", "1500ms", "2000ms"}
	for i, tick := range got {
		if tick.Index != i+1 {
			t.Errorf("tick %d: expected index=%d, got %d", i, i+1, tick.Index)
		}
		if tick.Label() != wantLabels[i] {
			t.Errorf("tick %d: expected label=%s, got %s", i, wantLabels[i], tick.Label())
		}
	}
}

// TestCustomGridForCells verifies a cell-tuned grid, as used by the
// TUI ruler where a column only needs a dozen character cells.
func TestCustomGridForCells(t *testing.T) {
	g := Grid{MinColumnWidth: 12}
	l := g.Layout(80, 2000)

	// maxCols=6; 100ms gives 20 gridlines, 500ms gives 4.
	if l.Interval != 500 {
		t.Errorf("expected interval=500, got %d", l.Interval)
	}
	if l.Columns != 4 {
		t.Errorf("expected 4 columns, got %d", l.Columns)
	}
	if math.Abs(l.ColumnWidth-20) > 1e-9 {
		t.Errorf("expected column width=20, got %f", l.ColumnWidth)
	}
}
