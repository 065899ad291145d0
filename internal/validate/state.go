package validate

import (
	"fmt"
	"sort"
)

// Table accumulates metric scores for one folder: one row per frame, one
// column per configured metric. Its shape is fixed for the lifetime of the
// owning State; repeated validation passes zero it rather than reallocate.
type Table struct {
	frames  int
	metrics int
	cells   []float64
}

func newTable(frames, metrics int) *Table {
	return &Table{
		frames:  frames,
		metrics: metrics,
		cells:   make([]float64, frames*metrics),
	}
}

// Add accumulates a score into the (frame, metric) cell.
func (t *Table) Add(frame, metric int, v float64) error {
	if frame < 0 || frame >= t.frames {
		return fmt.Errorf("frame index %d out of range [0,%d)", frame, t.frames)
	}
	if metric < 0 || metric >= t.metrics {
		return fmt.Errorf("metric index %d out of range [0,%d)", metric, t.metrics)
	}
	t.cells[frame*t.metrics+metric] += v
	return nil
}

// Zero clears every cell in place.
func (t *Table) Zero() {
	for i := range t.cells {
		t.cells[i] = 0
	}
}

// Raw exposes the backing cells for cross-worker reduction. Mutating the
// returned slice mutates the table.
func (t *Table) Raw() []float64 {
	return t.cells
}

// ColMeans averages each metric column over the frame dimension.
func (t *Table) ColMeans() []float64 {
	means := make([]float64, t.metrics)
	for f := 0; f < t.frames; f++ {
		for m := 0; m < t.metrics; m++ {
			means[m] += t.cells[f*t.metrics+m]
		}
	}
	for m := range means {
		means[m] /= float64(t.frames)
	}
	return means
}

// State is the externally owned per-folder results store. Every worker holds
// an identical-shape local copy; values meet only in the reduction step.
type State struct {
	numMetrics int
	tables     map[string]*Table
}

func NewState() *State {
	return &State{tables: make(map[string]*Table)}
}

// Allocated reports whether tables have been built.
func (s *State) Allocated() bool {
	return len(s.tables) > 0
}

// EnsureAllocated builds one table per folder on first use. Later calls are
// no-ops; table shapes never change once built.
func (s *State) EnsureAllocated(folderCounts map[string]int, numMetrics int) {
	if s.Allocated() {
		return
	}
	s.numMetrics = numMetrics
	for folder, frames := range folderCounts {
		s.tables[folder] = newTable(frames, numMetrics)
	}
}

// Reset zeroes every table so a previous pass cannot leak into the next.
func (s *State) Reset() {
	for _, t := range s.tables {
		t.Zero()
	}
}

// Table returns the results table for a folder, or nil if unknown.
func (s *State) Table(folder string) *Table {
	return s.tables[folder]
}

// Folders lists the known folders in deterministic order.
func (s *State) Folders() []string {
	folders := make([]string, 0, len(s.tables))
	for f := range s.tables {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders
}
