package api

import (
	"sync/atomic"
	"time"

	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/pipeline"
)

// RunSummary is the JSON view of a finished run.
type RunSummary struct {
	RunID          string         `json:"run_id"`
	FinishedAt     time.Time      `json:"finished_at"`
	DurationMS     int64          `json:"duration_ms"`
	Tiles          int            `json:"tiles"`
	TilesDegraded  int            `json:"tiles_degraded"`
	CellsVisible   int            `json:"cells_visible"`
	CellsHidden    int            `json:"cells_hidden"`
	CellsUnknown   int            `json:"cells_unknown"`
	DegenerateRays int            `json:"degenerate_rays"`
	CellErrors     map[string]int `json:"cell_errors,omitempty"`
	VotesDropped   int            `json:"votes_dropped"`
	Rows           int            `json:"rows"`
	Cols           int            `json:"cols"`
	PixelsVisible  int            `json:"pixels_visible"`
	PixelsHidden   int            `json:"pixels_hidden"`
	PixelsNoData   int            `json:"pixels_nodata"`
	OutputPath     string         `json:"output_path,omitempty"`
}

// latestRun pairs a summary with its mask.
type latestRun struct {
	summary RunSummary
	mask    *mask.Mask
}

// RunStore provides thread-safe access to the most recent run.
type RunStore struct {
	latest atomic.Pointer[latestRun]
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{}
}

// Set records a finished run. outputPath may be empty.
func (s *RunStore) Set(out *pipeline.Output, outputPath string, finishedAt time.Time) {
	rows, cols := out.Mask.Grid.Dims()
	visible, hidden, noData := out.Mask.Counts()
	s.latest.Store(&latestRun{
		summary: RunSummary{
			RunID:          out.RunID,
			FinishedAt:     finishedAt.UTC(),
			DurationMS:     out.Stats.Duration.Milliseconds(),
			Tiles:          out.Stats.Tiles,
			TilesDegraded:  out.Stats.DegradedTiles,
			CellsVisible:   out.Stats.Visible,
			CellsHidden:    out.Stats.Hidden,
			CellsUnknown:   out.Stats.Unknown,
			DegenerateRays: out.Stats.Degenerate,
			CellErrors:     out.Stats.CellErrors,
			VotesDropped:   out.Stats.Dropped,
			Rows:           rows,
			Cols:           cols,
			PixelsVisible:  visible,
			PixelsHidden:   hidden,
			PixelsNoData:   noData,
			OutputPath:     outputPath,
		},
		mask: out.Mask,
	})
}

// Latest returns the most recent summary and mask, or false before the
// first run completes.
func (s *RunStore) Latest() (RunSummary, *mask.Mask, bool) {
	l := s.latest.Load()
	if l == nil {
		return RunSummary{}, nil, false
	}
	return l.summary, l.mask, true
}
