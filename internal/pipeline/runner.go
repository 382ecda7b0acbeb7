package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/metrics"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

// RunStats summarizes one run.
type RunStats struct {
	Tiles         int
	DegradedTiles int // tiles with at least one per-cell error
	Visible       int
	Hidden        int
	Unknown       int
	Degenerate    int
	CellErrors    map[string]int
	Dropped       int // votes outside the image grid
	Duration      time.Duration
}

// Output is everything a run produces.
type Output struct {
	RunID    string
	Mask     *mask.Mask
	Coverage *mask.Coverage
	// Cells is row-major over the elevation grid.
	Cells []CellResult
	Stats RunStats
}

// Votes yields one vote per classified cell in row-major order.
func (o *Output) Votes() iter.Seq[mask.Vote] {
	return func(yield func(mask.Vote) bool) {
		for _, c := range o.Cells {
			if c.Visibility.State == visibility.Unknown {
				continue
			}
			if !yield(mask.Vote{Apparent: c.Position.Apparent, State: c.Visibility.State}) {
				return
			}
		}
	}
}

// Runner orchestrates visibility runs. It holds no per-run state and may
// run several grids concurrently.
type Runner struct {
	config        Config
	pool          *WorkerPool
	compositor    *mask.Compositor
	newClassifier func(*dem.Grid, ephemeris.SatellitePosition, visibility.Options) (classifier, error)
	logger        *slog.Logger
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	comp, err := mask.NewCompositor(cfg.OcclusionThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Runner{
		config:        cfg,
		pool:          NewWorkerPool(cfg.Workers, logger),
		compositor:    comp,
		newClassifier: newDeterminer,
		logger:        logger,
	}, nil
}

// Config returns the runner's configuration.
func (r *Runner) Config() Config { return r.config }

// Satellite returns the configured nominal satellite position.
func (r *Runner) Satellite() (ephemeris.SatellitePosition, error) {
	return r.config.Satellite()
}

// Run classifies every cell of grid as seen from sat, projects it to its
// apparent position, and composites the votes onto image. A cancelled
// context stops the run between tiles and returns the context error.
func (r *Runner) Run(ctx context.Context, grid *dem.Grid, sat ephemeris.SatellitePosition, image mask.ImageGrid) (*Output, error) {
	if grid == nil || image == nil {
		return nil, ErrNoGrid
	}
	rows, cols := grid.Dims()
	if rows == 0 || cols == 0 {
		return nil, ErrNoGrid
	}
	if irows, icols := image.Dims(); irows == 0 || icols == 0 {
		return nil, ErrNoGrid
	}
	if grid.Ellipsoid() != r.config.Ellipsoid {
		return nil, fmt.Errorf("%w: grid ellipsoid %+v differs from configured %+v",
			ErrInvalidConfig, grid.Ellipsoid(), r.config.Ellipsoid)
	}
	det, err := r.newClassifier(grid, sat, r.config.VisibilityOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("grid.rows", rows),
		attribute.Int("grid.cols", cols),
		attribute.Int("workers", r.config.Workers),
	)

	jobs := planTiles(rows, r.config.TileRows)
	logger.Info("run started",
		"rows", rows,
		"cols", cols,
		"tiles", len(jobs),
		"workers", r.config.Workers,
		"sub_lon", sat.SubLonDeg,
	)
	metrics.SetWorkers(r.config.Workers)

	start := time.Now()
	out := &Output{
		RunID: runID,
		Cells: make([]CellResult, rows*cols),
		Stats: RunStats{CellErrors: make(map[string]int)},
	}
	src := tileSource{grid: grid, sat: sat, det: det}

	r.pool.processTiles(ctx, src, jobs, func(res tileResult) {
		copy(out.Cells[res.job.row0*cols:res.job.row1*cols], res.cells)

		out.Stats.Tiles++
		out.Stats.Visible += res.visible
		out.Stats.Hidden += res.hidden
		out.Stats.Unknown += res.unknown
		out.Stats.Degenerate += res.degenerate
		outcome := "ok"
		var failed int
		for kind, n := range res.errors {
			out.Stats.CellErrors[kind] += n
			failed += n
			for range n {
				metrics.RecordCellError(kind)
			}
		}
		if failed > 0 {
			outcome = "degraded"
			out.Stats.DegradedTiles++
			logger.Warn("tile degraded",
				"tile", res.job.index,
				"row0", res.job.row0,
				"row1", res.job.row1,
				"cell_errors", failed,
				"error", res.err,
			)
		}
		metrics.RecordTile(outcome, res.visible, res.hidden, res.unknown)
		metrics.RecordDegenerateRays(res.degenerate)

		logger.Debug("tile complete",
			"tile", res.job.index,
			"visible", res.visible,
			"hidden", res.hidden,
			"unknown", res.unknown,
			"duration_ms", res.duration.Milliseconds(),
		)
	})

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		logger.Warn("run cancelled",
			"tiles_done", out.Stats.Tiles,
			"tiles", len(jobs),
		)
		return nil, fmt.Errorf("run %s cancelled: %w", runID, err)
	}

	out.Mask, out.Coverage = r.compositor.Composite(ctx, image, out.Votes())
	out.Stats.Dropped = out.Coverage.Dropped
	out.Stats.Duration = time.Since(start)
	metrics.RecordRun(out.Stats.Duration)

	visible, hidden, noData := out.Mask.Counts()
	logger.Info("run complete",
		"cells_visible", out.Stats.Visible,
		"cells_hidden", out.Stats.Hidden,
		"cells_unknown", out.Stats.Unknown,
		"degenerate_rays", out.Stats.Degenerate,
		"votes_dropped", out.Stats.Dropped,
		"pixels_visible", visible,
		"pixels_hidden", hidden,
		"pixels_nodata", noData,
		"duration_ms", out.Stats.Duration.Milliseconds(),
	)
	return out, nil
}

// planTiles splits rows into bands of at most tileRows.
func planTiles(rows, tileRows int) []tileJob {
	jobs := make([]tileJob, 0, (rows+tileRows-1)/tileRows)
	for row0 := 0; row0 < rows; row0 += tileRows {
		jobs = append(jobs, tileJob{
			index: len(jobs),
			row0:  row0,
			row1:  min(row0+tileRows, rows),
		})
	}
	return jobs
}
