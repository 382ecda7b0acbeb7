package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/parallax"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

const tracerName = "github.com/joricarter/goes-ortho/internal/pipeline"

// Cell error kinds, used as metric labels.
const (
	kindOutOfBounds = "out_of_bounds"
	kindConvergence = "convergence"
	kindOther       = "other"
)

// CellResult is the full outcome for one elevation cell.
type CellResult struct {
	Cell       dem.Cell
	Visibility visibility.Result
	// Position is the zero value for void cells.
	Position parallax.ApparentPosition
}

// tileJob is one row band [row0, row1).
type tileJob struct {
	index      int
	row0, row1 int
}

// tileResult carries a finished band back to the collector.
type tileResult struct {
	job        tileJob
	cells      []CellResult
	visible    int
	hidden     int
	unknown    int
	degenerate int
	errors     map[string]int
	duration   time.Duration
	err        error
}

// WorkerPool classifies row-band tiles on a fixed number of goroutines.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// classifier decides the visibility of one cell.
type classifier interface {
	Classify(c dem.Cell) (visibility.Result, error)
}

// newDeterminer is the default classifier factory.
func newDeterminer(g *dem.Grid, sat ephemeris.SatellitePosition, opts visibility.Options) (classifier, error) {
	d, err := visibility.NewDeterminer(g, sat, opts)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// tileSource is the read-only state every worker shares.
type tileSource struct {
	grid *dem.Grid
	sat  ephemeris.SatellitePosition
	det  classifier
}

// processTiles runs jobs through the pool and hands each finished tile to
// collect on the calling goroutine. It returns once every worker has exited.
func (wp *WorkerPool) processTiles(ctx context.Context, src tileSource, jobsIn []tileJob, collect func(tileResult)) {
	if len(jobsIn) == 0 {
		return
	}

	wp.logger.Debug("tile pool starting", "workers", wp.workers, "tiles", len(jobsIn))

	jobs := make(chan tileJob, wp.workers*2)
	results := make(chan tileResult, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				result := processTile(ctx, src, job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, job := range jobsIn {
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		collect(result)
	}
}

// processTile classifies and projects every cell of one row band.
func processTile(ctx context.Context, src tileSource, job tileJob) tileResult {
	_, span := otel.Tracer(tracerName).Start(ctx, "pipeline.tile")
	defer span.End()

	start := time.Now()
	_, cols := src.grid.Dims()
	e := src.grid.Ellipsoid()
	res := tileResult{
		job:    job,
		cells:  make([]CellResult, 0, (job.row1-job.row0)*cols),
		errors: make(map[string]int),
	}

	for row := job.row0; row < job.row1; row++ {
		for col := 0; col < cols; col++ {
			cr := classifyCell(src, e, dem.Cell{Row: row, Col: col}, &res)
			switch cr.Visibility.State {
			case visibility.Visible:
				res.visible++
			case visibility.Hidden:
				res.hidden++
			default:
				res.unknown++
			}
			res.cells = append(res.cells, cr)
		}
	}
	res.duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("tile.index", job.index),
		attribute.Int("tile.row0", job.row0),
		attribute.Int("tile.row1", job.row1),
		attribute.Int("cells.visible", res.visible),
		attribute.Int("cells.hidden", res.hidden),
		attribute.Int("cells.unknown", res.unknown),
	)
	return res
}

// classifyCell degrades every per-cell failure to Unknown and tallies it on res.
func classifyCell(src tileSource, e geodesy.Ellipsoid, c dem.Cell, res *tileResult) CellResult {
	cr := CellResult{Cell: c}

	vis, err := src.det.Classify(c)
	cr.Visibility = vis
	if err != nil {
		res.errors[errorKind(err)]++
		if res.err == nil {
			res.err = err
		}
		return cr
	}
	if vis.State == visibility.Unknown {
		return cr
	}

	p, err := src.grid.GeodeticOf(c.Row, c.Col)
	if err != nil {
		cr.Visibility.State = visibility.Unknown
		res.errors[errorKind(err)]++
		return cr
	}

	pos, err := parallax.Apparent(p, src.sat, e)
	var degenerate *parallax.DegenerateRayError
	switch {
	case errors.As(err, &degenerate):
		// Votes at the true position.
		res.degenerate++
	case err != nil:
		cr.Visibility.State = visibility.Unknown
		res.errors[errorKind(err)]++
		if res.err == nil {
			res.err = err
		}
		return cr
	}
	cr.Position = pos
	return cr
}

func errorKind(err error) string {
	var oob *dem.OutOfBoundsError
	var conv *geodesy.ConvergenceError
	switch {
	case errors.As(err, &oob):
		return kindOutOfBounds
	case errors.As(err, &conv):
		return kindConvergence
	default:
		return kindOther
	}
}
