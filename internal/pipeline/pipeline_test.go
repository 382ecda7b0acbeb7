package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/parallax"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

const noData = -9999.0

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newRunner(t testing.TB, cfg Config) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func satellite(t testing.TB, cfg Config) ephemeris.SatellitePosition {
	t.Helper()
	sat, err := cfg.Satellite()
	if err != nil {
		t.Fatalf("Satellite: %v", err)
	}
	return sat
}

func newGrid(t testing.TB, rows, cols int, samples []float64, westLon, northLat, cellM float64, e geodesy.Ellipsoid) *dem.Grid {
	t.Helper()
	g, err := dem.NewGrid(rows, cols, samples, dem.NorthUpAffine(westLon, northLat, cellM, e), noData, e)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

// sameGrid returns an image grid whose pixels are exactly the DEM cells.
func sameGrid(t testing.TB, g *dem.Grid) *mask.AffineGrid {
	t.Helper()
	rows, cols := g.Dims()
	img, err := mask.NewAffineGrid(rows, cols, g.Transform())
	if err != nil {
		t.Fatalf("NewAffineGrid: %v", err)
	}
	return img
}

// terrain is a deterministic rolling surface with a few sharp ridges.
func terrain(rows, cols int) []float64 {
	s := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			h := 1500 + 600*math.Sin(float64(r)/5)*math.Cos(float64(c)/7)
			if r%17 == 0 {
				h += 900
			}
			s[r*cols+c] = h
		}
	}
	return s
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.Ellipsoid != geodesy.GRS80 {
		t.Errorf("Ellipsoid = %+v, want GRS80", cfg.Ellipsoid)
	}
	if cfg.OcclusionThreshold != 0.5 || !cfg.CurvatureCorrection || cfg.TiePolicy != visibility.TieOccludes {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.TileRows != DefaultTileRows || cfg.Workers < 1 {
		t.Errorf("TileRows=%d Workers=%d", cfg.TileRows, cfg.Workers)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad ellipsoid", func(c *Config) { c.Ellipsoid = geodesy.Ellipsoid{SemiMajorAxis: -1} }},
		{"longitude", func(c *Config) { c.SubSatelliteLonDeg = 181 }},
		{"longitude NaN", func(c *Config) { c.SubSatelliteLonDeg = math.NaN() }},
		{"altitude", func(c *Config) { c.SatelliteAltitudeM = 0 }},
		{"threshold low", func(c *Config) { c.OcclusionThreshold = -0.1 }},
		{"threshold high", func(c *Config) { c.OcclusionThreshold = 1.1 }},
		{"max walk", func(c *Config) { c.MaxWalkM = -5 }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"tile rows", func(c *Config) { c.TileRows = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if _, err := NewRunner(cfg, testLogger()); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewRunner() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPlanTiles(t *testing.T) {
	tests := []struct {
		rows, tileRows int
		want           []tileJob
	}{
		{1, 32, []tileJob{{0, 0, 1}}},
		{32, 32, []tileJob{{0, 0, 32}}},
		{33, 32, []tileJob{{0, 0, 32}, {1, 32, 33}}},
		{10, 4, []tileJob{{0, 0, 4}, {1, 4, 8}, {2, 8, 10}}},
	}

	for _, tt := range tests {
		if got := planTiles(tt.rows, tt.tileRows); !slices.Equal(got, tt.want) {
			t.Errorf("planTiles(%d, %d) = %v, want %v", tt.rows, tt.tileRows, got, tt.want)
		}
	}
}

func TestRun_FlatTerrainAllVisible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubSatelliteLonDeg = -137.2
	g := newGrid(t, 40, 40, make([]float64, 1600), -119.6, 38, 90, cfg.Ellipsoid)

	out, err := newRunner(t, cfg).Run(context.Background(), g, satellite(t, cfg), sameGrid(t, g))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Stats.Visible != 1600 || out.Stats.Hidden != 0 || out.Stats.Unknown != 0 {
		t.Errorf("stats = %+v, want all 1600 visible", out.Stats)
	}
	if visible, hidden, nd := out.Mask.Counts(); visible != 1600 || hidden != 0 || nd != 0 {
		t.Errorf("mask counts = %d/%d/%d, want 1600/0/0", visible, hidden, nd)
	}
	if out.Stats.Tiles != 2 {
		t.Errorf("tiles = %d, want 2", out.Stats.Tiles)
	}
	if out.RunID == "" {
		t.Error("empty run id")
	}
	for i, c := range out.Cells {
		if c.Position.DisplacementM != 0 {
			t.Fatalf("cell %d displaced by %v m at sea level", i, c.Position.DisplacementM)
		}
	}
}

// TestRun_SingleRidge runs the 60°N wall through the whole pipeline: the
// 12 rows north of the wall are hidden.
func TestRun_SingleRidge(t *testing.T) {
	const westLon = -119.3
	cfg := DefaultConfig()
	cfg.Ellipsoid = geodesy.WGS84
	cfg.SubSatelliteLonDeg = westLon
	cfg.TileRows = 7

	samples := make([]float64, 30*6)
	for c := 0; c < 6; c++ {
		samples[20*6+c] = 500
	}
	g := newGrid(t, 30, 6, samples, westLon, 60, 100, cfg.Ellipsoid)

	out, err := newRunner(t, cfg).Run(context.Background(), g, satellite(t, cfg), sameGrid(t, g))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Stats.Hidden != 72 || out.Stats.Visible != 108 {
		t.Errorf("hidden/visible = %d/%d, want 72/108", out.Stats.Hidden, out.Stats.Visible)
	}
	for row := 0; row < 30; row++ {
		want := visibility.Visible
		if row >= 8 && row < 20 {
			want = visibility.Hidden
		}
		if got := out.Cells[row*6+3].Visibility.State; got != want {
			t.Errorf("row %d = %v, want %v", row, got, want)
		}
	}
}

func TestRun_VoidCellsAreNoData(t *testing.T) {
	cfg := DefaultConfig()
	samples := make([]float64, 10*10)
	voids := []int{0, 11, 55, 99}
	for _, i := range voids {
		samples[i] = noData
	}
	g := newGrid(t, 10, 10, samples, -84.7, 33.9, 250, cfg.Ellipsoid)

	out, err := newRunner(t, cfg).Run(context.Background(), g, satellite(t, cfg), sameGrid(t, g))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Stats.Unknown != len(voids) {
		t.Errorf("unknown = %d, want %d", out.Stats.Unknown, len(voids))
	}
	if len(out.Stats.CellErrors) != 0 {
		t.Errorf("cell errors = %v, want none for void cells", out.Stats.CellErrors)
	}
	for _, i := range voids {
		if got := out.Mask.Values[i]; got != mask.NoData {
			t.Errorf("pixel %d = %d, want NoData", i, got)
		}
	}
	if _, _, nd := out.Mask.Counts(); nd != len(voids) {
		t.Errorf("nodata pixels = %d, want %d", nd, len(voids))
	}
}

func TestRun_DegenerateRayVotesAtTruePosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ellipsoid = geodesy.WGS84
	cfg.SubSatelliteLonDeg = 0
	cfg.MinElevationDeg = -90
	g := newGrid(t, 1, 1, []float64{500e3}, -0.0005, 80.0005, 100, cfg.Ellipsoid)

	out, err := newRunner(t, cfg).Run(context.Background(), g, satellite(t, cfg), sameGrid(t, g))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Stats.Degenerate != 1 {
		t.Errorf("degenerate = %d, want 1", out.Stats.Degenerate)
	}
	c := out.Cells[0]
	if !c.Position.Degenerate || c.Position.Apparent != c.Position.True {
		t.Errorf("position = %+v, want the true position flagged degenerate", c.Position)
	}
	if out.Coverage.Dropped != 0 || out.Mask.Values[0] == mask.NoData {
		t.Errorf("degenerate vote did not land on its own pixel: dropped=%d value=%d",
			out.Coverage.Dropped, out.Mask.Values[0])
	}
}

// TestRun_Idempotent checks bit-identical output regardless of scheduling.
func TestRun_Idempotent(t *testing.T) {
	base := DefaultConfig()
	base.SubSatelliteLonDeg = -137.2
	rows, cols := 64, 48
	g := newGrid(t, rows, cols, terrain(rows, cols), -119.6, 38, 90, base.Ellipsoid)
	sat := satellite(t, base)
	proj, err := base.Projection()
	if err != nil {
		t.Fatalf("Projection: %v", err)
	}
	img, err := mask.FixedGridCovering(g, proj, mask.IFOV500m)
	if err != nil {
		t.Fatalf("FixedGridCovering: %v", err)
	}

	var want *Output
	for _, sched := range []struct{ workers, tileRows int }{
		{1, 64}, {1, 1}, {3, 7}, {8, 5}, {8, 32},
	} {
		cfg := base
		cfg.Workers = sched.workers
		cfg.TileRows = sched.tileRows
		out, err := newRunner(t, cfg).Run(context.Background(), g, sat, img)
		if err != nil {
			t.Fatalf("Run(workers=%d, tile_rows=%d): %v", sched.workers, sched.tileRows, err)
		}
		if want == nil {
			want = out
			if want.Stats.Hidden == 0 {
				t.Fatal("test terrain hides nothing")
			}
			continue
		}
		if !slices.Equal(out.Mask.Values, want.Mask.Values) {
			t.Errorf("workers=%d tile_rows=%d: mask differs", sched.workers, sched.tileRows)
		}
		if !slices.Equal(out.Coverage.Hidden, want.Coverage.Hidden) || !slices.Equal(out.Coverage.Visible, want.Coverage.Visible) {
			t.Errorf("workers=%d tile_rows=%d: coverage differs", sched.workers, sched.tileRows)
		}
		for i := range out.Cells {
			if out.Cells[i].Visibility.State != want.Cells[i].Visibility.State ||
				out.Cells[i].Position.Apparent != want.Cells[i].Position.Apparent {
				t.Fatalf("workers=%d tile_rows=%d: cell %d differs", sched.workers, sched.tileRows, i)
			}
		}
		if out.RunID == want.RunID {
			t.Error("run ids repeat across runs")
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TileRows = 1
	g := newGrid(t, 20, 20, terrain(20, 20), -84.7, 33.9, 90, cfg.Ellipsoid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newRunner(t, cfg).Run(ctx, g, satellite(t, cfg), sameGrid(t, g))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if out != nil {
		t.Error("cancelled run returned output")
	}
}

func TestRun_Preconditions(t *testing.T) {
	cfg := DefaultConfig()
	r := newRunner(t, cfg)
	sat := satellite(t, cfg)
	g := newGrid(t, 4, 4, make([]float64, 16), -84.7, 33.9, 90, cfg.Ellipsoid)
	img := sameGrid(t, g)

	if _, err := r.Run(context.Background(), nil, sat, img); !errors.Is(err, ErrNoGrid) {
		t.Errorf("nil DEM: err = %v, want ErrNoGrid", err)
	}
	if _, err := r.Run(context.Background(), g, sat, nil); !errors.Is(err, ErrNoGrid) {
		t.Errorf("nil image grid: err = %v, want ErrNoGrid", err)
	}

	wgs := newGrid(t, 4, 4, make([]float64, 16), -84.7, 33.9, 90, geodesy.WGS84)
	if _, err := r.Run(context.Background(), wgs, sat, img); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ellipsoid mismatch: err = %v, want ErrInvalidConfig", err)
	}

	if _, err := r.Run(context.Background(), g, ephemeris.SatellitePosition{}, img); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero satellite: err = %v, want ErrInvalidConfig", err)
	}
}

// failingClassifier wraps a real classifier and fails chosen cells.
type failingClassifier struct {
	classifier
	fail func(dem.Cell) error
}

func (f failingClassifier) Classify(c dem.Cell) (visibility.Result, error) {
	if err := f.fail(c); err != nil {
		return visibility.Result{State: visibility.Unknown}, err
	}
	return f.classifier.Classify(c)
}

// tilesDegraded reads the degraded-tile counter from the default registry.
func tilesDegraded(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "goesortho_tiles_processed_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == "degraded" {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// TestRun_CellErrorsDegradeTiles pushes per-cell failures through a full
// run: failed cells become unknown, their tiles are degraded, and the run
// still produces a mask.
func TestRun_CellErrorsDegradeTiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubSatelliteLonDeg = -137.2
	cfg.TileRows = 4
	cfg.Workers = 2
	rows, cols := 8, 6
	g := newGrid(t, rows, cols, make([]float64, rows*cols), -119.6, 38, 90, cfg.Ellipsoid)

	r := newRunner(t, cfg)
	r.newClassifier = func(g *dem.Grid, sat ephemeris.SatellitePosition, opts visibility.Options) (classifier, error) {
		det, err := newDeterminer(g, sat, opts)
		if err != nil {
			return nil, err
		}
		return failingClassifier{classifier: det, fail: func(c dem.Cell) error {
			switch {
			case c.Col == 2:
				return &geodesy.ConvergenceError{Iterations: 32, Residual: 1e-3}
			case c.Row == 5 && c.Col == 4:
				return &dem.OutOfBoundsError{Row: c.Row, Col: c.Col, Rows: rows, Cols: cols}
			}
			return nil
		}}, nil
	}

	before := tilesDegraded(t)
	out, err := r.Run(context.Background(), g, satellite(t, cfg), sameGrid(t, g))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := out.Stats.CellErrors[kindConvergence]; got != rows {
		t.Errorf("convergence errors = %d, want %d", got, rows)
	}
	if got := out.Stats.CellErrors[kindOutOfBounds]; got != 1 {
		t.Errorf("out-of-bounds errors = %d, want 1", got)
	}
	if out.Stats.Unknown != rows+1 || out.Stats.Visible != rows*cols-rows-1 {
		t.Errorf("stats = %+v, want %d unknown", out.Stats, rows+1)
	}
	if out.Stats.Tiles != 2 || out.Stats.DegradedTiles != 2 {
		t.Errorf("tiles = %d, degraded = %d, want 2 and 2", out.Stats.Tiles, out.Stats.DegradedTiles)
	}
	if got := tilesDegraded(t) - before; got != 2 {
		t.Errorf("degraded tile counter delta = %v, want 2", got)
	}

	for row := 0; row < rows; row++ {
		c := out.Cells[row*cols+2]
		if c.Visibility.State != visibility.Unknown || c.Position != (parallax.ApparentPosition{}) {
			t.Errorf("cell (%d, 2) = %+v, want unknown without a position", row, c)
		}
		// At sea level every vote lands on its own cell, so a failed cell
		// leaves its pixel without votes.
		if v := out.Mask.At(row, 2); v != mask.NoData {
			t.Errorf("pixel (%d, 2) = %d, want NoData", row, v)
		}
		if v := out.Mask.At(row, 0); v != mask.Visible {
			t.Errorf("pixel (%d, 0) = %d, want visible", row, v)
		}
	}
}

func TestOutputVotesSkipsUnknown(t *testing.T) {
	out := &Output{Cells: []CellResult{
		{Visibility: visibility.Result{State: visibility.Visible}},
		{Visibility: visibility.Result{State: visibility.Unknown}},
		{Visibility: visibility.Result{State: visibility.Hidden}},
	}}
	var got []visibility.State
	for v := range out.Votes() {
		got = append(got, v.State)
	}
	want := []visibility.State{visibility.Visible, visibility.Hidden}
	if !slices.Equal(got, want) {
		t.Errorf("votes = %v, want %v", got, want)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&dem.OutOfBoundsError{Row: -1}, kindOutOfBounds},
		{&geodesy.ConvergenceError{Iterations: 32}, kindConvergence},
		{errors.New("boom"), kindOther},
	}
	for _, tt := range tests {
		if got := errorKind(tt.err); got != tt.want {
			t.Errorf("errorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func BenchmarkRun(b *testing.B) {
	cfg := DefaultConfig()
	rows, cols := 256, 256
	g := newGrid(b, rows, cols, terrain(rows, cols), -119.6, 38, 30, cfg.Ellipsoid)
	sat := satellite(b, cfg)
	img := sameGrid(b, g)
	r := newRunner(b, cfg)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Run(context.Background(), g, sat, img); err != nil {
			b.Fatal(err)
		}
	}
}
