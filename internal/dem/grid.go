// Package dem holds the elevation grid: a read-only raster of terrain
// heights above the ellipsoid, georeferenced by a north-up lon/lat affine.
package dem

import (
	"errors"
	"fmt"
	"math"

	"github.com/joricarter/goes-ortho/internal/geodesy"
)

// ErrVoid marks a sample that holds the grid's NoData value or NaN. It is a
// first-class state, not a failure.
var ErrVoid = errors.New("void elevation sample")

// OutOfBoundsError is returned for a row/col outside the grid.
type OutOfBoundsError struct {
	Row, Col   int
	Rows, Cols int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("cell (%d, %d) outside %dx%d grid", e.Row, e.Col, e.Rows, e.Cols)
}

// Cell addresses one sample by row and column.
type Cell struct {
	Row, Col int
}

// Affine is a GDAL-order geotransform mapping pixel corners to lon/lat degrees:
//
//	lon = A[0] + col*A[1] + row*A[2]
//	lat = A[3] + col*A[4] + row*A[5]
type Affine [6]float64

// Apply maps fractional pixel coordinates to lon/lat.
func (a Affine) Apply(col, row float64) (lon, lat float64) {
	return a[0] + col*a[1] + row*a[2], a[3] + col*a[4] + row*a[5]
}

// NorthUp reports whether the transform has no rotation terms.
func (a Affine) NorthUp() bool {
	return a[2] == 0 && a[4] == 0 && a[1] != 0 && a[5] != 0
}

// NorthUpAffine builds a transform whose upper-left corner is (westLon,
// northLat) and whose cells measure roughly cellSizeM on a side at northLat.
func NorthUpAffine(westLon, northLat, cellSizeM float64, e geodesy.Ellipsoid) Affine {
	lat := northLat * math.Pi / 180.0
	dLat := cellSizeM / e.MeridionalRadius(lat) * 180.0 / math.Pi
	dLon := cellSizeM / (e.PrimeVerticalRadius(lat) * math.Cos(lat)) * 180.0 / math.Pi
	return Affine{westLon, dLon, 0, northLat, 0, -dLat}
}

// Grid is an immutable elevation raster. Samples are row-major, heights in
// meters above the ellipsoid.
type Grid struct {
	rows, cols int
	samples    []float64
	transform  Affine
	noData     float64
	ellipsoid  geodesy.Ellipsoid
}

// NewGrid validates and wraps samples. The slice is not copied; callers must
// not modify it afterwards.
func NewGrid(rows, cols int, samples []float64, t Affine, noData float64, e geodesy.Ellipsoid) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", rows, cols)
	}
	if len(samples) != rows*cols {
		return nil, fmt.Errorf("grid has %d samples, want %d", len(samples), rows*cols)
	}
	if !t.NorthUp() {
		return nil, fmt.Errorf("geotransform %v is not north-up", t)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ellipsoid: %w", err)
	}

	g := &Grid{
		rows:      rows,
		cols:      cols,
		samples:   samples,
		transform: t,
		noData:    noData,
		ellipsoid: e,
	}

	for _, corner := range [][2]float64{{0, 0}, {float64(cols), float64(rows)}} {
		lon, lat := t.Apply(corner[0], corner[1])
		if lat < -90 || lat > 90 || lon < -360 || lon > 360 {
			return nil, fmt.Errorf("grid corner (%.6f, %.6f) outside geographic range", lon, lat)
		}
	}
	return g, nil
}

// Dims returns the grid's row and column counts.
func (g *Grid) Dims() (rows, cols int) { return g.rows, g.cols }

// Transform returns the grid's geotransform.
func (g *Grid) Transform() Affine { return g.transform }

// NoData returns the void sentinel.
func (g *Grid) NoData() float64 { return g.noData }

// Ellipsoid returns the reference ellipsoid heights are measured from.
func (g *Grid) Ellipsoid() geodesy.Ellipsoid { return g.ellipsoid }

// Samples returns a copy of the raw samples.
func (g *Grid) Samples() []float64 {
	out := make([]float64, len(g.samples))
	copy(out, g.samples)
	return out
}

// IsVoid reports whether v is a void sample for this grid.
func (g *Grid) IsVoid(v float64) bool {
	return math.IsNaN(v) || v == g.noData
}

// InBounds reports whether c addresses a sample.
func (g *Grid) InBounds(c Cell) bool {
	return c.Row >= 0 && c.Row < g.rows && c.Col >= 0 && c.Col < g.cols
}

// ElevationAt returns the sample at (row, col).
func (g *Grid) ElevationAt(row, col int) (float64, error) {
	if !g.InBounds(Cell{row, col}) {
		return math.NaN(), &OutOfBoundsError{Row: row, Col: col, Rows: g.rows, Cols: g.cols}
	}
	v := g.samples[row*g.cols+col]
	if g.IsVoid(v) {
		return math.NaN(), ErrVoid
	}
	return v, nil
}

// GeodeticOf returns the cell center with its elevation. For a void cell the
// horizontal position is still returned, with ElevM NaN and ErrVoid.
func (g *Grid) GeodeticOf(row, col int) (geodesy.GeodeticPoint, error) {
	h, err := g.ElevationAt(row, col)
	var oob *OutOfBoundsError
	if errors.As(err, &oob) {
		return geodesy.GeodeticPoint{}, err
	}
	lon, lat := g.transform.Apply(float64(col)+0.5, float64(row)+0.5)
	return geodesy.GeodeticPoint{LatDeg: lat, LonDeg: lon, ElevM: h}, err
}

// CellOf returns the cell containing (lon, lat), or false if it lies outside
// the grid.
func (g *Grid) CellOf(lon, lat float64) (Cell, bool) {
	col := math.Floor((lon - g.transform[0]) / g.transform[1])
	row := math.Floor((lat - g.transform[3]) / g.transform[5])
	if math.IsNaN(col) || math.IsNaN(row) {
		return Cell{}, false
	}
	c := Cell{Row: int(row), Col: int(col)}
	return c, g.InBounds(c)
}

// CellSizeM returns the approximate cell width and height in meters at
// latitude latDeg.
func (g *Grid) CellSizeM(latDeg float64) (width, height float64) {
	lat := latDeg * math.Pi / 180.0
	width = math.Abs(g.transform[1]) * math.Pi / 180.0 * g.ellipsoid.PrimeVerticalRadius(lat) * math.Cos(lat)
	height = math.Abs(g.transform[5]) * math.Pi / 180.0 * g.ellipsoid.MeridionalRadius(lat)
	return width, height
}

// ZeroAsVoid returns a grid in which exact zero samples are void. Some DEM
// products write 0 for missing ocean or lake tiles.
func ZeroAsVoid(g *Grid) *Grid {
	out := make([]float64, len(g.samples))
	for i, v := range g.samples {
		if v == 0 {
			v = g.noData
		}
		out[i] = v
	}
	ng := *g
	ng.samples = out
	return &ng
}
