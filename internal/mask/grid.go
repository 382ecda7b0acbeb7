// Package mask resamples per-cell visibility onto the satellite image grid.
package mask

import (
	"errors"
	"fmt"
	"math"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
)

// ImageGrid is the target pixel grid of the satellite product.
type ImageGrid interface {
	Dims() (rows, cols int)
	// PixelOf returns the pixel containing p, or false outside the grid.
	PixelOf(p geodesy.GeodeticPoint) (row, col int, ok bool)
	CenterOf(row, col int) (geodesy.GeodeticPoint, error)
	Georef() Georef
}

// Georef locates a grid for export: the outer lower-left corner and the
// cell size, in the grid's own coordinate units.
type Georef struct {
	XLLCorner, YLLCorner float64
	DX, DY               float64
}

// ErrOutsideGrid is returned by CenterOf for an index outside the grid.
var ErrOutsideGrid = errors.New("pixel outside image grid")

// AffineGrid is a north-up lon/lat image grid.
type AffineGrid struct {
	rows, cols int
	transform  dem.Affine
}

// NewAffineGrid validates a lon/lat image grid definition.
func NewAffineGrid(rows, cols int, t dem.Affine) (*AffineGrid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("image grid dimensions must be positive, got %dx%d", rows, cols)
	}
	if !t.NorthUp() {
		return nil, fmt.Errorf("image geotransform %v is not north-up", t)
	}
	return &AffineGrid{rows: rows, cols: cols, transform: t}, nil
}

func (g *AffineGrid) Dims() (rows, cols int) { return g.rows, g.cols }

func (g *AffineGrid) PixelOf(p geodesy.GeodeticPoint) (row, col int, ok bool) {
	c := math.Floor((p.LonDeg - g.transform[0]) / g.transform[1])
	r := math.Floor((p.LatDeg - g.transform[3]) / g.transform[5])
	if math.IsNaN(c) || math.IsNaN(r) {
		return 0, 0, false
	}
	row, col = int(r), int(c)
	return row, col, row >= 0 && row < g.rows && col >= 0 && col < g.cols
}

func (g *AffineGrid) CenterOf(row, col int) (geodesy.GeodeticPoint, error) {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return geodesy.GeodeticPoint{}, ErrOutsideGrid
	}
	lon, lat := g.transform.Apply(float64(col)+0.5, float64(row)+0.5)
	return geodesy.GeodeticPoint{LatDeg: lat, LonDeg: lon}, nil
}

func (g *AffineGrid) Georef() Georef {
	t := g.transform
	x0, x1 := t[0], t[0]+float64(g.cols)*t[1]
	y0, y1 := t[3], t[3]+float64(g.rows)*t[5]
	return Georef{
		XLLCorner: math.Min(x0, x1),
		YLLCorner: math.Min(y0, y1),
		DX:        math.Abs(t[1]),
		DY:        math.Abs(t[5]),
	}
}

// ABI instantaneous fields of view, radians: 0.5 km, 1 km and 2 km bands
// at the sub-satellite point.
const (
	IFOV500m = 14e-6
	IFOV1km  = 28e-6
	IFOV2km  = 56e-6
)

// FixedGrid is a GOES-R ABI fixed grid: pixels are equal steps in scan
// angle from the nominal projection. Columns increase eastward in x, rows
// increase southward in y. Pixel edges fall on whole multiples of the IFOV,
// so centers sit on half multiples.
type FixedGrid struct {
	proj       ephemeris.Projection
	x0, y0     float64 // scan angles of the upper-left pixel center, radians
	ifov       float64
	rows, cols int
}

// NewFixedGrid defines a fixed-grid subset whose upper-left pixel center is
// at scan angles (x0, y0). These are the x_offset and y_offset of a GOES-R
// product; ifov is its x_scale.
func NewFixedGrid(proj ephemeris.Projection, x0, y0, ifov float64, rows, cols int) (*FixedGrid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("image grid dimensions must be positive, got %dx%d", rows, cols)
	}
	if !(ifov > 0) {
		return nil, fmt.Errorf("IFOV must be positive, got %v", ifov)
	}
	if math.IsNaN(x0) || math.IsNaN(y0) || math.IsInf(x0, 0) || math.IsInf(y0, 0) {
		return nil, fmt.Errorf("grid offsets must be finite, got (%v, %v)", x0, y0)
	}
	if _, err := ephemeris.NewProjection(proj.LonOriginDeg, proj.PerspectiveHeightM, proj.Ellipsoid); err != nil {
		return nil, err
	}
	return &FixedGrid{proj: proj, x0: x0, y0: y0, ifov: ifov, rows: rows, cols: cols}, nil
}

// Scan-angle extents of standard GOES-East ABI sectors, outer pixel edges in
// radians. They hold for every band resolution.
var (
	FullDiskBounds = ScanBounds{XMin: -0.151872, XMax: 0.151872, YMin: -0.151872, YMax: 0.151872}
	CONUSBounds    = ScanBounds{XMin: -0.101360, XMax: 0.038640, YMin: 0.044240, YMax: 0.128240}
)

// ScanBounds is a rectangle of scan angles given by its outer pixel edges.
type ScanBounds struct {
	XMin, XMax, YMin, YMax float64
}

// NewFixedGridFromBounds lays pixels of size ifov over b.
func NewFixedGridFromBounds(proj ephemeris.Projection, b ScanBounds, ifov float64) (*FixedGrid, error) {
	if !(ifov > 0) {
		return nil, fmt.Errorf("IFOV must be positive, got %v", ifov)
	}
	cols := int(math.Round((b.XMax - b.XMin) / ifov))
	rows := int(math.Round((b.YMax - b.YMin) / ifov))
	return NewFixedGrid(proj, b.XMin+ifov/2, b.YMax-ifov/2, ifov, rows, cols)
}

// FixedGridCovering returns the smallest fixed grid that holds every corner
// cell of g both at sea level and lifted to the grid's highest sample, plus
// one pixel all round. A point's scan angles are those of its
// parallax-shifted apparent position, so this bounds where apparent
// positions can land. Pixel edges are snapped to multiples of ifov as in
// full-disk products.
func FixedGridCovering(g *dem.Grid, proj ephemeris.Projection, ifov float64) (*FixedGrid, error) {
	if !(ifov > 0) {
		return nil, fmt.Errorf("IFOV must be positive, got %v", ifov)
	}
	rows, cols := g.Dims()
	peak := g.Stats().Max
	if math.IsNaN(peak) || peak < 0 {
		peak = 0
	}

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, rc := range [][2]int{{0, 0}, {0, cols - 1}, {rows - 1, 0}, {rows - 1, cols - 1}} {
		p, err := g.GeodeticOf(rc[0], rc[1])
		if err != nil && !errors.Is(err, dem.ErrVoid) {
			return nil, err
		}
		for _, h := range []float64{0, peak} {
			p.ElevM = h
			x, y, err := ephemeris.ScanAngles(proj, p)
			if err != nil {
				return nil, fmt.Errorf("grid corner (%d, %d): %w", rc[0], rc[1], err)
			}
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}

	// Whole-pixel indices of the extremes, widened by one.
	c0 := math.Floor(minX/ifov) - 1
	c1 := math.Floor(maxX/ifov) + 1
	r0 := math.Floor(maxY/ifov) + 1
	r1 := math.Floor(minY/ifov) - 1
	return NewFixedGrid(proj, (c0+0.5)*ifov, (r0+0.5)*ifov, ifov, int(r0-r1)+1, int(c1-c0)+1)
}

func (g *FixedGrid) Dims() (rows, cols int) { return g.rows, g.cols }

// IFOV returns the pixel pitch in radians.
func (g *FixedGrid) IFOV() float64 { return g.ifov }

// Projection returns the nominal navigation of the grid.
func (g *FixedGrid) Projection() ephemeris.Projection { return g.proj }

// ScanAnglesOf returns the scan angles of a pixel center.
func (g *FixedGrid) ScanAnglesOf(row, col int) (x, y float64) {
	return g.x0 + float64(col)*g.ifov, g.y0 - float64(row)*g.ifov
}

func (g *FixedGrid) PixelOf(p geodesy.GeodeticPoint) (row, col int, ok bool) {
	x, y, err := ephemeris.ScanAngles(g.proj, p)
	if err != nil {
		return 0, 0, false
	}
	col = int(math.Round((x - g.x0) / g.ifov))
	row = int(math.Round((g.y0 - y) / g.ifov))
	return row, col, row >= 0 && row < g.rows && col >= 0 && col < g.cols
}

func (g *FixedGrid) CenterOf(row, col int) (geodesy.GeodeticPoint, error) {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return geodesy.GeodeticPoint{}, ErrOutsideGrid
	}
	x, y := g.ScanAnglesOf(row, col)
	return ephemeris.GeodeticFromScanAngles(g.proj, x, y)
}

// Georef is expressed in scan-angle radians.
func (g *FixedGrid) Georef() Georef {
	return Georef{
		XLLCorner: g.x0 - g.ifov/2,
		YLLCorner: g.y0 - float64(g.rows-1)*g.ifov - g.ifov/2,
		DX:        g.ifov,
		DY:        g.ifov,
	}
}
