package mask

import (
	"context"
	"fmt"
	"iter"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

const tracerName = "github.com/joricarter/goes-ortho/internal/mask"

// Output pixel values.
const (
	Hidden  uint8 = 0
	Visible uint8 = 1
	NoData  uint8 = 255
)

// DefaultThreshold hides a pixel when more than half its votes are hidden.
const DefaultThreshold = 0.5

// Vote is one elevation cell's contribution: its classification at the
// place the satellite sees it.
type Vote struct {
	Apparent geodesy.GeodeticPoint
	State    visibility.State
}

// Coverage counts votes per pixel.
type Coverage struct {
	Rows, Cols int
	Hidden     []uint32
	Visible    []uint32
	Dropped    int // votes landing outside the image grid
}

// NewCoverage allocates zeroed counters for grid.
func NewCoverage(grid ImageGrid) *Coverage {
	rows, cols := grid.Dims()
	return &Coverage{
		Rows:    rows,
		Cols:    cols,
		Hidden:  make([]uint32, rows*cols),
		Visible: make([]uint32, rows*cols),
	}
}

// Add records one vote. Unknown cells never vote.
func (c *Coverage) Add(grid ImageGrid, v Vote) {
	if v.State != visibility.Visible && v.State != visibility.Hidden {
		return
	}
	row, col, ok := grid.PixelOf(v.Apparent)
	if !ok {
		c.Dropped++
		return
	}
	i := row*c.Cols + col
	if v.State == visibility.Hidden {
		c.Hidden[i]++
	} else {
		c.Visible[i]++
	}
}

// HiddenFraction returns hidden/(hidden+visible) at pixel i, NaN with no votes.
func (c *Coverage) HiddenFraction(i int) float64 {
	total := c.Hidden[i] + c.Visible[i]
	if total == 0 {
		return math.NaN()
	}
	return float64(c.Hidden[i]) / float64(total)
}

// Mask is the output raster, row-major.
type Mask struct {
	Grid   ImageGrid
	Values []uint8
}

// At returns the value at (row, col).
func (m *Mask) At(row, col int) uint8 {
	_, cols := m.Grid.Dims()
	return m.Values[row*cols+col]
}

// Counts tallies pixel values.
func (m *Mask) Counts() (visible, hidden, noData int) {
	for _, v := range m.Values {
		switch v {
		case Visible:
			visible++
		case Hidden:
			hidden++
		default:
			noData++
		}
	}
	return visible, hidden, noData
}

// Compositor resolves coverage into a mask. A pixel is Hidden when its
// hidden fraction strictly exceeds Threshold, so an exact tie is Visible.
type Compositor struct {
	Threshold float64
}

// NewCompositor validates threshold ∈ [0, 1].
func NewCompositor(threshold float64) (*Compositor, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("occlusion threshold %v outside [0, 1]", threshold)
	}
	return &Compositor{Threshold: threshold}, nil
}

// Resolve turns counts into pixel values.
func (c *Compositor) Resolve(grid ImageGrid, cov *Coverage) *Mask {
	m := &Mask{Grid: grid, Values: make([]uint8, len(cov.Hidden))}
	for i := range m.Values {
		f := cov.HiddenFraction(i)
		switch {
		case math.IsNaN(f):
			m.Values[i] = NoData
		case f > c.Threshold:
			m.Values[i] = Hidden
		default:
			m.Values[i] = Visible
		}
	}
	return m
}

// Composite accumulates votes onto grid and resolves the mask.
func (c *Compositor) Composite(ctx context.Context, grid ImageGrid, votes iter.Seq[Vote]) (*Mask, *Coverage) {
	_, span := otel.Tracer(tracerName).Start(ctx, "mask.Composite")
	defer span.End()

	cov := NewCoverage(grid)
	for v := range votes {
		cov.Add(grid, v)
	}
	m := c.Resolve(grid, cov)

	visible, hidden, noData := m.Counts()
	span.SetAttributes(
		attribute.Int("pixels.visible", visible),
		attribute.Int("pixels.hidden", hidden),
		attribute.Int("pixels.nodata", noData),
		attribute.Int("votes.dropped", cov.Dropped),
	)
	return m, cov
}
