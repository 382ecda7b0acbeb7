package mask

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/parallax"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

func affineGrid(t *testing.T, rows, cols int) *AffineGrid {
	t.Helper()
	g, err := NewAffineGrid(rows, cols, dem.Affine{-120, 0.02, 0, 38.5, 0, -0.02})
	if err != nil {
		t.Fatalf("NewAffineGrid: %v", err)
	}
	return g
}

func votesAt(t *testing.T, g ImageGrid, row, col, hidden, visible int) []Vote {
	t.Helper()
	p, err := g.CenterOf(row, col)
	if err != nil {
		t.Fatal(err)
	}
	var votes []Vote
	for i := 0; i < hidden; i++ {
		votes = append(votes, Vote{Apparent: p, State: visibility.Hidden})
	}
	for i := 0; i < visible; i++ {
		votes = append(votes, Vote{Apparent: p, State: visibility.Visible})
	}
	return votes
}

func TestCompositeThreshold(t *testing.T) {
	g := affineGrid(t, 1, 3)
	var votes []Vote
	votes = append(votes, votesAt(t, g, 0, 0, 49, 51)...)
	votes = append(votes, votesAt(t, g, 0, 1, 50, 50)...)
	votes = append(votes, votesAt(t, g, 0, 2, 51, 49)...)

	c, err := NewCompositor(DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	m, cov := c.Composite(context.Background(), g, slices.Values(votes))

	want := []uint8{Visible, Visible, Hidden}
	if !slices.Equal(m.Values, want) {
		t.Errorf("49/50/51%% hidden -> %v, want %v", m.Values, want)
	}
	if cov.Hidden[1] != 50 || cov.Visible[1] != 50 {
		t.Errorf("coverage at pixel 1 = %d/%d, want 50/50", cov.Hidden[1], cov.Visible[1])
	}
	if f := cov.HiddenFraction(2); f != 0.51 {
		t.Errorf("HiddenFraction(2) = %v, want 0.51", f)
	}
}

func TestCompositeThresholdExtremes(t *testing.T) {
	g := affineGrid(t, 1, 2)
	var votes []Vote
	votes = append(votes, votesAt(t, g, 0, 0, 1, 9)...)
	votes = append(votes, votesAt(t, g, 0, 1, 10, 0)...)

	tests := []struct {
		threshold float64
		want      []uint8
	}{
		{0, []uint8{Hidden, Hidden}},
		{1, []uint8{Visible, Visible}},
		{0.05, []uint8{Hidden, Hidden}},
		{0.1, []uint8{Visible, Hidden}},
	}
	for _, tt := range tests {
		c, err := NewCompositor(tt.threshold)
		if err != nil {
			t.Fatal(err)
		}
		m, _ := c.Composite(context.Background(), g, slices.Values(votes))
		if !slices.Equal(m.Values, tt.want) {
			t.Errorf("threshold %v: %v, want %v", tt.threshold, m.Values, tt.want)
		}
	}
}

func TestCompositeNoData(t *testing.T) {
	g := affineGrid(t, 2, 2)
	p00, _ := g.CenterOf(0, 0)
	p01, _ := g.CenterOf(0, 1)

	votes := []Vote{
		{Apparent: p00, State: visibility.Unknown},
		{Apparent: p00, State: visibility.Unknown},
		{Apparent: p01, State: visibility.Visible},
		{Apparent: p01, State: visibility.Unknown},
		{Apparent: geodesy.GeodeticPoint{LatDeg: 10, LonDeg: 10}, State: visibility.Hidden},
	}

	c, _ := NewCompositor(DefaultThreshold)
	m, cov := c.Composite(context.Background(), g, slices.Values(votes))

	if got := m.At(0, 0); got != NoData {
		t.Errorf("all-unknown pixel = %d, want NoData", got)
	}
	if got := m.At(0, 1); got != Visible {
		t.Errorf("mixed pixel = %d, want Visible (unknown never votes)", got)
	}
	if got := m.At(1, 0); got != NoData {
		t.Errorf("empty pixel = %d, want NoData", got)
	}
	if cov.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", cov.Dropped)
	}
	if v, h, n := m.Counts(); v != 1 || h != 0 || n != 3 {
		t.Errorf("Counts = %d/%d/%d, want 1/0/3", v, h, n)
	}
}

func TestNewCompositor_Invalid(t *testing.T) {
	for _, th := range []float64{-0.1, 1.01, math.NaN()} {
		if _, err := NewCompositor(th); err == nil {
			t.Errorf("NewCompositor(%v): expected error", th)
		}
	}
}

func TestAffineGrid(t *testing.T) {
	g := affineGrid(t, 4, 5)

	for r := 0; r < 4; r++ {
		for c := 0; c < 5; c++ {
			p, err := g.CenterOf(r, c)
			if err != nil {
				t.Fatal(err)
			}
			row, col, ok := g.PixelOf(p)
			if !ok || row != r || col != c {
				t.Errorf("PixelOf(center %d,%d) = %d,%d,%v", r, c, row, col, ok)
			}
		}
	}

	if _, err := g.CenterOf(4, 0); !errors.Is(err, ErrOutsideGrid) {
		t.Errorf("CenterOf outside = %v, want ErrOutsideGrid", err)
	}
	if _, _, ok := g.PixelOf(geodesy.GeodeticPoint{LatDeg: 38.6, LonDeg: -119.99}); ok {
		t.Error("point north of grid reported inside")
	}

	want := Georef{XLLCorner: -120, YLLCorner: 38.42, DX: 0.02, DY: 0.02}
	got := g.Georef()
	if math.Abs(got.XLLCorner-want.XLLCorner) > 1e-12 || math.Abs(got.YLLCorner-want.YLLCorner) > 1e-12 ||
		got.DX != want.DX || got.DY != want.DY {
		t.Errorf("Georef = %+v, want %+v", got, want)
	}

	if _, err := NewAffineGrid(0, 1, dem.Affine{0, 1, 0, 0, 0, -1}); err == nil {
		t.Error("empty grid: expected error")
	}
	if _, err := NewAffineGrid(1, 1, dem.Affine{0, 1, 0.1, 0, 0, -1}); err == nil {
		t.Error("rotated grid: expected error")
	}
}

// goesWest returns the nominal GOES-West projection and the matching
// satellite position.
func goesWest(t *testing.T) (ephemeris.Projection, ephemeris.SatellitePosition) {
	t.Helper()
	proj, err := ephemeris.NewProjection(-137.2, ephemeris.NominalAltitudeM, geodesy.GRS80)
	if err != nil {
		t.Fatal(err)
	}
	sat, err := proj.Origin()
	if err != nil {
		t.Fatal(err)
	}
	return proj, sat
}

func TestFixedGrid_RoundTrip(t *testing.T) {
	proj, _ := goesWest(t)
	g, err := NewFixedGrid(proj, 0.0500, 0.1000, IFOV1km, 6, 8)
	if err != nil {
		t.Fatalf("NewFixedGrid: %v", err)
	}

	for r := 0; r < 6; r++ {
		for c := 0; c < 8; c++ {
			p, err := g.CenterOf(r, c)
			if err != nil {
				t.Fatalf("CenterOf(%d,%d): %v", r, c, err)
			}
			row, col, ok := g.PixelOf(p)
			if !ok || row != r || col != c {
				t.Errorf("PixelOf(center %d,%d) = %d,%d,%v", r, c, row, col, ok)
			}
		}
	}

	// Row 0 is the northernmost.
	top, _ := g.CenterOf(0, 0)
	bottom, _ := g.CenterOf(5, 0)
	if top.LatDeg <= bottom.LatDeg {
		t.Errorf("row 0 lat %v not north of row 5 lat %v", top.LatDeg, bottom.LatDeg)
	}

	geo := g.Georef()
	if geo.DX != IFOV1km || math.Abs(geo.XLLCorner-(0.05-IFOV1km/2)) > 1e-15 {
		t.Errorf("Georef = %+v", geo)
	}
}

// TestFixedGrid_ParallaxConsistency checks that an elevated point and its
// parallax-shifted apparent position land in the same pixel: both lie on
// one ray from the satellite.
func TestFixedGrid_ParallaxConsistency(t *testing.T) {
	proj, sat := goesWest(t)
	p := geodesy.GeodeticPoint{LatDeg: 37.75, LonDeg: -119.5, ElevM: 3900}

	x, y, err := ephemeris.ScanAngles(proj, p)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewFixedGrid(proj, x-10*IFOV500m, y+10*IFOV500m, IFOV500m, 21, 21)
	if err != nil {
		t.Fatal(err)
	}

	ap, err := parallax.Apparent(p, sat, geodesy.GRS80)
	if err != nil {
		t.Fatal(err)
	}

	r1, c1, ok1 := g.PixelOf(p)
	r2, c2, ok2 := g.PixelOf(ap.Apparent)
	if !ok1 || !ok2 || r1 != r2 || c1 != c2 {
		t.Errorf("true (%d,%d,%v) vs apparent (%d,%d,%v)", r1, c1, ok1, r2, c2, ok2)
	}
	if r1 != 10 || c1 != 10 {
		t.Errorf("pixel = (%d,%d), want (10,10)", r1, c1)
	}
}

func TestFixedGridCovering(t *testing.T) {
	proj, sat := goesWest(t)
	rows, cols := 60, 80
	samples := make([]float64, rows*cols)
	for i := range samples {
		samples[i] = float64(i % 4000)
	}
	d, err := dem.NewGrid(rows, cols, samples, dem.NorthUpAffine(-119.6, 38.0, 90, geodesy.GRS80), -9999, geodesy.GRS80)
	if err != nil {
		t.Fatal(err)
	}

	g, err := FixedGridCovering(d, proj, IFOV1km)
	if err != nil {
		t.Fatalf("FixedGridCovering: %v", err)
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			p, _ := d.GeodeticOf(r, c)
			ap, err := parallax.Apparent(p, sat, geodesy.GRS80)
			if err != nil {
				t.Fatal(err)
			}
			if _, _, ok := g.PixelOf(ap.Apparent); !ok {
				t.Fatalf("apparent position of cell (%d,%d) outside covering grid", r, c)
			}
		}
	}

	if rows, cols := g.Dims(); rows > 16 || cols > 16 {
		t.Errorf("covering grid %dx%d is larger than needed for a 5x7 km DEM", rows, cols)
	}

	// Centers on half multiples of the IFOV, edges on whole multiples.
	x, y := g.ScanAnglesOf(0, 0)
	for name, v := range map[string]float64{"x0": x, "y0": y} {
		if k := v/IFOV1km - 0.5; math.Abs(k-math.Round(k)) > 1e-6 {
			t.Errorf("%s/ifov = %.6f, want a half multiple", name, v/IFOV1km)
		}
	}
	geo := g.Georef()
	if k := geo.XLLCorner / IFOV1km; math.Abs(k-math.Round(k)) > 1e-6 {
		t.Errorf("XLLCorner/ifov = %.6f, want a whole multiple", k)
	}
}

// TestFixedGrid_CONUS lays the GOES-East CONUS sector at 2 km and checks it
// against the x_offset, y_offset and shape of the distributed product.
func TestFixedGrid_CONUS(t *testing.T) {
	proj, err := ephemeris.NewProjection(-75, ephemeris.NominalAltitudeM, geodesy.GRS80)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		grid func() (*FixedGrid, error)
	}{
		{"offsets", func() (*FixedGrid, error) {
			return NewFixedGrid(proj, -0.101332, 0.128212, 5.6e-5, 1500, 2500)
		}},
		{"bounds", func() (*FixedGrid, error) {
			return NewFixedGridFromBounds(proj, CONUSBounds, IFOV2km)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.grid()
			if err != nil {
				t.Fatal(err)
			}
			if rows, cols := g.Dims(); rows != 1500 || cols != 2500 {
				t.Errorf("dims = %dx%d, want 1500x2500", rows, cols)
			}
			x, y := g.ScanAnglesOf(0, 0)
			if math.Abs(x-(-0.101332)) > 1e-9 || math.Abs(y-0.128212) > 1e-9 {
				t.Errorf("center(0,0) = (%.6f, %.6f), want (-0.101332, 0.128212)", x, y)
			}
			if k := x / IFOV2km; math.Abs(k-(-1809.5)) > 1e-6 {
				t.Errorf("x0/ifov = %.6f, want -1809.5", k)
			}

			// The PUG worked example point falls in the pixel whose center
			// is nearest its scan angles.
			p := geodesy.GeodeticPoint{LatDeg: 33.846162, LonDeg: -84.690932}
			row, col, ok := g.PixelOf(p)
			if !ok {
				t.Fatal("example point outside CONUS")
			}
			wantCol := int(math.Round((-0.024052 - (-0.101332)) / IFOV2km))
			wantRow := int(math.Round((0.128212 - 0.095340) / IFOV2km))
			if row != wantRow || col != wantCol {
				t.Errorf("PixelOf = (%d, %d), want (%d, %d)", row, col, wantRow, wantCol)
			}
			if _, err := g.CenterOf(row, col); err != nil {
				t.Errorf("CenterOf(%d, %d): %v", row, col, err)
			}
		})
	}
}

func TestNewFixedGrid_Invalid(t *testing.T) {
	proj, _ := goesWest(t)
	if _, err := NewFixedGrid(proj, 0, 0, 0, 1, 1); err == nil {
		t.Error("zero IFOV: expected error")
	}
	if _, err := NewFixedGrid(proj, 0, 0, IFOV2km, 0, 1); err == nil {
		t.Error("empty grid: expected error")
	}
	if _, err := NewFixedGrid(proj, math.NaN(), 0, IFOV2km, 1, 1); err == nil {
		t.Error("NaN offset: expected error")
	}
	if _, err := NewFixedGrid(ephemeris.Projection{}, 0, 0, IFOV2km, 1, 1); err == nil {
		t.Error("zero projection: expected error")
	}
}
