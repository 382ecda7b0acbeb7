// Package visibility classifies elevation grid cells as visible to, or
// hidden from, a geostationary satellite by sweeping the terrain horizon
// along each cell's view azimuth.
package visibility

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
)

// State is the tri-state outcome for one cell.
type State uint8

const (
	Unknown State = iota // void elevation or per-cell failure
	Visible
	Hidden
)

func (s State) String() string {
	switch s {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// TiePolicy decides a terrain sample that subtends exactly the satellite's
// elevation angle.
type TiePolicy int

const (
	TieOccludes TiePolicy = iota // θ_r ≥ θ_target hides the cell
	TieVisible                   // only θ_r > θ_target hides the cell
)

func (p TiePolicy) String() string {
	switch p {
	case TieOccludes:
		return "occlude"
	case TieVisible:
		return "visible"
	default:
		return fmt.Sprintf("TiePolicy(%d)", int(p))
	}
}

// ParseTiePolicy accepts the String forms.
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch s {
	case "occlude":
		return TieOccludes, nil
	case "visible":
		return TieVisible, nil
	}
	return 0, fmt.Errorf("unknown tie policy %q (want occlude or visible)", s)
}

// Options tune the occlusion test.
type Options struct {
	// Curvature subtracts r²/2R from each sample height before computing its
	// angle, R being the Gaussian mean radius at the observing cell.
	Curvature bool
	Tie       TiePolicy
	// MinElevationDeg hides cells from which the satellite sits lower than
	// this angle. 0 rejects only a satellite below the horizon.
	MinElevationDeg float64
	// MaxWalkM stops the horizon sweep after this horizontal distance.
	// 0 walks to the grid edge.
	MaxWalkM float64
}

// DefaultOptions returns curvature on, ties occluding, no elevation floor.
func DefaultOptions() Options {
	return Options{Curvature: true, Tie: TieOccludes}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.Tie != TieOccludes && o.Tie != TieVisible {
		return fmt.Errorf("invalid tie policy %d", int(o.Tie))
	}
	if math.IsNaN(o.MinElevationDeg) || o.MinElevationDeg < -90 || o.MinElevationDeg > 90 {
		return fmt.Errorf("minimum elevation %v outside [-90, 90]", o.MinElevationDeg)
	}
	if math.IsNaN(o.MaxWalkM) || o.MaxWalkM < 0 {
		return fmt.Errorf("max walk distance must be non-negative, got %v", o.MaxWalkM)
	}
	return nil
}

// Ray is the line of sight from a ground cell to the satellite.
type Ray struct {
	Origin       geodesy.ECEFPoint
	Direction    r3.Vec // unit vector toward the satellite
	Target       geodesy.GeodeticPoint
	AzimuthDeg   float64
	ElevationDeg float64 // above the ellipsoid tangent plane at Target
	RangeM       float64
}

// NewRay builds the view ray from p to sat.
func NewRay(p geodesy.GeodeticPoint, sat ephemeris.SatellitePosition, e geodesy.Ellipsoid) Ray {
	origin := geodesy.ToECEF(p, e)
	look := geodesy.Look(p, sat.ECEF, e)

	var dir r3.Vec
	if v := r3.Sub(sat.ECEF, origin); r3.Norm(v) > 0 {
		dir = r3.Unit(v)
	}
	return Ray{
		Origin:       origin,
		Direction:    dir,
		Target:       p,
		AzimuthDeg:   look.AzimuthDeg,
		ElevationDeg: look.ElevationDeg,
		RangeM:       look.RangeM,
	}
}

// Result is the classification of one cell.
type Result struct {
	State           State
	TargetAngleRad  float64 // satellite elevation above the cell's horizon
	HorizonAngleRad float64 // highest intervening sample; -π/2 with none
	AzimuthDeg      float64
}

// unknown is returned for cells that cannot be classified.
var unknown = Result{
	State:           Unknown,
	TargetAngleRad:  math.NaN(),
	HorizonAngleRad: math.NaN(),
	AzimuthDeg:      math.NaN(),
}

// Determiner classifies cells of one grid against one satellite position.
// It is immutable and safe for concurrent use.
type Determiner struct {
	grid *dem.Grid
	sat  ephemeris.SatellitePosition
	opts Options
	// peak bounds every sample height and lets the sweep stop once no
	// farther sample can rise above the current horizon.
	peak float64
}

// NewDeterminer validates opts and prepares a determiner.
func NewDeterminer(g *dem.Grid, sat ephemeris.SatellitePosition, opts Options) (*Determiner, error) {
	if g == nil {
		return nil, errors.New("nil elevation grid")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !ephemeris.ValidateECEF(sat.ECEF) {
		return nil, fmt.Errorf("satellite position %v is not a valid orbit", sat.ECEF)
	}
	peak := g.Stats().Max
	if math.IsNaN(peak) {
		peak = math.Inf(-1)
	}
	return &Determiner{grid: g, sat: sat, opts: opts, peak: peak}, nil
}

// Options returns the determiner's options.
func (d *Determiner) Options() Options { return d.opts }

// Classify tests one cell. A void cell is Unknown with a nil error; a cell
// outside the grid is Unknown with *dem.OutOfBoundsError.
func (d *Determiner) Classify(c dem.Cell) (Result, error) {
	p, err := d.grid.GeodeticOf(c.Row, c.Col)
	if errors.Is(err, dem.ErrVoid) {
		return unknown, nil
	}
	if err != nil {
		return unknown, err
	}

	ray := NewRay(p, d.sat, d.grid.Ellipsoid())
	target := ray.ElevationDeg * math.Pi / 180.0
	res := Result{
		State:           Visible,
		TargetAngleRad:  target,
		HorizonAngleRad: -math.Pi / 2,
		AzimuthDeg:      ray.AzimuthDeg,
	}

	if ray.ElevationDeg < d.opts.MinElevationDeg {
		res.State = Hidden
		return res, nil
	}

	kappa := 0.0
	if d.opts.Curvature {
		kappa = 1.0
	}
	twoR := 2 * d.grid.Ellipsoid().MeanRadius(p.LatDeg)

	for step := range d.grid.NeighborsAlong(ray.AzimuthDeg, c) {
		r := step.DistanceM
		if d.opts.MaxWalkM > 0 && r > d.opts.MaxWalkM {
			break
		}
		// Highest angle any sample from here on could subtend.
		bound := 0.0
		if rise := d.peak - p.ElevM; rise > 0 {
			bound = math.Atan2(rise, r)
		}
		if bound <= res.HorizonAngleRad {
			break
		}

		h, err := d.grid.ElevationAt(step.Cell.Row, step.Cell.Col)
		if err != nil {
			// Void samples do not occlude.
			continue
		}
		theta := math.Atan2(h-p.ElevM-kappa*r*r/twoR, r)
		if theta > res.HorizonAngleRad {
			res.HorizonAngleRad = theta
		}
	}

	if occludes(res.HorizonAngleRad, target, d.opts.Tie) {
		res.State = Hidden
	}
	return res, nil
}

func occludes(horizon, target float64, tie TiePolicy) bool {
	if tie == TieVisible {
		return horizon > target
	}
	return horizon >= target
}
