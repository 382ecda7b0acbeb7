package geodesy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxIterations bounds the geodetic inverse. Points anywhere between the
// surface and geostationary orbit converge in fewer than ten.
const MaxIterations = 32

// convergenceTol is the latitude step (radians) at which iteration stops.
// 1e-12 rad is about 6e-11 degrees.
const convergenceTol = 1e-12

// GeodeticPoint is a position relative to a reference ellipsoid.
type GeodeticPoint struct {
	LatDeg float64 // [-90, 90]
	LonDeg float64 // [-180, 180]
	ElevM  float64 // meters above the ellipsoid
}

// Valid reports whether latitude and longitude are within their ranges.
func (p GeodeticPoint) Valid() bool {
	return p.LatDeg >= -90 && p.LatDeg <= 90 && p.LonDeg >= -180 && p.LonDeg <= 180
}

// ECEFPoint is an Earth-centered, Earth-fixed position in meters.
type ECEFPoint = r3.Vec

// ConvergenceError reports that the geodetic inverse did not settle. It
// signals a degenerate input such as a point at the Earth's center.
type ConvergenceError struct {
	Point      ECEFPoint
	Iterations int
	Residual   float64 // last latitude step, radians
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("geodetic inverse did not converge for [%.3f, %.3f, %.3f] after %d iterations (residual %.3g rad)",
		e.Point.X, e.Point.Y, e.Point.Z, e.Iterations, e.Residual)
}

// ToECEF converts a geodetic point to ECEF coordinates.
func ToECEF(p GeodeticPoint, e Ellipsoid) ECEFPoint {
	lat := p.LatDeg * math.Pi / 180.0
	lon := p.LonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	sinLon := math.Sin(lon)
	cosLon := math.Cos(lon)

	n := e.PrimeVerticalRadius(lat)

	return ECEFPoint{
		X: (n + p.ElevM) * cosLat * cosLon,
		Y: (n + p.ElevM) * cosLat * sinLon,
		Z: (n*(1-e.E2()) + p.ElevM) * sinLat,
	}
}

// ToGeodetic converts ECEF coordinates to geodetic coordinates using Bowring's
// iteration. It returns a *ConvergenceError when the latitude does not settle
// within MaxIterations or the point is too close to the Earth's center to
// define a latitude.
func ToGeodetic(x ECEFPoint, e Ellipsoid) (GeodeticPoint, error) {
	if math.IsNaN(x.X) || math.IsNaN(x.Y) || math.IsNaN(x.Z) ||
		math.IsInf(x.X, 0) || math.IsInf(x.Y, 0) || math.IsInf(x.Z, 0) {
		return GeodeticPoint{}, &ConvergenceError{Point: x, Residual: math.NaN()}
	}

	e2 := e.E2()
	p := math.Hypot(x.X, x.Y)

	// Inside this radius the normal through the point is undefined.
	if math.Hypot(p, x.Z) < 1e-3*e.SemiMajorAxis {
		return GeodeticPoint{}, &ConvergenceError{Point: x, Residual: math.Inf(1)}
	}

	lon := math.Atan2(x.Y, x.X)
	lat := math.Atan2(x.Z, p*(1-e2))

	residual := math.Inf(1)
	i := 0
	for ; i < MaxIterations && residual > convergenceTol; i++ {
		sinLat := math.Sin(lat)
		n := e.SemiMajorAxis / math.Sqrt(1-e2*sinLat*sinLat)
		next := math.Atan2(x.Z+e2*n*sinLat, p)
		residual = math.Abs(next - lat)
		lat = next
	}
	if residual > convergenceTol {
		return GeodeticPoint{}, &ConvergenceError{Point: x, Iterations: i, Residual: residual}
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	n := e.PrimeVerticalRadius(lat)

	var h float64
	if math.Abs(cosLat) > 1e-10 {
		h = p/cosLat - n
	} else {
		h = math.Abs(x.Z)/math.Abs(sinLat) - n*(1-e2)
	}

	return GeodeticPoint{
		LatDeg: lat * 180.0 / math.Pi,
		LonDeg: lon * 180.0 / math.Pi,
		ElevM:  h,
	}, nil
}
