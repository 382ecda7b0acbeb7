// Package parallax maps elevated ground points to where a geostationary
// imager sees them on the zero-height ellipsoid.
package parallax

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
)

// ApparentPosition pairs a true ground point with its projection.
type ApparentPosition struct {
	True          geodesy.GeodeticPoint
	Apparent      geodesy.GeodeticPoint // ElevM is always 0
	DisplacementM float64               // horizontal distance from True to Apparent
	Degenerate    bool                  // the view ray missed or grazed the ellipsoid
}

// DegenerateRayError reports a view ray that is tangent to, or misses, the
// reference ellipsoid. The accompanying ApparentPosition carries the true
// position unchanged; callers count it and carry on.
type DegenerateRayError struct {
	Point geodesy.GeodeticPoint
}

func (e *DegenerateRayError) Error() string {
	return fmt.Sprintf("view ray through (%.6f, %.6f, %.1f m) does not cleanly intersect the ellipsoid",
		e.Point.LatDeg, e.Point.LonDeg, e.Point.ElevM)
}

// Apparent projects p along the line from the satellite through p onto the
// ellipsoid surface, taking the intersection nearest the satellite. A point
// at elevation 0 is its own apparent position.
func Apparent(p geodesy.GeodeticPoint, sat ephemeris.SatellitePosition, e geodesy.Ellipsoid) (ApparentPosition, error) {
	if p.ElevM == 0 {
		return ApparentPosition{True: p, Apparent: p}, nil
	}

	dir := r3.Sub(geodesy.ToECEF(p, e), sat.ECEF)
	hit, ok := geodesy.IntersectRayEllipsoid(sat.ECEF, dir, e)
	if !ok || hit.Grazing {
		return ApparentPosition{True: p, Apparent: p, Degenerate: true}, &DegenerateRayError{Point: p}
	}

	a, err := geodesy.ToGeodetic(hit.Point, e)
	if err != nil {
		return ApparentPosition{}, fmt.Errorf("apparent position of (%.6f, %.6f): %w", p.LatDeg, p.LonDeg, err)
	}
	a.ElevM = 0

	return ApparentPosition{
		True:          p,
		Apparent:      a,
		DisplacementM: surfaceDistance(p, a, e),
	}, nil
}

// surfaceDistance is the horizontal distance between two nearby points,
// using the radii of curvature at their mean latitude.
func surfaceDistance(p, q geodesy.GeodeticPoint, e geodesy.Ellipsoid) float64 {
	lat := (p.LatDeg + q.LatDeg) / 2 * math.Pi / 180.0
	dLat := (q.LatDeg - p.LatDeg) * math.Pi / 180.0
	dLon := q.LonDeg - p.LonDeg
	if dLon > 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	dLon *= math.Pi / 180.0

	north := dLat * e.MeridionalRadius(lat)
	east := dLon * e.PrimeVerticalRadius(lat) * math.Cos(lat)
	return math.Hypot(north, east)
}
