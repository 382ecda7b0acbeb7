// Package geodesy provides the ellipsoidal geometry shared by the visibility
// and parallax stages: geodetic/ECEF conversion, topocentric look angles and
// ray/ellipsoid intersection.
//
// All functions are pure. The reference ellipsoid is always passed in
// explicitly; nothing in this package reads global state.
package geodesy

import (
	"fmt"
	"math"
)

// Ellipsoid is a reference ellipsoid of revolution.
type Ellipsoid struct {
	SemiMajorAxis float64 // meters
	Flattening    float64
}

// WGS84 is the World Geodetic System 1984 ellipsoid.
var WGS84 = Ellipsoid{SemiMajorAxis: 6378137.0, Flattening: 1.0 / 298.257223563}

// GRS80 is the ellipsoid the GOES-R ABI fixed grid is defined on.
// Semi-minor axis 6356752.31414 m.
var GRS80 = Ellipsoid{SemiMajorAxis: 6378137.0, Flattening: 1.0 / 298.257222101}

// SemiMinorAxis returns the polar radius b = a(1-f).
func (e Ellipsoid) SemiMinorAxis() float64 {
	return e.SemiMajorAxis * (1 - e.Flattening)
}

// E2 returns the first eccentricity squared.
func (e Ellipsoid) E2() float64 {
	return e.Flattening * (2 - e.Flattening)
}

// Validate rejects ellipsoids that cannot describe the Earth.
func (e Ellipsoid) Validate() error {
	if !(e.SemiMajorAxis > 0) || math.IsInf(e.SemiMajorAxis, 0) {
		return fmt.Errorf("semi-major axis must be positive, got %v", e.SemiMajorAxis)
	}
	if e.Flattening < 0 || e.Flattening >= 1 || math.IsNaN(e.Flattening) {
		return fmt.Errorf("flattening must be in [0, 1), got %v", e.Flattening)
	}
	return nil
}

// PrimeVerticalRadius returns N, the radius of curvature in the prime vertical
// at the given geodetic latitude (radians).
func (e Ellipsoid) PrimeVerticalRadius(latRad float64) float64 {
	s := math.Sin(latRad)
	return e.SemiMajorAxis / math.Sqrt(1-e.E2()*s*s)
}

// MeridionalRadius returns M, the radius of curvature along the meridian.
func (e Ellipsoid) MeridionalRadius(latRad float64) float64 {
	s := math.Sin(latRad)
	w := 1 - e.E2()*s*s
	return e.SemiMajorAxis * (1 - e.E2()) / (w * math.Sqrt(w))
}

// MeanRadius returns the Gaussian mean radius of curvature sqrt(M*N) at the
// given geodetic latitude in degrees. It is the local Earth radius used for
// the curvature drop r²/2R over short horizontal distances.
func (e Ellipsoid) MeanRadius(latDeg float64) float64 {
	lat := latDeg * math.Pi / 180.0
	return math.Sqrt(e.MeridionalRadius(lat) * e.PrimeVerticalRadius(lat))
}
