// Package ephemeris resolves the position of a geostationary imager.
//
// A run treats the satellite as fixed: either at its nominal slot on the
// equator, or at a single SGP4 snapshot taken from a TLE at the image time.
// No drift across the run is modeled.
package ephemeris

import (
	"fmt"
	"math"

	"github.com/joricarter/goes-ortho/internal/geodesy"
)

// NominalAltitudeM is the geostationary altitude above the equator, meters.
// GOES-R products carry it as perspective_point_height.
const NominalAltitudeM = 35786023.0

// SatellitePosition is an immutable satellite position for one analysis run.
type SatellitePosition struct {
	SubLonDeg float64           // sub-satellite longitude
	AltitudeM float64           // height above the ellipsoid at the sub-satellite point
	ECEF      geodesy.ECEFPoint // meters
}

// Radius returns the distance of the satellite from the Earth's center.
func (s SatellitePosition) Radius() float64 {
	return math.Sqrt(s.ECEF.X*s.ECEF.X + s.ECEF.Y*s.ECEF.Y + s.ECEF.Z*s.ECEF.Z)
}

// Geostationary places the satellite on the equatorial plane at the given
// longitude and altitude above the ellipsoid's equatorial radius.
func Geostationary(subLonDeg, altitudeM float64, e geodesy.Ellipsoid) (SatellitePosition, error) {
	if err := e.Validate(); err != nil {
		return SatellitePosition{}, fmt.Errorf("invalid ellipsoid: %w", err)
	}
	if math.IsNaN(subLonDeg) || subLonDeg < -180 || subLonDeg > 180 {
		return SatellitePosition{}, fmt.Errorf("sub-satellite longitude %v outside [-180, 180]", subLonDeg)
	}
	if !(altitudeM > 0) || math.IsInf(altitudeM, 0) {
		return SatellitePosition{}, fmt.Errorf("satellite altitude must be positive, got %v", altitudeM)
	}

	r := e.SemiMajorAxis + altitudeM
	lon := subLonDeg * math.Pi / 180.0

	return SatellitePosition{
		SubLonDeg: subLonDeg,
		AltitudeM: altitudeM,
		ECEF: geodesy.ECEFPoint{
			X: r * math.Cos(lon),
			Y: r * math.Sin(lon),
			Z: 0,
		},
	}, nil
}

// ValidateECEF checks that an ECEF position is physically reasonable for an
// Earth-orbiting satellite: finite and between 6200 km and 50000 km from the
// Earth's center.
func ValidateECEF(p geodesy.ECEFPoint) bool {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) {
		return false
	}
	if math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || math.IsInf(p.Z, 0) {
		return false
	}

	mag := math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)

	const minRadius = 6200.0 * 1000.0
	const maxRadius = 50000.0 * 1000.0

	return mag >= minRadius && mag <= maxRadius
}
