package geodesy

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// LookAngles holds azimuth, elevation, and range from an observer to a target.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = local horizontal plane, 90 = zenith
	RangeM       float64
}

// ENU rotates an ECEF displacement vector into the local east/north/up frame
// of the observer. "Up" is the ellipsoid normal at the observer.
func ENU(from GeodeticPoint, v r3.Vec) (east, north, up float64) {
	lat := from.LatDeg * math.Pi / 180.0
	lon := from.LonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	sinLon := math.Sin(lon)
	cosLon := math.Cos(lon)

	east = -sinLon*v.X + cosLon*v.Y
	north = -sinLat*cosLon*v.X - sinLat*sinLon*v.Y + cosLat*v.Z
	up = cosLat*cosLon*v.X + cosLat*sinLon*v.Y + sinLat*v.Z
	return east, north, up
}

// Look computes azimuth, elevation, and range from an observer to a target
// given in ECEF meters. The elevation is measured above the tangent plane of
// the ellipsoid at the observer, not above a spherical horizon.
func Look(from GeodeticPoint, to ECEFPoint, e Ellipsoid) LookAngles {
	obs := ToECEF(from, e)
	east, north, up := ENU(from, r3.Sub(to, obs))

	rangeMag := math.Sqrt(east*east + north*north + up*up)
	if rangeMag == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	el := math.Asin(up / rangeMag)

	az := math.Atan2(east, north)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeM:       rangeMag,
	}
}

// Destination offsets p by distanceM along azimuthDeg on the local tangent
// plane. It is accurate to well under a meter for the few tens of kilometers
// spanned by a watershed DEM; elevation is carried through unchanged.
func Destination(p GeodeticPoint, azimuthDeg, distanceM float64, e Ellipsoid) GeodeticPoint {
	lat := p.LatDeg * math.Pi / 180.0
	az := azimuthDeg * math.Pi / 180.0

	dNorth := distanceM * math.Cos(az)
	dEast := distanceM * math.Sin(az)

	dLat := dNorth / e.MeridionalRadius(lat)
	dLon := dEast / (e.PrimeVerticalRadius(lat) * math.Cos(lat))

	return GeodeticPoint{
		LatDeg: p.LatDeg + dLat*180.0/math.Pi,
		LonDeg: p.LonDeg + dLon*180.0/math.Pi,
		ElevM:  p.ElevM,
	}
}
