package ephemeris

import (
	"math"
	"time"

	"github.com/joricarter/goes-ortho/internal/geodesy"
)

const (
	// jdJ2000 is the Julian Date of 2000-01-01T12:00:00.
	jdJ2000 = 2451545.0

	secondsPerDay = 86400.0
)

// JulianDate returns the Julian Date of t using the Meeus calendar
// algorithm with the Gregorian correction.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	year, month := float64(t.Year()), float64(t.Month())
	if month < 3 {
		year--
		month += 12
	}
	century := math.Floor(year / 100)
	gregorian := 2 - century + math.Floor(century/4)

	dayFrac := (float64(t.Hour())*3600 +
		float64(t.Minute())*60 +
		float64(t.Second()) +
		float64(t.Nanosecond())*1e-9) / secondsPerDay

	return math.Floor(365.25*(year+4716)) +
		math.Floor(30.6001*(month+1)) +
		float64(t.Day()) + gregorian - 1524.5 + dayFrac
}

// GMST returns the Greenwich mean sidereal angle in radians, in [0, 2π).
// UT1 is taken equal to UTC.
func GMST(t time.Time) float64 {
	c := (JulianDate(t) - jdJ2000) / 36525.0

	// IAU 1982 polynomial in seconds of time; the linear term folds in
	// the 876600 h per Julian century.
	sec := 67310.54841 + (876600*3600+8640184.812866)*c +
		0.093104*c*c - 6.2e-6*c*c*c

	sec = math.Mod(sec, secondsPerDay)
	if sec < 0 {
		sec += secondsPerDay
	}
	return 2 * math.Pi * sec / secondsPerDay
}

// TEMEToECEF rotates a TEME position in kilometers about Z by gmst and
// returns ECEF meters. Polar motion and the equation of the equinoxes are
// dropped. The equinox term stays below about 1.2 s of time, which moves a
// geostationary position by up to about 3 km along track, or roughly
// 0.004° of sub-satellite longitude.
func TEMEToECEF(x, y, z, gmst float64) geodesy.ECEFPoint {
	sin, cos := math.Sincos(gmst)
	return geodesy.ECEFPoint{
		X: (cos*x + sin*y) * 1000,
		Y: (cos*y - sin*x) * 1000,
		Z: z * 1000,
	}
}
