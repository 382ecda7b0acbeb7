package ephemeris

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/joricarter/goes-ortho/internal/geodesy"
)

// FromTLE propagates a two-line element set to a single instant and returns
// the satellite position at that instant. The result is used unchanged for
// the whole run.
//
// The TLE is pre-validated because go-satellite calls log.Fatal on
// malformed input.
func FromTLE(line1, line2 string, at time.Time, e geodesy.Ellipsoid) (SatellitePosition, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return SatellitePosition{}, fmt.Errorf("invalid TLE: %w", err)
	}

	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS84)
	if sat.Error != 0 {
		return SatellitePosition{}, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}

	at = at.UTC()
	pos, _ := satellite.Propagate(sat, at.Year(), int(at.Month()), at.Day(), at.Hour(), at.Minute(), at.Second())
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return SatellitePosition{}, fmt.Errorf("sgp4 propagation failed at %s: output is NaN/Inf", at.Format(time.RFC3339))
	}

	ecef := TEMEToECEF(pos.X, pos.Y, pos.Z, GMST(at))
	if !ValidateECEF(ecef) {
		return SatellitePosition{}, fmt.Errorf("sgp4 propagation failed at %s: unreasonable position", at.Format(time.RFC3339))
	}

	g, err := geodesy.ToGeodetic(ecef, e)
	if err != nil {
		return SatellitePosition{}, fmt.Errorf("sub-satellite point: %w", err)
	}

	return SatellitePosition{
		SubLonDeg: g.LonDeg,
		AltitudeM: g.ElevM,
		ECEF:      ecef,
	}, nil
}

// validateTLELines performs basic format validation on TLE lines.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}
