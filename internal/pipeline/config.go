// Package pipeline runs a full visibility analysis: it classifies every
// elevation cell in parallel row-band tiles, shifts each cell to its
// apparent position, and composites the votes onto the image grid.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

var (
	// ErrNoGrid is returned when the elevation or image grid is missing.
	ErrNoGrid = errors.New("no usable grid")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DefaultTileRows is the row-band height of one work unit.
const DefaultTileRows = 32

// Config holds all run parameters.
type Config struct {
	SubSatelliteLonDeg  float64
	SatelliteAltitudeM  float64
	Ellipsoid           geodesy.Ellipsoid
	OcclusionThreshold  float64
	CurvatureCorrection bool
	TiePolicy           visibility.TiePolicy
	MinElevationDeg     float64
	MaxWalkM            float64
	Workers             int
	TileRows            int
}

// DefaultConfig returns GOES-East at its nominal slot over GRS80, a 50%
// occlusion threshold, curvature correction on, and one worker per CPU.
func DefaultConfig() Config {
	return Config{
		SubSatelliteLonDeg:  -75.0,
		SatelliteAltitudeM:  ephemeris.NominalAltitudeM,
		Ellipsoid:           geodesy.GRS80,
		OcclusionThreshold:  mask.DefaultThreshold,
		CurvatureCorrection: true,
		TiePolicy:           visibility.TieOccludes,
		Workers:             runtime.NumCPU(),
		TileRows:            DefaultTileRows,
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.Ellipsoid.Validate(); err != nil {
		return fmt.Errorf("%w: ellipsoid: %v", ErrInvalidConfig, err)
	}
	if math.IsNaN(c.SubSatelliteLonDeg) || c.SubSatelliteLonDeg < -180 || c.SubSatelliteLonDeg > 180 {
		return fmt.Errorf("%w: sub-satellite longitude %v outside [-180, 180]", ErrInvalidConfig, c.SubSatelliteLonDeg)
	}
	if !(c.SatelliteAltitudeM > 0) || math.IsInf(c.SatelliteAltitudeM, 0) {
		return fmt.Errorf("%w: satellite altitude must be positive, got %v", ErrInvalidConfig, c.SatelliteAltitudeM)
	}
	if math.IsNaN(c.OcclusionThreshold) || c.OcclusionThreshold < 0 || c.OcclusionThreshold > 1 {
		return fmt.Errorf("%w: occlusion threshold %v outside [0, 1]", ErrInvalidConfig, c.OcclusionThreshold)
	}
	if err := c.VisibilityOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.TileRows <= 0 {
		return fmt.Errorf("%w: tile rows must be positive, got %d", ErrInvalidConfig, c.TileRows)
	}
	return nil
}

// VisibilityOptions extracts the occlusion-test options.
func (c Config) VisibilityOptions() visibility.Options {
	return visibility.Options{
		Curvature:       c.CurvatureCorrection,
		Tie:             c.TiePolicy,
		MinElevationDeg: c.MinElevationDeg,
		MaxWalkM:        c.MaxWalkM,
	}
}

// Satellite returns the nominal geostationary position described by c.
func (c Config) Satellite() (ephemeris.SatellitePosition, error) {
	return ephemeris.Geostationary(c.SubSatelliteLonDeg, c.SatelliteAltitudeM, c.Ellipsoid)
}

// Projection returns the nominal fixed grid navigation described by c. Image
// grids use it even when rays are cast from an SGP4 snapshot.
func (c Config) Projection() (ephemeris.Projection, error) {
	return ephemeris.NewProjection(c.SubSatelliteLonDeg, c.SatelliteAltitudeM, c.Ellipsoid)
}
