package ephemeris

import (
	"errors"
	"fmt"
	"math"

	"github.com/joricarter/goes-ortho/internal/geodesy"
)

// ErrBeyondLimb is returned when a point cannot be seen from the satellite at
// all, or a scan direction does not intersect the Earth.
var ErrBeyondLimb = errors.New("point is beyond the satellite's Earth limb")

// Projection is the nominal navigation of an ABI fixed grid, as carried by the
// goes_imager_projection variable of a GOES-R product. Images are navigated
// to this ideal equatorial viewpoint whatever the spacecraft's true position.
type Projection struct {
	LonOriginDeg       float64 // longitude_of_projection_origin
	PerspectiveHeightM float64 // perspective_point_height above the equator
	Ellipsoid          geodesy.Ellipsoid
}

// NewProjection validates a fixed grid projection.
func NewProjection(lonOriginDeg, perspectiveHeightM float64, e geodesy.Ellipsoid) (Projection, error) {
	if err := e.Validate(); err != nil {
		return Projection{}, fmt.Errorf("invalid ellipsoid: %w", err)
	}
	if math.IsNaN(lonOriginDeg) || lonOriginDeg < -180 || lonOriginDeg > 180 {
		return Projection{}, fmt.Errorf("projection origin longitude %v outside [-180, 180]", lonOriginDeg)
	}
	if !(perspectiveHeightM > 0) || math.IsInf(perspectiveHeightM, 0) {
		return Projection{}, fmt.Errorf("perspective height must be positive, got %v", perspectiveHeightM)
	}
	return Projection{LonOriginDeg: lonOriginDeg, PerspectiveHeightM: perspectiveHeightM, Ellipsoid: e}, nil
}

// Radius returns H, the distance of the perspective point from the Earth's
// center.
func (p Projection) Radius() float64 {
	return p.Ellipsoid.SemiMajorAxis + p.PerspectiveHeightM
}

// Origin returns the perspective point as a satellite position.
func (p Projection) Origin() (SatellitePosition, error) {
	return Geostationary(p.LonOriginDeg, p.PerspectiveHeightM, p.Ellipsoid)
}

// ScanAngles returns the GOES-R ABI fixed grid coordinates of p: the
// east-west scan angle x and the north-south elevation angle y, in radians.
//
// The point's elevation is honored exactly by working from its ECEF position
// rather than offsetting the geocentric radius.
func ScanAngles(proj Projection, p geodesy.GeodeticPoint) (x, y float64, err error) {
	e := proj.Ellipsoid
	H := proj.Radius()
	P := geodesy.ToECEF(p, e)

	lon0 := proj.LonOriginDeg * math.Pi / 180.0
	cos0, sin0 := math.Cos(lon0), math.Sin(lon0)
	px := P.X*cos0 + P.Y*sin0
	py := -P.X*sin0 + P.Y*cos0

	sx := H - px
	sy := -py
	sz := P.Z

	a := e.SemiMajorAxis
	b := e.SemiMinorAxis()
	if p.ElevM <= 0 && H*(H-sx) < sy*sy+(a*a)/(b*b)*sz*sz {
		return 0, 0, ErrBeyondLimb
	}
	if sx <= 0 {
		return 0, 0, ErrBeyondLimb
	}

	y = math.Atan(sz / sx)
	x = math.Asin(-sy / math.Sqrt(sx*sx+sy*sy+sz*sz))
	return x, y, nil
}

// GeodeticFromScanAngles is the inverse of ScanAngles for points on the
// ellipsoid surface. It returns ErrBeyondLimb when the scan direction misses
// the Earth.
func GeodeticFromScanAngles(proj Projection, x, y float64) (geodesy.GeodeticPoint, error) {
	H := proj.Radius()
	req := proj.Ellipsoid.SemiMajorAxis
	rpol := proj.Ellipsoid.SemiMinorAxis()
	ratio := (req * req) / (rpol * rpol)

	sinX, cosX := math.Sin(x), math.Cos(x)
	sinY, cosY := math.Sin(y), math.Cos(y)

	qa := sinX*sinX + cosX*cosX*(cosY*cosY+ratio*sinY*sinY)
	qb := -2 * H * cosX * cosY
	qc := H*H - req*req

	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return geodesy.GeodeticPoint{}, ErrBeyondLimb
	}

	// Distance from the satellite to the surface point.
	rs := (-qb - math.Sqrt(disc)) / (2 * qa)

	sx := rs * cosX * cosY
	sy := -rs * sinX
	sz := rs * cosX * sinY

	lat := math.Atan(ratio * sz / math.Sqrt((H-sx)*(H-sx)+sy*sy))
	lon := proj.LonOriginDeg*math.Pi/180.0 - math.Atan(sy/(H-sx))

	lonDeg := lon * 180.0 / math.Pi
	if lonDeg > 180 {
		lonDeg -= 360
	} else if lonDeg < -180 {
		lonDeg += 360
	}

	return geodesy.GeodeticPoint{LatDeg: lat * 180.0 / math.Pi, LonDeg: lonDeg}, nil
}
