package geodesy

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// grazingTol is the normalized discriminant below which a ray is treated as
// tangent to the ellipsoid.
const grazingTol = 1e-12

// Hit is the result of a ray/ellipsoid intersection.
type Hit struct {
	Point   ECEFPoint
	Range   float64 // distance from the ray origin, meters
	Grazing bool    // ray is tangent to the surface within tolerance
}

// IntersectRayEllipsoid returns the nearest positive-parameter intersection of
// the ray origin + t*dir (t > 0) with the surface of e. dir need not be
// normalized. It returns false when the ray misses the ellipsoid or points
// away from it.
func IntersectRayEllipsoid(origin ECEFPoint, dir r3.Vec, e Ellipsoid) (Hit, bool) {
	n := r3.Norm(dir)
	if n == 0 || math.IsNaN(n) {
		return Hit{}, false
	}
	u := r3.Scale(1/n, dir)

	a := e.SemiMajorAxis
	b := e.SemiMinorAxis()

	// Scale to the unit sphere.
	o := r3.Vec{X: origin.X / a, Y: origin.Y / a, Z: origin.Z / b}
	d := r3.Vec{X: u.X / a, Y: u.Y / a, Z: u.Z / b}

	qa := r3.Dot(d, d)
	qb := 2 * r3.Dot(o, d)
	qc := r3.Dot(o, o) - 1

	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return Hit{}, false
	}
	grazing := qb == 0 || disc <= grazingTol*qb*qb

	// Numerically stable roots.
	sq := math.Sqrt(disc)
	q := -0.5 * (qb + math.Copysign(sq, qb))
	t1, t2 := q/qa, math.Inf(1)
	if q != 0 {
		t2 = qc / q
	}
	if t1 > t2 {
		t1, t2 = t2, t1
	}

	t := t1
	if t <= 0 {
		t = t2
	}
	if t <= 0 || math.IsInf(t, 0) {
		return Hit{}, false
	}

	return Hit{
		Point:   r3.Add(origin, r3.Scale(t, u)),
		Range:   t,
		Grazing: grazing,
	}, true
}
