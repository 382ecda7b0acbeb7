package dem

import (
	"iter"
	"math"
)

// Step is one cell visited by NeighborsAlong.
type Step struct {
	Cell      Cell
	DistanceM float64 // horizontal distance between the start and this cell's center
}

// tieTol is the relative tolerance under which both boundary crossings are
// taken as simultaneous and the walk steps diagonally.
const tieTol = 1e-12

// NeighborsAlong walks the cells crossed by a horizontal ray leaving the
// center of from along azimuthDeg (clockwise from north), nearest first, up
// to the grid edge. from itself is not yielded.
//
// The traversal is the voxel walk of Amanatides and Woo on a local tangent
// plane: cell spacing in meters is fixed at from's latitude. The sequence
// holds no state between iterations and can be ranged over any number of
// times.
func (g *Grid) NeighborsAlong(azimuthDeg float64, from Cell) iter.Seq[Step] {
	return func(yield func(Step) bool) {
		if !g.InBounds(from) || math.IsNaN(azimuthDeg) || math.IsInf(azimuthDeg, 0) {
			return
		}

		lat := g.transform[3] + (float64(from.Row)+0.5)*g.transform[5]
		colM, rowM := g.CellSizeM(lat)
		if colM == 0 || rowM == 0 {
			return
		}

		az := azimuthDeg * math.Pi / 180.0
		// Cells advanced per meter of travel.
		dc := math.Sin(az) * math.Copysign(1, g.transform[1]) / colM
		dr := math.Cos(az) * math.Copysign(1, g.transform[5]) / rowM

		stepC, tMaxC, tDeltaC := axis(dc)
		stepR, tMaxR, tDeltaR := axis(dr)
		if stepC == 0 && stepR == 0 {
			return
		}

		c := from
		for {
			switch {
			case tMaxC < tMaxR*(1-tieTol):
				c.Col += stepC
				tMaxC += tDeltaC
			case tMaxR < tMaxC*(1-tieTol):
				c.Row += stepR
				tMaxR += tDeltaR
			default:
				c.Col += stepC
				c.Row += stepR
				tMaxC += tDeltaC
				tMaxR += tDeltaR
			}
			if !g.InBounds(c) {
				return
			}

			dx := float64(c.Col-from.Col) * colM
			dy := float64(c.Row-from.Row) * rowM
			if !yield(Step{Cell: c, DistanceM: math.Hypot(dx, dy)}) {
				return
			}
		}
	}
}

// axis returns the DDA parameters for one axis: the cell step direction,
// the travel to the first boundary, and the travel between boundaries.
// Starting from a cell center, the first boundary is half a cell away.
func axis(rate float64) (step int, tMax, tDelta float64) {
	if math.Abs(rate) < 1e-15 {
		return 0, math.Inf(1), math.Inf(1)
	}
	tDelta = 1 / math.Abs(rate)
	step = 1
	if rate < 0 {
		step = -1
	}
	return step, 0.5 * tDelta, tDelta
}
