package dem

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Stats summarizes the valid samples of a grid.
type Stats struct {
	Min, Max, Mean float64
	Valid, Void    int
}

// Stats returns min, max and mean over non-void samples. With no valid
// samples Min, Max and Mean are NaN.
func (g *Grid) Stats() Stats {
	valid := make([]float64, 0, len(g.samples))
	for _, v := range g.samples {
		if !g.IsVoid(v) {
			valid = append(valid, v)
		}
	}

	s := Stats{Valid: len(valid), Void: len(g.samples) - len(valid)}
	if len(valid) == 0 {
		s.Min, s.Max, s.Mean = math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	s.Mean = floats.Sum(valid) / float64(len(valid))
	return s
}
