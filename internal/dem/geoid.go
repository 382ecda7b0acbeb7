package dem

import (
	"fmt"

	"github.com/westphae/geomag/pkg/egm96"
)

// GeoidUndulation returns the EGM96 geoid height above the WGS84 ellipsoid
// at (latDeg, lonDeg), in meters.
func GeoidUndulation(latDeg, lonDeg float64) (float64, error) {
	// A point on the ellipsoid sits -N above mean sea level.
	hMSL, err := egm96.NewLocationGeodetic(latDeg, lonDeg, 0).HeightAboveMSL()
	if err != nil {
		return 0, fmt.Errorf("egm96 at (%.6f, %.6f): %w", latDeg, lonDeg, err)
	}
	return -hMSL, nil
}

// ToEllipsoidal converts a grid of orthometric (mean sea level) heights to
// heights above the ellipsoid by adding the EGM96 undulation at every cell
// center. Void samples stay void.
func ToEllipsoidal(g *Grid) (*Grid, error) {
	out := make([]float64, len(g.samples))
	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			i := row*g.cols + col
			v := g.samples[i]
			if g.IsVoid(v) {
				out[i] = v
				continue
			}
			lon, lat := g.transform.Apply(float64(col)+0.5, float64(row)+0.5)
			n, err := GeoidUndulation(lat, lon)
			if err != nil {
				return nil, err
			}
			out[i] = v + n
		}
	}
	ng := *g
	ng.samples = out
	return &ng, nil
}
