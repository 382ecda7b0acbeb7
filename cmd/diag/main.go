package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/parallax"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

// Prints viewing geometry for one ground point:
//
//	diag <lat> <lon> <elev_m> [sub_lon]
func main() {
	if len(os.Args) < 4 {
		fmt.Println("usage: diag <lat> <lon> <elev_m> [sub_lon]")
		os.Exit(2)
	}

	args := make([]float64, 0, 4)
	for _, a := range os.Args[1:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			fmt.Println("ERROR parsing argument:", err)
			os.Exit(2)
		}
		args = append(args, v)
	}
	subLon := -75.0
	if len(args) > 3 {
		subLon = args[3]
	}

	e := geodesy.GRS80
	p := geodesy.GeodeticPoint{LatDeg: args[0], LonDeg: args[1], ElevM: args[2]}
	if !p.Valid() {
		fmt.Printf("ERROR: point %+v out of range\n", p)
		os.Exit(2)
	}

	proj, err := ephemeris.NewProjection(subLon, ephemeris.NominalAltitudeM, e)
	if err != nil {
		fmt.Println("ERROR projection:", err)
		os.Exit(1)
	}
	sat, err := proj.Origin()
	if err != nil {
		fmt.Println("ERROR satellite:", err)
		os.Exit(1)
	}
	fmt.Printf("Satellite: sub-lon %.3f, H %.1f m\n", sat.SubLonDeg, sat.Radius())
	fmt.Printf("Point: lat %.6f lon %.6f h %.1f m\n", p.LatDeg, p.LonDeg, p.ElevM)

	ray := visibility.NewRay(p, sat, e)
	fmt.Printf("Look: azimuth %.4f° elevation %.4f° range %.1f km\n",
		ray.AzimuthDeg, ray.ElevationDeg, ray.RangeM/1000)
	if ray.ElevationDeg < 0 {
		fmt.Println("Satellite is below the horizon")
	}

	ap, err := parallax.Apparent(p, sat, e)
	if err != nil {
		fmt.Println("WARN parallax:", err)
	}
	fmt.Printf("Apparent: lat %.6f lon %.6f (shift %.1f m)\n",
		ap.Apparent.LatDeg, ap.Apparent.LonDeg, ap.DisplacementM)

	x, y, err := ephemeris.ScanAngles(proj, p)
	if err != nil {
		fmt.Println("ERROR scan angles:", err)
		os.Exit(1)
	}
	fmt.Printf("Scan angles: x %.6f rad y %.6f rad\n", x, y)
	if ax, ay, err := ephemeris.ScanAngles(proj, ap.Apparent); err == nil {
		fmt.Printf("Apparent scan angles: x %.6f rad y %.6f rad (delta %.2g, %.2g)\n", ax, ay, ax-x, ay-y)
	}
}
