// Package rasterio reads elevation grids and writes visibility masks as ESRI
// ASCII grids, optionally zstd-compressed.
package rasterio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/joricarter/goes-ortho/internal/dem"
)

// DefaultNoData is assumed when a grid header omits NODATA_value.
const DefaultNoData = -9999.0

// ASCIIGrid is an ESRI ASCII raster. Data is row-major with row 0 at the
// north edge.
type ASCIIGrid struct {
	NCols, NRows         int
	XLLCorner, YLLCorner float64
	DX, DY               float64
	NoData               float64
	Data                 []float64
}

// Affine returns the GDAL-order geotransform of the grid.
func (g *ASCIIGrid) Affine() dem.Affine {
	return dem.Affine{g.XLLCorner, g.DX, 0, g.YLLCorner + float64(g.NRows)*g.DY, 0, -g.DY}
}

var headerKeys = map[string]bool{
	"ncols": true, "nrows": true,
	"xllcorner": true, "yllcorner": true,
	"xllcenter": true, "yllcenter": true,
	"cellsize": true, "dx": true, "dy": true,
	"nodata_value": true,
}

// ReadASCIIGrid parses an ESRI ASCII grid. Both the corner and center forms
// of the origin are accepted, as is the dx/dy extension for non-square cells.
func ReadASCIIGrid(r io.Reader) (*ASCIIGrid, error) {
	sc := bufio.NewScanner(bufio.NewReaderSize(r, 1<<16))
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if !headerKeys[key] {
			first = sc.Text()
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("header %s has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	g, err := gridFromHeader(header)
	if err != nil {
		return nil, err
	}

	n := g.NRows * g.NCols
	g.Data = make([]float64, 0, n)
	parse := func(tok string) error {
		if len(g.Data) == n {
			return fmt.Errorf("more than %d samples", n)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("sample %d: %w", len(g.Data), err)
		}
		g.Data = append(g.Data, v)
		return nil
	}

	if first != "" {
		if err := parse(first); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}
	if len(g.Data) != n {
		return nil, fmt.Errorf("grid has %d samples, header declares %dx%d", len(g.Data), g.NRows, g.NCols)
	}
	return g, nil
}

func gridFromHeader(h map[string]float64) (*ASCIIGrid, error) {
	for _, k := range []string{"ncols", "nrows"} {
		if _, ok := h[k]; !ok {
			return nil, fmt.Errorf("missing %s header", k)
		}
	}
	g := &ASCIIGrid{
		NCols:  int(h["ncols"]),
		NRows:  int(h["nrows"]),
		NoData: DefaultNoData,
	}
	if g.NCols <= 0 || g.NRows <= 0 || float64(g.NCols) != h["ncols"] || float64(g.NRows) != h["nrows"] {
		return nil, fmt.Errorf("invalid dimensions %vx%v", h["nrows"], h["ncols"])
	}

	if cs, ok := h["cellsize"]; ok {
		g.DX, g.DY = cs, cs
	} else {
		dx, okx := h["dx"]
		dy, oky := h["dy"]
		if !okx || !oky {
			return nil, errors.New("missing cellsize (or dx/dy) header")
		}
		g.DX, g.DY = dx, dy
	}
	if !(g.DX > 0) || !(g.DY > 0) {
		return nil, fmt.Errorf("cell size must be positive, got %v x %v", g.DX, g.DY)
	}

	switch {
	case has(h, "xllcorner") && has(h, "yllcorner"):
		g.XLLCorner, g.YLLCorner = h["xllcorner"], h["yllcorner"]
	case has(h, "xllcenter") && has(h, "yllcenter"):
		g.XLLCorner, g.YLLCorner = h["xllcenter"]-g.DX/2, h["yllcenter"]-g.DY/2
	default:
		return nil, errors.New("missing xllcorner/yllcorner (or xllcenter/yllcenter) header")
	}

	if nd, ok := h["nodata_value"]; ok {
		g.NoData = nd
	}
	return g, nil
}

func has(h map[string]float64, k string) bool {
	_, ok := h[k]
	return ok
}

// WriteASCIIGrid writes g with the corner-form header. Samples equal to
// NoData, or NaN, are written as NoData.
func WriteASCIIGrid(w io.Writer, g *ASCIIGrid) error {
	if len(g.Data) != g.NRows*g.NCols {
		return fmt.Errorf("grid has %d samples, want %d", len(g.Data), g.NRows*g.NCols)
	}

	bw := bufio.NewWriterSize(w, 1<<16)
	fmt.Fprintf(bw, "ncols        %d\n", g.NCols)
	fmt.Fprintf(bw, "nrows        %d\n", g.NRows)
	fmt.Fprintf(bw, "xllcorner    %s\n", formatFloat(g.XLLCorner))
	fmt.Fprintf(bw, "yllcorner    %s\n", formatFloat(g.YLLCorner))
	if g.DX == g.DY {
		fmt.Fprintf(bw, "cellsize     %s\n", formatFloat(g.DX))
	} else {
		fmt.Fprintf(bw, "dx           %s\n", formatFloat(g.DX))
		fmt.Fprintf(bw, "dy           %s\n", formatFloat(g.DY))
	}
	fmt.Fprintf(bw, "NODATA_value %s\n", formatFloat(g.NoData))

	for r := 0; r < g.NRows; r++ {
		row := g.Data[r*g.NCols : (r+1)*g.NCols]
		for c, v := range row {
			if c > 0 {
				bw.WriteByte(' ')
			}
			if math.IsNaN(v) {
				v = g.NoData
			}
			bw.WriteString(formatFloat(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
