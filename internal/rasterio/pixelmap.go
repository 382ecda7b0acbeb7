package rasterio

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/pipeline"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

// PixelMap is the per-cell lookup from the elevation grid into the ABI fixed
// grid: for every elevation cell, the scan angles of its apparent position,
// its height and its visibility. Bands are row-major on the elevation grid.
type PixelMap struct {
	RunID      string
	Rows, Cols int
	Transform  dem.Affine
	Projection ephemeris.Projection
	X, Y       []float64 // radians, NaN where the cell has no position
	Elevation  []float64 // meters above the ellipsoid, NaN for void cells
	State      []uint8   // mask.Hidden, mask.Visible or mask.NoData
}

// NewPixelMap builds the pixel map of a finished run. Scan angles are taken
// in proj, the nominal navigation of the image grid.
func NewPixelMap(grid *dem.Grid, out *pipeline.Output, proj ephemeris.Projection) (*PixelMap, error) {
	rows, cols := grid.Dims()
	n := rows * cols
	if len(out.Cells) != n {
		return nil, fmt.Errorf("run has %d cells, elevation grid has %d", len(out.Cells), n)
	}

	pm := &PixelMap{
		RunID:      out.RunID,
		Rows:       rows,
		Cols:       cols,
		Transform:  grid.Transform(),
		Projection: proj,
		X:          make([]float64, n),
		Y:          make([]float64, n),
		Elevation:  make([]float64, n),
		State:      make([]uint8, n),
	}
	for i, c := range out.Cells {
		pm.X[i], pm.Y[i] = math.NaN(), math.NaN()
		pm.Elevation[i] = math.NaN()
		if h, err := grid.ElevationAt(c.Cell.Row, c.Cell.Col); err == nil {
			pm.Elevation[i] = h
		}

		switch c.Visibility.State {
		case visibility.Visible:
			pm.State[i] = mask.Visible
		case visibility.Hidden:
			pm.State[i] = mask.Hidden
		default:
			pm.State[i] = mask.NoData
			continue
		}
		if x, y, err := ephemeris.ScanAngles(proj, c.Position.Apparent); err == nil {
			pm.X[i], pm.Y[i] = x, y
		}
	}
	return pm, nil
}

// pixelMapMeta is the JSON sidecar describing the bands' navigation.
type pixelMapMeta struct {
	RunID                       string     `json:"run_id"`
	LongitudeOfProjectionOrigin float64    `json:"longitude_of_projection_origin"`
	PerspectivePointHeight      float64    `json:"perspective_point_height"`
	SemiMajorAxis               float64    `json:"semi_major_axis"`
	SemiMinorAxis               float64    `json:"semi_minor_axis"`
	Rows                        int        `json:"rows"`
	Cols                        int        `json:"cols"`
	GeoTransform                [6]float64 `json:"geotransform"`
	Bands                       []string   `json:"bands"`
}

// PixelMapBands names the bands in the order WritePixelMap writes them.
var PixelMapBands = []string{"x", "y", "elev", "state"}

// PixelMapPaths returns the band files and the JSON sidecar for a pixel map
// written at path. "out/pm.asc.zst" yields out/pm_x.asc.zst and friends plus
// out/pm.json.
func PixelMapPaths(path string) (bands []string, meta string) {
	ext := ""
	stem := path
	if IsCompressed(stem) {
		ext = zstdExt
		stem = strings.TrimSuffix(stem, zstdExt)
	}
	if e := filepath.Ext(stem); e != "" {
		ext = e + ext
		stem = strings.TrimSuffix(stem, e)
	} else {
		ext = ".asc" + ext
	}
	for _, b := range PixelMapBands {
		bands = append(bands, stem+"_"+b+ext)
	}
	return bands, stem + ".json"
}

// WritePixelMap writes pm as one ESRI ASCII grid per band on the elevation
// grid's lon/lat raster, plus a JSON sidecar with the fixed grid projection.
// Bands are compressed when path ends in .zst.
func WritePixelMap(ctx context.Context, path string, pm *PixelMap) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "rasterio.WritePixelMap")
	defer span.End()
	span.SetAttributes(
		attribute.String("path", path),
		attribute.Int("rows", pm.Rows),
		attribute.Int("cols", pm.Cols),
	)

	g, err := mask.NewAffineGrid(pm.Rows, pm.Cols, pm.Transform)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("pixel map grid: %w", err)
	}
	geo := g.Georef()

	state := make([]float64, len(pm.State))
	for i, v := range pm.State {
		state[i] = float64(v)
	}
	data := [][]float64{pm.X, pm.Y, pm.Elevation, state}
	noData := []float64{DefaultNoData, DefaultNoData, DefaultNoData, float64(mask.NoData)}

	bands, metaPath := PixelMapPaths(path)
	for i, bandPath := range bands {
		if err := ctx.Err(); err != nil {
			return err
		}
		ag := &ASCIIGrid{
			NCols:     pm.Cols,
			NRows:     pm.Rows,
			XLLCorner: geo.XLLCorner,
			YLLCorner: geo.YLLCorner,
			DX:        geo.DX,
			DY:        geo.DY,
			NoData:    noData[i],
			Data:      data[i],
		}
		if err := writeGridFile(bandPath, ag); err != nil {
			span.RecordError(err)
			return err
		}
	}

	meta := pixelMapMeta{
		RunID:                       pm.RunID,
		LongitudeOfProjectionOrigin: pm.Projection.LonOriginDeg,
		PerspectivePointHeight:      pm.Projection.PerspectiveHeightM,
		SemiMajorAxis:               pm.Projection.Ellipsoid.SemiMajorAxis,
		SemiMinorAxis:               pm.Projection.Ellipsoid.SemiMinorAxis(),
		Rows:                        pm.Rows,
		Cols:                        pm.Cols,
		GeoTransform:                pm.Transform,
		Bands:                       PixelMapBands,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pixel map metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, append(b, '\n'), 0o644); err != nil {
		span.RecordError(err)
		return fmt.Errorf("writing pixel map metadata: %w", err)
	}
	return nil
}

func writeGridFile(path string, ag *ASCIIGrid) error {
	wc, err := Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteASCIIGrid(wc, ag); err != nil {
		wc.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
