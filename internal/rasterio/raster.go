package rasterio

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/mask"
)

const tracerName = "github.com/joricarter/goes-ortho/internal/rasterio"

// LoadDEM reads an ESRI ASCII elevation grid in lon/lat degrees.
func LoadDEM(path string, e geodesy.Ellipsoid) (*dem.Grid, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening DEM: %w", err)
	}
	defer rc.Close()

	ag, err := ReadASCIIGrid(rc)
	if err != nil {
		return nil, fmt.Errorf("parsing DEM %s: %w", path, err)
	}

	g, err := dem.NewGrid(ag.NRows, ag.NCols, ag.Data, ag.Affine(), ag.NoData, e)
	if err != nil {
		return nil, fmt.Errorf("DEM %s: %w", path, err)
	}
	return g, nil
}

// MaskGrid converts a mask to an ASCII grid with NODATA_value 255.
func MaskGrid(m *mask.Mask) *ASCIIGrid {
	rows, cols := m.Grid.Dims()
	geo := m.Grid.Georef()

	data := make([]float64, len(m.Values))
	for i, v := range m.Values {
		data[i] = float64(v)
	}
	return &ASCIIGrid{
		NCols:     cols,
		NRows:     rows,
		XLLCorner: geo.XLLCorner,
		YLLCorner: geo.YLLCorner,
		DX:        geo.DX,
		DY:        geo.DY,
		NoData:    float64(mask.NoData),
		Data:      data,
	}
}

// WriteMask writes m to path, compressing when path ends in .zst.
func WriteMask(ctx context.Context, path string, m *mask.Mask) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "rasterio.Write")
	defer span.End()
	span.SetAttributes(
		attribute.String("path", path),
		attribute.Bool("compressed", IsCompressed(path)),
	)

	wc, err := Create(path)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating mask file: %w", err)
	}
	if err := WriteASCIIGrid(wc, MaskGrid(m)); err != nil {
		wc.Close()
		span.RecordError(err)
		return fmt.Errorf("writing mask %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("closing mask %s: %w", path, err)
	}
	return nil
}
