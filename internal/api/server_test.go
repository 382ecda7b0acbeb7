package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joricarter/goes-ortho/internal/auth"
	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/health"
	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/pipeline"
	"github.com/joricarter/goes-ortho/internal/rasterio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testOutput(t *testing.T) *pipeline.Output {
	t.Helper()
	g, err := mask.NewAffineGrid(2, 2, dem.Affine{-119.5, 0.01, 0, 38, 0, -0.01})
	if err != nil {
		t.Fatal(err)
	}
	return &pipeline.Output{
		RunID: "3f1c2b7e-0000-4000-8000-000000000001",
		Mask:  &mask.Mask{Grid: g, Values: []uint8{mask.Visible, mask.Hidden, mask.NoData, mask.Visible}},
		Stats: pipeline.RunStats{
			Tiles:         1,
			DegradedTiles: 1,
			Visible:       10,
			Hidden:        3,
			Unknown:       1,
			Degenerate:    2,
			CellErrors:    map[string]int{"out_of_bounds": 1},
			Duration:      1500 * time.Millisecond,
		},
	}
}

func newTestServer(t *testing.T, authCfg auth.Config) (*httptest.Server, *RunStore, *health.Readiness) {
	t.Helper()
	runs := NewRunStore()
	readiness := &health.Readiness{}
	srv := NewServer(Config{Addr: ":0", Auth: authCfg}, testLogger(), readiness, runs)
	ts := httptest.NewServer(srv.HTTPServer().Handler)
	t.Cleanup(ts.Close)
	return ts, runs, readiness
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLatestRun(t *testing.T) {
	ts, runs, _ := newTestServer(t, auth.Config{})

	if resp := get(t, ts.URL+"/api/v1/runs/latest", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("before any run: status = %d, want 404", resp.StatusCode)
	}

	finished := time.Date(2024, 4, 9, 18, 0, 0, 0, time.UTC)
	runs.Set(testOutput(t), "/tmp/mask.asc", finished)

	resp := get(t, ts.URL+"/api/v1/runs/latest", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}

	if got.RunID != "3f1c2b7e-0000-4000-8000-000000000001" || !got.FinishedAt.Equal(finished) {
		t.Errorf("run id/time = %q %v", got.RunID, got.FinishedAt)
	}
	if got.DurationMS != 1500 || got.CellsVisible != 10 || got.CellsHidden != 3 || got.DegenerateRays != 2 {
		t.Errorf("summary = %+v", got)
	}
	if got.PixelsVisible != 2 || got.PixelsHidden != 1 || got.PixelsNoData != 1 || got.Rows != 2 || got.Cols != 2 {
		t.Errorf("pixel counts = %+v", got)
	}
	if got.Tiles != 1 || got.TilesDegraded != 1 {
		t.Errorf("tiles = %d, degraded = %d, want 1 and 1", got.Tiles, got.TilesDegraded)
	}
	if got.CellErrors["out_of_bounds"] != 1 || got.OutputPath != "/tmp/mask.asc" {
		t.Errorf("errors/path = %v %q", got.CellErrors, got.OutputPath)
	}
}

func TestLatestMask(t *testing.T) {
	ts, runs, _ := newTestServer(t, auth.Config{})
	runs.Set(testOutput(t), "", time.Now())

	resp := get(t, ts.URL+"/api/v1/runs/latest/mask", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "mask_3f1c2b7e") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	g, err := rasterio.ReadASCIIGrid(resp.Body)
	if err != nil {
		t.Fatalf("ReadASCIIGrid: %v", err)
	}
	if g.NRows != 2 || g.NCols != 2 || g.NoData != 255 || g.Data[2] != 255 {
		t.Errorf("grid = %+v", g)
	}
}

func TestAuthAndHealthChecks(t *testing.T) {
	ts, runs, readiness := newTestServer(t, auth.Config{Enabled: true, Token: "s3cret"})
	runs.Set(testOutput(t), "", time.Now())

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"healthz public", "/healthz", "", http.StatusOK},
		{"readyz not ready", "/readyz", "", http.StatusServiceUnavailable},
		{"metrics public", "/metrics", "", http.StatusOK},
		{"summary needs token", "/api/v1/runs/latest", "", http.StatusUnauthorized},
		{"summary with token", "/api/v1/runs/latest", "s3cret", http.StatusOK},
		{"mask with wrong token", "/api/v1/runs/latest/mask", "guess", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := get(t, ts.URL+tt.path, tt.token); resp.StatusCode != tt.wantStatus {
				t.Errorf("GET %s: status = %d, want %d", tt.path, resp.StatusCode, tt.wantStatus)
			}
		})
	}

	readiness.SetReady(true)
	if resp := get(t, ts.URL+"/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz after SetReady: status = %d, want 200", resp.StatusCode)
	}
}
