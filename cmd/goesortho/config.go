package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joricarter/goes-ortho/internal/api"
	"github.com/joricarter/goes-ortho/internal/geodesy"
	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/pipeline"
	"github.com/joricarter/goes-ortho/internal/tracing"
	"github.com/joricarter/goes-ortho/internal/visibility"
)

// demConfig locates the elevation input.
type demConfig struct {
	Path       string
	SourceURL  string
	CacheDir   string
	Geoid      bool // heights are orthometric and need the EGM96 correction
	ZeroAsVoid bool
}

// satelliteConfig selects a TLE snapshot over the nominal slot when either
// the element lines or an element file are set.
type satelliteConfig struct {
	TLELine1  string
	TLELine2  string
	TLEFile   string
	Satellite string // NORAD ID or name within TLEFile
	ImageTime time.Time
}

// imageConfig defines the grid the mask is written on. Fixed grids are
// navigated to the nominal slot of the pipeline config.
type imageConfig struct {
	Kind string // fixed | dem | abi
	IFOV float64

	// abi only: either a named sector or an explicit upper-left pixel
	// center and shape, as in the product's x/y variables.
	Sector     string // fulldisk | conus
	XOffset    float64
	YOffset    float64
	Rows, Cols int
}

// outputConfig controls where the mask and the per-cell pixel map go.
type outputConfig struct {
	Path       string
	ArchiveDir string
	MaxFiles   int
	Compress   bool
	PixelMap   string
}

func parseLogLevel(v string) (slog.Level, bool) {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func parseEllipsoid(v string) (geodesy.Ellipsoid, bool) {
	switch strings.ToLower(v) {
	case "grs80":
		return geodesy.GRS80, true
	case "wgs84":
		return geodesy.WGS84, true
	}
	return geodesy.Ellipsoid{}, false
}

// parseIFOV accepts a preset name or a value in microradians.
func parseIFOV(v string) (float64, bool) {
	switch strings.ToLower(v) {
	case "500m", "0.5km":
		return mask.IFOV500m, true
	case "1km":
		return mask.IFOV1km, true
	case "2km":
		return mask.IFOV2km, true
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n * 1e-6, true
}

func envFloat(logger *slog.Logger, key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envBool(logger *slog.Logger, key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = b
}

func envPositiveInt(logger *slog.Logger, key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func loadPipelineConfig(logger *slog.Logger) pipeline.Config {
	cfg := pipeline.DefaultConfig()

	envFloat(logger, "GOESORTHO_SUB_LON", &cfg.SubSatelliteLonDeg)
	envFloat(logger, "GOESORTHO_SAT_ALTITUDE", &cfg.SatelliteAltitudeM)
	envFloat(logger, "GOESORTHO_THRESHOLD", &cfg.OcclusionThreshold)
	envBool(logger, "GOESORTHO_CURVATURE", &cfg.CurvatureCorrection)
	envFloat(logger, "GOESORTHO_MIN_ELEVATION", &cfg.MinElevationDeg)
	envFloat(logger, "GOESORTHO_MAX_WALK", &cfg.MaxWalkM)
	envPositiveInt(logger, "GOESORTHO_WORKERS", &cfg.Workers)
	envPositiveInt(logger, "GOESORTHO_TILE_ROWS", &cfg.TileRows)

	if v := os.Getenv("GOESORTHO_ELLIPSOID"); v != "" {
		if e, ok := parseEllipsoid(v); ok {
			cfg.Ellipsoid = e
		} else {
			logger.Warn("invalid GOESORTHO_ELLIPSOID value, using default", "value", v, "default", "grs80")
		}
	}

	if v := os.Getenv("GOESORTHO_TIE_POLICY"); v != "" {
		tie, err := visibility.ParseTiePolicy(v)
		if err != nil {
			logger.Warn("invalid GOESORTHO_TIE_POLICY value, using default", "value", v, "default", cfg.TiePolicy.String())
		} else {
			cfg.TiePolicy = tie
		}
	}

	logger.Info("pipeline config",
		"sub_lon", cfg.SubSatelliteLonDeg,
		"sat_altitude_m", cfg.SatelliteAltitudeM,
		"semi_major_axis", cfg.Ellipsoid.SemiMajorAxis,
		"flattening", cfg.Ellipsoid.Flattening,
		"threshold", cfg.OcclusionThreshold,
		"curvature", cfg.CurvatureCorrection,
		"tie_policy", cfg.TiePolicy.String(),
		"min_elevation_deg", cfg.MinElevationDeg,
		"max_walk_m", cfg.MaxWalkM,
		"workers", cfg.Workers,
		"tile_rows", cfg.TileRows,
	)

	return cfg
}

func loadDEMConfig(logger *slog.Logger) (demConfig, error) {
	cfg := demConfig{
		Path:     os.Getenv("GOESORTHO_DEM_PATH"),
		CacheDir: "/tmp/goes-ortho/dem",
	}

	if v := os.Getenv("GOESORTHO_DEM_URL"); v != "" {
		cfg.SourceURL = v
	}
	if v := os.Getenv("GOESORTHO_DEM_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	envBool(logger, "GOESORTHO_DEM_GEOID", &cfg.Geoid)
	envBool(logger, "GOESORTHO_DEM_ZERO_VOID", &cfg.ZeroAsVoid)

	if cfg.Path == "" && cfg.SourceURL == "" {
		return cfg, errors.New("GOESORTHO_DEM_PATH or GOESORTHO_DEM_URL is required")
	}

	logger.Info("DEM config",
		"path", cfg.Path,
		"source_url", cfg.SourceURL,
		"cache_dir", cfg.CacheDir,
		"geoid", cfg.Geoid,
		"zero_as_void", cfg.ZeroAsVoid,
	)

	return cfg, nil
}

func loadSatelliteConfig(logger *slog.Logger) (satelliteConfig, error) {
	cfg := satelliteConfig{
		TLELine1:  os.Getenv("GOESORTHO_TLE_LINE1"),
		TLELine2:  os.Getenv("GOESORTHO_TLE_LINE2"),
		TLEFile:   os.Getenv("GOESORTHO_TLE_FILE"),
		Satellite: os.Getenv("GOESORTHO_SATELLITE"),
		ImageTime: time.Now().UTC(),
	}

	if (cfg.TLELine1 == "") != (cfg.TLELine2 == "") {
		return cfg, errors.New("GOESORTHO_TLE_LINE1 and GOESORTHO_TLE_LINE2 must be set together")
	}
	if cfg.TLEFile != "" && cfg.Satellite == "" {
		return cfg, errors.New("GOESORTHO_SATELLITE is required with GOESORTHO_TLE_FILE")
	}

	if v := os.Getenv("GOESORTHO_IMAGE_TIME"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			logger.Warn("invalid GOESORTHO_IMAGE_TIME value, using now", "value", v)
		} else {
			cfg.ImageTime = t.UTC()
		}
	}

	logger.Info("satellite config",
		"tle_lines", cfg.TLELine1 != "",
		"tle_file", cfg.TLEFile,
		"satellite", cfg.Satellite,
		"image_time", cfg.ImageTime.Format(time.RFC3339),
	)
	return cfg, nil
}

func loadImageConfig(logger *slog.Logger) (imageConfig, error) {
	cfg := imageConfig{Kind: "fixed", IFOV: mask.IFOV1km}

	if v := os.Getenv("GOESORTHO_IMAGE_GRID"); v != "" {
		switch strings.ToLower(v) {
		case "fixed", "dem", "abi":
			cfg.Kind = strings.ToLower(v)
		default:
			logger.Warn("invalid GOESORTHO_IMAGE_GRID value, using default", "value", v, "default", cfg.Kind)
		}
	}

	if v := os.Getenv("GOESORTHO_IFOV"); v != "" {
		if ifov, ok := parseIFOV(v); ok {
			cfg.IFOV = ifov
		} else {
			logger.Warn("invalid GOESORTHO_IFOV value, using default", "value", v, "default", "1km")
		}
	}

	if cfg.Kind == "abi" {
		if err := loadABIGrid(&cfg); err != nil {
			return cfg, err
		}
	}

	logger.Info("image grid config",
		"kind", cfg.Kind,
		"ifov_urad", cfg.IFOV*1e6,
		"sector", cfg.Sector,
		"x_offset", cfg.XOffset,
		"y_offset", cfg.YOffset,
		"rows", cfg.Rows,
		"cols", cfg.Cols,
	)
	return cfg, nil
}

// loadABIGrid reads an explicit fixed grid. Unlike the tuning knobs these
// have no sensible defaults, so bad values are errors.
func loadABIGrid(cfg *imageConfig) error {
	if v := os.Getenv("GOESORTHO_ABI_SECTOR"); v != "" {
		switch strings.ToLower(v) {
		case "fulldisk", "full", "conus":
			cfg.Sector = strings.ToLower(v)
			if cfg.Sector == "full" {
				cfg.Sector = "fulldisk"
			}
			return nil
		}
		return fmt.Errorf("GOESORTHO_ABI_SECTOR must be fulldisk or conus, got %q", v)
	}

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"GOESORTHO_GRID_X_OFFSET", &cfg.XOffset},
		{"GOESORTHO_GRID_Y_OFFSET", &cfg.YOffset},
	} {
		v := os.Getenv(f.key)
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return fmt.Errorf("%s is required for an abi grid, got %q", f.key, v)
		}
		*f.dst = n
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"GOESORTHO_GRID_ROWS", &cfg.Rows},
		{"GOESORTHO_GRID_COLS", &cfg.Cols},
	} {
		v := os.Getenv(f.key)
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer for an abi grid, got %q", f.key, v)
		}
		*f.dst = n
	}
	return nil
}

func loadOutputConfig(logger *slog.Logger) outputConfig {
	cfg := outputConfig{
		Path:     os.Getenv("GOESORTHO_OUTPUT"),
		MaxFiles: 5,
	}
	if v := os.Getenv("GOESORTHO_ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = v
	}
	envPositiveInt(logger, "GOESORTHO_ARCHIVE_MAX_FILES", &cfg.MaxFiles)
	envBool(logger, "GOESORTHO_COMPRESS", &cfg.Compress)
	cfg.PixelMap = os.Getenv("GOESORTHO_PIXEL_MAP")

	if cfg.Path == "" && cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "/tmp/goes-ortho/masks"
	}

	logger.Info("output config",
		"path", cfg.Path,
		"archive_dir", cfg.ArchiveDir,
		"max_files", cfg.MaxFiles,
		"compress", cfg.Compress,
		"pixel_map", cfg.PixelMap,
	)
	return cfg
}

// loadServerConfig reads the status listener settings. An empty address
// disables the listener.
func loadServerConfig(logger *slog.Logger) (api.Config, error) {
	cfg := api.Config{Addr: os.Getenv("GOESORTHO_HTTP_ADDR")}

	if v := os.Getenv("GOESORTHO_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("GOESORTHO_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Auth.Enabled = enabled
	}
	if cfg.Auth.Enabled {
		cfg.Auth.Token = os.Getenv("GOESORTHO_AUTH_TOKEN")
		if cfg.Auth.Token == "" {
			return cfg, errors.New("GOESORTHO_AUTH_TOKEN is required when auth is enabled")
		}
	}
	envBool(logger, "GOESORTHO_TRUST_PROXY", &cfg.TrustProxy)

	logger.Info("server config",
		"addr", cfg.Addr,
		"auth_enabled", cfg.Auth.Enabled,
		"trust_proxy", cfg.TrustProxy,
	)
	return cfg, nil
}

// loadHold reports whether to keep serving after the run until signalled.
func loadHold(logger *slog.Logger) bool {
	var hold bool
	envBool(logger, "GOESORTHO_HOLD", &hold)
	return hold
}

func loadTracingConfig(logger *slog.Logger) tracing.Config {
	cfg := tracing.DefaultConfig()

	envBool(logger, "GOESORTHO_TRACING_ENABLED", &cfg.Enabled)
	if v := os.Getenv("GOESORTHO_TRACING_EXPORTER"); v != "" {
		cfg.Exporter = v
	}
	if v := os.Getenv("GOESORTHO_TRACING_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	envFloat(logger, "GOESORTHO_TRACING_SAMPLE_RATIO", &cfg.SampleRatio)

	logger.Info("tracing config",
		"enabled", cfg.Enabled,
		"exporter", cfg.Exporter,
		"endpoint", cfg.Endpoint,
		"sample_ratio", cfg.SampleRatio,
	)
	return cfg
}
