package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joricarter/goes-ortho/internal/api"
	"github.com/joricarter/goes-ortho/internal/dem"
	"github.com/joricarter/goes-ortho/internal/ephemeris"
	"github.com/joricarter/goes-ortho/internal/health"
	"github.com/joricarter/goes-ortho/internal/mask"
	"github.com/joricarter/goes-ortho/internal/pipeline"
	"github.com/joricarter/goes-ortho/internal/rasterio"
	"github.com/joricarter/goes-ortho/internal/tracing"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	if v := os.Getenv("GOESORTHO_LOG_LEVEL"); v != "" {
		l, ok := parseLogLevel(v)
		if !ok {
			logger.Warn("invalid GOESORTHO_LOG_LEVEL value, using default", "value", v, "default", "info")
		}
		level.Set(l)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg := loadPipelineConfig(logger)
	demCfg, err := loadDEMConfig(logger)
	if err != nil {
		return err
	}
	satCfg, err := loadSatelliteConfig(logger)
	if err != nil {
		return err
	}
	imgCfg, err := loadImageConfig(logger)
	if err != nil {
		return err
	}
	outCfg := loadOutputConfig(logger)
	srvCfg, err := loadServerConfig(logger)
	if err != nil {
		return err
	}
	hold := loadHold(logger)

	shutdownTracing, err := tracing.Init(ctx, loadTracingConfig(logger), logger)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer tracing.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	runner, err := pipeline.NewRunner(cfg, logger)
	if err != nil {
		return err
	}

	readiness := &health.Readiness{}
	runs := api.NewRunStore()
	var srv *api.Server
	if srvCfg.Addr != "" {
		srv = api.NewServer(srvCfg, logger, readiness, runs)
		go func() {
			logger.Info("starting status server", "addr", srvCfg.Addr, "auth_enabled", srvCfg.Auth.Enabled)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server listen error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
				logger.Error("status server shutdown error", "error", err)
			}
		}()
	}

	grid, err := loadGrid(ctx, demCfg, cfg, logger)
	if err != nil {
		return err
	}

	sat, err := resolveSatellite(satCfg, cfg, logger)
	if err != nil {
		return err
	}

	proj, err := cfg.Projection()
	if err != nil {
		return err
	}
	image, err := buildImageGrid(imgCfg, grid, proj)
	if err != nil {
		return err
	}
	rows, cols := image.Dims()
	logger.Info("image grid ready", "kind", imgCfg.Kind, "rows", rows, "cols", cols)
	readiness.SetReady(true)

	out, err := runner.Run(ctx, grid, sat, image)
	if err != nil {
		return err
	}

	path, err := writeOutput(ctx, outCfg, out, satCfg.ImageTime)
	if err != nil {
		return err
	}
	logger.Info("mask written", "path", path, "run_id", out.RunID)
	runs.Set(out, path, time.Now())

	if outCfg.PixelMap != "" {
		pm, err := rasterio.NewPixelMap(grid, out, proj)
		if err != nil {
			return err
		}
		if err := rasterio.WritePixelMap(ctx, outCfg.PixelMap, pm); err != nil {
			return err
		}
		logger.Info("pixel map written", "path", outCfg.PixelMap, "run_id", out.RunID)
	}

	if srv != nil && hold {
		logger.Info("serving results until signalled")
		<-ctx.Done()
	}
	return nil
}

// loadGrid fetches, reads, and normalizes the elevation grid.
func loadGrid(ctx context.Context, demCfg demConfig, cfg pipeline.Config, logger *slog.Logger) (*dem.Grid, error) {
	path := demCfg.Path
	if demCfg.SourceURL != "" {
		fetcher := rasterio.NewFetcher(demCfg.SourceURL, demCfg.CacheDir, logger)
		p, err := fetcher.FetchToCache(ctx)
		if err != nil {
			if path == "" {
				return nil, fmt.Errorf("fetching DEM: %w", err)
			}
			logger.Warn("DEM fetch failed, using local path", "error", err, "path", path)
		} else {
			path = p
		}
	}

	grid, err := rasterio.LoadDEM(path, cfg.Ellipsoid)
	if err != nil {
		return nil, err
	}
	if demCfg.ZeroAsVoid {
		grid = dem.ZeroAsVoid(grid)
	}
	if demCfg.Geoid {
		grid, err = dem.ToEllipsoidal(grid)
		if err != nil {
			return nil, fmt.Errorf("geoid correction: %w", err)
		}
	}

	rows, cols := grid.Dims()
	st := grid.Stats()
	logger.Info("DEM loaded",
		"path", path,
		"rows", rows,
		"cols", cols,
		"min_m", st.Min,
		"max_m", st.Max,
		"mean_m", st.Mean,
		"valid", st.Valid,
		"void", st.Void,
	)
	return grid, nil
}

func resolveSatellite(satCfg satelliteConfig, cfg pipeline.Config, logger *slog.Logger) (ephemeris.SatellitePosition, error) {
	line1, line2 := satCfg.TLELine1, satCfg.TLELine2
	if line1 == "" && satCfg.TLEFile != "" {
		set, err := loadElementSet(satCfg, logger)
		if err != nil {
			return ephemeris.SatellitePosition{}, err
		}
		line1, line2 = set.Line1, set.Line2
	}
	if line1 == "" {
		return cfg.Satellite()
	}

	sat, err := ephemeris.FromTLE(line1, line2, satCfg.ImageTime, cfg.Ellipsoid)
	if err != nil {
		return sat, fmt.Errorf("satellite from TLE: %w", err)
	}
	logger.Info("satellite from TLE",
		"image_time", satCfg.ImageTime.Format(time.RFC3339),
		"sub_lon", sat.SubLonDeg,
		"altitude_m", sat.AltitudeM,
	)
	return sat, nil
}

func loadElementSet(satCfg satelliteConfig, logger *slog.Logger) (ephemeris.ElementSet, error) {
	f, err := os.Open(satCfg.TLEFile)
	if err != nil {
		return ephemeris.ElementSet{}, fmt.Errorf("opening element file: %w", err)
	}
	defer f.Close()

	sets, err := ephemeris.ParseElementSets(f, logger)
	if err != nil {
		return ephemeris.ElementSet{}, err
	}
	set, err := ephemeris.SelectElementSet(sets, satCfg.Satellite, satCfg.ImageTime)
	if err != nil {
		return ephemeris.ElementSet{}, err
	}
	logger.Info("element set selected",
		"norad_id", set.NORADID,
		"name", set.Name,
		"epoch", set.Epoch.Format(time.RFC3339),
		"candidates", len(sets),
	)
	return set, nil
}

// buildImageGrid lays out the mask grid. Fixed grids are navigated to the
// nominal projection, never to a TLE snapshot.
func buildImageGrid(imgCfg imageConfig, grid *dem.Grid, proj ephemeris.Projection) (mask.ImageGrid, error) {
	var (
		g   *mask.FixedGrid
		err error
	)
	switch {
	case imgCfg.Kind == "dem":
		rows, cols := grid.Dims()
		ag, err := mask.NewAffineGrid(rows, cols, grid.Transform())
		if err != nil {
			return nil, fmt.Errorf("image grid: %w", err)
		}
		return ag, nil
	case imgCfg.Kind == "abi" && imgCfg.Sector == "fulldisk":
		g, err = mask.NewFixedGridFromBounds(proj, mask.FullDiskBounds, imgCfg.IFOV)
	case imgCfg.Kind == "abi" && imgCfg.Sector == "conus":
		g, err = mask.NewFixedGridFromBounds(proj, mask.CONUSBounds, imgCfg.IFOV)
	case imgCfg.Kind == "abi":
		g, err = mask.NewFixedGrid(proj, imgCfg.XOffset, imgCfg.YOffset, imgCfg.IFOV, imgCfg.Rows, imgCfg.Cols)
	default:
		g, err = mask.FixedGridCovering(grid, proj, imgCfg.IFOV)
	}
	if err != nil {
		return nil, fmt.Errorf("fixed grid: %w", err)
	}
	return g, nil
}

func writeOutput(ctx context.Context, outCfg outputConfig, out *pipeline.Output, ts time.Time) (string, error) {
	if outCfg.Path != "" {
		if err := rasterio.WriteMask(ctx, outCfg.Path, out.Mask); err != nil {
			return "", err
		}
		return outCfg.Path, nil
	}
	return rasterio.NewArchive(outCfg.ArchiveDir, outCfg.MaxFiles, outCfg.Compress).Write(ctx, out.Mask, ts)
}
