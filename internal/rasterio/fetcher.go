package rasterio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"
)

// defaultMaxBytes caps a DEM download.
const defaultMaxBytes = 512 << 20

// Fetcher downloads an elevation grid into a local cache directory.
type Fetcher struct {
	sourceURL  string
	cacheDir   string
	maxBytes   int64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for sourceURL that caches into cacheDir.
func NewFetcher(sourceURL, cacheDir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		sourceURL: sourceURL,
		cacheDir:  cacheDir,
		maxBytes:  defaultMaxBytes,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch performs an HTTP GET and returns the body, failing if it exceeds
// the byte limit.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching DEM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", f.sourceURL, f.maxBytes)
	}

	return body, nil
}

// FetchToCache returns the cached copy of the source if present, otherwise
// downloads it. The cached file keeps the URL's base name so a .zst source
// stays recognisably compressed.
func (f *Fetcher) FetchToCache(ctx context.Context) (string, error) {
	u, err := url.Parse(f.sourceURL)
	if err != nil {
		return "", fmt.Errorf("parsing source URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "dem.asc"
	}
	dst := filepath.Join(f.cacheDir, name)

	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		f.logger.Info("using cached DEM", "path", dst, "bytes", st.Size())
		return dst, nil
	}

	start := time.Now()
	body, err := f.Fetch(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating DEM cache dir: %w", err)
	}

	// Write then rename so an interrupted download never looks cached.
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return "", fmt.Errorf("writing DEM cache file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("finalizing DEM cache file: %w", err)
	}

	f.logger.Info("DEM downloaded",
		"url", f.sourceURL,
		"path", dst,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dst, nil
}
