package rasterio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joricarter/goes-ortho/internal/mask"
)

// Archive keeps timestamped mask outputs in a directory.
type Archive struct {
	dir      string
	maxFiles int
	compress bool
}

// NewArchive creates an Archive that stores masks in dir and keeps at most
// maxFiles of them.
func NewArchive(dir string, maxFiles int, compress bool) *Archive {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Archive{
		dir:      dir,
		maxFiles: maxFiles,
		compress: compress,
	}
}

// Write saves m as mask_<unix>.asc[.zst] and prunes old files beyond
// maxFiles. It returns the written path.
func (a *Archive) Write(ctx context.Context, m *mask.Mask, ts time.Time) (string, error) {
	if err := a.ensureDir(); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("mask_%d.asc", ts.Unix())
	if a.compress {
		filename += zstdExt
	}
	path := filepath.Join(a.dir, filename)

	if err := WriteMask(ctx, path, m); err != nil {
		return "", err
	}
	return path, a.prune()
}

// Latest returns the path and timestamp of the newest archived mask.
func (a *Archive) Latest() (string, time.Time, error) {
	files, err := a.listFiles()
	if err != nil {
		return "", time.Time{}, err
	}
	if len(files) == 0 {
		return "", time.Time{}, fmt.Errorf("no archived masks in %s", a.dir)
	}

	// Files are sorted oldest first; take the last one.
	latest := files[len(files)-1]
	return filepath.Join(a.dir, latest.name), latest.ts, nil
}

type archiveFile struct {
	name string
	ts   time.Time
}

func (a *Archive) listFiles() ([]archiveFile, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archive dir: %w", err)
	}

	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base := strings.TrimSuffix(name, zstdExt)
		if !strings.HasPrefix(base, "mask_") || !strings.HasSuffix(base, ".asc") {
			continue
		}
		// Extract unix timestamp from filename.
		tsStr := strings.TrimSuffix(strings.TrimPrefix(base, "mask_"), ".asc")
		unix, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ts.Equal(files[j].ts) {
			return files[i].name < files[j].name
		}
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (a *Archive) prune() error {
	files, err := a.listFiles()
	if err != nil {
		return err
	}

	if len(files) <= a.maxFiles {
		return nil
	}

	// Remove oldest files.
	toRemove := files[:len(files)-a.maxFiles]
	for _, f := range toRemove {
		path := filepath.Join(a.dir, f.name)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("pruning archived mask %s: %w", f.name, err)
		}
	}

	return nil
}

func (a *Archive) ensureDir() error {
	return os.MkdirAll(a.dir, 0755)
}
