package rasterio

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdExt marks a zstd-compressed file.
const zstdExt = ".zst"

// IsCompressed reports whether path names a zstd stream.
func IsCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), zstdExt)
}

type zstdReadCloser struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// Open opens path for reading, decompressing transparently when it ends in
// .zst.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(path) {
		return f, nil
	}

	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
	}
	return &zstdReadCloser{Decoder: zr, f: f}, nil
}

type zstdWriteCloser struct {
	*zstd.Encoder
	f *os.File
}

func (z *zstdWriteCloser) Close() error {
	if err := z.Encoder.Close(); err != nil {
		z.f.Close()
		return err
	}
	return z.f.Close()
}

// Create creates path for writing, compressing when it ends in .zst.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(path) {
		return f, nil
	}

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd writer for %s: %w", path, err)
	}
	return &zstdWriteCloser{Encoder: zw, f: f}, nil
}
