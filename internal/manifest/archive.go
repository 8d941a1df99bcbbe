package manifest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Archive compresses an existing non-empty manifest to the first free
// <path>.<n>.zst and returns the archive path. It returns "" when there is
// nothing to archive. The manifest itself is left in place.
func Archive(path string) (string, error) {
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat manifest: %w", err)
	}
	if st.Size() == 0 {
		return "", nil
	}

	var dst string
	for n := 1; ; n++ {
		dst = fmt.Sprintf("%s.%d.zst", path, n)
		if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
			break
		}
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open manifest: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		out.Close()
		return "", fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		out.Close()
		return "", fmt.Errorf("failed to compress manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to compress manifest: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return dst, nil
}

// ReadArchive returns the decompressed content of an archive written by
// Archive.
func ReadArchive(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archive: %w", err)
	}
	return data, nil
}
