package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimmychuckball/pythonmap/scanner"
)

// SaveReport writes results sorted by port to path using newFormatter.
// The input slice is not modified.
func SaveReport(path string, results []scanner.ScanResult, newFormatter FormatterFunc) error {
	sorted := make([]scanner.ScanResult, len(results))
	copy(sorted, results)
	scanner.SortByPort(sorted)

	var buf bytes.Buffer
	f := newFormatter(&buf)
	for _, res := range sorted {
		if err := f.Write(res); err != nil {
			return fmt.Errorf("format port %d: %w", res.Port, err)
		}
	}
	if err := f.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return WriteAtomic(path, buf.Bytes())
}

// WriteAtomic writes data to path atomically:
//   - create temp file in same directory
//   - write bytes, fsync, close
//   - rename to final path (overwrite)
//
// On failure the temp file is removed and an error returned.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpF, err := os.CreateTemp(dir, "pythonmap-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpF.Name()

	cleanup := func() {
		_ = tmpF.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmpF.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpF.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpF.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	// CreateTemp uses 0600; reports are plain user files.
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp -> final: %w", err)
	}

	return nil
}
