package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
)

// Spooler writes upload bodies to unique files under the ingest temp dir,
// enforcing the CAR size cap as it streams.
type Spooler struct {
	dir      string
	maxBytes int64
}

// NewSpooler prepares the spool directory.
func NewSpooler(dir string, maxBytes int64) (*Spooler, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &Spooler{dir: dir, maxBytes: maxBytes}, nil
}

// Write streams body into a fresh spool file, returning its path and size.
// When the cap is exceeded the file is deleted, the remaining body is
// drained so the client sees a clean 413 instead of a reset connection,
// and the error carries car_too_large.
func (s *Spooler) Write(body io.Reader) (string, int64, error) {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", 0, fmt.Errorf("spool name generation failed: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("upload-%d-%s.car", time.Now().UnixMilli(), hex.EncodeToString(suffix)))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create spool file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to write spool file: %w", err)
	}
	if n > s.maxBytes {
		os.Remove(path)
		_, _ = io.Copy(io.Discard, body)
		return "", 0, apperr.Newf(apperr.KindCARTooLarge, "upload exceeds the %d byte limit", s.maxBytes)
	}
	return path, n, nil
}

// Remove deletes a spool file, tolerating it being gone already.
func (s *Spooler) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sweep deletes spool files older than maxAge; crash leftovers go away on
// the maintenance loop without touching live uploads.
func (s *Spooler) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < 8 || name[:7] != "upload-" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(s.dir, name)) == nil {
			removed++
		}
	}
	return removed
}
