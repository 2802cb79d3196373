package call

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// TempDir is the per-call scratch directory. Artifacts written through
// [TempDir.Scoped] exist only while their callback runs; the directory itself
// is removed when the call ends.
type TempDir struct {
	path string

	mu      sync.Mutex
	removed bool
}

// NewTempDir creates a fresh directory under parent (the system temp
// directory when empty).
func NewTempDir(parent, prefix string) (*TempDir, error) {
	p, err := os.MkdirTemp(parent, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %w", ErrStorage, err)
	}
	return &TempDir{path: p}, nil
}

// Path returns the directory path.
func (d *TempDir) Path() string { return d.path }

// Scoped writes data to name inside the directory, runs fn with the file
// path and removes the file on every exit path. fn's error is returned
// joined with any removal failure.
func (d *TempDir) Scoped(name string, data []byte, fn func(path string) error) (err error) {
	d.mu.Lock()
	removed := d.removed
	d.mu.Unlock()
	if removed {
		return fmt.Errorf("%w: temp dir already removed", ErrStorage)
	}

	p := filepath.Join(d.path, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, name, err)
	}
	defer func() {
		if rerr := os.Remove(p); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("%w: remove %s: %w", ErrStorage, name, rerr))
		}
	}()
	return fn(p)
}

// Remove deletes the directory and anything left in it. It is idempotent.
func (d *TempDir) Remove() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return nil
	}
	d.removed = true
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("%w: remove temp dir: %w", ErrStorage, err)
	}
	return nil
}
