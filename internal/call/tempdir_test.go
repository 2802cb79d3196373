package call

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestTempDir_ScopedRemovesArtifact(t *testing.T) {
	t.Parallel()
	d, err := NewTempDir(t.TempDir(), "call-")
	if err != nil {
		t.Fatal(err)
	}
	errPlay := errors.New("play failed")

	var seen string
	err = d.Scoped("speech-1.mp3", []byte("clip"), func(p string) error {
		seen = p
		data, err := os.ReadFile(p)
		if err != nil || string(data) != "clip" {
			t.Errorf("artifact = %q, %v", data, err)
		}
		return errPlay
	})
	if !errors.Is(err, errPlay) {
		t.Fatalf("err = %v, want callback error", err)
	}
	if filepath.Dir(seen) != d.Path() {
		t.Errorf("artifact %s not inside %s", seen, d.Path())
	}
	if _, err := os.Stat(seen); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("artifact still present: %v", err)
	}
}

func TestTempDir_NameCannotEscape(t *testing.T) {
	t.Parallel()
	d, err := NewTempDir(t.TempDir(), "call-")
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Scoped("../../evil.wav", nil, func(p string) error {
		if filepath.Dir(p) != d.Path() {
			t.Errorf("artifact path %s escapes %s", p, d.Path())
		}
		return nil
	})
}

func TestTempDir_Remove(t *testing.T) {
	t.Parallel()
	d, err := NewTempDir(t.TempDir(), "call-")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d.Path(), "leftover"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := d.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, err := os.Stat(d.Path()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("dir still present: %v", err)
	}
	if err := d.Scoped("a", nil, func(string) error { return nil }); !errors.Is(err, ErrStorage) {
		t.Errorf("Scoped after Remove err = %v, want ErrStorage", err)
	}
}

func TestNewTempDir_BadParent(t *testing.T) {
	t.Parallel()
	parent := filepath.Join(t.TempDir(), "missing", "deeper")
	if _, err := NewTempDir(parent, "call-"); !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
}
