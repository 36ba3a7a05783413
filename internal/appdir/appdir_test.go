package appdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(SightlineDirEnv, tmpDir)
	t.Cleanup(ResetCache)
	ResetCache()

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if dir != tmpDir {
		t.Errorf("Dir() = %q, want %q", dir, tmpDir)
	}
}

func TestDir_Cached(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(SightlineDirEnv, tmpDir)
	t.Cleanup(ResetCache)
	ResetCache()

	first, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}

	// Changing the env after the first call must not affect the cached value.
	t.Setenv(SightlineDirEnv, t.TempDir())
	second, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if first != second {
		t.Errorf("Dir() not cached: %q != %q", first, second)
	}
}

func TestEnsureDir(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "sightline")
	t.Setenv(SightlineDirEnv, tmpDir)
	t.Cleanup(ResetCache)
	ResetCache()

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	if _, err := os.Stat(tmpDir); err != nil {
		t.Errorf("data directory not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, HistoryDirName)); err != nil {
		t.Errorf("history directory not created: %v", err)
	}
}

func TestHistoryDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(SightlineDirEnv, tmpDir)
	t.Cleanup(ResetCache)
	ResetCache()

	dir, err := HistoryDir()
	if err != nil {
		t.Fatalf("HistoryDir failed: %v", err)
	}
	if dir != filepath.Join(tmpDir, HistoryDirName) {
		t.Errorf("HistoryDir() = %q", dir)
	}
}
