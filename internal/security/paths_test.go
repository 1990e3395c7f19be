package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/waterextent/internal/raster"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(unsafeDir, 0755); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}
	// A symlink inside the safe directory pointing out of it.
	if err := os.Symlink(unsafeDir, filepath.Join(safeDir, "evil-symlink")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{"valid path within directory", filepath.Join(tmpDir, "file.csv"), tmpDir, false},
		{"valid nested path", filepath.Join(tmpDir, "reports", "june", "file.csv"), tmpDir, false},
		{"path traversal with ..", filepath.Join(tmpDir, "..", "file.csv"), tmpDir, true},
		{"path traversal at start", "../../../etc/passwd", tmpDir, true},
		{"absolute path outside", "/etc/passwd", tmpDir, true},
		{"symlink escape to existing dir", filepath.Join(safeDir, "evil-symlink", "x.csv"), safeDir, true},
		{"symlink escape to new subdir", filepath.Join(safeDir, "evil-symlink", "new", "x.csv"), safeDir, true},
		{"sibling with shared prefix", tmpDir + "-other/file.csv", tmpDir, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
			if err != nil && !errors.Is(err, raster.ErrInput) {
				t.Errorf("error %v should wrap ErrInput", err)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	tests := []struct {
		name        string
		filePath    string
		allowedDirs []string
		wantError   bool
	}{
		{"in first dir", filepath.Join(a, "x.png"), []string{a, b}, false},
		{"in second dir", filepath.Join(b, "x.png"), []string{a, b}, false},
		{"in neither", "/etc/passwd", []string{a, b}, true},
		{"no dirs", filepath.Join(a, "x.png"), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinAllowedDirs(tt.filePath, tt.allowedDirs)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinAllowedDirs() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestCreateOutputFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "study.csv")

	f, err := CreateOutputFile(path, dir)
	if err != nil {
		t.Fatalf("CreateOutputFile() error = %v", err)
	}
	if _, err := f.WriteString("region_id\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "region_id\n" {
		t.Errorf("file content = %q, %v", data, err)
	}

	if _, err := CreateOutputFile("/etc/waterextent.csv", dir); !errors.Is(err, raster.ErrInput) {
		t.Errorf("CreateOutputFile outside allowed dirs: error = %v, want ErrInput", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"study", "study"},
		{"Cold Spring/North", "Cold_Spring_North"},
		{"../../etc", "etc"},
		{"", "unknown"},
		{"___", "unknown"},
		{"-x-", "x"},
		{"a  b", "a_b"},
		{strings.Repeat("x", 300), strings.Repeat("x", 128)},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReportFilename(t *testing.T) {
	t.Parallel()

	start := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := ReportFilename("Cold Spring", start, ".csv"); got != "Cold_Spring-2021-06-01.csv" {
		t.Errorf("ReportFilename() = %q", got)
	}
	if got := ReportFilename("", start, "png"); got != "2021-06-01.png" {
		t.Errorf("ReportFilename(empty) = %q", got)
	}
}
