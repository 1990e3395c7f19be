// Package security guards the files the CLI and API write: report
// outputs must stay inside an allowed directory and file names derived
// from region IDs are sanitised.
package security

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/waterextent/internal/raster"
)

// canonical resolves p to an absolute path with symlinks evaluated. For a
// path that does not exist yet, the nearest existing ancestor is resolved
// and the remainder appended, so a symlinked parent cannot redirect a new
// file outside its directory.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, err := filepath.Rel(dir, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// ValidatePathWithinDirectory reports an input error when filePath,
// after cleaning and symlink resolution, escapes safeDir.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	path, err := canonical(filePath)
	if err != nil {
		return raster.Inputf("resolve %s: %v", filePath, err)
	}
	dir, err := canonical(safeDir)
	if err != nil {
		return raster.Inputf("resolve %s: %v", safeDir, err)
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return raster.Inputf("path %s escapes %s", filePath, safeDir)
	}
	return nil
}

// ValidatePathWithinAllowedDirs accepts filePath when it lies inside any
// of allowedDirs.
func ValidatePathWithinAllowedDirs(filePath string, allowedDirs []string) error {
	if len(allowedDirs) == 0 {
		return raster.Inputf("no allowed directories specified")
	}
	for _, dir := range allowedDirs {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return raster.Inputf("path %s must be within one of %v", filePath, allowedDirs)
}

// ValidateOutputPath accepts report outputs under the working directory,
// the temp directory or any of extraDirs.
func ValidateOutputPath(filePath string, extraDirs ...string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	return ValidatePathWithinAllowedDirs(filePath, append([]string{cwd, os.TempDir()}, extraDirs...))
}

// CreateOutputFile validates path with ValidateOutputPath, creates its
// parent directories and truncates or creates the file.
func CreateOutputFile(path string, extraDirs ...string) (*os.File, error) {
	if err := ValidateOutputPath(path, extraDirs...); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// SanitizeFilename makes a safe filename from an arbitrary string. Runs
// of characters other than ASCII letters, digits, dot, underscore and
// dash become one underscore; the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return "unknown"
	}
	return out
}

// ReportFilename names a region's report for a run starting at start,
// e.g. "Cold_Spring-2021-06-01.csv".
func ReportFilename(regionID string, start time.Time, ext string) string {
	return SanitizeFilename(regionID+"-"+start.Format("2006-01-02")) + "." + strings.TrimPrefix(ext, ".")
}
