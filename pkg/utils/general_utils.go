package utils

import (
	"path/filepath"
)

// ResolvePath joins a relative path to base. Absolute paths pass through.
func ResolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Duplicates returns the first value that appears more than once in values,
// or "" if all values are distinct.
func Duplicates(values []string) string {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return v
		}
		seen[v] = true
	}
	return ""
}
