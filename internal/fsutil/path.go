package fsutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafeJoin ensures the resulting path stays within base.
func SafeJoin(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	target := filepath.Join(base, filepath.Clean(rel))
	ok, err := Within(base, target)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("path %q escapes base directory", rel)
	}
	return target, nil
}

// Within reports whether target is base itself or lies below it. Both are made absolute and
// cleaned; symlinks are not resolved.
func Within(base, target string) (bool, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false, err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false, err
	}
	if absTarget == absBase {
		return true, nil
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

// IsFilesystemRoot reports whether path is "/" (or a volume root on Windows).
func IsFilesystemRoot(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == abs
}
