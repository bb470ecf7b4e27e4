// Package workspace resolves the directories a scenario run touches: the scratch root that
// fixtures are copied into, the output-artifact directory, and the output-schema file.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/fsutil"
	"github.com/codalotl/agentconform/internal/schema"
)

// OutputsDirName is the directory under the scratch root that holds output artifacts.
const OutputsDirName = ".codex-outputs"

// SafeScratchPath validates that path may be wiped and repopulated. It must be scratchRoot or
// below it, and never empty, ".", or a filesystem root.
func SafeScratchPath(scratchRoot, path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "." {
		return "", failure.Configf("unsafe workspace path %q", path)
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "resolve workspace path", err)
	}
	if fsutil.IsFilesystemRoot(abs) {
		return "", failure.Configf("unsafe workspace path %q: filesystem root", path)
	}
	ok, err := fsutil.Within(scratchRoot, abs)
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "resolve workspace path", err)
	}
	if !ok {
		return "", failure.Configf("unsafe workspace path %q: must be within %s", path, scratchRoot)
	}
	return abs, nil
}

// OutputsDir is the output-artifact directory for scratchRoot.
func OutputsDir(scratchRoot string) string {
	return filepath.Join(scratchRoot, OutputsDirName)
}

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9_-]`)

// SanitizeKey lowercases key and replaces anything outside [a-z0-9_-] with '-'. An empty key
// becomes "scenario".
func SanitizeKey(key string) string {
	if key == "" {
		key = "scenario"
	}
	return unsafeKeyChars.ReplaceAllString(strings.ToLower(key), "-")
}

// NewOutputPath returns a fresh artifact path `<key>-<unix ms>-<pid>.json` under the outputs
// directory, creating the directory on demand. When that file already exists a counter is
// appended (`-2`, `-3`, ...) so the path never points at an earlier artifact.
func NewOutputPath(scratchRoot, key string, now time.Time) (string, error) {
	dir := OutputsDir(scratchRoot)
	if err := EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create outputs dir: %w", err)
	}
	base := fmt.Sprintf("%s-%d-%d", SanitizeKey(key), now.UnixMilli(), os.Getpid())
	path := filepath.Join(dir, base+".json")
	for n := 2; ; n++ {
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("check output path: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.json", base, n))
	}
}

// EnsureDir makes sure dir exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// ResolveSchema returns the schema path to pass to the agent.
//
// A requested path is resolved against dir when relative and must exist. When nothing is
// requested, the built-in schema is written into the outputs directory under scratchRoot.
func ResolveSchema(requested, dir, scratchRoot string) (string, error) {
	if requested == "" {
		return MaterializeDefaultSchema(scratchRoot)
	}
	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", failure.Configf("output schema not found: %s", path)
	}
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "stat output schema", err)
	}
	if info.IsDir() {
		return "", failure.Configf("output schema is a directory: %s", path)
	}
	return path, nil
}

// MaterializeDefaultSchema writes the built-in output schema into the outputs directory and
// returns its path.
func MaterializeDefaultSchema(scratchRoot string) (string, error) {
	dir := OutputsDir(scratchRoot)
	if err := EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create outputs dir: %w", err)
	}
	path := filepath.Join(dir, schema.DefaultFileName)
	if err := os.WriteFile(path, schema.DefaultBytes(), 0o644); err != nil {
		return "", fmt.Errorf("write output schema: %w", err)
	}
	return path, nil
}
