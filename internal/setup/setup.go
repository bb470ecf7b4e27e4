package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/fsutil"
	"github.com/codalotl/agentconform/internal/output"
	"github.com/codalotl/agentconform/internal/workspace"
)

// Fixture describes where a named fixture comes from and where it is materialized.
type Fixture struct {
	Name        string
	FixturesDir string // read-only source of named fixtures
	ScratchRoot string // writable root; everything under Target is wiped first
	Target      string // defaults to ScratchRoot
}

// Run mirrors a read-only fixture into a fresh writable directory and returns that directory.
// Any previous content of the target is removed.
func Run(printer *output.Printer, fx Fixture) (string, error) {
	name := strings.TrimSpace(fx.Name)
	if name == "" {
		return "", failure.Configf("fixture name is required when preparing a fixture workspace")
	}
	target := fx.Target
	if target == "" {
		target = fx.ScratchRoot
	}
	targetDir, err := workspace.SafeScratchPath(fx.ScratchRoot, target)
	if err != nil {
		return "", err
	}
	fixtureDir, err := fsutil.SafeJoin(fx.FixturesDir, name)
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "resolve fixture", err)
	}
	info, err := os.Stat(fixtureDir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", failure.Configf("fixture does not exist: %s", fixtureDir)
	}
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "stat fixture", err)
	}
	if !info.IsDir() {
		return "", failure.Configf("fixture is not a directory: %s", fixtureDir)
	}

	if printer != nil {
		if err := printer.Appf("Copying fixture %s into %s", name, targetDir); err != nil {
			return "", err
		}
	}
	if err := os.RemoveAll(targetDir); err != nil {
		return "", fmt.Errorf("clear workspace: %w", err)
	}
	if err := workspace.EnsureDir(targetDir); err != nil {
		return "", err
	}
	if err := fsutil.CopyTree(fixtureDir, targetDir); err != nil {
		return "", fmt.Errorf("copy fixture %s: %w", name, err)
	}
	return targetDir, nil
}
