// Package config resolves the harness defaults from the environment. Values are read once at
// startup; CLI flags override individual fields afterwards.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/codalotl/agentconform/internal/failure"
)

const (
	EnvModel           = "CODEX_TEST_MODEL"
	EnvReasoningEffort = "CODEX_TEST_REASONING_EFFORT"
	EnvTimeout         = "CODEX_TEST_TIMEOUT"
	EnvWorkspaceRoot   = "CODEX_TEST_WORKSPACE_ROOT"
	EnvScratchRoot     = "CODEX_TEST_SCRATCH_ROOT"
	EnvCommand         = "CODEX_TEST_COMMAND"
	EnvResults         = "AGENTCONFORM_RESULTS"
)

const (
	DefaultModel       = "gpt-5.3-codex"
	DefaultTimeout     = 180 * time.Second
	DefaultScratchRoot = "/tmp/test-workspace"
	DefaultCommand     = "codex"

	// containerWorkspace is used as the workspace root when it holds the fixtures.
	containerWorkspace = "/workspace"
)

// Config is the resolved harness configuration.
type Config struct {
	Model           string
	ReasoningEffort string // empty means the agent's default
	Timeout         time.Duration
	WorkspaceRoot   string // holds testdata/fixtures
	ScratchRoot     string // fixtures are copied here before each run
	Command         []string
	ResultsDir      string
}

// FromEnv resolves configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load resolves configuration using getenv.
func Load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Model:           DefaultModel,
		ReasoningEffort: strings.TrimSpace(getenv(EnvReasoningEffort)),
		Timeout:         parseTimeout(getenv(EnvTimeout)),
		ScratchRoot:     DefaultScratchRoot,
	}
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		cfg.Model = v
	}
	if v := strings.TrimSpace(getenv(EnvScratchRoot)); v != "" {
		cfg.ScratchRoot = filepath.Clean(v)
	}

	root, err := resolveWorkspaceRoot(getenv(EnvWorkspaceRoot))
	if err != nil {
		return Config{}, err
	}
	cfg.WorkspaceRoot = root

	cfg.ResultsDir = filepath.Join(root, "results")
	if v := strings.TrimSpace(getenv(EnvResults)); v != "" {
		cfg.ResultsDir = v
	}

	command := strings.TrimSpace(getenv(EnvCommand))
	if command == "" {
		command = DefaultCommand
	}
	args, err := shellwords.Parse(command)
	if err != nil {
		return Config{}, failure.Configf("parse %s: %v", EnvCommand, err)
	}
	if len(args) == 0 {
		return Config{}, failure.Configf("%s is empty", EnvCommand)
	}
	cfg.Command = args
	return cfg, nil
}

// parseTimeout reads whole seconds. Missing, unparsable, or non-positive values fall back to
// DefaultTimeout.
func parseTimeout(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(seconds) * time.Second
}

func resolveWorkspaceRoot(override string) (string, error) {
	if v := strings.TrimSpace(override); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return "", failure.Wrap(failure.KindConfiguration, "resolve workspace root", err)
		}
		return abs, nil
	}
	if info, err := os.Stat(filepath.Join(containerWorkspace, "testdata", "fixtures")); err == nil && info.IsDir() {
		return containerWorkspace, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "resolve workspace root", err)
	}
	return wd, nil
}

// FixturesDir is where named fixtures live.
func (c Config) FixturesDir() string {
	return filepath.Join(c.WorkspaceRoot, "testdata", "fixtures")
}
