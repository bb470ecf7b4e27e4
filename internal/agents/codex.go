package agents

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/jsonval"
	"github.com/codalotl/agentconform/internal/output"
	"github.com/codalotl/agentconform/internal/types"
)

// Config selects and parameterizes the agent-under-test.
type Config struct {
	// Command is the executable plus any leading arguments, e.g. ["codex"] or
	// ["npx", "-y", "@openai/codex"].
	Command         []string
	Model           string
	ReasoningEffort string

	// Printer, when set, receives the command line and streamed output.
	Printer *output.Printer
	Logger  *zap.Logger
}

// ExecArgs builds the arguments passed after cfg.Command for one invocation.
func ExecArgs(cfg Config, req types.ExecutionRequest) []string {
	args := []string{
		"exec",
		"-s", "workspace-write",
		"-c", `approval_policy="never"`,
	}
	if effort := strings.TrimSpace(cfg.ReasoningEffort); effort != "" {
		args = append(args, "-c", fmt.Sprintf("model_reasoning_effort=%q", effort))
	}
	args = append(args,
		"-m", cfg.Model,
		"--skip-git-repo-check",
		"--json",
		"-o", req.OutputFile,
	)
	if req.SchemaPath != "" {
		args = append(args, "--output-schema", req.SchemaPath)
	}
	return append(args, req.Prompt)
}

// Exec runs the agent once. A non-zero exit, including a timeout, is reported through the
// result rather than as an error; the error is reserved for failing to start the process.
func Exec(ctx context.Context, cfg Config, req types.ExecutionRequest) (*types.ExecutionResult, error) {
	if len(cfg.Command) == 0 {
		return nil, failure.Configf("agent command is empty")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, failure.Configf("prompt is required for the agent")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), cfg.Command[1:]...), ExecArgs(cfg, req)...)
	cmd := exec.CommandContext(runCtx, cfg.Command[0], args...)
	cmd.Dir = req.Dir
	isolateProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	var streamed io.Writer
	if cfg.Printer != nil {
		if err := cfg.Printer.Command(cfg.Command[0], args...); err != nil {
			return nil, err
		}
		streamed = cfg.Printer.CommandOutput()
	}

	logger.Debug("starting agent",
		zap.String("scenario", req.ScenarioKey),
		zap.String("dir", req.Dir),
		zap.Duration("timeout", req.Timeout),
		zap.String("output_file", req.OutputFile),
	)
	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, "start agent", err)
	}

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return drain(stdoutPipe, &stdout, streamed) })
	g.Go(func() error { return drain(stderrPipe, &stderr, streamed) })
	drained := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		closeAfterCancel(runCtx, drained, stdoutPipe, stderrPipe)
	}()
	copyErr := g.Wait()
	close(drained)
	<-watched
	waitErr := cmd.Wait()

	res := &types.ExecutionResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		OutputFile: req.OutputFile,
		Dir:        req.Dir,
		Duration:   time.Since(started),
	}
	res.Events = ParseEvents(res.Stdout)
	res.Session, res.Usage = sessionAndUsage(res.Events)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = 1
		res.TimedOut = true
	case waitErr != nil:
		res.ExitCode = exitCodeOf(waitErr)
	case copyErr != nil:
		return nil, fmt.Errorf("read agent output: %w", copyErr)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logger.Debug("agent finished",
		zap.String("scenario", req.ScenarioKey),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int("events", len(res.Events)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// pipeGrace is how long output may keep draining after the attempt was cancelled.
const pipeGrace = 2 * time.Second

// closeAfterCancel closes the output pipes once ctx is done and draining has not finished
// within pipeGrace. A descendant that left the process group would otherwise keep them open.
func closeAfterCancel(ctx context.Context, drained <-chan struct{}, pipes ...io.Closer) {
	select {
	case <-drained:
		return
	case <-ctx.Done():
	}
	timer := time.NewTimer(pipeGrace)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		for _, p := range pipes {
			_ = p.Close()
		}
	}
}

func drain(r io.Reader, buf *bytes.Buffer, streamed io.Writer) error {
	w := io.Writer(buf)
	if streamed != nil {
		w = io.MultiWriter(buf, streamed)
	}
	_, err := io.Copy(w, r)
	return err
}

// exitCodeOf maps a Wait error to an exit status. Signals and unknown errors report 1.
func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

// ParseEvents parses newline-delimited JSON. Blank lines, unparsable lines, and falsy values
// (null, false, 0, "") are dropped.
func ParseEvents(raw string) []jsonval.Value {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	// Allow long JSON lines.
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 16*1024*1024)

	var events []jsonval.Value
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := jsonval.Parse([]byte(line))
		if err != nil || !v.Truthy() {
			continue
		}
		events = append(events, v)
	}
	return events
}

// sessionAndUsage finds the first thread id and the last reported token usage.
func sessionAndUsage(events []jsonval.Value) (string, types.TokenUsage) {
	var session string
	var usage types.TokenUsage
	for _, event := range events {
		if session == "" {
			session = threadID(event)
		}
		if u, ok := event.Get("usage"); ok && u.IsObject() {
			updateUsage(&usage, u)
		}
	}
	return session, usage
}

func threadID(event jsonval.Value) string {
	for _, key := range []string{"thread_id", "session_id"} {
		if v, ok := event.Get(key); ok {
			if s, ok := v.Str(); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func updateUsage(target *types.TokenUsage, u jsonval.Value) {
	if val, ok := asInt(u, "input_tokens"); ok {
		target.Input = val
	}
	if val, ok := asInt(u, "cached_input_tokens"); ok {
		target.CachedInput = val
	}
	if val, ok := asInt(u, "output_tokens"); ok {
		target.Output = val
	}
	target.Total = target.Input + target.Output
}

func asInt(obj jsonval.Value, key string) (int, bool) {
	v, ok := obj.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.Float()
	if !ok {
		return 0, false
	}
	return int(f), true
}

var codexVersionPattern = regexp.MustCompile(`\d+\.\d+\.\d+(?:[-\w\.]+)?`)

// Version asks the agent for its version string.
func Version(ctx context.Context, cfg Config) (string, error) {
	if len(cfg.Command) == 0 {
		return "", failure.Configf("agent command is empty")
	}
	args := append(append([]string(nil), cfg.Command[1:]...), "--version")
	cmd := exec.CommandContext(ctx, cfg.Command[0], args...)
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if v := parseVersion(trimmed); v != "" {
		return v, nil
	}
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", cfg.Command[0], err)
	}
	if trimmed == "" {
		return "", fmt.Errorf("%s --version returned no output", cfg.Command[0])
	}
	return "", fmt.Errorf("could not parse agent version from %q", trimmed)
}

func parseVersion(out string) string {
	if out == "" {
		return ""
	}
	if match := codexVersionPattern.FindString(out); match != "" {
		return match
	}
	fields := strings.Fields(out)
	if len(fields) == 1 {
		return fields[0]
	}
	return ""
}
