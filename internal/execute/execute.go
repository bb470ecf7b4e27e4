// Package execute runs one scenario end to end: it prepares the working directory, invokes the
// agent through the retry controller, and verifies the result against the scenario contract.
package execute

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codalotl/agentconform/internal/agents"
	"github.com/codalotl/agentconform/internal/config"
	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/metrics"
	"github.com/codalotl/agentconform/internal/output"
	"github.com/codalotl/agentconform/internal/retry"
	"github.com/codalotl/agentconform/internal/scenario"
	"github.com/codalotl/agentconform/internal/schema"
	"github.com/codalotl/agentconform/internal/setup"
	"github.com/codalotl/agentconform/internal/types"
	"github.com/codalotl/agentconform/internal/verify"
	"github.com/codalotl/agentconform/internal/workspace"
)

// agentExec is swapped out in tests.
var agentExec = agents.Exec

// Options parameterize one scenario run.
type Options struct {
	Config config.Config
	Mode   types.Mode

	// Timeout overrides Config.Timeout for each attempt.
	Timeout time.Duration

	// Cwd is the working directory of scenarios without a fixture. Defaults to the workspace root.
	Cwd string

	// SchemaPath is the requested output schema, relative to the working directory. Empty
	// means the built-in one. A path that does not exist is a configuration error.
	SchemaPath string

	// AgentVersion is recorded as-is.
	AgentVersion string

	Logger  *zap.Logger
	Printer *output.Printer
	Metrics *metrics.Recorder

	// Delays overrides the retry schedule.
	Delays []time.Duration
	Now    func() time.Time
}

// Outcome is everything one run produced. Record is always set; Result and Summary are set
// once the agent ran and the contract passed, respectively.
type Outcome struct {
	Record  *types.RunRecord
	Result  *types.ExecutionResult
	Summary *verify.Summary
}

// BudgetMultiplier is how many attempt timeouts the whole scenario may take in mode.
func BudgetMultiplier(mode types.Mode) int {
	if mode == types.ModeSmoke {
		return 3
	}
	return 6
}

// Execute runs def. The returned error is the first failure: configuration, an unrecoverable
// agent failure, or the first unmet contract layer. The Outcome is returned in every case.
func Execute(ctx context.Context, def scenario.Definition, opts Options) (*Outcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	mode := types.ParseMode(string(opts.Mode))
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = opts.Config.Timeout
	}
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	scratchRoot := opts.Config.ScratchRoot
	if scratchRoot == "" {
		scratchRoot = config.DefaultScratchRoot
	}

	started := now()
	deadline := started.Add(timeout * time.Duration(BudgetMultiplier(mode)))
	rec := &types.RunRecord{
		RunID:        uuid.NewString(),
		Scenario:     def.Key,
		Title:        def.Title,
		Mode:         mode,
		Model:        opts.Config.Model,
		AgentVersion: opts.AgentVersion,
		StartedAt:    started,
	}
	out := &Outcome{Record: rec}
	logger = logger.With(zap.String("scenario", def.Key), zap.String("run_id", rec.RunID))

	finish := func(err error) (*Outcome, error) {
		rec.EndedAt = now()
		rec.DurationSeconds = rec.EndedAt.Sub(rec.StartedAt).Seconds()
		verify.Apply(rec, out.Summary, err)
		if rec.Passed {
			opts.Metrics.Outcome("passed")
		} else {
			opts.Metrics.Outcome("failed")
			if layer := failure.LayerOf(err); layer != "" {
				opts.Metrics.LayerFailure(string(layer))
			}
		}
		return out, err
	}

	dir, err := workDir(def, opts, scratchRoot)
	if err != nil {
		return finish(err)
	}
	schemaPath, err := workspace.ResolveSchema(opts.SchemaPath, dir, scratchRoot)
	if err != nil {
		return finish(err)
	}
	contractSchema, err := schema.LoadOrDefault(schemaPath)
	if err != nil {
		return finish(err)
	}

	prompt := BuildPrompt(def)
	agentCfg := agents.Config{
		Command:         opts.Config.Command,
		Model:           opts.Config.Model,
		ReasoningEffort: opts.Config.ReasoningEffort,
		Printer:         opts.Printer,
		Logger:          logger,
	}
	policy := retry.Policy{
		Mode:            mode,
		ScenarioTimeout: timeout,
		Remaining:       func() time.Duration { return deadline.Sub(now()) },
		Delays:          opts.Delays,
		Logger:          logger,
		OnRetry: func(reason retry.Reason, _ int, _ time.Duration) {
			opts.Metrics.Retry(string(reason))
		},
	}

	res, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*types.ExecutionResult, error) {
		rec.Attempts = attempt + 1
		opts.Metrics.Attempt(def.Key)
		// Each attempt writes a new artifact so a retry can never be judged on an earlier one.
		outputFile, err := workspace.NewOutputPath(scratchRoot, def.Key, now())
		if err != nil {
			return nil, err
		}
		return agentExec(ctx, agentCfg, types.ExecutionRequest{
			ScenarioKey: def.Key,
			Prompt:      prompt,
			Dir:         dir,
			Timeout:     timeout,
			OutputFile:  outputFile,
			SchemaPath:  schemaPath,
		})
	})
	if res != nil {
		out.Result = res
		rec.ExitCode = res.ExitCode
		rec.TokenUsage = res.Usage
		rec.OutputFile = res.OutputFile
	}
	if err != nil {
		return finish(err)
	}
	if res != nil && res.ExitCode == 0 && agents.HasError(res) {
		logger.Warn("agent exited cleanly but reported errors", zap.Strings("errors", agents.ErrorMessages(res)))
	}

	contract := verify.ContractFor(def)
	contract.Schema = contractSchema
	out.Summary, err = verify.Assert(logger, res, contract)
	return finish(err)
}

// workDir returns a fresh copy of the scenario fixture, or the caller's directory when the
// scenario has none.
func workDir(def scenario.Definition, opts Options, scratchRoot string) (string, error) {
	if !def.HasFixture() {
		if opts.Cwd != "" {
			return opts.Cwd, nil
		}
		return opts.Config.WorkspaceRoot, nil
	}
	return setup.Run(opts.Printer, setup.Fixture{
		Name:        def.Fixture,
		FixturesDir: opts.Config.FixturesDir(),
		ScratchRoot: scratchRoot,
		Target:      filepath.Join(scratchRoot, def.Fixture),
	})
}
