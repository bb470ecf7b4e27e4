package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codalotl/agentconform/internal/agents"
	"github.com/codalotl/agentconform/internal/config"
	"github.com/codalotl/agentconform/internal/execute"
	"github.com/codalotl/agentconform/internal/metrics"
	"github.com/codalotl/agentconform/internal/output"
	"github.com/codalotl/agentconform/internal/scenario"
	"github.com/codalotl/agentconform/internal/schema"
	"github.com/codalotl/agentconform/internal/types"
	"github.com/codalotl/agentconform/internal/verify"
)

// These function variables allow tests to stub external dependencies.
var (
	executeScenario = execute.Execute
	agentVersion    = agents.Version
	loadConfig      = config.FromEnv
)

// app carries what every command shares once flags are parsed.
type app struct {
	out     io.Writer
	verbose bool
}

// Execute runs the CLI.
func Execute() error {
	root := newRootCmd(os.Stdout)
	executed, err := root.ExecuteC()
	if err != nil {
		maybePrintUsage(executed, root, err)
	}
	return err
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "agentconform",
		Short: "Check that the codex agent honors skill-analysis scenario contracts.",
	})
	root.SetOut(out)
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug diagnostics to stderr")

	root.AddCommand(newListCmd(a))
	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newReportCmd(a))
	return root
}

func (a *app) logger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	if a.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func newListCmd(a *app) *cobra.Command {
	var mode string
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "list",
		Short: "List the scenario catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := scenario.Builtin()
			if err != nil {
				return err
			}
			for _, def := range catalog.ByMode(types.ParseMode(mode)) {
				line := fmt.Sprintf("%s\t%s", def.Key, def.Title)
				if def.Smoke {
					line += "\tsmoke"
				}
				if _, err := fmt.Fprintln(a.out, line); err != nil {
					return err
				}
			}
			return nil
		},
	})
	cmd.Flags().StringVar(&mode, "mode", string(types.ModeFull), "smoke or full")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "validate-scenarios",
		Short: "Check the scenario catalog and its fixtures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := scenario.Builtin()
			if err != nil {
				return err
			}
			if err := catalog.Validate(); err != nil {
				return err
			}
			if err := catalog.ValidateFixtures(cfg.FixturesDir()); err != nil {
				return err
			}
			if asJSON {
				formatted, err := json.MarshalIndent(catalog.All(), "", "  ")
				if err != nil {
					return fmt.Errorf("format scenarios: %w", err)
				}
				if _, err := fmt.Fprintln(a.out, string(formatted)); err != nil {
					return err
				}
			}
			return output.NewPrinter(a.out).Appf("%d scenarios valid", len(catalog.All()))
		},
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var mode string
	var timeoutSeconds int
	var cwd string
	var schemaPath string
	var metricsFile string
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "run [--mode smoke|full] [patterns...]",
		Short: "Run scenarios against the agent and verify their contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeoutSeconds < 0 {
				return fmt.Errorf("invalid argument \"%d\" for \"--timeout\" flag: must not be negative", timeoutSeconds)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := a.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runMode := types.ParseMode(mode)
			catalog, err := scenario.Builtin()
			if err != nil {
				return err
			}
			defs, err := catalog.Select(args, runMode)
			if err != nil {
				return err
			}

			printer := output.NewPrinter(a.out)
			recorder := metrics.New()
			version, err := agentVersion(ctx, agents.Config{Command: cfg.Command})
			if err != nil {
				logger.Warn("agent version unavailable", zap.Error(err))
			}
			opts := execute.Options{
				Config:       cfg,
				Mode:         runMode,
				Timeout:      time.Duration(timeoutSeconds) * time.Second,
				Cwd:          cwd,
				SchemaPath:   schemaPath,
				AgentVersion: version,
				Logger:       logger,
				Printer:      printer,
				Metrics:      recorder,
			}

			failed := 0
			for _, def := range defs {
				if err := printer.Appf("Running scenario %s: %s (mode=%s model=%s)", def.ID, def.Title, runMode, cfg.Model); err != nil {
					return err
				}
				outcome, runErr := executeScenario(ctx, def, opts)
				if outcome != nil && outcome.Record != nil {
					path, err := verify.WriteRecord(cfg.ResultsDir, outcome.Record)
					if err != nil {
						return fmt.Errorf("write run record: %w", err)
					}
					logger.Debug("wrote run record", zap.String("path", path))
					if err := printer.App(strings.TrimRight(verify.SummaryString(outcome.Record), "\n")); err != nil {
						return err
					}
				}
				if runErr != nil {
					failed++
					if err := printer.Verdict(false, "FAIL "+runErr.Error()); err != nil {
						return err
					}
				} else if err := printer.Verdict(true, "PASS "+def.Key); err != nil {
					return err
				}
				if ctx.Err() != nil {
					break
				}
			}

			if err := printer.Appf("Suite: %d passed, %d failed, %d total", len(defs)-failed, failed, len(defs)); err != nil {
				return err
			}
			if metricsFile != "" {
				if err := recorder.WriteTextfile(metricsFile); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(defs))
			}
			return ctx.Err()
		},
	})
	cmd.Flags().StringVar(&mode, "mode", string(types.ModeFull), "smoke or full")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, fmt.Sprintf("per-attempt timeout in seconds (default: $%s or %d)", config.EnvTimeout, int(config.DefaultTimeout.Seconds())))
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for scenarios without a fixture (default: workspace root)")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "output schema passed to the agent (default: built-in)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var scenarioKey string
	var outputPath string
	var eventsPath string
	var exitCode int
	var schemaPath string
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "check --scenario <key> --output <artifact>",
		Short: "Verify an existing agent artifact against a scenario contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			catalog, err := scenario.Builtin()
			if err != nil {
				return err
			}
			def, err := catalog.Lookup(scenarioKey)
			if err != nil {
				return err
			}
			res := &types.ExecutionResult{ExitCode: exitCode, OutputFile: outputPath}
			if eventsPath != "" {
				data, err := os.ReadFile(eventsPath)
				if err != nil {
					return fmt.Errorf("read events: %w", err)
				}
				res.Stdout = string(data)
				res.Events = agents.ParseEvents(res.Stdout)
			}

			contract := verify.ContractFor(def)
			contract.Schema, err = schema.LoadOrDefault(schemaPath)
			if err != nil {
				return err
			}
			sum, err := verify.Assert(logger, res, contract)

			rec := &types.RunRecord{Scenario: def.Key, Title: def.Title, Mode: types.ModeFull, ExitCode: exitCode, OutputFile: outputPath}
			verify.Apply(rec, sum, err)
			printer := output.NewPrinter(a.out)
			if err != nil {
				if perr := printer.Verdict(false, "FAIL "+rec.Message); perr != nil {
					return perr
				}
				return err
			}
			return printer.Verdict(true, fmt.Sprintf("PASS %s (optional skills %d/%d)", def.Key, rec.OptionalHits, rec.OptionalTotal))
		},
	})
	cmd.Flags().StringVar(&scenarioKey, "scenario", "", "scenario key (required)")
	cmd.Flags().StringVar(&outputPath, "output", "", "agent output artifact (required)")
	cmd.Flags().StringVar(&eventsPath, "events", "", "JSONL event stream captured from the agent")
	cmd.Flags().IntVar(&exitCode, "exit-code", 0, "exit code of the agent process")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "output schema to validate against (default: built-in)")
	_ = cmd.MarkFlagRequired("scenario")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	silenceErrors(cmd)
	cmd.SilenceUsage = true
	return cmd
}

func silenceErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	return cmd
}

func maybePrintUsage(cmd, root *cobra.Command, err error) {
	if err == nil {
		return
	}
	target := cmd
	if target == nil {
		target = root
	}
	if target == nil {
		return
	}
	if shouldShowUsage(err) {
		_ = target.Usage()
	}
}

func shouldShowUsage(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.HasPrefix(msg, "unknown command") {
		return true
	}
	if strings.HasPrefix(msg, "unknown flag") || strings.HasPrefix(msg, "unknown shorthand flag") {
		return true
	}
	if strings.Contains(msg, "accepts") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at least") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at most") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "required flag") {
		return true
	}
	if strings.Contains(msg, "flag needs an argument") {
		return true
	}
	if strings.HasPrefix(msg, "invalid argument") {
		return true
	}
	return false
}
