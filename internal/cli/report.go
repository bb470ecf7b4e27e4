package cli

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codalotl/agentconform/internal/output"
	"github.com/codalotl/agentconform/internal/report"
	"github.com/codalotl/agentconform/internal/types"
)

func newReportCmd(a *app) *cobra.Command {
	var scenarios string
	var models string
	var mode string
	var limit int
	var after string
	var allAgentVersions bool
	var includeTokens bool

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "report",
		Short: "Aggregate run records into a CSV report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var afterTime *time.Time
			if strings.TrimSpace(after) != "" {
				parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(after), time.Local)
				if err != nil {
					return fmt.Errorf("invalid --after (expected YYYY-MM-DD): %w", err)
				}
				afterTime = &parsed
			}
			var reportMode types.Mode
			if strings.TrimSpace(mode) != "" {
				reportMode = types.ParseMode(mode)
			}

			rep, err := report.Run(report.Options{
				ResultsDir:       cfg.ResultsDir,
				Scenarios:        splitCommaList(scenarios),
				Models:           splitCommaList(models),
				Mode:             reportMode,
				Limit:            limit,
				After:            afterTime,
				AllAgentVersions: allAgentVersions,
				IncludeTokens:    includeTokens,
			})
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := rep.WriteCSV(&buf); err != nil {
				return err
			}
			if _, err := a.out.Write(buf.Bytes()); err != nil {
				return err
			}
			count, passed := rep.Totals()
			if count == 0 {
				return nil
			}
			return output.NewPrinter(cmd.ErrOrStderr()).Appf("Total: %d/%d runs passed", passed, count)
		},
	})

	cmd.Flags().StringVar(&scenarios, "scenarios", "", "comma-separated scenario keys (default: all)")
	cmd.Flags().StringVar(&models, "models", "", "comma-separated model list (default: all)")
	cmd.Flags().StringVar(&mode, "mode", "", "only include runs in this mode (default: all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "most recent N runs per {scenario,model} (0: all)")
	cmd.Flags().StringVar(&after, "after", "", "only include runs started on/after YYYY-MM-DD (local time)")
	cmd.Flags().BoolVar(&allAgentVersions, "all-agent-versions", false, "include all agent versions (default: only newest)")
	cmd.Flags().BoolVar(&includeTokens, "include-tokens", false, "include token columns in output")

	return cmd
}

func splitCommaList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
