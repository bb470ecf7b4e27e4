package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/types"
)

// RecordSuffix ends every persisted run record file name.
const RecordSuffix = ".run.json"

// WriteRecord persists rec as `<date>-<run id>-<model><RecordSuffix>` under dir/<scenario> and
// returns the written path.
func WriteRecord(dir string, rec *types.RunRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("nil run record")
	}
	filename := fmt.Sprintf("%s-%s-%s%s",
		rec.StartedAt.Format("2006-01-02"),
		safePart(rec.RunID, "run"),
		safePart(rec.Model, "model"),
		RecordSuffix)
	outDir := filepath.Join(dir, safePart(rec.Scenario, "scenario"))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(outDir, filename)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

func safePart(value, fallback string) string {
	val := strings.TrimSpace(value)
	if val == "" {
		return fallback
	}
	val = strings.ReplaceAll(val, string(os.PathSeparator), "_")
	return val
}

// Apply copies the outcome of a pipeline run into rec. Exactly one of sum and err is expected
// to be non-nil.
func Apply(rec *types.RunRecord, sum *Summary, err error) {
	if err != nil {
		rec.Passed = false
		rec.Message = err.Error()
		rec.FailureKind = string(failure.KindOf(err))
		rec.FailedLayer = string(failure.LayerOf(err))
		return
	}
	if sum == nil {
		return
	}
	rec.Passed = true
	rec.OptionalHits = sum.OptionalSkills.Hits
	rec.OptionalTotal = sum.OptionalSkills.Total
	rec.OptionalHitRate = sum.OptionalSkills.HitRate
	rec.MatchedActions = sum.MatchedActions
	rec.DomainHits = sum.DomainHits
	counts := sum.Evidence.Counts()
	rec.TraceCounts = make(map[string]int, len(counts))
	for c, n := range counts {
		rec.TraceCounts[string(c)] = n
	}
}

// SummaryString returns a human-readable summary of one run record.
func SummaryString(rec *types.RunRecord) string {
	if rec == nil {
		return ""
	}
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Scenario %s (mode=%s model=%s attempts=%d)\n", rec.Scenario, rec.Mode, rec.Model, rec.Attempts))
	if rec.Passed {
		if rec.OptionalTotal > 0 {
			builder.WriteString(fmt.Sprintf("- optional skills: %d/%d\n", rec.OptionalHits, rec.OptionalTotal))
		}
		if len(rec.MatchedActions) > 0 {
			builder.WriteString(fmt.Sprintf("- matched actions: %s\n", strings.Join(rec.MatchedActions, ", ")))
		}
		if len(rec.DomainHits) > 0 {
			builder.WriteString(fmt.Sprintf("- domain hits: %s\n", strings.Join(rec.DomainHits, ", ")))
		}
		builder.WriteString("Result: pass\n")
		return builder.String()
	}
	for _, line := range strings.Split(strings.TrimSpace(rec.Message), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		builder.WriteString("  " + line + "\n")
	}
	builder.WriteString("Result: fail\n")
	return builder.String()
}
