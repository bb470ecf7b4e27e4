package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codalotl/agentconform/internal/types"
	"github.com/codalotl/agentconform/internal/verify"
)

func writeRecord(t *testing.T, dir string, rec types.RunRecord) {
	t.Helper()
	if rec.EndedAt.IsZero() {
		rec.EndedAt = rec.StartedAt.Add(time.Minute)
	}
	_, err := verify.WriteRecord(dir, &rec)
	require.NoError(t, err)
}

func TestRunAggregatesPerScenarioAndModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	writeRecord(t, dir, types.RunRecord{
		RunID: "run_1", Scenario: "scenario-01-go", Model: "m", StartedAt: now.Add(-3 * time.Hour),
		Attempts: 1, Passed: true, OptionalHitRate: 0.5, DurationSeconds: 10,
		TokenUsage: types.TokenUsage{Input: 10, Total: 12},
	})
	writeRecord(t, dir, types.RunRecord{
		RunID: "run_2", Scenario: "scenario-01-go", Model: "m", StartedAt: now.Add(-2 * time.Hour),
		Attempts: 3, Passed: false, FailedLayer: "L3", DurationSeconds: 30,
	})
	writeRecord(t, dir, types.RunRecord{
		RunID: "run_3", Scenario: "scenario-05-database", Model: "m", StartedAt: now.Add(-1 * time.Hour),
		Attempts: 1, Passed: true, OptionalHitRate: 1,
	})

	rep, err := Run(Options{ResultsDir: dir})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 2)

	goRow := rep.Rows[0]
	require.Equal(t, "scenario-01-go", goRow.Scenario)
	require.Equal(t, 2, goRow.Count)
	require.Equal(t, 1, goRow.Passed)
	require.InDelta(t, 0.5, goRow.PassRate, 1e-9)
	require.InDelta(t, 2.0, goRow.AvgAttempts, 1e-9)
	require.InDelta(t, 0.5, goRow.AvgOptionalHitRate, 1e-9)
	require.InDelta(t, 20.0, goRow.AvgTimeSeconds, 1e-9)
	require.InDelta(t, 12.0, goRow.AvgTokTotal, 1e-9)
	require.Equal(t, map[string]int{"L3": 1}, goRow.FailedLayers)

	require.Equal(t, "scenario-05-database", rep.Rows[1].Scenario)

	count, passed := rep.Totals()
	require.Equal(t, 3, count)
	require.Equal(t, 2, passed)
}

func TestRunAppliesLimitAndDedup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	write := func(runID string, started time.Time) {
		writeRecord(t, dir, types.RunRecord{RunID: runID, Scenario: "demo", Model: "gpt", StartedAt: started, Passed: true})
	}
	write("run_1", now.Add(-3*time.Hour))
	write("run_2", now.Add(-2*time.Hour))
	write("run_3", now.Add(-1*time.Hour))
	// Same run id on a later day: only the latest copy counts.
	write("run_3", now.Add(23*time.Hour))

	all, err := Run(Options{ResultsDir: dir})
	require.NoError(t, err)
	require.Len(t, all.Rows, 1)
	require.Equal(t, 3, all.Rows[0].Count)

	limited, err := Run(Options{ResultsDir: dir, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, limited.Rows[0].Count)

	_, err = Run(Options{ResultsDir: dir, Limit: -1})
	require.Error(t, err)
}

func TestRunDefaultsToLatestAgentVersionUnlessAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	writeRecord(t, dir, types.RunRecord{RunID: "run_1", Scenario: "demo", Model: "gpt", AgentVersion: "0.9.0", StartedAt: now.Add(-2 * time.Hour)})
	writeRecord(t, dir, types.RunRecord{RunID: "run_2", Scenario: "demo", Model: "gpt", AgentVersion: "0.10.0", StartedAt: now.Add(-1 * time.Hour)})

	latestOnly, err := Run(Options{ResultsDir: dir})
	require.NoError(t, err)
	require.Len(t, latestOnly.Rows, 1)
	require.Equal(t, "0.10.0", latestOnly.Rows[0].AgentVersion)
	require.Equal(t, 1, latestOnly.Rows[0].Count)

	all, err := Run(Options{ResultsDir: dir, AllAgentVersions: true})
	require.NoError(t, err)
	require.Equal(t, "0.9.0,0.10.0", all.Rows[0].AgentVersion)
	require.Equal(t, 2, all.Rows[0].Count)
}

func TestRunFilters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	writeRecord(t, dir, types.RunRecord{RunID: "a", Scenario: "one", Model: "m1", Mode: types.ModeSmoke, StartedAt: now.Add(-48 * time.Hour)})
	writeRecord(t, dir, types.RunRecord{RunID: "b", Scenario: "two", Model: "m2", Mode: types.ModeFull, StartedAt: now})

	rep, err := Run(Options{ResultsDir: dir, Scenarios: []string{"one"}})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 1)
	require.Equal(t, "one", rep.Rows[0].Scenario)

	rep, err = Run(Options{ResultsDir: dir, Models: []string{"m2"}})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 1)
	require.Equal(t, "two", rep.Rows[0].Scenario)

	rep, err = Run(Options{ResultsDir: dir, Mode: types.ModeSmoke})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 1)
	require.Equal(t, "one", rep.Rows[0].Scenario)

	after := now.Add(-time.Hour)
	rep, err = Run(Options{ResultsDir: dir, After: &after})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 1)
	require.Equal(t, "two", rep.Rows[0].Scenario)
}

func TestRunMissingDirIsEmpty(t *testing.T) {
	t.Parallel()

	rep, err := Run(Options{ResultsDir: filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	require.Empty(t, rep.Rows)

	_, err = Run(Options{})
	require.Error(t, err)
}

func TestLoadRecordsRejectsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "demo")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "x"+verify.RecordSuffix), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "notes.txt"), []byte("ignored"), 0o644))

	_, err := LoadRecords(dir)
	require.ErrorContains(t, err, "parse ")
}

func TestLoadRecordsFallsBackToDirectoryScenario(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "scenario-09-session")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "old"+verify.RecordSuffix), []byte(`{"run_id":"r","passed":true}`), 0o644))

	recs, err := LoadRecords(dir)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "scenario-09-session", recs[0].Scenario)
	require.False(t, recs[0].StartedAt.IsZero())
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	r := &Report{
		IncludeTokens: true,
		Rows: []Row{
			{
				Scenario:           "s",
				Model:              "m",
				AgentVersion:       "1.0.0",
				Count:              3,
				Passed:             2,
				PassRate:           2.0 / 3.0, // 0.67
				AvgAttempts:        1.005,     // 1.01
				AvgOptionalHitRate: 0.125,     // 0.13
				AvgTimeSeconds:     10.994,    // 10.99
				AvgTokTotal:        7.777,     // 7.78
				FailedLayers:       map[string]int{"L2": 1, "L1.5": 2},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, r.WriteCSV(&buf))
	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{
		"scenario", "model", "agent_version", "count", "passed", "pass_rate", "avg_attempts",
		"avg_optional_hit_rate", "avg_time", "failed_layers",
		"avg_tok_input", "avg_tok_cached_input", "avg_tok_output", "avg_tok_total",
	}, records[0])
	require.Equal(t, []string{"s", "m", "1.0.0", "3", "2", "0.67", "1.01", "0.13", "10.99", "L1.5:2 L2:1", "0", "0", "0", "7.78"}, records[1])
}

func TestFormatFloat_TrimsTrailingZeros(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1", formatFloat(1.0))
	require.Equal(t, "1.2", formatFloat(1.2))
	require.Equal(t, "0.5", formatFloat(0.5))
	require.Equal(t, "0", formatFloat(0.0))
	require.Equal(t, "0", formatFloat(-0.004))
	require.Equal(t, "-1.2", formatFloat(-1.2))
}

func TestCompareSemver(t *testing.T) {
	t.Parallel()

	require.Equal(t, -1, compareSemver("0.9.0", "0.10.0"))
	require.Equal(t, -1, compareSemver("1.0.0-rc1", "1.0.0"))
	require.Equal(t, 0, compareSemver("v1.2.3", "1.2.3"))
	require.False(t, isSemverLike("dev"))
}
