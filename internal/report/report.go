// Package report aggregates persisted run records into per-scenario, per-model rows.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/codalotl/agentconform/internal/types"
	"github.com/codalotl/agentconform/internal/verify"
)

type Options struct {
	ResultsDir       string
	Scenarios        []string
	Models           []string
	Mode             types.Mode // empty means every mode
	Limit            int        // most recent N runs per {scenario,model}; 0 means all
	After            *time.Time
	AllAgentVersions bool
	IncludeTokens    bool
}

type Row struct {
	Scenario           string
	Model              string
	AgentVersion       string
	Count              int
	Passed             int
	PassRate           float64
	AvgAttempts        float64
	AvgOptionalHitRate float64
	AvgTimeSeconds     float64
	AvgTokInput        float64
	AvgTokCachedInput  float64
	AvgTokOutput       float64
	AvgTokTotal        float64
	FailedLayers       map[string]int
}

type Report struct {
	IncludeTokens bool
	Rows          []Row
}

// Run loads every record under opts.ResultsDir and aggregates it. A missing results
// directory yields an empty report.
func Run(opts Options) (*Report, error) {
	if strings.TrimSpace(opts.ResultsDir) == "" {
		return nil, errors.New("ResultsDir is required")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0, got %d", opts.Limit)
	}

	entries, err := LoadRecords(opts.ResultsDir)
	if err != nil {
		return nil, err
	}

	scenarioSet := sliceToSet(opts.Scenarios)
	modelSet := sliceToSet(opts.Models)

	filtered := make([]types.RunRecord, 0, len(entries))
	for _, e := range entries {
		if scenarioSet != nil && !scenarioSet[strings.TrimSpace(e.Scenario)] {
			continue
		}
		if modelSet != nil && !modelSet[strings.TrimSpace(e.Model)] {
			continue
		}
		if opts.Mode != "" && e.Mode != opts.Mode {
			continue
		}
		if opts.After != nil && e.StartedAt.Before(*opts.After) {
			continue
		}
		filtered = append(filtered, e)
	}

	filtered = dedupByRunIDKeepLatest(filtered)
	if !opts.AllAgentVersions {
		filtered = filterToLatestVersionPerModel(filtered)
	}
	grouped := map[string][]types.RunRecord{}
	for _, e := range filtered {
		key := scenarioModelKey(e.Scenario, e.Model)
		grouped[key] = append(grouped[key], e)
	}

	rows := make([]Row, 0, len(grouped))
	for _, group := range grouped {
		sort.Slice(group, func(i, j int) bool {
			return group[i].StartedAt.After(group[j].StartedAt)
		})
		if opts.Limit > 0 && len(group) > opts.Limit {
			group = group[:opts.Limit]
		}
		rows = append(rows, buildRow(group))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Scenario != rows[j].Scenario {
			return rows[i].Scenario < rows[j].Scenario
		}
		return rows[i].Model < rows[j].Model
	})

	return &Report{
		IncludeTokens: opts.IncludeTokens,
		Rows:          rows,
	}, nil
}

func (r *Report) WriteCSV(w io.Writer) error {
	if w == nil {
		return errors.New("writer is nil")
	}
	header := []string{
		"scenario",
		"model",
		"agent_version",
		"count",
		"passed",
		"pass_rate",
		"avg_attempts",
		"avg_optional_hit_rate",
		"avg_time",
		"failed_layers",
	}
	if r.IncludeTokens {
		header = append(header,
			"avg_tok_input",
			"avg_tok_cached_input",
			"avg_tok_output",
			"avg_tok_total",
		)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range r.Rows {
		record := []string{
			row.Scenario,
			row.Model,
			row.AgentVersion,
			strconv.Itoa(row.Count),
			strconv.Itoa(row.Passed),
			formatFloat(row.PassRate),
			formatFloat(row.AvgAttempts),
			formatFloat(row.AvgOptionalHitRate),
			formatFloat(row.AvgTimeSeconds),
			formatLayers(row.FailedLayers),
		}
		if r.IncludeTokens {
			record = append(record,
				formatFloat(row.AvgTokInput),
				formatFloat(row.AvgTokCachedInput),
				formatFloat(row.AvgTokOutput),
				formatFloat(row.AvgTokTotal),
			)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Totals sums rows into suite-level counts.
func (r *Report) Totals() (count, passed int) {
	for _, row := range r.Rows {
		count += row.Count
		passed += row.Passed
	}
	return count, passed
}

// LoadRecords reads every run record below dir.
func LoadRecords(dir string) ([]types.RunRecord, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []types.RunRecord
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), verify.RecordSuffix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec types.RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if rec.StartedAt.IsZero() {
			if info, err := os.Stat(path); err == nil {
				rec.StartedAt = info.ModTime()
			}
		}
		if strings.TrimSpace(rec.Scenario) == "" {
			rec.Scenario = scenarioFromPath(dir, path)
		}
		rec.Scenario = strings.TrimSpace(rec.Scenario)
		rec.Model = strings.TrimSpace(rec.Model)
		rec.AgentVersion = strings.TrimSpace(rec.AgentVersion)
		rec.RunID = strings.TrimSpace(rec.RunID)
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scenarioFromPath(resultsDir, filePath string) string {
	rel, err := filepath.Rel(resultsDir, filePath)
	if err != nil {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[0])
}

func sliceToSet(items []string) map[string]bool {
	var out map[string]bool
	for _, s := range items {
		val := strings.TrimSpace(s)
		if val == "" {
			continue
		}
		if out == nil {
			out = map[string]bool{}
		}
		out[val] = true
	}
	return out
}

func scenarioModelKey(sc, model string) string {
	return strings.TrimSpace(sc) + "\x00" + strings.TrimSpace(model)
}

func dedupByRunIDKeepLatest(entries []types.RunRecord) []types.RunRecord {
	seen := map[string]types.RunRecord{}
	var noRunID []types.RunRecord
	for _, e := range entries {
		if e.RunID == "" {
			noRunID = append(noRunID, e)
			continue
		}
		prev, ok := seen[e.RunID]
		if !ok || e.EndedAt.After(prev.EndedAt) {
			seen[e.RunID] = e
		}
	}
	out := make([]types.RunRecord, 0, len(seen)+len(noRunID))
	out = append(out, noRunID...)
	for _, e := range seen {
		out = append(out, e)
	}
	return out
}

func buildRow(group []types.RunRecord) Row {
	row := Row{
		Scenario: group[0].Scenario,
		Model:    group[0].Model,
		Count:    len(group),
	}
	versions := map[string]bool{}
	var attempts, hitRates, times, tokIn, tokCached, tokOut, tokTotal []float64

	for _, e := range group {
		if e.AgentVersion != "" {
			versions[e.AgentVersion] = true
		}
		if e.Passed {
			row.Passed++
			hitRates = append(hitRates, e.OptionalHitRate)
		} else if e.FailedLayer != "" {
			if row.FailedLayers == nil {
				row.FailedLayers = map[string]int{}
			}
			row.FailedLayers[e.FailedLayer]++
		}
		if e.Attempts != 0 {
			attempts = append(attempts, float64(e.Attempts))
		}
		if e.DurationSeconds != 0 {
			times = append(times, e.DurationSeconds)
		}
		if e.TokenUsage.Input != 0 {
			tokIn = append(tokIn, float64(e.TokenUsage.Input))
		}
		if e.TokenUsage.CachedInput != 0 {
			tokCached = append(tokCached, float64(e.TokenUsage.CachedInput))
		}
		if e.TokenUsage.Output != 0 {
			tokOut = append(tokOut, float64(e.TokenUsage.Output))
		}
		if e.TokenUsage.Total != 0 {
			tokTotal = append(tokTotal, float64(e.TokenUsage.Total))
		}
	}

	row.PassRate = float64(row.Passed) / float64(row.Count)
	row.AgentVersion = strings.Join(uniqueVersionsSorted(versions), ",")
	row.AvgAttempts = avgOrZero(attempts)
	row.AvgOptionalHitRate = avgOrZero(hitRates)
	row.AvgTimeSeconds = avgOrZero(times)
	row.AvgTokInput = avgOrZero(tokIn)
	row.AvgTokCachedInput = avgOrZero(tokCached)
	row.AvgTokOutput = avgOrZero(tokOut)
	row.AvgTokTotal = avgOrZero(tokTotal)
	return row
}

func avgOrZero(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// selectLatestVersion returns the newest semver-like agent version among entries, falling
// back to the lexically last non-semver version.
func selectLatestVersion(entries []types.RunRecord) string {
	latest := ""
	var other []string
	for _, e := range entries {
		v := e.AgentVersion
		switch {
		case v == "":
		case isSemverLike(v):
			if latest == "" || compareSemver(v, latest) > 0 {
				latest = v
			}
		default:
			other = append(other, v)
		}
	}
	if latest != "" || len(other) == 0 {
		return latest
	}
	sort.Strings(other)
	return other[len(other)-1]
}

// filterToLatestVersionPerModel keeps, for each model, only runs made with the newest agent
// version seen for that model. Runs without a version are kept when no version is known.
func filterToLatestVersionPerModel(entries []types.RunRecord) []types.RunRecord {
	grouped := map[string][]types.RunRecord{}
	for _, e := range entries {
		grouped[e.Model] = append(grouped[e.Model], e)
	}
	out := make([]types.RunRecord, 0, len(entries))
	for _, group := range grouped {
		selected := selectLatestVersion(group)
		if selected == "" {
			out = append(out, group...)
			continue
		}
		for _, e := range group {
			if e.AgentVersion == selected {
				out = append(out, e)
			}
		}
	}
	return out
}

// uniqueVersionsSorted orders semver-like versions oldest first, then everything else.
func uniqueVersionsSorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b string) int {
		sa, sb := isSemverLike(a), isSemverLike(b)
		if sa != sb {
			if sa {
				return -1
			}
			return 1
		}
		return compareSemver(a, b)
	})
	return out
}

// canonicalVersion returns v with a leading "v" when it is a full major.minor.patch version,
// and "" otherwise ("dev", "0.46").
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	core, _, _ := strings.Cut(v, "-")
	core, _, _ = strings.Cut(core, "+")
	if strings.Count(core, ".") != 2 {
		return ""
	}
	return v
}

func isSemverLike(v string) bool {
	return canonicalVersion(v) != ""
}

func compareSemver(a, b string) int {
	ca, cb := canonicalVersion(a), canonicalVersion(b)
	if ca == "" || cb == "" {
		return strings.Compare(a, b)
	}
	return semver.Compare(ca, cb)
}

func formatLayers(layers map[string]int) string {
	if len(layers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(layers))
	for k := range layers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", k, layers[k])
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	// Nudge away from binary representation error so 1.005 rounds to 1.01.
	rounded := math.Round((v+math.Copysign(1e-9, v))*100) / 100
	if rounded == 0 {
		return "0"
	}
	s := strconv.FormatFloat(rounded, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}
