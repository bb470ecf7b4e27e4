// Package verify runs the layered contract checks against one agent run and persists run
// records.
//
// The layers run in order and the first unmet one fails the run:
//
//	L0    process exit status
//	L1    a completion event in the event stream
//	L1.5  trace evidence of real activity (and domain keywords for fixture scenarios)
//	L2    the output document exists, parses, and satisfies the schema
//	L3    referenced skills cover every anchor and the actions mention an expected phrase
package verify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/codalotl/agentconform/internal/agents"
	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/jsonval"
	"github.com/codalotl/agentconform/internal/schema"
	"github.com/codalotl/agentconform/internal/scenario"
	"github.com/codalotl/agentconform/internal/trace"
	"github.com/codalotl/agentconform/internal/types"
)

// minDocumentBytes is the smallest output document worth parsing ("{}").
const minDocumentBytes = 2

// Contract is what a run must satisfy.
type Contract struct {
	Scenario string

	// OutputFile overrides the result's artifact path when set.
	OutputFile string

	// Schema is the output-document schema. A null value means the built-in schema.
	Schema jsonval.Value

	ExpectedAnalysisType string
	HasFixture           bool
	DomainKeywords       []string
	AnchorSkills         []string
	OptionalSkills       []string
	ExpectedActions      []string
}

// ContractFor derives the contract of a scenario definition.
func ContractFor(def scenario.Definition) Contract {
	return Contract{
		Scenario:             def.Key,
		ExpectedAnalysisType: def.AnalysisType,
		HasFixture:           def.HasFixture(),
		DomainKeywords:       def.DomainKeywords,
		AnchorSkills:         def.AnchorSkills,
		OptionalSkills:       def.OptionalSkills,
		ExpectedActions:      def.ExpectedActions,
	}
}

// SkillStats scores optional skills. HitRate is 1 when there are no optional skills.
type SkillStats struct {
	Total   int
	Hits    int
	HitRate float64
}

// Summary is the outcome of a run that passed every layer.
type Summary struct {
	Scenario       string
	Document       jsonval.Value
	Evidence       trace.Evidence
	DomainHits     []string
	OptionalSkills SkillStats
	MatchedActions []string
}

// Assert runs every layer against res. It returns a Summary only when all layers pass;
// otherwise the error is a contract violation naming the failing layer.
func Assert(logger *zap.Logger, res *types.ExecutionResult, c Contract) (*Summary, error) {
	if res == nil {
		return nil, errors.New("assert requires an execution result")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	label := c.Scenario
	if label == "" {
		label = "scenario"
	}
	a := &assertion{label: label, logger: logger, res: res, contract: c}

	if err := a.processStatus(); err != nil {
		return nil, err
	}
	if err := a.protocolCompletion(); err != nil {
		return nil, err
	}
	evidence, domainHits, err := a.traceEvidence()
	if err != nil {
		return nil, err
	}
	doc, err := a.document()
	if err != nil {
		return nil, err
	}
	stats, matched, err := a.behavior(doc)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Scenario:       label,
		Document:       doc,
		Evidence:       evidence,
		DomainHits:     domainHits,
		OptionalSkills: stats,
		MatchedActions: matched,
	}, nil
}

type assertion struct {
	label    string
	logger   *zap.Logger
	res      *types.ExecutionResult
	contract Contract
}

func (a *assertion) fail(layer failure.Layer, items []string, format string, args ...any) error {
	return failure.Violation(a.label, layer, items, format, args...)
}

// L0
func (a *assertion) processStatus() error {
	if a.res.ExitCode == 0 {
		return nil
	}
	stderr := a.res.Stderr
	if stderr == "" {
		stderr = "(empty)"
	}
	msg := fmt.Sprintf("exitCode=%d. stderr=%s", a.res.ExitCode, stderr)
	errs := agents.ErrorMessages(a.res)
	if len(errs) > 0 {
		msg += ". error events: " + strings.Join(errs, " | ")
	}
	if a.res.TimedOut {
		msg += ". timed out"
	}
	return a.fail(failure.LayerProcess, errs, "%s", msg)
}

// L1
func (a *assertion) protocolCompletion() error {
	for _, event := range a.res.Events {
		if IsCompletion(event) {
			return nil
		}
	}
	return a.fail(failure.LayerProtocol, nil, "missing completion event (item.completed / turn.completed / agent_message)")
}

// L1.5
func (a *assertion) traceEvidence() (trace.Evidence, []string, error) {
	evidence := trace.Extract(a.res.Events)
	if a.contract.HasFixture {
		if evidence.Total() == 0 {
			return evidence, nil, a.fail(failure.LayerEvidence, nil, "fixture scenario requires trace activity evidence")
		}
	} else if evidence.Total() == 0 {
		a.logger.Warn("no trace activity evidence detected", zap.String("scenario", a.label))
	}

	var hits []string
	for _, keyword := range a.contract.DomainKeywords {
		if evidence.Contains(keyword) {
			hits = append(hits, keyword)
		}
	}
	if a.contract.HasFixture && len(a.contract.DomainKeywords) > 0 && len(hits) == 0 {
		return evidence, nil, a.fail(failure.LayerEvidence, a.contract.DomainKeywords,
			"trace evidence missing domain keywords (%s)", strings.Join(a.contract.DomainKeywords, ", "))
	}
	return evidence, hits, nil
}

// L2
func (a *assertion) document() (jsonval.Value, error) {
	path := a.contract.OutputFile
	if path == "" {
		path = a.res.OutputFile
	}
	if path == "" {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "missing output file path")
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "output file not found at %s", path)
	}
	if err != nil {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "stat output file %s: %v", path, err)
	}
	if info.Size() < minDocumentBytes {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "expected %s to be >= %d bytes, got %d", path, minDocumentBytes, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "read output file %s: %v", path, err)
	}
	doc, err := jsonval.Parse(data)
	if err != nil {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "failed to parse JSON file %s: %v", path, err)
	}

	s := a.contract.Schema
	if s.IsNull() {
		s = schema.Default()
	}
	if errs := schema.Validate(doc, s); len(errs) > 0 {
		return jsonval.Value{}, a.fail(failure.LayerDocument, errs, "schema violations\n%s", strings.Join(errs, "\n"))
	}

	if want := a.contract.ExpectedAnalysisType; want != "" {
		got, _ := doc.Get("analysis_type")
		if s, ok := got.Str(); !ok || s != want {
			return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "analysis_type expected %q, got %q", want, got.Text())
		}
	}

	actions, ok := doc.Get("actions_taken")
	if !ok {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "missing required actions_taken")
	}
	if !actions.IsArray() {
		return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "actions_taken must be an array")
	}
	for i, action := range actions.Items() {
		if !action.IsString() {
			return jsonval.Value{}, a.fail(failure.LayerDocument, nil, "actions_taken[%d] must be string", i)
		}
	}
	return doc, nil
}

// L3
func (a *assertion) behavior(doc jsonval.Value) (SkillStats, []string, error) {
	referenced := ReferencedSkills(doc)

	var missing []string
	for _, anchor := range a.contract.AnchorSkills {
		if !anyMatch(anchor, referenced) {
			missing = append(missing, anchor)
		}
	}
	if len(missing) > 0 {
		return SkillStats{}, nil, a.fail(failure.LayerBehavior, missing, "missing anchor skills: %s", strings.Join(missing, ", "))
	}

	stats := SkillStats{Total: len(a.contract.OptionalSkills), HitRate: 1}
	for _, optional := range a.contract.OptionalSkills {
		if anyMatch(optional, referenced) {
			stats.Hits++
		}
	}
	if stats.Total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Total)
		a.logger.Info("optional skill hit rate",
			zap.String("scenario", a.label),
			zap.String("hits", fmt.Sprintf("%d/%d", stats.Hits, stats.Total)),
			zap.Float64("rate", stats.HitRate),
		)
	}

	matched := ExpectedActionHits(a.contract.ExpectedActions, doc)
	if len(a.contract.ExpectedActions) > 0 && len(matched) == 0 {
		return SkillStats{}, nil, a.fail(failure.LayerBehavior, a.contract.ExpectedActions,
			"expectedActions matchAny failed (%s)", strings.Join(a.contract.ExpectedActions, " | "))
	}
	return stats, matched, nil
}

var completionTokens = []string{"item.completed", "turn.completed", "agent_message"}

// IsCompletion reports whether event signals that the agent finished a unit of work.
func IsCompletion(event jsonval.Value) bool {
	if !event.IsObject() {
		return false
	}
	token := trace.DiscriminatorOf(event)
	for _, t := range completionTokens {
		if token == t {
			return true
		}
	}
	if item, ok := event.Get("item"); ok && item.IsObject() {
		if v, ok := item.Get("type"); ok && trace.Normalize(v) == "completed" {
			return true
		}
	}
	if turn, ok := event.Get("turn"); ok && turn.IsObject() {
		if v, ok := turn.Get("status"); ok && trace.Normalize(v) == "completed" {
			return true
		}
	}
	return false
}

// SkillMatches compares a contract skill with a referenced one, ignoring case and leading
// slashes. Either may contain the other, so "go-review" satisfies "review".
func SkillMatches(skill, referenced string) bool {
	target := trace.NormalizeText(skill)
	current := trace.NormalizeText(referenced)
	if target == "" || current == "" {
		return false
	}
	return target == current || strings.Contains(current, target) || strings.Contains(target, current)
}

func anyMatch(skill string, referenced []string) bool {
	for _, ref := range referenced {
		if SkillMatches(skill, ref) {
			return true
		}
	}
	return false
}

// ReferencedSkills returns the document's skills_referenced entries as text. A missing or
// non-array field yields nil.
func ReferencedSkills(doc jsonval.Value) []string {
	v, ok := doc.Get("skills_referenced")
	if !ok || !v.IsArray() {
		return nil
	}
	items := v.Items()
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Text()
	}
	return out
}

// ExpectedActionHits returns the expected phrases found in the document: its actions, its
// finding descriptions, or anywhere in its serialized form.
func ExpectedActionHits(expected []string, doc jsonval.Value) []string {
	var parts []string
	if actions, ok := doc.Get("actions_taken"); ok {
		for _, a := range actions.Items() {
			parts = append(parts, a.Text())
		}
	}
	if findings, ok := doc.Get("findings"); ok {
		for _, f := range findings.Items() {
			if d, ok := f.Get("description"); ok && d.Truthy() {
				parts = append(parts, d.Text())
			}
		}
	}
	parts = append(parts, doc.Text())
	corpus := strings.ToLower(strings.Join(parts, "\n"))

	var hits []string
	for _, phrase := range expected {
		if strings.Contains(corpus, trace.NormalizeText(phrase)) {
			hits = append(hits, phrase)
		}
	}
	return hits
}
