package types

import (
	"strings"
	"time"

	"github.com/codalotl/agentconform/internal/jsonval"
)

// Mode selects the scenario subset and the retry schedule.
type Mode string

const (
	ModeSmoke Mode = "smoke"
	ModeFull  Mode = "full"
)

// ParseMode resolves a mode name. Anything other than "smoke" is full.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeSmoke)) {
		return ModeSmoke
	}
	return ModeFull
}

// ExecutionRequest is one invocation of the agent-under-test.
type ExecutionRequest struct {
	ScenarioKey string
	Prompt      string
	Dir         string
	Timeout     time.Duration
	OutputFile  string
	SchemaPath  string // optional; empty means no output-schema constraint
}

type TokenUsage struct {
	Input       int `json:"input"`
	CachedInput int `json:"cached_input"`
	Output      int `json:"output"`
	Total       int `json:"total"`
}

// ExecutionResult is what one invocation of the agent-under-test produced.
type ExecutionResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Events     []jsonval.Value
	OutputFile string
	Dir        string
	TimedOut   bool
	Session    string
	Usage      TokenUsage
	Duration   time.Duration
}

// HasDiagnostics reports whether the result carries any stdout, stderr, or events.
func (r *ExecutionResult) HasDiagnostics() bool {
	if r == nil {
		return false
	}
	return strings.TrimSpace(r.Stdout) != "" || strings.TrimSpace(r.Stderr) != "" || len(r.Events) > 0
}

// DiagnosticText joins stderr, stdout, and serialized events for signature matching.
func (r *ExecutionResult) DiagnosticText() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if r.Stderr != "" {
		parts = append(parts, r.Stderr)
	}
	if r.Stdout != "" {
		parts = append(parts, r.Stdout)
	}
	if len(r.Events) > 0 {
		parts = append(parts, jsonval.ArrayValue(r.Events...).String())
	}
	return strings.Join(parts, "\n")
}

// RunRecord is the persisted outcome of one scenario run.
type RunRecord struct {
	RunID           string         `json:"run_id"`
	Scenario        string         `json:"scenario"`
	Title           string         `json:"title"`
	Mode            Mode           `json:"mode"`
	Model           string         `json:"model,omitempty"`
	AgentVersion    string         `json:"agent_version,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	Attempts        int            `json:"attempts"`
	ExitCode        int            `json:"exit_code"`
	Passed          bool           `json:"passed"`
	FailureKind     string         `json:"failure_kind,omitempty"`
	FailedLayer     string         `json:"failed_layer,omitempty"`
	Message         string         `json:"message,omitempty"`
	OptionalHits    int            `json:"optional_hits"`
	OptionalTotal   int            `json:"optional_total"`
	OptionalHitRate float64        `json:"optional_hit_rate"`
	MatchedActions  []string       `json:"matched_actions,omitempty"`
	DomainHits      []string       `json:"domain_hits,omitempty"`
	TraceCounts     map[string]int `json:"trace_counts,omitempty"`
	OutputFile      string         `json:"output_file,omitempty"`
	TokenUsage      TokenUsage     `json:"token_usage"`
}
