// Package retry wraps agent invocations with a bounded, deadline-aware retry policy that
// only retries failures that look transient (rate limiting, or a failed run that produced
// no diagnostics at all).
package retry

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/types"
)

// Reason names why an attempt is being retried.
type Reason string

const (
	ReasonRateLimit       Reason = "rate_limit"
	ReasonEmptyDiagnostic Reason = "empty_diagnostic"
)

// Signal is the result of matching failure text against known signatures.
type Signal int

const (
	SignalNone Signal = iota
	// SignalQuota is quota or billing exhaustion. It is deterministic even when the text
	// also looks like a rate limit.
	SignalQuota
	SignalRateLimit
)

var (
	quotaPattern     = regexp.MustCompile(`insufficient[_\s-]?quota|billing[_\s-]?hard[_\s-]?limit(?:_reached)?|exceeded your current quota|quota has been exceeded|quota exceeded`)
	rateLimitPattern = regexp.MustCompile(`(^|\W)429(\W|$)|rate.limit|rate_limit|rate limit|too many requests`)
)

// ClassifyText matches failure text. Quota exhaustion takes precedence over rate limiting.
func ClassifyText(text string) Signal {
	corpus := strings.ToLower(text)
	if corpus == "" {
		return SignalNone
	}
	if quotaPattern.MatchString(corpus) {
		return SignalQuota
	}
	if rateLimitPattern.MatchString(corpus) {
		return SignalRateLimit
	}
	return SignalNone
}

var schedules = map[types.Mode][]time.Duration{
	types.ModeSmoke: {15 * time.Second},
	types.ModeFull:  {15 * time.Second, 30 * time.Second, 60 * time.Second},
}

var maxRetries = map[types.Mode]int{
	types.ModeSmoke: 1,
	types.ModeFull:  3,
}

// Schedule returns the backoff delays for mode.
func Schedule(mode types.Mode) []time.Duration {
	return append([]time.Duration(nil), schedules[resolveMode(mode)]...)
}

// MaxRetries returns the number of retries allowed for mode.
func MaxRetries(mode types.Mode) int {
	return maxRetries[resolveMode(mode)]
}

func resolveMode(mode types.Mode) types.Mode {
	if mode == types.ModeSmoke {
		return types.ModeSmoke
	}
	return types.ModeFull
}

// Policy configures Do.
type Policy struct {
	Mode types.Mode

	// ScenarioTimeout is the nominal timeout of a single attempt. A retry is only admitted
	// while Remaining reports at least twice this much time.
	ScenarioTimeout time.Duration

	// Remaining reports how much of the overall scenario deadline is left. Nil means
	// unbounded.
	Remaining func() time.Duration

	// Delays overrides the mode's backoff schedule when non-empty.
	Delays []time.Duration

	Logger *zap.Logger

	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(reason Reason, attempt int, delay time.Duration)

	// Sleep blocks for d. Nil uses a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Operation is one attempt. attempt starts at 0.
type Operation func(ctx context.Context, attempt int) (*types.ExecutionResult, error)

// verdict is the decision taken after one attempt.
type verdict struct {
	retry  bool
	reason Reason
	res    *types.ExecutionResult
	err    error
}

// Do invokes op until it produces a final outcome. Attempts run strictly sequentially.
func Do(ctx context.Context, p Policy, op Operation) (*types.ExecutionResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delays := p.Delays
	if len(delays) == 0 {
		delays = Schedule(p.Mode)
	}
	limit := MaxRetries(p.Mode)

	for attempt := 0; ; attempt++ {
		res, err := op(ctx, attempt)
		v := judge(res, err)
		if !v.retry {
			return v.res, v.err
		}
		if attempt >= limit || !p.hasBudget() {
			if v.err != nil {
				return nil, failure.Wrap(failure.KindTransient, "retry budget exhausted", v.err)
			}
			return v.res, nil
		}

		delay := delayAt(delays, attempt)
		fields := []zap.Field{
			zap.String("reason", string(v.reason)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		}
		if v.res != nil {
			fields = append(fields, zap.Int("exit_code", v.res.ExitCode))
		}
		logger.Info("transient agent failure, retrying", fields...)
		if p.OnRetry != nil {
			p.OnRetry(v.reason, attempt, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// judge classifies one attempt's outcome.
func judge(res *types.ExecutionResult, err error) verdict {
	if err != nil {
		switch ClassifyText(err.Error()) {
		case SignalQuota:
			return verdict{err: failure.Wrap(failure.KindDeterministic, "quota exhausted", err)}
		case SignalRateLimit:
			return verdict{retry: true, reason: ReasonRateLimit, err: err}
		default:
			return verdict{err: err}
		}
	}
	if res == nil {
		return verdict{err: errors.New("agent invocation returned no result")}
	}
	if res.ExitCode == 0 {
		return verdict{res: res}
	}
	switch ClassifyText(res.DiagnosticText()) {
	case SignalQuota:
		return verdict{res: res}
	case SignalRateLimit:
		return verdict{retry: true, reason: ReasonRateLimit, res: res}
	}
	if !res.HasDiagnostics() {
		return verdict{retry: true, reason: ReasonEmptyDiagnostic, res: res}
	}
	return verdict{res: res}
}

func (p Policy) hasBudget() bool {
	if p.Remaining == nil {
		return true
	}
	return p.Remaining() >= 2*p.ScenarioTimeout
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// delayAt saturates to the last configured delay.
func delayAt(delays []time.Duration, attempt int) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	if attempt >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[attempt]
}
