package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/jsonval"
	"github.com/codalotl/agentconform/internal/types"
)

// recorder counts attempts and captures backoff sleeps without waiting.
type recorder struct {
	attempts int
	sleeps   []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *recorder) policy(mode types.Mode) Policy {
	return Policy{
		Mode:            mode,
		ScenarioTimeout: 100 * time.Millisecond,
		Sleep:           r.sleep,
	}
}

func (r *recorder) failWith(err error) Operation {
	return func(ctx context.Context, attempt int) (*types.ExecutionResult, error) {
		r.attempts++
		return nil, err
	}
}

func (r *recorder) returnResults(results ...*types.ExecutionResult) Operation {
	return func(ctx context.Context, attempt int) (*types.ExecutionResult, error) {
		r.attempts++
		if attempt >= len(results) {
			return results[len(results)-1], nil
		}
		return results[attempt], nil
	}
}

func TestSchedule(t *testing.T) {
	require.Equal(t, []time.Duration{15 * time.Second}, Schedule(types.ModeSmoke))
	require.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}, Schedule(types.ModeFull))
	require.Equal(t, 1, MaxRetries(types.ModeSmoke))
	require.Equal(t, 3, MaxRetries(types.ModeFull))
	require.Equal(t, 3, MaxRetries(types.Mode("other")))

	s := Schedule(types.ModeSmoke)
	s[0] = time.Hour
	require.Equal(t, 15*time.Second, Schedule(types.ModeSmoke)[0])
}

func TestClassifyText(t *testing.T) {
	cases := []struct {
		text string
		want Signal
	}{
		{"HTTP 429 Too Many Requests", SignalRateLimit},
		{"error: 429", SignalRateLimit},
		{"code 4290", SignalNone},
		{"Rate-Limit reached", SignalRateLimit},
		{"rate_limit_exceeded", SignalRateLimit},
		{"429 insufficient_quota", SignalQuota},
		{"You exceeded your current quota", SignalQuota},
		{"billing_hard_limit_reached", SignalQuota},
		{"Quota Exceeded for project", SignalQuota},
		{"compile error in main.go", SignalNone},
		{"", SignalNone},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifyText(tc.text))
		})
	}
}

func TestDo_RateLimitErrorUsesFullBudget(t *testing.T) {
	cases := []struct {
		mode     types.Mode
		attempts int
		sleeps   []time.Duration
	}{
		{types.ModeSmoke, 2, []time.Duration{15 * time.Second}},
		{types.ModeFull, 4, []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			r := &recorder{}
			_, err := Do(context.Background(), r.policy(tc.mode), r.failWith(errors.New("429 Too Many Requests")))

			require.Error(t, err)
			require.Contains(t, err.Error(), "429 Too Many Requests")
			require.True(t, failure.Is(err, failure.KindTransient))
			require.Equal(t, tc.attempts, r.attempts)
			require.Equal(t, tc.sleeps, r.sleeps)
		})
	}
}

func TestDo_DelaySaturatesToLastEntry(t *testing.T) {
	r := &recorder{}
	p := r.policy(types.ModeFull)
	p.Delays = []time.Duration{time.Millisecond, 2 * time.Millisecond}

	_, err := Do(context.Background(), p, r.failWith(errors.New("rate limit")))

	require.Error(t, err)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}, r.sleeps)
}

func TestDo_DeadlineGuardPreventsRetry(t *testing.T) {
	r := &recorder{}
	p := r.policy(types.ModeFull)
	p.Remaining = func() time.Duration { return 150 * time.Millisecond }

	_, err := Do(context.Background(), p, r.failWith(errors.New("429")))

	require.Error(t, err)
	require.Equal(t, 1, r.attempts)
	require.Empty(t, r.sleeps)
}

func TestDo_DeadlineGuardAdmitsExactlyTwiceTimeout(t *testing.T) {
	r := &recorder{}
	p := r.policy(types.ModeSmoke)
	p.Remaining = func() time.Duration { return 200 * time.Millisecond }

	_, err := Do(context.Background(), p, r.failWith(errors.New("429")))

	require.Error(t, err)
	require.Equal(t, 2, r.attempts)
}

func TestDo_QuotaIsNeverRetried(t *testing.T) {
	t.Run("thrown", func(t *testing.T) {
		r := &recorder{}
		_, err := Do(context.Background(), r.policy(types.ModeFull), r.failWith(errors.New("429 insufficient_quota")))

		require.Error(t, err)
		require.True(t, failure.Is(err, failure.KindDeterministic))
		require.Equal(t, 1, r.attempts)
	})
	t.Run("returned", func(t *testing.T) {
		r := &recorder{}
		res := &types.ExecutionResult{ExitCode: 1, Stderr: "429: You exceeded your current quota"}

		got, err := Do(context.Background(), r.policy(types.ModeFull), r.returnResults(res))

		require.NoError(t, err)
		require.Same(t, res, got)
		require.Equal(t, 1, r.attempts)
	})
}

func TestDo_EmptyDiagnosticFailureRecovers(t *testing.T) {
	r := &recorder{}
	p := r.policy(types.ModeSmoke)
	p.Delays = []time.Duration{0}

	got, err := Do(context.Background(), p, r.returnResults(
		&types.ExecutionResult{ExitCode: 1},
		&types.ExecutionResult{ExitCode: 0, Stdout: "ok"},
	))

	require.NoError(t, err)
	require.Equal(t, 0, got.ExitCode)
	require.Equal(t, 2, r.attempts)
}

func TestDo_EmptyDiagnosticExhaustedReturnsLastResult(t *testing.T) {
	r := &recorder{}
	empty := &types.ExecutionResult{ExitCode: 1, TimedOut: true}

	got, err := Do(context.Background(), r.policy(types.ModeSmoke), r.returnResults(empty))

	require.NoError(t, err)
	require.Same(t, empty, got)
	require.Equal(t, 2, r.attempts)
}

func TestDo_RateLimitedResultIsRetried(t *testing.T) {
	r := &recorder{}
	limited := &types.ExecutionResult{
		ExitCode: 1,
		Events:   []jsonval.Value{jsonval.ObjectValue(jsonval.Field{Key: "type", Value: jsonval.StringValue("error")}, jsonval.Field{Key: "message", Value: jsonval.StringValue("Rate limit reached")})},
	}

	_, err := Do(context.Background(), r.policy(types.ModeFull), r.returnResults(limited))

	require.NoError(t, err)
	require.Equal(t, 4, r.attempts)
}

func TestDo_DeterministicFailuresReturnImmediately(t *testing.T) {
	t.Run("result with diagnostics", func(t *testing.T) {
		r := &recorder{}
		res := &types.ExecutionResult{ExitCode: 2, Stderr: "panic: nil map"}

		got, err := Do(context.Background(), r.policy(types.ModeFull), r.returnResults(res))

		require.NoError(t, err)
		require.Same(t, res, got)
		require.Equal(t, 1, r.attempts)
	})
	t.Run("error without signal", func(t *testing.T) {
		r := &recorder{}
		cause := errors.New("exec: \"codex\": executable file not found in $PATH")

		_, err := Do(context.Background(), r.policy(types.ModeFull), r.failWith(cause))

		require.ErrorIs(t, err, cause)
		require.Equal(t, 1, r.attempts)
	})
	t.Run("success", func(t *testing.T) {
		r := &recorder{}
		res := &types.ExecutionResult{ExitCode: 0}

		got, err := Do(context.Background(), r.policy(types.ModeFull), r.returnResults(res))

		require.NoError(t, err)
		require.Same(t, res, got)
		require.Equal(t, 1, r.attempts)
	})
}

func TestDo_LogsAndNotifiesEachRetry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := &recorder{}
	p := r.policy(types.ModeSmoke)
	p.Logger = zap.New(core)
	var reasons []Reason
	p.OnRetry = func(reason Reason, attempt int, delay time.Duration) {
		reasons = append(reasons, reason)
	}

	_, err := Do(context.Background(), p, r.returnResults(&types.ExecutionResult{ExitCode: 3, Stderr: "HTTP 429"}))

	require.NoError(t, err)
	require.Equal(t, []Reason{ReasonRateLimit}, reasons)
	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "rate_limit", fields["reason"])
	require.EqualValues(t, 3, fields["exit_code"])
	require.EqualValues(t, 1, fields["attempt"])
}

func TestDo_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0

	_, err := Do(ctx, Policy{Mode: types.ModeFull, Delays: []time.Duration{time.Hour}}, func(ctx context.Context, attempt int) (*types.ExecutionResult, error) {
		attempts++
		return nil, errors.New("429")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}
