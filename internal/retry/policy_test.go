package retry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestIsRecoverable_KnownTypes(t *testing.T) {
	for _, errorType := range []string{
		"network_error",
		"rate_limit",
		"test_flake",
		"dependency_timeout",
		"resource_unavailable",
	} {
		require.True(t, IsRecoverable(errorType), "%s should be recoverable", errorType)
	}

	for _, errorType := range []string{
		"test_failure",
		"build_failure",
		"merge_conflict",
		"invalid_manifest",
		"authentication_failed",
		"validation_error",
		"missing_dependency",
	} {
		require.False(t, IsRecoverable(errorType), "%s should not be recoverable", errorType)
	}
}

func TestIsRecoverable_UnknownTypesFailSafe(t *testing.T) {
	require.False(t, IsRecoverable(""))
	require.False(t, IsRecoverable("cosmic_ray"))
	require.False(t, IsRecoverable("NETWORK_ERROR"), "classification is case sensitive")
}

// Property: any string outside the recoverable table classifies as
// non-recoverable, no matter what it looks like.
func TestIsRecoverable_ArbitraryStringsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		errorType := rapid.String().Draw(t, "errorType")
		if recoverable[errorType] {
			t.Skip("drew a known recoverable type")
		}
		require.False(t, IsRecoverable(errorType))
	})
}

func TestIsKnown(t *testing.T) {
	require.True(t, IsKnown("network_error"))
	require.True(t, IsKnown("merge_conflict"))
	require.False(t, IsKnown("gremlins"))
}

func TestDefaultPolicySchedule(t *testing.T) {
	p := DefaultPolicy()

	require.Equal(t, 30*time.Second, p.Delay(1))
	require.Equal(t, 60*time.Second, p.Delay(2))
	require.Equal(t, time.Duration(0), p.Delay(3), "past MaxRetries there is no retry")
	require.Equal(t, time.Duration(0), p.Delay(0))
	require.Equal(t, time.Duration(0), p.Delay(-1))

	require.Equal(t, 30, p.DelaySeconds(1))
	require.Equal(t, 60, p.DelaySeconds(2))
	require.Equal(t, 0, p.DelaySeconds(3))
}

// Property: within the retry window the delay matches the closed formula
// base × multiplier^(attempt−1); outside it the delay is always zero.
func TestDelayFormulaProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		baseSec := rapid.IntRange(1, 300).Draw(t, "baseSec")
		multiplier := rapid.Float64Range(1, 4).Draw(t, "multiplier")
		maxRetries := rapid.IntRange(0, 8).Draw(t, "maxRetries")
		attempt := rapid.IntRange(-2, 12).Draw(t, "attempt")

		p := Policy{
			BaseDelay:  time.Duration(baseSec) * time.Second,
			Multiplier: multiplier,
			MaxRetries: maxRetries,
		}
		got := p.Delay(attempt)

		if attempt < 1 || attempt > maxRetries {
			require.Equal(t, time.Duration(0), got)
			return
		}

		want := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
		require.InEpsilon(t, want, float64(got), 1e-9)
	})
}

// Property: delays never shrink as the attempt number grows inside the
// window (multiplier ≥ 1).
func TestDelayMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		multiplier := rapid.Float64Range(1, 4).Draw(t, "multiplier")
		maxRetries := rapid.IntRange(2, 8).Draw(t, "maxRetries")
		attempt := rapid.IntRange(2, maxRetries).Draw(t, "attempt")

		p := Policy{BaseDelay: time.Second, Multiplier: multiplier, MaxRetries: maxRetries}
		require.GreaterOrEqual(t, p.Delay(attempt), p.Delay(attempt-1))
	})
}
