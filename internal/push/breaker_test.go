package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Minute, Clock: clock.Now}, nil)

	for i := 0; i < 3; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 2}, nil)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, RecoveryTimeout: 30 * time.Second, Clock: clock.Now}, nil)

	cb.RecordFailure()
	require.False(t, cb.Allow())

	clock.now = clock.now.Add(31 * time.Second)
	require.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())
	require.False(t, cb.Allow(), "only one probe at a time")

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(31 * time.Second)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	require.Equal(t, StateClosed, cb.State())
	require.True(t, cb.Allow())
}

func TestBreakerStateString(t *testing.T) {
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "half-open", StateHalfOpen.String())
	require.Equal(t, "unknown", BreakerState(9).String())
}
