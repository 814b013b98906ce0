package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollGuardTripsAfterConsecutiveFailures(t *testing.T) {
	g := NewPollGuard("test")
	failing := errors.New("boom")

	for i := 0; i < pollFailureLimit; i++ {
		require.True(t, g.Allow())
		err := g.Execute(func() error { return failing })
		require.Error(t, err)
	}
	require.False(t, g.Allow())
	require.True(t, g.Tripped())
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	require.Equal(t, time.Duration(0), Backoff(0))
	require.Equal(t, pollBackoffInitial, Backoff(1))
	require.Equal(t, 2*pollBackoffInitial, Backoff(2))
	require.Equal(t, pollBackoffCap, Backoff(20))
}
