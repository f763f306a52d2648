package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := New(3, time.Hour)

	require.True(t, l.Record())
	require.True(t, l.Record())
	require.True(t, l.Record())
	require.False(t, l.Record())

	require.Equal(t, 3, l.Count())
}

func TestLimiterPrunesExpiredEntries(t *testing.T) {
	l := New(1, 10*time.Millisecond)

	require.True(t, l.Record())
	require.False(t, l.Record())

	time.Sleep(20 * time.Millisecond)

	require.True(t, l.Allow())
	require.True(t, l.Record())
}

func TestLimiterAllowDoesNotConsume(t *testing.T) {
	l := New(1, time.Hour)

	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.Equal(t, 0, l.Count())

	require.True(t, l.Record())
	require.False(t, l.Allow())
}
