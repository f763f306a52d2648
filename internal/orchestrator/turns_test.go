package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeForMergeIgnoresPunctuationAndCase(t *testing.T) {
	require.Equal(t, "hello there", normalizeForMerge("Hello, there!"))
	require.Equal(t, "whats up", normalizeForMerge("  What's up?  "))
}

func TestShouldMergeWithinWindow(t *testing.T) {
	now := time.Now()
	last := &lastTurnRecord{number: 1, text: "Hello there", endedAt: now}

	require.True(t, last.shouldMerge("Hello there!", now.Add(500*time.Millisecond)))
	require.False(t, last.shouldMerge("Something else", now.Add(500*time.Millisecond)))
}

func TestShouldMergeOutsideWindow(t *testing.T) {
	now := time.Now()
	last := &lastTurnRecord{number: 1, text: "Hello there", endedAt: now}

	require.False(t, last.shouldMerge("Hello there!", now.Add(3*time.Second)))
}

func TestShouldMergeNilRecord(t *testing.T) {
	var last *lastTurnRecord
	require.False(t, last.shouldMerge("anything", time.Now()))
}
