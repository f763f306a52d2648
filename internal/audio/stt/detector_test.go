package stt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDefaultStreamingConfigMatchesTurnDefaults(t *testing.T) {
	cfg := GetDefaultStreamingConfig()

	require.Equal(t, 16000, cfg.SampleRate)
	require.True(t, cfg.FormatTurns)
	require.InDelta(t, 0.7, cfg.EndOfTurnConfidenceThreshold, 0.0001)
	require.Equal(t, 800, cfg.MinEndOfTurnSilenceWhenConfident)
	require.Equal(t, 1500, cfg.MaxTurnSilence)
}

func TestNewTurnDetectorConnectFailsWithoutAPIKey(t *testing.T) {
	d := NewTurnDetector("", GetDefaultStreamingConfig())
	err := d.Connect(nil)
	require.Error(t, err)
}
