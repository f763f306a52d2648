package tts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripWavHeaderOnFirstChunkOnly(t *testing.T) {
	header := make([]byte, wavHeaderSize)
	payload := []byte{1, 2, 3, 4}
	chunk := append(header, payload...)

	stripped := stripWavHeader(chunk, true)
	require.Equal(t, payload, stripped)

	untouched := stripWavHeader(chunk, false)
	require.Equal(t, chunk, untouched)
}

func TestStripWavHeaderLeavesShortChunkAlone(t *testing.T) {
	short := []byte{1, 2, 3}
	require.Equal(t, short, stripWavHeader(short, true))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("key", "voice-1")
	require.Equal(t, 44100, cfg.SampleRate)
	require.Equal(t, "MONO", cfg.ChannelType)
	require.Equal(t, "WAV", cfg.Format)
	require.Equal(t, "voice-1", cfg.VoiceID)
}
