package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "STT_API_KEY", "LLM_API_KEY", "TTS_API_KEY", "LLM_PROVIDER",
		"TTS_DEFAULT_VOICE_ID", "RATE_LIMIT_MAX_REQUESTS", "RATE_LIMIT_WINDOW_SECONDS",
		"STT_SAMPLE_RATE", "STT_END_OF_TURN_CONFIDENCE", "STT_MIN_END_OF_TURN_SILENCE_MS",
		"STT_MAX_TURN_SILENCE_MS",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	require.Equal(t, 40, cfg.RateLimitMax)
	require.Equal(t, 24*time.Hour, cfg.RateLimitWindow)
	require.Equal(t, 16000, cfg.STTSampleRate)
	require.InDelta(t, 0.7, cfg.STTEndOfTurnConfidence, 0.0001)
	require.Equal(t, 800, cfg.STTMinEndOfTurnSilenceMillis)
	require.Equal(t, 1500, cfg.STTMaxTurnSilenceMillis)
	require.NotEmpty(t, cfg.Persona)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("PORT", "9090")
	os.Setenv("LLM_PROVIDER", "anthropic")
	os.Setenv("RATE_LIMIT_MAX_REQUESTS", "5")
	defer os.Unsetenv("PORT")
	defer os.Unsetenv("LLM_PROVIDER")
	defer os.Unsetenv("RATE_LIMIT_MAX_REQUESTS")

	cfg := Load()

	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, ProviderAnthropic, cfg.LLMProvider)
	require.Equal(t, 5, cfg.RateLimitMax)
}
