package orchestrator

import (
	"context"

	"github.com/torteous44/ariaagent/internal/audio/stt"
	"github.com/torteous44/ariaagent/internal/audio/tts"
	"github.com/torteous44/ariaagent/internal/llm"
)

// STTProvider streams turn-detection events for one session's audio.
// *stt.TurnDetector implements this.
type STTProvider interface {
	Connect(ctx context.Context) error
	SendAudio(data []byte) error
	Events() <-chan stt.TranscriptEvent
	Errors() <-chan error
	Close() error
}

// LLMProvider is the orchestrator's name for the llm package's
// streaming chat-completion contract.
type LLMProvider = llm.Provider

// TTSProvider synthesizes one turn of assistant speech. *tts.Client
// implements this.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string) (<-chan tts.AudioEvent, <-chan error)
}
