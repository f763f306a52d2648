// Package tts streams synthesized speech over a vendor WebSocket,
// one connection per turn. The wire protocol (voice-config frame,
// {text,end} frames, {audio,final} responses) is grounded on a
// Murf-style streaming TTS API: dial with API key/sample rate/format
// as query parameters, send a voice-config frame, then text frames,
// and read back base64 audio chunks until a final flag arrives.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/coder/websocket"
)

// silenceCompletionDeadline bounds how long the client waits for the
// next audio chunk before declaring the turn's speech complete, in
// case the vendor never sends an explicit final flag.
const silenceCompletionDeadline = 1 * time.Second

// AudioEvent is one chunk of synthesized speech, or the terminal
// chunk (empty data, Final true) that closes out a turn.
type AudioEvent struct {
	AudioData string
	Final     bool
}

// Config holds the per-turn voice parameters sent on connect.
type Config struct {
	APIKey      string
	VoiceID     string
	SampleRate  int
	ChannelType string
	Format      string
	Style       string
	Rate        int
	Pitch       int
	Variation   int
}

// DefaultConfig returns the spec'd defaults: 44.1kHz mono WAV,
// conversational style, no rate/pitch adjustment.
func DefaultConfig(apiKey, voiceID string) Config {
	return Config{
		APIKey:      apiKey,
		VoiceID:     voiceID,
		SampleRate:  44100,
		ChannelType: "MONO",
		Format:      "WAV",
		Style:       "Conversational",
		Variation:   1,
	}
}

// Client streams one turn of text to the TTS vendor and returns the
// synthesized audio. It strips the 44-byte WAV header from the first
// chunk of every Client instance (one Client is used per turn, so
// this naturally resolves to per-turn elision) and races the
// vendor's final flag against a silence deadline to decide
// completion, emitting the terminal chunk exactly once either way.
type Client struct {
	cfg Config
}

// NewClient returns a Client for one turn's synthesis.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Synthesize opens a streaming session, sends text as a single chunk
// with end=true, and returns the resulting audio events.
func (c *Client) Synthesize(ctx context.Context, text string) (<-chan AudioEvent, <-chan error) {
	events := make(chan AudioEvent, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		dialURL := fmt.Sprintf(
			"wss://api.murf.ai/v1/speech/stream-input?api-key=%s&sample_rate=%d&channel_type=%s&format=%s",
			url.QueryEscape(c.cfg.APIKey), c.cfg.SampleRate, c.cfg.ChannelType, c.cfg.Format,
		)

		conn, _, err := websocket.Dial(ctx, dialURL, nil)
		if err != nil {
			errs <- fmt.Errorf("tts: dial: %w", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		voiceConfig := map[string]interface{}{
			"voice_config": map[string]interface{}{
				"voiceId":   c.cfg.VoiceID,
				"style":     c.cfg.Style,
				"rate":      c.cfg.Rate,
				"pitch":     c.cfg.Pitch,
				"variation": c.cfg.Variation,
			},
		}
		if err := writeJSON(ctx, conn, voiceConfig); err != nil {
			errs <- fmt.Errorf("tts: send voice config: %w", err)
			return
		}

		if err := writeJSON(ctx, conn, map[string]interface{}{"text": text, "end": true}); err != nil {
			errs <- fmt.Errorf("tts: send text: %w", err)
			return
		}

		c.receive(ctx, conn, events)
	}()

	return events, errs
}

func (c *Client) receive(ctx context.Context, conn *websocket.Conn, events chan<- AudioEvent) {
	firstChunk := true
	completed := false

	msgs := make(chan map[string]interface{}, 8)
	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var parsed map[string]interface{}
			if err := json.Unmarshal(data, &parsed); err != nil {
				continue
			}
			msgs <- parsed
		}
	}()

	complete := func() {
		if completed {
			return
		}
		completed = true
		events <- AudioEvent{Final: true}
	}

	// The silence deadline only starts counting down once the first
	// audio chunk has arrived; until then silenceC is nil, and a nil
	// channel in a select never fires, so that case simply never wins.
	var silenceTimer *time.Timer
	var silenceC <-chan time.Time
	defer func() {
		if silenceTimer != nil {
			silenceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-silenceC:
			complete()
			return
		case msg, ok := <-msgs:
			if !ok {
				complete()
				return
			}

			if audio, ok := msg["audio"].(string); ok && audio != "" {
				decoded, err := base64.StdEncoding.DecodeString(audio)
				if err == nil {
					decoded = stripWavHeader(decoded, firstChunk)
					firstChunk = false
					events <- AudioEvent{AudioData: base64.StdEncoding.EncodeToString(decoded)}
				}
				if silenceTimer == nil {
					silenceTimer = time.NewTimer(silenceCompletionDeadline)
					silenceC = silenceTimer.C
				} else {
					if !silenceTimer.Stop() {
						select {
						case <-silenceTimer.C:
						default:
						}
					}
					silenceTimer.Reset(silenceCompletionDeadline)
				}
			}

			if final, ok := msg["final"].(bool); ok && final {
				complete()
				return
			}
		}
	}
}

const wavHeaderSize = 44

// stripWavHeader removes the 44-byte RIFF/WAVE header from the first
// audio chunk of a turn, leaving every later chunk untouched.
func stripWavHeader(chunk []byte, isFirst bool) []byte {
	if isFirst && len(chunk) > wavHeaderSize {
		return chunk[wavHeaderSize:]
	}
	return chunk
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
