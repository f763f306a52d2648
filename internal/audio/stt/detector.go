package stt

import "context"

// TranscriptEvent is one event surfaced by a TurnDetector: a partial
// recognition still in progress, or a completed turn carrying the
// confidence AssemblyAI's end-of-turn detector assigned it.
type TranscriptEvent struct {
	Kind       string // "partial" or "turn"
	Text       string
	Confidence float64
}

const (
	KindPartial = "partial"
	KindTurn    = "turn"
)

// TurnDetector adapts StreamingSTT to the orchestrator's turn-level
// contract, translating AssemblyAI's PartialTranscript/Turn/
// FinalTranscript message types into the two event kinds the reply
// pipeline acts on.
type TurnDetector struct {
	stream *StreamingSTT
	events chan TranscriptEvent
	errs   chan error
}

// NewTurnDetector builds a detector around a fresh StreamingSTT using
// the given API key and configuration.
func NewTurnDetector(apiKey string, cfg StreamingConfig) *TurnDetector {
	return &TurnDetector{
		stream: NewStreamingSTT(apiKey, cfg),
		events: make(chan TranscriptEvent, 64),
		errs:   make(chan error, 8),
	}
}

// Connect dials the underlying stream and starts translating its
// results into TranscriptEvents.
func (d *TurnDetector) Connect(ctx context.Context) error {
	if err := d.stream.Connect(ctx); err != nil {
		return err
	}
	go d.dispatch(ctx)
	return nil
}

func (d *TurnDetector) dispatch(ctx context.Context) {
	defer close(d.events)
	defer close(d.errs)

	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-d.stream.GetTranscripts():
			if !ok {
				return
			}
			switch result.MessageType {
			case "PartialTranscript":
				if result.Text != "" {
					d.events <- TranscriptEvent{Kind: KindPartial, Text: result.Text, Confidence: result.Confidence}
				}
			case "Turn", "FinalTranscript":
				if result.Text != "" {
					d.events <- TranscriptEvent{Kind: KindTurn, Text: result.Text, Confidence: result.Confidence}
				}
			}
		case err, ok := <-d.stream.GetErrors():
			if !ok {
				return
			}
			select {
			case d.errs <- err:
			default:
			}
		}
	}
}

// SendAudio forwards one audio frame to the underlying stream.
func (d *TurnDetector) SendAudio(data []byte) error { return d.stream.SendAudio(data) }

// Events returns the channel of partial/turn transcript events.
func (d *TurnDetector) Events() <-chan TranscriptEvent { return d.events }

// Errors returns the channel of stream errors, including
// ErrSessionTerminated when the vendor ends the session.
func (d *TurnDetector) Errors() <-chan error { return d.errs }

// Close tears down the underlying stream.
func (d *TurnDetector) Close() error { return d.stream.Close() }
