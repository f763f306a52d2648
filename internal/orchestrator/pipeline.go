package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/torteous44/ariaagent/internal/llm"
	"github.com/torteous44/ariaagent/internal/ratelimit"
	"github.com/torteous44/ariaagent/internal/sessionstate"
	"github.com/torteous44/ariaagent/pkg/transport"
)

// ttsSoftTimeout is how long a turn's speech synthesis gets before the
// pipeline declares it complete to the client anyway, continuing to
// wait in the background for a late vendor response. ttsHardTimeout is
// the outer ceiling past which the turn is abandoned outright.
const (
	ttsSoftTimeout = 90 * time.Second
	ttsHardTimeout = 120 * time.Second
)

// ReplyPipeline drives one turn from completed user text through to
// spoken assistant audio: rate limit, LLM token stream, history
// append, TTS audio stream. Each turn gets its own pipeline instance
// and its own cancellable context, so a new user turn can cut a
// still-speaking reply short without disturbing any other session.
type ReplyPipeline struct {
	sessionID string
	writer    *transport.Writer
	history   *sessionstate.HistoryStore
	limiter   *ratelimit.Limiter

	llmProv llm.Provider
	ttsProv TTSProvider
	persona string

	onComplete func(assistantText string)
}

// NewReplyPipeline builds the pipeline for one session. The TTS
// provider is constructed fresh per turn by the caller (Session),
// since a *tts.Client's first-chunk state must reset every turn.
func NewReplyPipeline(sessionID string, writer *transport.Writer, history *sessionstate.HistoryStore, limiter *ratelimit.Limiter, llmProv llm.Provider, ttsProv TTSProvider, persona string) *ReplyPipeline {
	return &ReplyPipeline{
		sessionID: sessionID,
		writer:    writer,
		history:   history,
		limiter:   limiter,
		llmProv:   llmProv,
		ttsProv:   ttsProv,
		persona:   persona,
	}
}

// OnComplete registers a callback invoked with the full assistant
// reply once a turn finishes successfully, letting the caller update
// its own per-turn bookkeeping (e.g. Session's turn history) without
// the pipeline needing to know its shape.
func (p *ReplyPipeline) OnComplete(fn func(assistantText string)) {
	p.onComplete = fn
}

// Run executes one full turn for userText, stopping early if ctx is
// canceled (a fresher user turn has arrived). It never returns an
// error; failures are reported to the client as llm_error/error
// events instead, since the caller has nothing useful to do with a
// returned error beyond what those events already convey.
func (p *ReplyPipeline) Run(ctx context.Context, turnNumber int, userText string) {
	if !p.limiter.Record() {
		ev := transport.NewEvent(transport.EventLLMError)
		ev.SessionID = p.sessionID
		ev.TurnNumber = turnNumber
		ev.Message = "Daily quota limit reached"
		p.writer.Send(ev)
		return
	}
	if ctx.Err() != nil {
		return
	}

	assistantText, ok := p.streamLLM(ctx, turnNumber, userText)
	if !ok {
		return
	}
	if assistantText == "" {
		return
	}

	p.history.AppendExchange(p.sessionID, userText, assistantText)

	if !p.streamTTS(ctx, turnNumber, assistantText) {
		return
	}

	if p.onComplete != nil {
		p.onComplete(assistantText)
	}
}

func (p *ReplyPipeline) streamLLM(ctx context.Context, turnNumber int, userText string) (string, bool) {
	history := p.history.GetOrInit(p.sessionID)
	llmHistory := make([]llm.Message, 0, len(history))
	for _, h := range history {
		llmHistory = append(llmHistory, llm.Message{Role: h.Role, Text: h.Text})
	}

	chunks, errs := p.llmProv.StreamChat(ctx, p.persona, llmHistory, userText)

	start := transport.NewEvent(transport.EventLLMStreamingStart)
	start.SessionID = p.sessionID
	start.TurnNumber = turnNumber
	if err := p.writer.Send(start); err != nil {
		return "", false
	}

	var full string
	for {
		select {
		case <-ctx.Done():
			return "", false
		case chunk, ok := <-chunks:
			if !ok {
				return full, true
			}
			if chunk.Delta != "" {
				full += chunk.Delta
				ev := transport.NewEvent(transport.EventLLMChunk)
				ev.SessionID = p.sessionID
				ev.TurnNumber = turnNumber
				ev.Delta = chunk.Delta
				if err := p.writer.Send(ev); err != nil {
					return "", false
				}
			}
			if chunk.Done {
				complete := transport.NewEvent(transport.EventLLMStreamingComplete)
				complete.SessionID = p.sessionID
				complete.TurnNumber = turnNumber
				complete.Text = full
				p.writer.Send(complete)
				return full, true
			}
		case err, ok := <-errs:
			if !ok {
				continue
			}
			log.Printf("[ERROR] session %s: llm stream: %v", p.sessionID, err)
			ev := transport.NewEvent(transport.EventLLMError)
			ev.SessionID = p.sessionID
			ev.TurnNumber = turnNumber
			ev.Message = err.Error()
			p.writer.Send(ev)
			return "", false
		}
	}
}

func (p *ReplyPipeline) streamTTS(ctx context.Context, turnNumber int, text string) bool {
	audio, errs := p.ttsProv.Synthesize(ctx, text)

	softTimer := time.NewTimer(ttsSoftTimeout)
	defer softTimer.Stop()
	hardTimer := time.NewTimer(ttsHardTimeout)
	defer hardTimer.Stop()

	chunkCount := 0
	completeSent := false
	sendComplete := func() {
		if completeSent {
			return
		}
		completeSent = true
		complete := transport.NewEvent(transport.EventAudioStreamingComplete)
		complete.SessionID = p.sessionID
		complete.TurnNumber = turnNumber
		complete.TotalChunks = chunkCount
		p.writer.Send(complete)
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-hardTimer.C:
			ev := transport.NewEvent(transport.EventError)
			ev.SessionID = p.sessionID
			ev.TurnNumber = turnNumber
			ev.Message = "speech synthesis exceeded the 120s ceiling"
			p.writer.Send(ev)
			return false
		case <-softTimer.C:
			// Declare the turn complete to the client, but keep
			// listening up to the hard ceiling in case the vendor
			// is just slow rather than stuck.
			sendComplete()
			ev := transport.NewEvent(transport.EventError)
			ev.SessionID = p.sessionID
			ev.TurnNumber = turnNumber
			ev.Message = "speech synthesis exceeded the 90s soft timeout"
			p.writer.Send(ev)
		case event, ok := <-audio:
			if !ok {
				return true
			}
			if event.Final {
				if !completeSent {
					last := transport.NewEvent(transport.EventAudioChunk)
					last.SessionID = p.sessionID
					last.TurnNumber = turnNumber
					last.Final = true
					p.writer.Send(last)
				}
				sendComplete()
				return true
			}
			chunkCount++
			ev := transport.NewEvent(transport.EventAudioChunk)
			ev.SessionID = p.sessionID
			ev.TurnNumber = turnNumber
			ev.AudioData = event.AudioData
			if err := p.writer.Send(ev); err != nil {
				return false
			}
		case err, ok := <-errs:
			if !ok {
				continue
			}
			log.Printf("[ERROR] session %s: tts stream: %v", p.sessionID, err)
			ev := transport.NewEvent(transport.EventError)
			ev.SessionID = p.sessionID
			ev.TurnNumber = turnNumber
			ev.Message = fmt.Sprintf("speech synthesis failed: %v", err)
			p.writer.Send(ev)
			return false
		}
	}
}
