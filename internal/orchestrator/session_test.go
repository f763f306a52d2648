package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/torteous44/ariaagent/internal/audio/stt"
	"github.com/torteous44/ariaagent/internal/config"
	"github.com/torteous44/ariaagent/internal/ratelimit"
	"github.com/torteous44/ariaagent/pkg/transport"
)

func testManager() *SessionManager {
	cfg := &config.Config{
		Port:                         "8080",
		LLMProvider:                  config.ProviderOpenAI,
		LLMAPIKey:                    "test-key",
		TTSAPIKey:                    "test-key",
		TTSVoiceID:                   "voice-1",
		Persona:                      "you are a test persona",
		RateLimitMax:                 40,
		RateLimitWindow:              time.Hour,
		STTSampleRate:                16000,
		STTEndOfTurnConfidence:       0.7,
		STTMinEndOfTurnSilenceMillis: 800,
		STTMaxTurnSilenceMillis:      1500,
	}
	return NewSessionManager(cfg)
}

func TestInitializeSessionCreatesSession(t *testing.T) {
	m := testManager()

	req := httptest.NewRequest(http.MethodPost, "/api/session/init", nil)
	rec := httptest.NewRecorder()
	m.InitializeSession(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, statusInitialized, resp.Status)
	require.True(t, strings.Contains(resp.WebSocketURL, resp.SessionID))

	m.mu.RLock()
	_, exists := m.sessions[resp.SessionID]
	m.mu.RUnlock()
	require.True(t, exists)
}

func TestGetSessionStatusUnknownSession(t *testing.T) {
	m := testManager()

	req := httptest.NewRequest(http.MethodGet, "/api/session/status?session_id=nope", nil)
	rec := httptest.NewRecorder()
	m.GetSessionStatus(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionStatusKnownSession(t *testing.T) {
	m := testManager()

	initReq := httptest.NewRequest(http.MethodPost, "/api/session/init", nil)
	initRec := httptest.NewRecorder()
	m.InitializeSession(initRec, initReq)
	var created CreateSessionResponse
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &created))

	statusReq := httptest.NewRequest(http.MethodGet, "/api/session/status?session_id="+created.SessionID, nil)
	statusRec := httptest.NewRecorder()
	m.GetSessionStatus(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)
	var resp SessionStatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &resp))
	require.Equal(t, created.SessionID, resp.SessionID)
	require.Equal(t, statusInitialized, resp.Status)
}

func TestCloseSessionRemovesSession(t *testing.T) {
	m := testManager()

	initReq := httptest.NewRequest(http.MethodPost, "/api/session/init", nil)
	initRec := httptest.NewRecorder()
	m.InitializeSession(initRec, initReq)
	var created CreateSessionResponse
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &created))

	closeReq := httptest.NewRequest(http.MethodDelete, "/api/session/close?session_id="+created.SessionID, nil)
	closeRec := httptest.NewRecorder()
	m.CloseSession(closeRec, closeReq)
	require.Equal(t, http.StatusOK, closeRec.Code)

	m.mu.RLock()
	_, exists := m.sessions[created.SessionID]
	m.mu.RUnlock()
	require.False(t, exists)

	secondReq := httptest.NewRequest(http.MethodDelete, "/api/session/close?session_id="+created.SessionID, nil)
	secondRec := httptest.NewRecorder()
	m.CloseSession(secondRec, secondReq)
	require.Equal(t, http.StatusNotFound, secondRec.Code)
}

func TestCloseSessionRequiresSessionID(t *testing.T) {
	m := testManager()

	req := httptest.NewRequest(http.MethodDelete, "/api/session/close", nil)
	rec := httptest.NewRecorder()
	m.CloseSession(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleTranscriptEventMergesWithinWindow exercises the
// punctuation-merge rule at the session level without hitting any
// network: the session's context is canceled up front, so the reply
// pipeline it activates returns immediately without completing an
// LLM or TTS call.
func TestHandleTranscriptEventMergesWithinWindow(t *testing.T) {
	m := testManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := &Session{
		ID:     "sess-merge",
		status: statusConnected,
		writer: newTestWriter(t),
		limit:  ratelimit.New(m.cfg.RateLimitMax, m.cfg.RateLimitWindow),
		ctx:    ctx,
	}

	session.handleTranscriptEvent(m, stt.TranscriptEvent{Kind: stt.KindTurn, Text: "Hello there", Confidence: 0.9})
	require.Equal(t, 1, session.turnCount)

	session.handleTranscriptEvent(m, stt.TranscriptEvent{Kind: stt.KindTurn, Text: "Hello there!", Confidence: 0.95})
	require.Equal(t, 1, session.turnCount)

	session.handleTranscriptEvent(m, stt.TranscriptEvent{Kind: stt.KindTurn, Text: "Something new", Confidence: 0.9})
	require.Equal(t, 2, session.turnCount)

	require.Len(t, session.turns, 2)
	require.Equal(t, "Hello there!", session.turns[0].UserText)
	require.Equal(t, "Something new", session.turns[1].UserText)
}

// TestHandleTranscriptEventMergeNeverActivatesPipeline checks the
// merge path never starts a reply: a pipeline activated by
// activatePipeline begins its Run with limiter.Record(), so a
// wrongly-activated second pipeline would push
// the recorded count to 2 instead of 1.
func TestHandleTranscriptEventMergeNeverActivatesPipeline(t *testing.T) {
	m := testManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer, _ := newCapturingWriter(t)
	session := &Session{
		ID:     "sess-merge-norun",
		status: statusConnected,
		writer: writer,
		limit:  ratelimit.New(m.cfg.RateLimitMax, m.cfg.RateLimitWindow),
		ctx:    ctx,
	}

	session.handleTranscriptEvent(m, stt.TranscriptEvent{Kind: stt.KindTurn, Text: "Hello there", Confidence: 0.9})
	session.handleTranscriptEvent(m, stt.TranscriptEvent{Kind: stt.KindTurn, Text: "Hello there!", Confidence: 0.95})

	require.Eventually(t, func() bool {
		return session.limit.Count() >= 1
	}, time.Second, 5*time.Millisecond, "the first, non-merged turn should activate a pipeline")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, session.limit.Count(), "a merge update must never activate a second pipeline")
}

// TestHandleTranscriptEventIdenticalMergeDropsSilently checks that a
// merge update whose text exactly matches the prior turn (no
// punctuation change at all) produces no client-visible event.
func TestHandleTranscriptEventIdenticalMergeDropsSilently(t *testing.T) {
	m := testManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer, received := newCapturingWriter(t)
	session := &Session{
		ID:     "sess-identical",
		status: statusConnected,
		writer: writer,
		limit:  ratelimit.New(m.cfg.RateLimitMax, m.cfg.RateLimitWindow),
		ctx:    ctx,
	}

	session.handleTranscriptEvent(m, stt.TranscriptEvent{Kind: stt.KindTurn, Text: "Hello there", Confidence: 0.9})
	session.handleTranscriptEvent(m, stt.TranscriptEvent{Kind: stt.KindTurn, Text: "Hello there", Confidence: 0.9})
	writer.Close()

	var types []transport.EventType
	for ev := range received {
		types = append(types, ev.Type)
	}
	require.Equal(t, []transport.EventType{transport.EventTurnCompleted, transport.EventFinalTranscript}, types)
	require.Equal(t, 1, session.turnCount)
	require.Len(t, session.turns, 1)
}
