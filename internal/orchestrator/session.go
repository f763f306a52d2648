package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/torteous44/ariaagent/internal/audio/stt"
	"github.com/torteous44/ariaagent/internal/audio/tts"
	"github.com/torteous44/ariaagent/internal/audio/vad"
	"github.com/torteous44/ariaagent/internal/config"
	"github.com/torteous44/ariaagent/internal/llm"
	"github.com/torteous44/ariaagent/internal/ratelimit"
	"github.com/torteous44/ariaagent/internal/sessionstate"
	"github.com/torteous44/ariaagent/pkg/transport"
)

// Session represents one active voice-agent call: its audio ingress,
// turn detector, in-flight reply pipeline, and everything the writer
// goroutine needs to talk back to the client.
type Session struct {
	ID        string
	StartTime time.Time

	mu     sync.RWMutex
	status string

	conn       *websocket.Conn
	writer     *transport.Writer
	stt        STTProvider
	vad        *vad.VAD
	limit      *ratelimit.Limiter
	sampleRate int
	audioBytes atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	turnCount int
	lastTurn  *lastTurnRecord
	turns     []Turn

	replyCancel context.CancelFunc
}

const (
	statusInitialized  = "initialized"
	statusConnected    = "connected"
	statusDisconnected = "disconnected"
)

// SessionManager owns every active Session and the shared providers
// (LLM client, conversation history, HTTP upgrader) sessions are built
// from.
type SessionManager struct {
	cfg      *config.Config
	sessions map[string]*Session
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	history  *sessionstate.HistoryStore
	llmProv  llm.Provider
}

// NewSessionManager builds a manager whose sessions share one LLM
// provider client and one conversation history store, constructed
// once from cfg rather than per session.
func NewSessionManager(cfg *config.Config) *SessionManager {
	var llmProv llm.Provider
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		llmProv = llm.NewAnthropicProvider(cfg.LLMAPIKey)
	default:
		llmProv = llm.NewOpenAIProvider(cfg.LLMAPIKey)
	}

	return &SessionManager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		history:  sessionstate.NewHistoryStore(),
		llmProv:  llmProv,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// CreateSessionRequest is the optional body accepted by InitializeSession.
type CreateSessionRequest struct {
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// CreateSessionResponse is returned once a session has been registered.
type CreateSessionResponse struct {
	SessionID    string `json:"session_id"`
	WebSocketURL string `json:"websocket_url"`
	Status       string `json:"status"`
}

// SessionStatusResponse reports a session's lifecycle state and progress.
type SessionStatusResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	TurnCount int       `json:"turn_count"`
	Turns     []Turn    `json:"turns,omitempty"`
}

// InitializeSession registers a new session and returns the websocket
// URL the client should connect to next.
func (m *SessionManager) InitializeSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.SampleRate = m.cfg.STTSampleRate
		req.Encoding = "pcm_s16le"
	}
	if req.SampleRate == 0 {
		req.SampleRate = m.cfg.STTSampleRate
	}

	sessionID := uuid.New().String()

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		http.Error(w, ErrSessionAlreadyExists.Error(), http.StatusConflict)
		return
	}

	sttCfg := stt.StreamingConfig{
		SampleRate:                       req.SampleRate,
		Encoding:                         req.Encoding,
		FormatTurns:                      true,
		EndOfTurnConfidenceThreshold:     m.cfg.STTEndOfTurnConfidence,
		MinEndOfTurnSilenceWhenConfident: m.cfg.STTMinEndOfTurnSilenceMillis,
		MaxTurnSilence:                   m.cfg.STTMaxTurnSilenceMillis,
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ID:         sessionID,
		StartTime:  time.Now(),
		status:     statusInitialized,
		stt:        stt.NewTurnDetector(m.cfg.STTAPIKey, sttCfg),
		vad:        vad.NewVAD(),
		limit:      ratelimit.New(m.cfg.RateLimitMax, m.cfg.RateLimitWindow),
		sampleRate: req.SampleRate,
		ctx:        ctx,
		cancel:     cancel,
	}

	m.sessions[sessionID] = session
	m.mu.Unlock()

	log.Printf("[INFO] session initialized: %s", sessionID)

	json.NewEncoder(w).Encode(CreateSessionResponse{
		SessionID:    sessionID,
		WebSocketURL: fmt.Sprintf("ws://localhost:%s/ws/session/%s", m.cfg.Port, sessionID),
		Status:       statusInitialized,
	})
}

// GetSessionStatus reports a session's current state.
func (m *SessionManager) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	session, exists := m.sessions[sessionID]
	m.mu.RUnlock()
	if !exists {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}

	session.mu.RLock()
	resp := SessionStatusResponse{
		SessionID: session.ID,
		Status:    session.status,
		StartTime: session.StartTime,
		TurnCount: session.turnCount,
		Turns:     append([]Turn(nil), session.turns...),
	}
	session.mu.RUnlock()

	json.NewEncoder(w).Encode(resp)
}

// CloseSession tears down a session and removes it from the manager.
func (m *SessionManager) CloseSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !exists {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}

	session.teardown()
	m.history.Delete(sessionID)

	log.Printf("[INFO] session closed: %s", sessionID)
	json.NewEncoder(w).Encode(map[string]string{"status": "closed", "session_id": sessionID})
}

// HandleWebSocket upgrades the connection for an already-initialized
// session and runs it until the client disconnects.
func (m *SessionManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/session/")

	m.mu.RLock()
	session, exists := m.sessions[sessionID]
	m.mu.RUnlock()
	if !exists {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}

	session.mu.Lock()
	if session.status == statusConnected {
		session.mu.Unlock()
		log.Printf("[WARN] rejecting duplicate websocket connection for session: %s", sessionID)
		http.Error(w, ErrAlreadyConnected.Error(), http.StatusConflict)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.mu.Unlock()
		log.Printf("[ERROR] websocket upgrade failed: %v", err)
		return
	}

	session.conn = conn
	session.writer = transport.NewWriter(conn)
	session.status = statusConnected
	session.mu.Unlock()

	log.Printf("[INFO] websocket connected for session: %s", sessionID)

	established := transport.NewEvent(transport.EventConnectionEstablished)
	established.SessionID = sessionID
	session.writer.Send(established)

	if err := session.stt.Connect(session.ctx); err != nil {
		log.Printf("[ERROR] failed to connect turn detector for session %s: %v", sessionID, err)
		errEv := transport.NewEvent(transport.EventLLMError)
		errEv.SessionID = sessionID
		errEv.Message = fmt.Sprintf("speech recognition unavailable: %v", err)
		session.writer.Send(errEv)
	} else {
		begin := transport.NewEvent(transport.EventSessionBegin)
		begin.SessionID = sessionID
		session.writer.Send(begin)
		go session.dispatchTranscripts(m)
	}

	session.ingressLoop()
}

// dispatchTranscripts drains the turn detector's event channel,
// forwarding partials to the client and routing completed turns
// through the punctuation-merge rule before activating a reply.
func (s *Session) dispatchTranscripts(m *SessionManager) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.stt.Events():
			if !ok {
				return
			}
			s.handleTranscriptEvent(m, ev)
		case err, ok := <-s.stt.Errors():
			if !ok {
				return
			}
			if errors.Is(err, stt.ErrSessionTerminated) {
				s.emitSessionTerminated()
			} else {
				log.Printf("[ERROR] session %s: turn detector: %v", s.ID, err)
				ev := transport.NewEvent(transport.EventError)
				ev.SessionID = s.ID
				ev.Message = err.Error()
				s.writer.Send(ev)
			}
			s.teardown()
			return
		}
	}
}

// emitSessionTerminated reports the remote STT session's closure to
// the client along with the total audio duration ingested this
// session, estimated from 16-bit PCM frame bytes at the configured
// sample rate.
func (s *Session) emitSessionTerminated() {
	sampleRate := s.sampleRate
	if sampleRate <= 0 {
		sampleRate = 1
	}
	samples := s.audioBytes.Load() / 2
	duration := float64(samples) / float64(sampleRate)

	ev := transport.NewEvent(transport.EventSessionTerminated)
	ev.SessionID = s.ID
	ev.TotalAudioDuration = duration
	s.writer.Send(ev)
}

func (s *Session) handleTranscriptEvent(m *SessionManager, ev stt.TranscriptEvent) {
	if ev.Kind == stt.KindPartial {
		out := transport.NewEvent(transport.EventPartialTranscript)
		out.SessionID = s.ID
		out.Text = ev.Text
		out.Confidence = ev.Confidence
		s.writer.Send(out)
		return
	}

	now := time.Now()

	s.mu.Lock()
	merged := s.lastTurn.shouldMerge(ev.Text, now)
	var previousText string
	var turnNumber int
	if merged {
		turnNumber = s.lastTurn.number
		previousText = s.lastTurn.text
	} else {
		s.turnCount++
		turnNumber = s.turnCount
	}
	identical := merged && ev.Text == previousText
	s.lastTurn = &lastTurnRecord{number: turnNumber, text: ev.Text, endedAt: now}
	if !identical {
		s.recordTurnStart(turnNumber, ev.Text, now)
	}
	s.mu.Unlock()

	// A punctuation-only revision that produced the exact same text
	// (the vendor simply repeated its last transcript) carries no new
	// information for the client and must not be reported at all.
	if identical {
		return
	}

	eventType := transport.EventTurnCompleted
	if merged {
		eventType = transport.EventTurnUpdated
	}
	out := transport.NewEvent(eventType)
	out.SessionID = s.ID
	out.TurnNumber = turnNumber
	out.Text = ev.Text
	out.Confidence = ev.Confidence
	s.writer.Send(out)

	final := transport.NewEvent(transport.EventFinalTranscript)
	final.SessionID = s.ID
	final.TurnNumber = turnNumber
	final.Text = ev.Text
	s.writer.Send(final)

	// A merge revises an in-flight or just-finished turn's transcript;
	// it never starts a new reply pipeline.
	if !merged {
		s.activatePipeline(m, turnNumber, ev.Text)
	}
}

// activatePipeline cancels whatever reply is still in flight for an
// older turn and starts a fresh one for turnNumber, building a new
// TTS client so the WAV-header-elision state resets per turn.
func (s *Session) activatePipeline(m *SessionManager, turnNumber int, userText string) {
	s.mu.Lock()
	if s.replyCancel != nil {
		s.replyCancel()
	}
	replyCtx, cancel := context.WithCancel(s.ctx)
	s.replyCancel = cancel
	s.mu.Unlock()

	ttsClient := tts.NewClient(tts.DefaultConfig(m.cfg.TTSAPIKey, m.cfg.TTSVoiceID))
	pipeline := NewReplyPipeline(s.ID, s.writer, m.history, s.limit, m.llmProv, ttsClient, m.cfg.Persona)
	pipeline.OnComplete(func(assistantText string) {
		s.recordTurnComplete(turnNumber, assistantText)
	})

	go pipeline.Run(replyCtx, turnNumber, userText)
}

// recordTurnStart adds or revises the Turn record for turnNumber.
// Callers must hold s.mu.
func (s *Session) recordTurnStart(turnNumber int, userText string, at time.Time) {
	for i := range s.turns {
		if s.turns[i].Number == turnNumber {
			s.turns[i].UserText = userText
			return
		}
	}
	s.turns = append(s.turns, Turn{Number: turnNumber, UserText: userText, StartTime: at})
}

// recordTurnComplete fills in a Turn's assistant reply once its
// pipeline finishes successfully.
func (s *Session) recordTurnComplete(turnNumber int, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.turns {
		if s.turns[i].Number == turnNumber {
			s.turns[i].AssistantText = assistantText
			s.turns[i].EndTime = time.Now()
			return
		}
	}
}

// ingressLoop reads every inbound audio frame and forwards it to the
// turn detector unconditionally; the VAD estimate is logged only, so
// a noisy reading never drops or reorders audio.
func (s *Session) ingressLoop() {
	defer s.teardown()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[INFO] websocket closed normally for session %s", s.ID)
			} else {
				log.Printf("[ERROR] websocket read error for session %s: %v", s.ID, err)
			}
			return
		}

		if hasVoice, err := s.vad.DetectActivity(data); err == nil && hasVoice {
			log.Printf("[INFO] session %s: voice frame (%d bytes)", s.ID, len(data))
		}
		s.audioBytes.Add(int64(len(data)))

		if err := s.stt.SendAudio(data); err != nil {
			log.Printf("[ERROR] session %s: send audio to turn detector: %v", s.ID, err)
			return
		}
	}
}

// teardown idempotently releases a session's connection, turn
// detector, and in-flight reply, and marks it disconnected.
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == statusDisconnected {
		return
	}

	if s.replyCancel != nil {
		s.replyCancel()
	}
	s.cancel()

	if err := s.stt.Close(); err != nil {
		log.Printf("[WARN] session %s: error closing turn detector: %v", s.ID, err)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	if s.writer != nil {
		s.writer.Close()
	}

	s.status = statusDisconnected
	log.Printf("[INFO] session torn down: %s", s.ID)
}
