// Package stt wraps AssemblyAI's real-time streaming transcription
// API: a hand-rolled JSON-over-WebSocket client (no REST SDK on this
// path) plus a TurnDetector that exposes partial and end-of-turn
// events to the orchestrator.
package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrSessionTerminated is surfaced on the errors channel when the
// vendor closes the stream itself (its "SessionTerminated" message),
// as opposed to a transport failure — callers use errors.Is against
// it to tell a graceful remote closure apart from a real error.
var ErrSessionTerminated = errors.New("stt: session terminated by server")

// StreamingSTT handles real-time speech-to-text using AssemblyAI's
// streaming API.
type StreamingSTT struct {
	apiKey      string
	conn        *websocket.Conn
	mu          sync.RWMutex
	isConnected bool
	transcripts chan StreamingResult
	errors      chan error
	config      StreamingConfig
}

// StreamingConfig holds configuration for the streaming session.
type StreamingConfig struct {
	SampleRate                       int     `json:"sample_rate"`
	Encoding                         string  `json:"encoding,omitempty"`
	FormatTurns                      bool    `json:"format_turns,omitempty"`
	EndOfTurnConfidenceThreshold     float64 `json:"end_of_turn_confidence_threshold,omitempty"`
	MinEndOfTurnSilenceWhenConfident int     `json:"min_end_of_turn_silence_when_confident,omitempty"`
	MaxTurnSilence                   int     `json:"max_turn_silence,omitempty"`
}

// StreamingResult represents a transcription result from the
// streaming API.
type StreamingResult struct {
	MessageType string  `json:"message_type"`
	Text        string  `json:"text,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	IsFinal     bool    `json:"is_final,omitempty"`
	TurnID      string  `json:"turn_id,omitempty"`
	StartTime   int64   `json:"start_time,omitempty"`
	EndTime     int64   `json:"end_time,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
}

// SessionBegins represents the session start message.
type SessionBegins struct {
	MessageType string `json:"message_type"`
	SessionID   string `json:"session_id"`
	ExpiresAt   string `json:"expires_at"`
}

// ConfigUpdateMessage represents a configuration update message.
type ConfigUpdateMessage struct {
	MessageType string          `json:"message_type"`
	Config      StreamingConfig `json:"config"`
}

// NewStreamingSTT creates a new streaming STT instance. apiKey is
// supplied by the caller (internal/config) rather than read from the
// environment here, so a missing key surfaces as a Connect error
// instead of a process panic.
func NewStreamingSTT(apiKey string, config StreamingConfig) *StreamingSTT {
	return &StreamingSTT{
		apiKey:      apiKey,
		config:      config,
		transcripts: make(chan StreamingResult, 100),
		errors:      make(chan error, 10),
	}
}

// Connect establishes a WebSocket connection to AssemblyAI's
// streaming API.
func (s *StreamingSTT) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isConnected {
		return fmt.Errorf("already connected")
	}
	if s.apiKey == "" {
		return fmt.Errorf("stt: no API key configured")
	}

	u, err := url.Parse("wss://api.assemblyai.com/v2/realtime/ws")
	if err != nil {
		return fmt.Errorf("failed to parse WebSocket URL: %w", err)
	}

	q := u.Query()
	q.Set("sample_rate", fmt.Sprintf("%d", s.config.SampleRate))
	if s.config.Encoding != "" {
		q.Set("encoding", s.config.Encoding)
	}
	if s.config.FormatTurns {
		q.Set("format_turns", "true")
	}
	if s.config.EndOfTurnConfidenceThreshold > 0 {
		q.Set("end_of_turn_confidence_threshold", fmt.Sprintf("%g", s.config.EndOfTurnConfidenceThreshold))
	}
	if s.config.MinEndOfTurnSilenceWhenConfident > 0 {
		q.Set("min_end_of_turn_silence_when_confident", fmt.Sprintf("%d", s.config.MinEndOfTurnSilenceWhenConfident))
	}
	if s.config.MaxTurnSilence > 0 {
		q.Set("max_turn_silence", fmt.Sprintf("%d", s.config.MaxTurnSilence))
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", s.apiKey)

	log.Printf("[INFO] connecting to AssemblyAI at %s", u.String())

	var retryCount int
	maxRetries := 3
	retryDelay := time.Second

	for retryCount < maxRetries {
		conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
			HTTPHeader: headers,
		})

		if err == nil {
			s.conn = conn
			s.isConnected = true

			go s.handleMessages(ctx)
			return nil
		}

		log.Printf("[WARN] connection attempt %d failed: %v", retryCount+1, err)
		retryCount++
		if retryCount < maxRetries {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}

	return fmt.Errorf("failed to connect after %d attempts", maxRetries)
}

// SendAudio sends audio data to the streaming API.
func (s *StreamingSTT) SendAudio(audioData []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isConnected || s.conn == nil {
		return fmt.Errorf("not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := map[string]interface{}{
		"message_type": "AudioData",
		"audio_data":   base64.StdEncoding.EncodeToString(audioData),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal audio message: %w", err)
	}

	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.sendError(fmt.Errorf("failed to send audio: %w", err))
		return err
	}

	return nil
}

// UpdateConfig sends a configuration update during the session.
func (s *StreamingSTT) UpdateConfig(config StreamingConfig) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isConnected || s.conn == nil {
		return fmt.Errorf("not connected")
	}

	msg := ConfigUpdateMessage{
		MessageType: "UpdateConfiguration",
		Config:      config,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal config update: %w", err)
	}

	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

// ForceEndpoint manually forces an endpoint in the transcription.
func (s *StreamingSTT) ForceEndpoint() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isConnected || s.conn == nil {
		return fmt.Errorf("not connected")
	}

	msg := map[string]string{"message_type": "ForceEndpoint"}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal force endpoint: %w", err)
	}

	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

// GetTranscripts returns a channel for receiving transcription results.
func (s *StreamingSTT) GetTranscripts() <-chan StreamingResult {
	return s.transcripts
}

// GetErrors returns a channel for receiving errors.
func (s *StreamingSTT) GetErrors() <-chan error {
	return s.errors
}

// Close gracefully terminates the streaming session.
func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.isConnected = false
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := map[string]string{"message_type": "SessionTermination"}
	data, err := json.Marshal(msg)
	if err == nil {
		if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			log.Printf("[WARN] failed to send SessionTermination: %v", err)
		}
	}

	err = conn.Close(websocket.StatusNormalClosure, "")

	close(s.transcripts)
	close(s.errors)

	return err
}

// handleMessages processes incoming WebSocket messages, including the
// end-of-turn "Turn" message AssemblyAI's real-time protocol emits
// once format_turns/end-of-turn detection fires.
func (s *StreamingSTT) handleMessages(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.errors <- fmt.Errorf("message handler panic: %v", r)
		}
	}()

	var currentSessionID string

	for {
		select {
		case <-ctx.Done():
			return
		default:
			s.mu.RLock()
			conn := s.conn
			if conn == nil {
				s.mu.RUnlock()
				s.errors <- fmt.Errorf("connection lost")
				s.reconnect(ctx)
				return
			}

			_, message, err := conn.Read(ctx)
			s.mu.RUnlock()

			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return
				}
				select {
				case s.errors <- fmt.Errorf("failed to read message: %w", err):
				default:
					log.Printf("[WARN] dropping error: failed to read message: %v", err)
				}
				s.reconnect(ctx)
				return
			}

			var baseMsg map[string]interface{}
			if err := json.Unmarshal(message, &baseMsg); err != nil {
				s.sendError(fmt.Errorf("failed to parse message: %w", err))
				continue
			}

			msgType, ok := baseMsg["message_type"].(string)
			if !ok {
				s.sendError(fmt.Errorf("invalid message type"))
				continue
			}

			switch msgType {
			case "SessionBegins":
				var sessionBegins SessionBegins
				if err := json.Unmarshal(message, &sessionBegins); err != nil {
					s.sendError(fmt.Errorf("failed to parse SessionBegins: %w", err))
					continue
				}
				currentSessionID = sessionBegins.SessionID
				log.Printf("[INFO] session established, ID: %s", sessionBegins.SessionID)

			case "Connected":
				log.Printf("[INFO] connected to AssemblyAI streaming service")

			case "PartialTranscript":
				var result StreamingResult
				if err := json.Unmarshal(message, &result); err != nil {
					s.sendError(fmt.Errorf("failed to parse PartialTranscript: %w", err))
					continue
				}
				result.MessageType = "PartialTranscript"
				result.IsFinal = false
				result.SessionID = currentSessionID
				if result.Text != "" {
					s.transcripts <- result
				}

			case "FinalTranscript":
				var result StreamingResult
				if err := json.Unmarshal(message, &result); err != nil {
					s.sendError(fmt.Errorf("failed to parse FinalTranscript: %w", err))
					continue
				}
				result.MessageType = "FinalTranscript"
				result.IsFinal = true
				result.SessionID = currentSessionID
				if result.Text != "" {
					s.transcripts <- result
				}

			case "Turn":
				var result StreamingResult
				if err := json.Unmarshal(message, &result); err != nil {
					s.sendError(fmt.Errorf("failed to parse Turn: %w", err))
					continue
				}
				result.MessageType = "Turn"
				result.IsFinal = true
				result.SessionID = currentSessionID
				if result.Text != "" {
					s.transcripts <- result
				}

			case "Error":
				var errorMsg struct {
					Type    string `json:"message_type"`
					Message string `json:"message"`
					Code    string `json:"error"`
				}
				if err := json.Unmarshal(message, &errorMsg); err != nil {
					s.sendError(fmt.Errorf("failed to parse error message: %w", err))
					continue
				}
				s.sendError(fmt.Errorf("server error: %s (code: %s)", errorMsg.Message, errorMsg.Code))

			case "SessionTerminated":
				log.Printf("[INFO] session terminated by server")
				currentSessionID = ""
				s.mu.Lock()
				s.isConnected = false
				s.mu.Unlock()
				s.sendError(ErrSessionTerminated)
				return

			default:
				if msgType != "" {
					log.Printf("[DEBUG] received message type: %s", msgType)
				}
			}
		}
	}
}

// reconnect attempts to reestablish the WebSocket connection.
func (s *StreamingSTT) reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close(websocket.StatusGoingAway, "reconnecting")
		s.conn = nil
	}
	s.isConnected = false
	s.mu.Unlock()

	if err := s.Connect(ctx); err != nil {
		s.errors <- fmt.Errorf("reconnection failed: %w", err)
	}
}

// GetDefaultStreamingConfig returns the spec'd default configuration
// for streaming turn detection.
func GetDefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		SampleRate:                       16000,
		Encoding:                         "pcm_s16le",
		FormatTurns:                      true,
		EndOfTurnConfidenceThreshold:     0.7,
		MinEndOfTurnSilenceWhenConfident: 800,
		MaxTurnSilence:                   1500,
	}
}

func (s *StreamingSTT) sendError(err error) {
	select {
	case s.errors <- err:
	default:
		log.Printf("[WARN] dropping error: %v", err)
	}
}

// GetConfig returns the current streaming configuration.
func (s *StreamingSTT) GetConfig() StreamingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}
