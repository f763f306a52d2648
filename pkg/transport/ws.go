package transport

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/gorilla/websocket"
)

const outboundBufferSize = 64

// Writer serializes every outbound event for one session through a
// single draining goroutine, so events reach the client in the exact
// order they were produced regardless of which session goroutine
// (ingress, STT dispatch, reply pipeline) emitted them.
type Writer struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
}

// NewWriter starts the writer goroutine for conn and returns the
// handle other goroutines send events through.
func NewWriter(conn *websocket.Conn) *Writer {
	w := &Writer{
		conn:   conn,
		events: make(chan Event, outboundBufferSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for ev := range w.events {
		if ev.Timestamp == "" {
			ev = stampIfEmpty(ev)
		}
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[ERROR] failed to marshal event %s: %v", ev.Type, err)
			continue
		}
		if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[ERROR] failed to write event %s: %v", ev.Type, err)
			return
		}
	}
}

func stampIfEmpty(ev Event) Event {
	stamped := NewEvent(ev.Type)
	ev.Timestamp = stamped.Timestamp
	return ev
}

// Send enqueues an event for delivery, blocking while the outbound
// buffer is full so ordering is never violated by a dropped event.
// It returns an error only once the writer goroutine has already
// exited (conn closed).
func (w *Writer) Send(ev Event) (err error) {
	// A send racing Close lands on the closed events channel; report
	// that as a closed writer rather than panicking.
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("writer closed")
		}
	}()
	select {
	case <-w.done:
		return fmt.Errorf("writer closed")
	case w.events <- ev:
		return nil
	}
}

// Close stops accepting new events and waits for the writer goroutine
// to drain whatever is already queued.
func (w *Writer) Close() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.events)
	<-w.done
}
