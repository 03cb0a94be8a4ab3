package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Sink receives framed events for one subscriber.
type Sink interface {
	WriteEvent(event string, payload []byte) error
}

// SSESink writes Server-Sent Events frames to an HTTP response and flushes
// after every frame.
type SSESink struct {
	w            http.ResponseWriter
	f            http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration
}

var errNoFlush = errors.New("response writer does not support flushing")

// NewSSESink wraps w. Each frame gets writeTimeout to reach the client
// where the writer supports deadlines; 0 means no deadline.
func NewSSESink(w http.ResponseWriter, writeTimeout time.Duration) (*SSESink, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlush
	}
	return &SSESink{w: w, f: f, rc: http.NewResponseController(w), writeTimeout: writeTimeout}, nil
}

func (s *SSESink) WriteEvent(event string, payload []byte) error {
	if s.writeTimeout > 0 {
		// unsupported writers just write without a deadline
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.w.Write(FormatSSE(event, payload)); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// WebSocketSink sends each event as a text message {"event":..., "data":...}.
type WebSocketSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebSocketSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WebSocketSink) WriteEvent(event string, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(wsMessage{Event: event, Data: payload})
}
