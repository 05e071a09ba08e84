package delivery

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StreamConn is one open real-time connection. Implementations must be safe
// for concurrent use; writes to a single connection never interleave.
type StreamConn interface {
	// Send writes a named event carrying a JSON payload.
	Send(event string, data []byte) error
	// Comment writes a keep-alive frame that clients ignore.
	Comment(text string) error
}

// ErrStreamClosed is returned by writes after the stream's handler has
// finished with the connection.
var ErrStreamClosed = errors.New("delivery: stream closed")

// DefaultWriteTimeout bounds one SSE frame write.
const DefaultWriteTimeout = 10 * time.Second

// SSEWriter writes Server-Sent Events frames to an HTTP response.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	rc      *http.ResponseController
	timeout time.Duration
	closed  bool
}

// SSEOption configures an SSEWriter.
type SSEOption func(*SSEWriter)

// WithWriteTimeout sets the deadline applied to each frame. A peer that stops
// reading turns into a failed write once it passes. Zero disables deadlines.
func WithWriteTimeout(d time.Duration) SSEOption {
	return func(s *SSEWriter) { s.timeout = d }
}

// NewSSEWriter prepares w for an event stream. It fails when the response
// cannot be flushed incrementally.
func NewSSEWriter(w http.ResponseWriter, opts ...SSEOption) (*SSEWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errors.New("delivery: response writer does not support flushing")
	}
	s := &SSEWriter{w: w, rc: http.NewResponseController(w), timeout: DefaultWriteTimeout}
	for _, o := range opts {
		o(s)
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SSEWriter) Send(event string, data []byte) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return s.write(b.String())
}

func (s *SSEWriter) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

// Close makes every later write fail with ErrStreamClosed. The handler that
// owns the response must call it before returning; it waits for a write in
// progress to finish.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *SSEWriter) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.timeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	return s.rc.Flush()
}
