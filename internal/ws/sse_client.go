package ws

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// SSEClient streams log entries as Server-Sent Events. Every event carries a
// sequence id that increases for the lifetime of the stream.
type SSEClient struct {
	mu      sync.Mutex
	out     io.Writer
	flusher http.Flusher
	event   string
	log     *slog.Logger
	seq     uint64
	closed  bool
}

// NewSSEClient builds an SSE client that labels every data frame with event.
func NewSSEClient(writer io.Writer, flusher http.Flusher, event string, logger *slog.Logger) *SSEClient {
	return &SSEClient{out: writer, flusher: flusher, event: event, log: logger}
}

// Open tells the browser how long to wait before reconnecting and flushes the
// response headers.
func (c *SSEClient) Open(retry time.Duration) error {
	var frame bytes.Buffer
	frame.WriteString("retry: ")
	frame.WriteString(strconv.FormatInt(retry.Milliseconds(), 10))
	frame.WriteString("\n\n")
	return c.write(frame.Bytes())
}

// Send emits one event. Payload lines become separate data fields.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.seq++
	var frame bytes.Buffer
	frame.WriteString("id: ")
	frame.WriteString(strconv.FormatUint(c.seq, 10))
	frame.WriteByte('\n')
	if c.event != "" {
		frame.WriteString("event: ")
		frame.WriteString(c.event)
		frame.WriteByte('\n')
	}
	for _, line := range bytes.Split(bytes.TrimRight(payload, "\r\n"), []byte("\n")) {
		frame.WriteString("data: ")
		frame.Write(bytes.TrimSuffix(line, []byte("\r")))
		frame.WriteByte('\n')
	}
	frame.WriteByte('\n')
	return c.writeLocked(frame.Bytes())
}

// Heartbeat emits a comment frame to keep intermediaries from timing out.
func (c *SSEClient) Heartbeat() error {
	return c.write([]byte(": ping\n\n"))
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *SSEClient) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	return c.writeLocked(frame)
}

func (c *SSEClient) writeLocked(frame []byte) error {
	if _, err := c.out.Write(frame); err != nil {
		c.closed = true
		c.log.Warn("sse write failed", "event", c.event, "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}
