package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestSSEClient(event string) (*SSEClient, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return NewSSEClient(rec, rec, event, slog.New(slog.NewTextHandler(io.Discard, nil))), rec
}

func TestSSEClientFramesEvents(t *testing.T) {
	client, rec := newTestSSEClient("log")

	if err := client.Open(3 * time.Second); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := client.Send([]byte(`{"id":1}`)); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := client.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	if err := client.Send([]byte(`{"id":2}` + "\n")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	want := "retry: 3000\n\n" +
		"id: 1\nevent: log\ndata: {\"id\":1}\n\n" +
		": ping\n\n" +
		"id: 2\nevent: log\ndata: {\"id\":2}\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("unexpected stream:\n%q\nwant\n%q", got, want)
	}

	client.Close()
	if err := client.Send([]byte("late")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	if err := client.Heartbeat(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF heartbeat after close, got %v", err)
	}
}

func TestSSEClientSplitsMultilinePayload(t *testing.T) {
	client, rec := newTestSSEClient("")

	if err := client.Send([]byte("first\r\nsecond\nthird")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	want := "id: 1\ndata: first\ndata: second\ndata: third\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("unexpected stream:\n%q\nwant\n%q", got, want)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func (failingWriter) Flush() {}

func TestSSEClientClosesOnWriteFailure(t *testing.T) {
	client := NewSSEClient(failingWriter{}, failingWriter{}, "log", slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := client.Send([]byte("x")); err == nil {
		t.Fatalf("expected write error")
	}
	if err := client.Heartbeat(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected stream to be closed after failure, got %v", err)
	}
}
