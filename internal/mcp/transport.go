// ABOUTME: Wire framing for the MCP endpoint: Accept negotiation, SSE message frames, and the GET keep-alive stream
// ABOUTME: teeWriter mirrors everything written to the client into a bounded buffer for the request log

package mcp

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// maxCapturedBody bounds how much of a response is kept for the request log.
const maxCapturedBody = 64 << 10

// wantsSSE reports whether a response should be framed as Server-Sent Events.
// Plain JSON is used only when the client accepts JSON and not event streams.
func wantsSSE(accept string) bool {
	accept = strings.ToLower(accept)
	if strings.Contains(accept, "text/event-stream") {
		return true
	}
	return !strings.Contains(accept, "application/json")
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-MCP-Token, Mcp-Session-Id")
	h.Set("Access-Control-Expose-Headers", SessionHeader)
	h.Set("Access-Control-Max-Age", "86400")
}

// writeMessage writes one encoded JSON-RPC message with the given status.
func writeMessage(w http.ResponseWriter, sse bool, status int, data []byte) error {
	if !sse {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, err := w.Write(data)
		return err
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// handleStream serves GET /mcp: an SSE stream that only carries heartbeat
// comments. It ends when the client goes away or after the stream ceiling.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	ceiling := time.NewTimer(s.streamMax)
	defer ceiling.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ceiling.C:
			s.logger.Debug("closing idle MCP stream", "session_id", w.Header().Get(SessionHeader))
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// teeWriter records the status and a copy of the body written through it.
type teeWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func newTeeWriter(w http.ResponseWriter) *teeWriter {
	return &teeWriter{ResponseWriter: w}
}

func (t *teeWriter) WriteHeader(code int) {
	if t.status == 0 {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *teeWriter) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	if room := maxCapturedBody - t.buf.Len(); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		t.buf.Write(p[:room])
	}
	return t.ResponseWriter.Write(p)
}

// Flush passes through to the underlying writer when it supports streaming.
func (t *teeWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Status is the HTTP status sent, 200 when the handler wrote nothing explicit.
func (t *teeWriter) Status() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

// Captured returns the logged prefix of the response body.
func (t *teeWriter) Captured() string {
	return t.buf.String()
}
