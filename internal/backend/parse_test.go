// ABOUTME: Tests for backend reply decoding
// ABOUTME: Covers plain JSON, SSE framing, embedded errors, and text extraction

package backend

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBody_JSON(t *testing.T) {
	resp, err := DecodeBody([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
	assert.Nil(t, resp.Error)
}

func TestDecodeBody_SSE(t *testing.T) {
	body := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"n\":2}}\n\n"
	resp, err := DecodeBody([]byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(resp.Result))
}

func TestDecodeBody_SSESkipsNotifications(t *testing.T) {
	body := "event: message\r\n" +
		"data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{}}\r\n\r\n" +
		"event: message\r\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":7,\"error\":{\"code\":-32602,\"message\":\"bad args\"}}\r\n\r\n"
	resp, err := DecodeBody([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
	assert.Equal(t, "bad args", resp.Error.Message)
}

func TestDecodeBody_Invalid(t *testing.T) {
	for _, body := range []string{"", "   ", "not json", "{broken", "event: message\n\n"} {
		_, err := DecodeBody([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidResponse, body)
	}
}

func TestSSEData_MultiLine(t *testing.T) {
	events := SSEData([]byte("data: a\ndata: b\n\n: comment\ndata:c\n"))
	assert.Equal(t, []string{"a\nb", "c"}, events)
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{
			name:   "single text",
			result: `{"content":[{"type":"text","text":"hello"}]}`,
			want:   "hello",
		},
		{
			name:   "multiple text items",
			result: `{"content":[{"type":"text","text":"a"},{"type":"image","data":"x"},{"type":"text","text":"b"}]}`,
			want:   "a\nb",
		},
		{
			name:   "no text falls back to raw",
			result: `{"content":[{"type":"image","data":"x"}]}`,
			want:   `{"content":[{"type":"image","data":"x"}]}`,
		},
		{
			name:   "non-object result",
			result: `42`,
			want:   `42`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(json.RawMessage(tt.result)))
		})
	}
}

func TestExtractSessionID(t *testing.T) {
	h := http.Header{}
	h["mcp-session-id"] = []string{" abc-123 "}
	assert.Equal(t, "abc-123", ExtractSessionID(h))

	h = http.Header{}
	h.Set("Mcp-Session-Id", "xyz")
	assert.Equal(t, "xyz", ExtractSessionID(h))

	assert.Empty(t, ExtractSessionID(http.Header{}))
}
