// ABOUTME: Decoding of backend replies framed as plain JSON or Server-Sent Events
// ABOUTME: Also flattens MCP tool results into text

package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeBody parses a JSON-RPC response from a plain JSON or SSE-framed body.
// For SSE bodies the first data line carrying a response (result or error) wins.
func DecodeBody(body []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}

	if trimmed[0] == '{' {
		var resp Response
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return &resp, nil
	}

	for _, data := range SSEData(trimmed) {
		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if resp.Result != nil || resp.Error != nil {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("%w: no JSON-RPC response in event stream", ErrInvalidResponse)
}

// SSEData returns the payload of every event in an SSE body.
// Multi-line data fields are joined with newlines.
func SSEData(body []byte) []string {
	var events []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			events = append(events, strings.Join(current, "\n"))
			current = nil
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), maxReplySize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			current = append(current, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	return events
}

// ExtractText joins the text items of an MCP tool result with newlines.
// When the result has no text items the raw result JSON is returned.
func ExtractText(result json.RawMessage) string {
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &parsed); err == nil {
		var texts []string
		for _, item := range parsed.Content {
			if item.Type == "text" {
				texts = append(texts, item.Text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}
	return string(result)
}
