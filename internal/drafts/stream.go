package drafts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type streamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	Response *streamResponse `json:"response,omitempty"`
	Error    *streamError    `json:"error,omitempty"`
}

type streamResponse struct {
	Error  *streamError `json:"error,omitempty"`
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output,omitempty"`
}

type streamError struct {
	Message string `json:"message"`
}

// readEventStream collects output text from a server-sent event stream. Text
// deltas win; the completed response body is used only when no delta arrived.
func readEventStream(body io.Reader, maxBytes int) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBytes+64*1024)

	var out strings.Builder
	appendText := func(s string) error {
		if out.Len()+len(s) > maxBytes {
			return fmt.Errorf("draft output exceeds %d bytes", maxBytes)
		}
		out.WriteString(s)
		return nil
	}
	handle := func(lines []string) error {
		data := strings.TrimSpace(strings.Join(lines, "\n"))
		if data == "" || data == "[DONE]" {
			return nil
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("unmarshal stream event: %w", err)
		}
		if ev.Error != nil {
			return fmt.Errorf("stream error: %s", ev.Error.Message)
		}
		if ev.Response != nil && ev.Response.Error != nil {
			return fmt.Errorf("completion error: %s", ev.Response.Error.Message)
		}
		switch ev.Type {
		case "response.output_text.delta":
			return appendText(ev.Delta)
		case "response.completed":
			if out.Len() > 0 || ev.Response == nil {
				return nil
			}
			for _, item := range ev.Response.Output {
				for _, part := range item.Content {
					if part.Type == "output_text" || part.Type == "text" {
						if err := appendText(part.Text); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	}

	var pending []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := handle(pending); err != nil {
				return "", err
			}
			pending = pending[:0]
			continue
		}
		if strings.HasPrefix(line, "data:") {
			pending = append(pending, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if err := handle(pending); err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("empty output stream")
	}
	return text, nil
}
