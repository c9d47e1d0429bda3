package llm

import (
	"context"
	"fmt"
	"strings"
)

// Mock is a local provider that never calls an external model. It streams a
// canned answer for each pipeline step so the service can be exercised end to end.
type Mock struct {
	ChunkSize int
}

func NewMock() *Mock { return &Mock{ChunkSize: 16} }

func (m *Mock) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	// chunks are cut on rune boundaries; ChunkSize counts runes
	text := []rune(m.answer(req))
	size := m.ChunkSize
	if size <= 0 {
		size = len(text)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for len(text) > 0 {
			n := min(size, len(text))
			if !send(ctx, out, Chunk{Content: string(text[:n])}) {
				return
			}
			text = text[n:]
		}
	}()
	return out, nil
}

func (m *Mock) answer(req ChatRequest) string {
	var user string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			user = msg.Content
		}
	}
	subject := firstLine(user)

	switch req.Purpose {
	case PurposeOutline:
		return fmt.Sprintf("```json\n{\"title\": %q, \"chapters\": ["+
			"{\"title\": \"Background\", \"instruction\": \"Summarize the current landscape.\"}, "+
			"{\"title\": \"Key Players\", \"instruction\": \"Profile the main companies and their positions.\"}, "+
			"{\"title\": \"Outlook\", \"instruction\": \"Assess risks and expected developments.\"}]}\n```", subject)
	case PurposeQueries:
		return fmt.Sprintf("[%q, %q]", subject+" market size", subject+" recent developments")
	default:
		var sb strings.Builder
		sb.WriteString("This section was produced by the mock provider.\n\n")
		sb.WriteString(subject)
		sb.WriteString("\n")
		return sb.String()
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
