package report

import (
	"context"
	"strings"
	"sync"

	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
	"github.com/ayush/research-ai-agent/reportgen/internal/search"
	"github.com/ayush/research-ai-agent/reportgen/internal/streaming"
)

// reply scripts one streamed completion.
type reply struct {
	chunks  []string
	err     error // sent after the chunks
	openErr error // returned by Stream itself
	block   bool  // after the chunks, wait for cancellation
	repeat  string // after the chunks, send this until cancelled, then close
}

type fakeLLM struct {
	mu      sync.Mutex
	calls   []llm.ChatRequest
	respond func(req llm.ChatRequest, attempt int) reply
}

func (f *fakeLLM) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	attempt := 0
	for _, c := range f.calls {
		if c.Purpose == req.Purpose && chapterOf(c) == chapterOf(req) {
			attempt++
		}
	}
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	r := f.respond(req, attempt)
	if r.openErr != nil {
		return nil, r.openErr
	}
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for _, c := range r.chunks {
			select {
			case out <- llm.Chunk{Content: c}:
			case <-ctx.Done():
				return
			}
		}
		if r.block {
			<-ctx.Done()
			return
		}
		for r.repeat != "" {
			select {
			case out <- llm.Chunk{Content: r.repeat}:
			case <-ctx.Done():
				return
			}
		}
		if r.err != nil {
			select {
			case out <- llm.Chunk{Err: r.err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (f *fakeLLM) callsFor(purpose string) []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.ChatRequest
	for _, c := range f.calls {
		if c.Purpose == purpose {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeLLM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// chapterOf returns the chapter title a section request is about.
func chapterOf(req llm.ChatRequest) string {
	for _, m := range req.Messages {
		for _, line := range strings.Split(m.Content, "\n") {
			if t, ok := strings.CutPrefix(line, "Chapter: "); ok {
				return t
			}
		}
	}
	return ""
}

func userPrompt(req llm.ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

type fakeEvidence struct {
	mu     sync.Mutex
	calls  [][]string
	bundle search.Bundle
	err    error
}

func (f *fakeEvidence) Collect(_ context.Context, queries []string) (search.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), queries...))
	if len(queries) == 0 {
		return search.Bundle{}, nil
	}
	if f.err != nil {
		return search.Bundle{}, f.err
	}
	return f.bundle, nil
}

func (f *fakeEvidence) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recorder struct {
	mu     sync.Mutex
	events []streaming.Event
	// onPublish runs inside Run's critical section, so it may read run.state
	// directly but must not call back into the Run.
	onPublish func(streaming.Event)
}

func (r *recorder) Publish(evt streaming.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	fn := r.onPublish
	r.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

func (r *recorder) ofType(typ string) []streaming.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []streaming.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

const threeChapters = `{"title": "EV Batteries", "chapters": [
{"title": "Market", "instruction": "Size the market."},
{"title": "Players", "instruction": "Profile vendors."},
{"title": "Outlook", "instruction": "Forecast."}]}`

// defaultReplies answers every purpose successfully.
func defaultReplies(req llm.ChatRequest, _ int) reply {
	switch req.Purpose {
	case llm.PurposeOutline:
		return reply{chunks: splitEvery(threeChapters, 20)}
	case llm.PurposeQueries:
		ch := chapterOf(req)
		return reply{chunks: []string{`["` + ch + ` size", "` + ch + ` trends"]`}}
	default:
		return reply{chunks: []string{"Body of ", chapterOf(req), "."}}
	}
}

func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}
