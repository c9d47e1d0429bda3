package llm

import (
	"context"
	"fmt"
)

// Purposes tag a request with the pipeline step that issued it. They are not
// sent upstream; providers and metrics use them for labelling.
const (
	PurposeOutline = "outline"
	PurposeQueries = "queries"
	PurposeSection = "section"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a streaming completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	Purpose     string    `json:"-"`
}

// Chunk is one fragment of a completion stream. A chunk with a non-nil Err is
// the last value sent before the channel is closed.
type Chunk struct {
	Content string
	Err     error
}

// Completer abstracts a streaming chat completion backend.
//
// The returned channel yields fragments in arrival order and is closed when the
// upstream transport closes. Cancelling ctx aborts the call; the provider then
// sends ctx.Err() as a final error chunk if the consumer is still reading.
type Completer interface {
	Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}

// Settings configures a provider.
type Settings struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
}

// New builds the Completer named by s.Provider.
func New(s Settings) (Completer, error) {
	switch s.Provider {
	case "openai":
		return NewOpenAI(s)
	case "deepseek":
		// DeepSeek exposes an OpenAI-compatible API behind its own base URL.
		if s.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url")
		}
		return NewOpenAI(s)
	case "http":
		return NewHTTPCompleter(s.BaseURL, s.APIKey)
	case "mock":
		return NewMock(), nil
	case "":
		return nil, fmt.Errorf("llm provider missing; set LLM_PROVIDER")
	default:
		return nil, fmt.Errorf("llm provider %s not supported", s.Provider)
	}
}

// send delivers c unless ctx is done. It reports whether the value was sent.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
