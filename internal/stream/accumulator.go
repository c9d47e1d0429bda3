// Package stream turns an incremental completion stream into a growing text buffer.
package stream

import (
	"context"
	"strings"
	"sync"

	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
)

// ChunkFunc is invoked synchronously for every fragment, in arrival order,
// with the fragment and the buffer after appending it.
type ChunkFunc func(delta, buffer string)

// Accumulator concatenates fragments in arrival order with no separator.
type Accumulator struct {
	mu     sync.Mutex
	buf    strings.Builder
	chunks int
}

func NewAccumulator() *Accumulator { return &Accumulator{} }

// Collect drains ch until it is closed, an error chunk arrives or ctx is done.
// It returns the accumulated text in every case; on failure the partial text
// is kept and the error is returned next to it. Collect must be called once.
func (a *Accumulator) Collect(ctx context.Context, ch <-chan llm.Chunk, onChunk ChunkFunc) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return a.finish(ctx.Err())
		case c, ok := <-ch:
			if !ok {
				// producers close on cancel too; that is not a finished stream
				return a.finish(ctx.Err())
			}
			if c.Err != nil {
				return a.finish(c.Err)
			}
			if c.Content == "" {
				continue
			}
			a.mu.Lock()
			a.buf.WriteString(c.Content)
			a.chunks++
			buffer := a.buf.String()
			a.mu.Unlock()
			if onChunk != nil {
				onChunk(c.Content, buffer)
			}
		}
	}
}

func (a *Accumulator) finish(err error) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String(), err
}

// Chunks returns how many non-empty fragments were appended.
func (a *Accumulator) Chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunks
}
