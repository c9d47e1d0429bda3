package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const completionsPath = "/chat/completions"

// HTTPCompleter calls the dashboard chat endpoint, which answers with
// server-sent events carrying {"content": "..."} fragments.
type HTTPCompleter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPCompleter(baseURL, apiKey string) (*HTTPCompleter, error) {
	if baseURL == "" {
		return nil, errors.New("llm http provider requires base_url")
	}
	return &HTTPCompleter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}, nil
}

type streamFragment struct {
	Content *string `json:"content"`
}

func (c *HTTPCompleter) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("chat-service %s: encode: %w", completionsPath, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat-service %s: %w", completionsPath, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat-service %s: %w", completionsPath, err)
	}
	if err := checkResp(resp, "chat-service", completionsPath); err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return
			}
			var frag streamFragment
			if err := json.Unmarshal([]byte(payload), &frag); err != nil {
				send(ctx, out, Chunk{Err: fmt.Errorf("chat-service %s: decode fragment: %w", completionsPath, err)})
				return
			}
			if frag.Content == nil || *frag.Content == "" {
				continue
			}
			if !send(ctx, out, Chunk{Content: *frag.Content}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, out, Chunk{Err: fmt.Errorf("chat-service %s: read stream: %w", completionsPath, err)})
		}
	}()
	return out, nil
}

// checkResp returns an error carrying the upstream body when the status is not 2xx.
func checkResp(resp *http.Response, service, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s %s returned %d: %s", service, path, resp.StatusCode, string(body))
}
