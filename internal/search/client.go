package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

const batchPath = "/search/batch"

// ResultGroup holds the hits for one input query.
type ResultGroup struct {
	Items []models.SearchReferenceItem `json:"items"`
}

// Searcher runs a batched semantic search, one result group per query.
type Searcher interface {
	SearchBatch(ctx context.Context, queries []string, maxSegments int) ([]ResultGroup, error)
}

// Client calls the semantic search service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a search client. A zero timeout leaves the call bounded
// only by the caller's context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SearchBatch calls POST /search/batch.
func (c *Client) SearchBatch(ctx context.Context, queries []string, maxSegments int) ([]ResultGroup, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"query_texts": queries, "max_segments_per_query": maxSegments,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search-service %s: %w", batchPath, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search-service %s: %w", batchPath, err)
	}
	defer resp.Body.Close()

	if err := checkResp(resp, "search-service", batchPath); err != nil {
		return nil, err
	}

	var result struct {
		Results []ResultGroup `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("search-service %s: decode: %w", batchPath, err)
	}
	return result.Results, nil
}

// checkResp returns an error carrying the upstream body when the status is not 2xx.
func checkResp(resp *http.Response, service, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s %s returned %d: %s", service, path, resp.StatusCode, string(body))
}
