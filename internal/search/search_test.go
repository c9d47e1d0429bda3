package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

type fakeSearcher struct {
	groups  []ResultGroup
	err     error
	calls   int
	queries []string
}

func (f *fakeSearcher) SearchBatch(_ context.Context, queries []string, _ int) ([]ResultGroup, error) {
	f.calls++
	f.queries = queries
	return f.groups, f.err
}

func item(id, title, snippet string) models.SearchReferenceItem {
	return models.SearchReferenceItem{
		ArticleID:  id,
		Title:      title,
		URL:        "https://example.com/" + id,
		SourceName: "wire-" + id,
		Segments:   []models.SearchSegment{{Content: snippet}},
	}
}

func TestDedupFirstSeenWins(t *testing.T) {
	groups := []ResultGroup{
		{Items: []models.SearchReferenceItem{item("X", "first title", "snippet one")}},
		{Items: []models.SearchReferenceItem{item("X", "second title", "snippet two")}},
	}

	got := Dedup(groups)
	require.Len(t, got, 1)
	assert.Equal(t, "first title", got[0].Title)
	assert.Equal(t, "snippet one", got[0].Segments[0].Content)
}

func TestCollectTwoGroupsYieldTwoReferences(t *testing.T) {
	fs := &fakeSearcher{groups: []ResultGroup{
		{Items: []models.SearchReferenceItem{item("1", "One", "a")}},
		{Items: []models.SearchReferenceItem{item("1", "One again", "b"), item("2", "Two", "c")}},
	}}
	agg := NewAggregator(fs, 3, zap.NewNop())

	b, err := agg.Collect(context.Background(), []string{"q1", "q2"})
	require.NoError(t, err)

	assert.Equal(t, []models.Reference{
		{Title: "One", URL: "https://example.com/1", Source: "wire-1"},
		{Title: "Two", URL: "https://example.com/2", Source: "wire-2"},
	}, b.References)
	assert.Contains(t, b.Material, "[1] One (Source: wire-1)\na")
	assert.Contains(t, b.Material, "[2] Two (Source: wire-2)\nc")
	assert.NotContains(t, b.Material, "One again")
}

func TestCollectEmptyQueriesSkipsBackend(t *testing.T) {
	fs := &fakeSearcher{}
	agg := NewAggregator(fs, 0, nil)

	b, err := agg.Collect(context.Background(), []string{" ", ""})
	require.NoError(t, err)
	assert.True(t, b.Empty())
	assert.Zero(t, fs.calls)
}

func TestCollectCapsQueries(t *testing.T) {
	fs := &fakeSearcher{}
	agg := NewAggregator(fs, 0, nil)

	_, err := agg.Collect(context.Background(), []string{"a", " b ", "", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, fs.queries)
}

func TestCollectPropagatesTransportFailure(t *testing.T) {
	boom := errors.New("timeout")
	agg := NewAggregator(&fakeSearcher{err: boom}, 0, nil)

	b, err := agg.Collect(context.Background(), []string{"q"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, b.Empty())
}

func TestClientSearchBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/batch", r.URL.Path)
		var body struct {
			QueryTexts  []string `json:"query_texts"`
			MaxSegments int      `json:"max_segments_per_query"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"solid state"}, body.QueryTexts)
		assert.Equal(t, 4, body.MaxSegments)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"items":[{"article_id":"7","title":"T","url":"u","source_name":"S","segments":[{"content":"c"}]}]}]}`))
	}))
	defer srv.Close()

	groups, err := NewClient(srv.URL+"/", time.Second).SearchBatch(context.Background(), []string{"solid state"}, 4)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Items, 1)
	assert.Equal(t, "7", groups[0].Items[0].ArticleID)
	assert.Equal(t, "S", groups[0].Items[0].SourceName)
}

func TestClientSearchBatchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("index offline"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).SearchBatch(context.Background(), []string{"q"}, 1)
	require.Error(t, err)
	assert.Equal(t, "search-service /search/batch returned 502: index offline", err.Error())
}
