package research

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
	"github.com/ayush/research-ai-agent/reportgen/internal/middleware"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/report"
	"github.com/ayush/research-ai-agent/reportgen/internal/streaming"
)

type testAPI struct {
	srv       *httptest.Server
	svc       *Service
	reports   *memReports
	files     *memFiles
	ledger    *memLedger
	snapshots *memSnapshots
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	a := &testAPI{
		reports:   &memReports{},
		files:     newMemFiles(),
		ledger:    newMemLedger(),
		snapshots: newMemSnapshots(),
	}
	a.svc = NewService(Deps{
		LLM:       llm.NewMock(),
		Evidence:  staticEvidence{},
		Model:     report.ModelSettings{Model: "mock"},
		Hub:       streaming.NewHub(4096),
		Reports:   a.reports,
		Files:     a.files,
		Ledger:    a.ledger,
		Snapshots: a.snapshots,
	})

	r := chi.NewRouter()
	r.Route("/api/reports", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		NewHandler(a.svc, nil).Routes(r)
	})
	a.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		a.srv.Close()
		a.svc.Close()
	})
	return a
}

func (a *testAPI) do(t *testing.T, method, path, user string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(middleware.UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) state(t *testing.T, user, id string) models.RunState {
	t.Helper()
	resp := a.do(t, http.MethodGet, "/api/reports/"+id, user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[models.RunState](t, resp)
}

func (a *testAPI) waitStatus(t *testing.T, user, id string, want models.MainStatus) models.RunState {
	t.Helper()
	var st models.RunState
	require.Eventually(t, func() bool {
		st = a.state(t, user, id)
		return st.MainStatus == want
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

// createFinished drives a run from topic to a stored document.
func (a *testAPI) createFinished(t *testing.T, user string) models.RunState {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/reports", user, models.CreateRequest{Topic: "EV batteries"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[models.RunState](t, resp)
	require.NotEmpty(t, created.RunID)

	a.waitStatus(t, user, created.RunID, models.StatusReview)
	resp = a.do(t, http.MethodPost, "/api/reports/"+created.RunID+"/start", user, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	st := a.waitStatus(t, user, created.RunID, models.StatusFinished)
	require.Eventually(t, func() bool { return a.reports.count() > 0 }, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestRequiresUser(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/api/reports/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateRejectsBlankTopic(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodPost, "/api/reports", "user-1", models.CreateRequest{Topic: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFullReportFlow(t *testing.T) {
	a := newTestAPI(t)
	st := a.createFinished(t, "user-1")

	require.Len(t, st.Sections, 3)
	for _, sec := range st.Sections {
		assert.Equal(t, models.SectionCompleted, sec.Status)
		assert.NotEmpty(t, sec.Content)
		assert.Len(t, sec.References, 1)
	}

	// history
	resp := a.do(t, http.MethodGet, "/api/reports/history", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decode[[]models.ReportDocument](t, resp)
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, st.RunID, doc.RunID)
	assert.True(t, a.files.has(doc.MarkdownKey))
	assert.True(t, a.files.has(doc.HTMLKey))

	// ledger
	require.Eventually(t, func() bool { return a.ledger.get(st.RunID).Status == "finished" }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, doc.ID.Hex(), a.ledger.get(st.RunID).DocumentID)

	// exports
	resp = a.do(t, http.MethodGet, "/api/reports/history/"+doc.ID.Hex()+"/export.md", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	md, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(md), "## 1. Background")
	assert.Contains(t, string(md), "## References")

	resp = a.do(t, http.MethodGet, "/api/reports/history/"+doc.ID.Hex()+"/export.html", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(page), "<h2>1. Background</h2>")
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = a.do(t, http.MethodGet, "/api/reports/history/"+doc.ID.Hex()+"/export.pdf", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// runs are owner scoped
	resp = a.do(t, http.MethodGet, "/api/reports/"+st.RunID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = a.do(t, http.MethodGet, "/api/reports/history/"+doc.ID.Hex(), "user-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// delete
	resp = a.do(t, http.MethodDelete, "/api/reports/history/"+doc.ID.Hex(), "user-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, a.files.has(doc.MarkdownKey))
	assert.Equal(t, 0, a.reports.count())
}

func TestConflictsMapTo409(t *testing.T) {
	a := newTestAPI(t)
	st := a.createFinished(t, "user-1")

	resp := a.do(t, http.MethodPost, "/api/reports/"+st.RunID+"/sections/0/retry", "user-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/reports/"+st.RunID+"/start", "user-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/reports/"+st.RunID+"/sections/x/retry", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReviseOutline(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodPost, "/api/reports", "user-1", models.CreateRequest{Topic: "EV batteries"})
	created := decode[models.RunState](t, resp)
	a.waitStatus(t, "user-1", created.RunID, models.StatusReview)

	resp = a.do(t, http.MethodPost, "/api/reports/"+created.RunID+"/revise", "user-1", models.ReviseRequest{Feedback: "add pricing"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	st := a.waitStatus(t, "user-1", created.RunID, models.StatusReview)
	require.NotNil(t, st.Outline)
	assert.Len(t, st.Outline.Chapters, 3)
}

func TestStateFallsBackToSnapshot(t *testing.T) {
	a := newTestAPI(t)
	st := a.createFinished(t, "user-1")

	resp := a.do(t, http.MethodPost, "/api/reports/"+st.RunID+"/cancel", "user-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// a finished run survives in the cache after leaving memory
	require.NoError(t, a.snapshots.Save(context.Background(), "user-1", st))
	a.svc.mu.Lock()
	delete(a.svc.runs, st.RunID)
	a.svc.mu.Unlock()

	got := a.state(t, "user-1", st.RunID)
	assert.Equal(t, models.StatusFinished, got.MainStatus)

	resp = a.do(t, http.MethodGet, "/api/reports/"+st.RunID+"/events", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	a := newTestAPI(t)
	st := a.createFinished(t, "user-1")

	resp := a.do(t, http.MethodGet, "/api/reports", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recs := decode[[]models.RunRecord](t, resp)
	require.Len(t, recs, 1)
	assert.Equal(t, st.RunID, recs[0].ID)
}

func TestDiscardRun(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodPost, "/api/reports", "user-1", models.CreateRequest{Topic: "EV batteries"})
	created := decode[models.RunState](t, resp)
	a.waitStatus(t, "user-1", created.RunID, models.StatusReview)

	resp = a.do(t, http.MethodDelete, "/api/reports/"+created.RunID, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = a.do(t, http.MethodGet, "/api/reports/"+created.RunID, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsReplay(t *testing.T) {
	a := newTestAPI(t)
	st := a.createFinished(t, "user-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.srv.URL+"/api/reports/"+st.RunID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.UserHeader, "user-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var sawOutline, sawFinished bool
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "event: outline" {
			sawOutline = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"status":"finished"`) {
			sawFinished = true
			break
		}
	}
	assert.True(t, sawOutline)
	assert.True(t, sawFinished)
}

func TestStartAcceptsEmptyChunkedBody(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodPost, "/api/reports", "user-1", models.CreateRequest{Topic: "EV batteries"})
	created := decode[models.RunState](t, resp)
	a.waitStatus(t, "user-1", created.RunID, models.StatusReview)

	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/api/reports/"+created.RunID+"/start", io.NopCloser(strings.NewReader("")))
	require.NoError(t, err)
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set(middleware.UserHeader, "user-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	a.waitStatus(t, "user-1", created.RunID, models.StatusFinished)
}
