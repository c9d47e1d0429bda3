package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/middleware"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/report"
	"github.com/ayush/research-ai-agent/reportgen/internal/store"
	"github.com/ayush/research-ai-agent/reportgen/internal/streaming"
)

// ErrBadRequest marks malformed client input.
var ErrBadRequest = errors.New("bad request")

const heartbeatInterval = 15 * time.Second

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, report.ErrBusy), errors.Is(err, report.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, report.ErrEmptyTopic), errors.Is(err, report.ErrInvalidOutline), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Handler holds report HTTP handlers.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the report API. Callers must be authenticated upstream.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.ListRuns)
	r.Get("/history", h.ListDocuments)
	r.Get("/history/{docID}", h.GetDocument)
	r.Delete("/history/{docID}", h.DeleteDocument)
	r.Get("/history/{docID}/export.{format}", h.DownloadExport)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Discard)
	r.Get("/{id}/events", h.Events)
	r.Post("/{id}/revise", h.Revise)
	r.Post("/{id}/start", h.Start)
	r.Post("/{id}/sections/{index}/retry", h.Retry)
	r.Post("/{id}/cancel", h.Cancel)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func userID(r *http.Request) string {
	id, _ := middleware.UserID(r.Context())
	return id
}

// Create registers a run and starts planning its outline.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := h.svc.Create(r.Context(), userID(r), req.Topic)
	if err != nil {
		h.fail(w, "create report", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// ListRuns returns the user's run ledger.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.Runs(r.Context(), userID(r))
	if err != nil {
		h.fail(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get returns the run state.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Get(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get report", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Discard drops a live run.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Discard(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "discard report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "discarded"})
}

func (h *Handler) Revise(w http.ResponseWriter, r *http.Request) {
	var req models.ReviseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := h.svc.Revise(userID(r), chi.URLParam(r, "id"), req.Topic, req.Feedback)
	if err != nil {
		h.fail(w, "revise outline", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// Start begins section generation. An empty body starts from the outline
// under review.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := h.svc.Start(userID(r), chi.URLParam(r, "id"), req.Outline)
	if err != nil {
		h.fail(w, "start generation", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid section index")
		return
	}
	st, err := h.svc.Retry(userID(r), chi.URLParam(r, "id"), idx)
	if err != nil {
		h.fail(w, "retry section", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Cancel(userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "cancel report", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Events streams run events via Server-Sent Events. Last-Event-ID (header or
// last_event_id query param) replays buffered events after that sequence.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if err := h.svc.Authorize(userID(r), runID); err != nil {
		h.fail(w, "stream events", err)
		return
	}

	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	hub := h.svc.Hub()
	ch := hub.Subscribe(runID, 256)
	defer hub.Unsubscribe(runID, ch)

	fmt.Fprintf(w, ": connected to report %s\n\n", runID)
	sent := lastID
	for _, evt := range hub.ReplaySince(runID, lastID) {
		writeEvent(w, evt)
		sent = evt.Seq
	}
	flusher.Flush()

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", runID))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			batch := catchUp(hub, runID, sent, evt)
			if len(batch) == 0 {
				continue
			}
			if batch[0].Seq != sent+1 {
				h.logger.Warn("SSE replay buffer overrun",
					zap.String("run_id", runID), zap.Uint64("after", sent), zap.Uint64("resumed", batch[0].Seq))
			}
			for _, e := range batch {
				writeEvent(w, e)
				sent = e.Seq
			}
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// catchUp returns the events to write after sent when evt arrives. A
// subscriber that fell behind lost events in between; those are taken from the
// hub's replay buffer.
func catchUp(hub *streaming.Hub, runID string, sent uint64, evt streaming.Event) []streaming.Event {
	if evt.Seq <= sent {
		return nil
	}
	if evt.Seq == sent+1 {
		return []streaming.Event{evt}
	}
	if missed := hub.ReplaySince(runID, sent); len(missed) > 0 {
		return missed
	}
	return []streaming.Event{evt}
}

func writeEvent(w http.ResponseWriter, evt streaming.Event) {
	fmt.Fprintf(w, "id: %d\n", evt.Seq)
	fmt.Fprintf(w, "event: %s\n", evt.Type)
	fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
}

// ListDocuments returns the user's stored reports.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.Documents(r.Context(), userID(r))
	if err != nil {
		h.fail(w, "list reports", err)
		return
	}
	if docs == nil {
		docs = []models.ReportDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Document(r.Context(), userID(r), chi.URLParam(r, "docID"))
	if err != nil {
		h.fail(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDocument(r.Context(), userID(r), chi.URLParam(r, "docID")); err != nil {
		h.fail(w, "delete document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// DownloadExport serves report.md or report.html.
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	data, ct, err := h.svc.Export(r.Context(), userID(r), chi.URLParam(r, "docID"), format)
	if err != nil {
		h.fail(w, "download export", err)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", "attachment; filename=report."+format)
	w.Write(data)
}
