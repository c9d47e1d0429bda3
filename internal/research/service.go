package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/report"
	"github.com/ayush/research-ai-agent/reportgen/internal/store"
	"github.com/ayush/research-ai-agent/reportgen/internal/streaming"
)

// ReportStore persists finished report documents.
type ReportStore interface {
	Insert(ctx context.Context, doc *models.ReportDocument) (string, error)
	ListByUser(ctx context.Context, userID string) ([]models.ReportDocument, error)
	GetByID(ctx context.Context, userID, id string) (*models.ReportDocument, error)
	Delete(ctx context.Context, userID, id string) error
}

// FileStore defines the interface for export storage.
type FileStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, string, error)
	Remove(ctx context.Context, key string) error
}

// RunLedger records run lifecycles.
type RunLedger interface {
	Create(ctx context.Context, id, userID, topic string) (*models.RunRecord, error)
	UpdateProgress(ctx context.Context, id, status string, sectionCount, completed int) error
	MarkFinished(ctx context.Context, id, documentID string, sectionCount int, at time.Time) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.RunRecord, error)
}

// SnapshotCache keeps run states readable after they leave memory.
type SnapshotCache interface {
	Save(ctx context.Context, userID string, state models.RunState) error
	Load(ctx context.Context, userID, runID string) (*models.RunState, error)
	Delete(ctx context.Context, runID string) error
}

// Deps wires a Service.
type Deps struct {
	LLM       llm.Completer
	Evidence  report.Evidence
	Model     report.ModelSettings
	Hub       *streaming.Hub
	Reports   ReportStore
	Files     FileStore
	Ledger    RunLedger
	Snapshots SnapshotCache
	Logger    *zap.Logger
}

const (
	persistTimeout = 30 * time.Second
	persistBuffer  = 256
)

// session is one live run owned by a user.
type session struct {
	userID string
	orch   *report.Orchestrator
	events chan streaming.Event
	done   chan struct{}
}

// Service manages the live runs of all users. Each run has its own
// orchestrator; the service only routes calls and persists results.
type Service struct {
	deps       Deps
	planner    *report.Planner
	controller *report.SectionController
	exporter   *Exporter
	logger     *zap.Logger

	mu   sync.RWMutex
	runs map[string]*session
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Hub == nil {
		d.Hub = streaming.NewHub(0)
	}
	return &Service{
		deps:       d,
		planner:    report.NewPlanner(d.LLM, d.Model, d.Logger),
		controller: report.NewSectionController(d.LLM, d.Evidence, d.Model, d.Logger),
		exporter:   NewExporter(d.Reports, d.Files, d.Model.Model, d.Logger),
		logger:     d.Logger,
		runs:       make(map[string]*session),
	}
}

// Hub exposes the event hub for streaming endpoints.
func (s *Service) Hub() *streaming.Hub { return s.deps.Hub }

// Create registers a new run for userID and starts planning its outline.
func (s *Service) Create(ctx context.Context, userID, topic string) (models.RunState, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return models.RunState{}, report.ErrEmptyTopic
	}

	id := uuid.NewString()
	run := report.NewRun(id, s.deps.Hub)
	sess := &session{userID: userID, done: make(chan struct{})}
	sess.orch = report.NewOrchestrator(run, s.planner, s.controller, report.Hooks{
		OnFinished: func(st models.RunState) { s.finished(userID, st) },
		OnHalted:   func(st models.RunState) { s.halted(userID, st) },
	}, s.logger)

	if s.deps.Ledger != nil {
		if _, err := s.deps.Ledger.Create(ctx, id, userID, topic); err != nil {
			s.logger.Warn("ledger create failed", zap.String("run_id", id), zap.Error(err))
		}
	}

	sess.events = s.deps.Hub.SubscribeTypes(id, persistBuffer,
		streaming.EventStatus, streaming.EventSection, streaming.EventLog, streaming.EventOutline)
	go s.persist(sess, id)

	s.mu.Lock()
	s.runs[id] = sess
	s.mu.Unlock()

	if err := sess.orch.StartPlanOutline(topic); err != nil {
		return models.RunState{}, err
	}
	s.logger.Info("report run created", zap.String("run_id", id), zap.String("user_id", userID))
	return run.Snapshot(), nil
}

func (s *Service) lookup(userID, runID string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.runs[runID]
	if !ok || sess.userID != userID {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// Authorize reports whether runID is a live run of userID.
func (s *Service) Authorize(userID, runID string) error {
	_, err := s.lookup(userID, runID)
	return err
}

// Get returns the run state, falling back to the snapshot cache for runs that
// are no longer in memory.
func (s *Service) Get(ctx context.Context, userID, runID string) (models.RunState, error) {
	if sess, err := s.lookup(userID, runID); err == nil {
		return sess.orch.Snapshot(), nil
	}
	if s.deps.Snapshots == nil {
		return models.RunState{}, store.ErrNotFound
	}
	st, err := s.deps.Snapshots.Load(ctx, userID, runID)
	if err != nil {
		return models.RunState{}, err
	}
	return *st, nil
}

func (s *Service) Revise(userID, runID, topic, feedback string) (models.RunState, error) {
	sess, err := s.lookup(userID, runID)
	if err != nil {
		return models.RunState{}, err
	}
	if err := sess.orch.StartReviseOutline(topic, feedback); err != nil {
		return models.RunState{}, err
	}
	return sess.orch.Snapshot(), nil
}

func (s *Service) Start(userID, runID string, outline *models.Outline) (models.RunState, error) {
	sess, err := s.lookup(userID, runID)
	if err != nil {
		return models.RunState{}, err
	}
	if err := sess.orch.StartGeneration(outline); err != nil {
		return models.RunState{}, err
	}
	return sess.orch.Snapshot(), nil
}

func (s *Service) Retry(userID, runID string, index int) (models.RunState, error) {
	sess, err := s.lookup(userID, runID)
	if err != nil {
		return models.RunState{}, err
	}
	if err := sess.orch.RetrySection(index); err != nil {
		return models.RunState{}, err
	}
	return sess.orch.Snapshot(), nil
}

// Cancel stops the run's work and returns once it has stopped.
func (s *Service) Cancel(userID, runID string) (models.RunState, error) {
	sess, err := s.lookup(userID, runID)
	if err != nil {
		return models.RunState{}, err
	}
	sess.orch.Cancel()
	return sess.orch.Snapshot(), nil
}

// Discard cancels a run and drops it from memory and the snapshot cache.
func (s *Service) Discard(ctx context.Context, userID, runID string) error {
	sess, err := s.lookup(userID, runID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()

	s.close(sess, runID)
	s.deps.Hub.Forget(runID)
	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.Delete(ctx, runID); err != nil {
			s.logger.Warn("snapshot delete failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return nil
}

// Runs lists the ledger rows of a user.
func (s *Service) Runs(ctx context.Context, userID string) ([]models.RunRecord, error) {
	if s.deps.Ledger == nil {
		return []models.RunRecord{}, nil
	}
	recs, err := s.deps.Ledger.ListByUser(ctx, userID, 50)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.RunRecord{}
	}
	return recs, nil
}

// Close stops every live run.
func (s *Service) Close() {
	s.mu.Lock()
	runs := s.runs
	s.runs = make(map[string]*session)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for id, sess := range runs {
		wg.Add(1)
		go func(id string, sess *session) {
			defer wg.Done()
			s.close(sess, id)
		}(id, sess)
	}
	wg.Wait()
}

func (s *Service) close(sess *session, runID string) {
	sess.orch.Close()
	s.deps.Hub.Unsubscribe(runID, sess.events)
	<-sess.done
}

// persist mirrors state changes into the snapshot cache and the ledger until
// the run's subscription is closed. The subscription carries no content
// deltas; the next status or log event persists them.
func (s *Service) persist(sess *session, runID string) {
	defer close(sess.done)
	for evt := range sess.events {
		st := sess.orch.Snapshot()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		s.saveSnapshot(ctx, sess.userID, st)
		if evt.Type == streaming.EventStatus || (evt.Type == streaming.EventSection && evt.Status == string(models.SectionCompleted)) {
			s.updateLedger(ctx, st)
		}
		cancel()
	}
}

func (s *Service) saveSnapshot(ctx context.Context, userID string, st models.RunState) {
	if s.deps.Snapshots == nil {
		return
	}
	if err := s.deps.Snapshots.Save(ctx, userID, st); err != nil {
		s.logger.Warn("snapshot save failed", zap.String("run_id", st.RunID), zap.Error(err))
	}
}

func (s *Service) updateLedger(ctx context.Context, st models.RunState) {
	if s.deps.Ledger == nil || st.MainStatus == models.StatusFinished {
		return
	}
	status := string(st.MainStatus)
	if st.Cancelled {
		status = "cancelled"
	}
	err := s.deps.Ledger.UpdateProgress(ctx, st.RunID, status, len(st.Sections), completedCount(st))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("ledger update failed", zap.String("run_id", st.RunID), zap.Error(err))
	}
}

func (s *Service) finished(userID string, st models.RunState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	s.saveSnapshot(ctx, userID, st)
	doc, err := s.exporter.Export(ctx, userID, st)
	if err != nil {
		s.logger.Error("report export failed", zap.String("run_id", st.RunID), zap.Error(err))
		return
	}
	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.MarkFinished(ctx, st.RunID, doc.ID.Hex(), len(st.Sections), time.Now()); err != nil {
			s.logger.Warn("ledger finish failed", zap.String("run_id", st.RunID), zap.Error(err))
		}
	}
	s.logger.Info("report stored", zap.String("run_id", st.RunID), zap.String("document_id", doc.ID.Hex()))
}

func (s *Service) halted(userID string, st models.RunState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	s.saveSnapshot(ctx, userID, st)
	s.updateLedger(ctx, st)
}

// Documents lists the stored reports of a user.
func (s *Service) Documents(ctx context.Context, userID string) ([]models.ReportDocument, error) {
	return s.deps.Reports.ListByUser(ctx, userID)
}

func (s *Service) Document(ctx context.Context, userID, docID string) (*models.ReportDocument, error) {
	return s.deps.Reports.GetByID(ctx, userID, docID)
}

// DeleteDocument removes a stored report and its exports.
func (s *Service) DeleteDocument(ctx context.Context, userID, docID string) error {
	doc, err := s.deps.Reports.GetByID(ctx, userID, docID)
	if err != nil {
		return err
	}
	if s.deps.Files != nil {
		for _, key := range []string{doc.MarkdownKey, doc.HTMLKey} {
			if key == "" {
				continue
			}
			if err := s.deps.Files.Remove(ctx, key); err != nil {
				s.logger.Warn("export remove failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return s.deps.Reports.Delete(ctx, userID, docID)
}

// Export returns a stored export. When the object is missing it is rebuilt
// from the document's Markdown.
func (s *Service) Export(ctx context.Context, userID, docID, format string) ([]byte, string, error) {
	if format != "md" && format != "html" {
		return nil, "", fmt.Errorf("%w: unknown export format %q", ErrBadRequest, format)
	}
	doc, err := s.deps.Reports.GetByID(ctx, userID, docID)
	if err != nil {
		return nil, "", err
	}

	key := doc.MarkdownKey
	if format == "html" {
		key = doc.HTMLKey
	}
	if key != "" && s.deps.Files != nil {
		data, ct, err := s.deps.Files.Download(ctx, key)
		if err == nil {
			return data, ct, nil
		}
		s.logger.Warn("export download failed, rebuilding", zap.String("key", key), zap.Error(err))
	}

	if format == "md" {
		return []byte(doc.Markdown), "text/markdown; charset=utf-8", nil
	}
	page, err := s.exporter.RenderHTML(doc.Outline.Title, doc.Markdown)
	if err != nil {
		return nil, "", err
	}
	return page, "text/html; charset=utf-8", nil
}

func completedCount(st models.RunState) int {
	n := 0
	for _, sec := range st.Sections {
		if sec.Status == models.SectionCompleted {
			n++
		}
	}
	return n
}
