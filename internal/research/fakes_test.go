package research

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/search"
	"github.com/ayush/research-ai-agent/reportgen/internal/store"
)

type memReports struct {
	mu   sync.Mutex
	docs []models.ReportDocument
}

func (m *memReports) Insert(_ context.Context, doc *models.ReportDocument) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	m.docs = append(m.docs, *doc)
	return doc.ID.Hex(), nil
}

func (m *memReports) ListByUser(_ context.Context, userID string) ([]models.ReportDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReportDocument
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memReports) GetByID(_ context.Context, userID, id string) (*models.ReportDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID.Hex() == id && d.UserID == userID {
			doc := d
			return &doc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memReports) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.docs {
		if d.ID.Hex() == id && d.UserID == userID {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memReports) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	fail    bool
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memFiles) Upload(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("minio unavailable")
	}
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func (m *memFiles) Download(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return data, m.types[key], nil
}

func (m *memFiles) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memFiles) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type memLedger struct {
	mu      sync.Mutex
	records map[string]*models.RunRecord
}

func newMemLedger() *memLedger { return &memLedger{records: map[string]*models.RunRecord{}} }

func (m *memLedger) Create(_ context.Context, id, userID, topic string) (*models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &models.RunRecord{ID: id, UserID: userID, Topic: topic, Status: "idle", CreatedAt: time.Now()}
	m.records[id] = r
	return r, nil
}

func (m *memLedger) UpdateProgress(_ context.Context, id, status string, sectionCount, completed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Status == "finished" {
		return store.ErrNotFound
	}
	r.Status, r.SectionCount, r.CompletedSections = status, sectionCount, completed
	return nil
}

func (m *memLedger) MarkFinished(_ context.Context, id, documentID string, sectionCount int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status, r.DocumentID, r.SectionCount, r.CompletedSections = "finished", documentID, sectionCount, sectionCount
	r.FinishedAt = &at
	return nil
}

func (m *memLedger) ListByUser(_ context.Context, userID string, _ int) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RunRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memLedger) get(id string) models.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return *r
	}
	return models.RunRecord{}
}

type memSnapshots struct {
	mu     sync.Mutex
	states map[string]models.RunState
	owners map[string]string
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{states: map[string]models.RunState{}, owners: map[string]string{}}
}

func (m *memSnapshots) Save(_ context.Context, userID string, st models.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.RunID] = st
	m.owners[st.RunID] = userID
	return nil
}

func (m *memSnapshots) Load(_ context.Context, userID, runID string) (*models.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[runID]
	if !ok || m.owners[runID] != userID {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (m *memSnapshots) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, runID)
	delete(m.owners, runID)
	return nil
}

type staticEvidence struct{}

func (staticEvidence) Collect(_ context.Context, queries []string) (search.Bundle, error) {
	if len(queries) == 0 {
		return search.Bundle{}, nil
	}
	return search.Bundle{
		References: []models.Reference{{Title: "Battery outlook", URL: "https://example.com/a", Source: "Wire"}},
		Material:   "[1] Battery outlook (Source: Wire)\ndemand grows",
	}, nil
}
