package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/streaming"
)

// Publisher receives run events. *streaming.Hub satisfies it.
type Publisher interface {
	Publish(evt streaming.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(streaming.Event) {}

// Run is the single owner of one report's state. Every component receives the
// Run it works on; there is no shared global state between runs.
type Run struct {
	mu     sync.RWMutex
	state  models.RunState
	events Publisher
}

// NewRun creates an idle run. A nil publisher discards events.
func NewRun(id string, events Publisher) *Run {
	if events == nil {
		events = nopPublisher{}
	}
	return &Run{
		state: models.RunState{
			RunID:      id,
			MainStatus: models.StatusIdle,
			Sections:   []models.Section{},
			UpdatedAt:  time.Now(),
		},
		events: events,
	}
}

func (r *Run) ID() string { return r.state.RunID }

// Snapshot returns a deep copy of the current state.
func (r *Run) Snapshot() models.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.state
	if r.state.Outline != nil {
		o := r.state.Outline.Clone()
		s.Outline = &o
	}
	s.Sections = make([]models.Section, len(r.state.Sections))
	for i, sec := range r.state.Sections {
		s.Sections[i] = sec.Clone()
	}
	return s
}

// Section returns a copy of section idx.
func (r *Run) Section(idx int) (models.Section, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx < 0 || idx >= len(r.state.Sections) {
		return models.Section{}, false
	}
	return r.state.Sections[idx].Clone(), true
}

// Topic returns the topic and the accepted outline title.
func (r *Run) Topic() (topic, title string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state.Outline != nil {
		title = r.state.Outline.Title
	}
	return r.state.Topic, title
}

func (r *Run) publish(evt streaming.Event) {
	evt.RunID = r.state.RunID
	r.state.UpdatedAt = time.Now()
	r.events.Publish(evt)
}

func (r *Run) setMainLocked(status models.MainStatus, notice string) {
	r.state.MainStatus = status
	r.state.Notice = notice
	r.publish(streaming.Event{Type: streaming.EventStatus, Status: string(status), Message: notice, SectionIndex: -1})
}

// beginPlanning moves to planning. It refuses while generating or while
// another planning call is in flight. It returns the outline to restore if a
// revision fails.
func (r *Run) beginPlanning(topic string, revise bool) (*models.Outline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.state.MainStatus
	switch prev {
	case models.StatusPlanning:
		return nil, fmt.Errorf("%w: planning already in progress", ErrBusy)
	case models.StatusGenerating:
		return nil, fmt.Errorf("%w: report is generating", ErrBusy)
	}
	if revise && (prev != models.StatusReview || r.state.Outline == nil) {
		return nil, fmt.Errorf("%w: no outline under review", ErrInvalidState)
	}

	var prevOutline *models.Outline
	if r.state.Outline != nil {
		o := r.state.Outline.Clone()
		prevOutline = &o
	}
	r.state.Topic = topic
	r.setMainLocked(models.StatusPlanning, "")
	return prevOutline, nil
}

// previewOutline publishes a not-yet-accepted outline.
func (r *Run) previewOutline(o models.Outline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish(streaming.Event{
		Type:         streaming.EventOutline,
		Status:       "preview",
		Message:      fmt.Sprintf("%d chapters", len(o.Chapters)),
		SectionIndex: -1,
	})
}

// acceptOutline stores a planned outline and moves to review.
func (r *Run) acceptOutline(o models.Outline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oc := o.Clone()
	r.state.Outline = &oc
	r.state.Sections = []models.Section{}
	r.state.CurrentSectionIndex = 0
	r.state.Cancelled = false
	r.publish(streaming.Event{Type: streaming.EventOutline, Status: "accepted", Message: o.Title, SectionIndex: -1})
	r.setMainLocked(models.StatusReview, "")
}

// planningFailed restores the pre-planning status. A failed fresh plan drops
// any previous outline; a failed revision keeps the outline under review.
func (r *Run) planningFailed(status models.MainStatus, outline *models.Outline, notice string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Outline = outline
	r.setMainLocked(status, notice)
}

// start initialises one pending section per chapter and starts generating.
func (r *Run) start(o models.Outline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.MainStatus != models.StatusReview {
		return fmt.Errorf("%w: start requires review, run is %s", ErrInvalidState, r.state.MainStatus)
	}
	if len(o.Chapters) == 0 {
		return fmt.Errorf("%w: outline has no chapters", ErrInvalidOutline)
	}

	oc := o.Clone()
	r.state.Outline = &oc
	r.state.Sections = make([]models.Section, len(o.Chapters))
	for i, ch := range o.Chapters {
		r.state.Sections[i] = models.Section{
			ID:          uuid.NewString(),
			Title:       ch.Title,
			Instruction: ch.Instruction,
			Status:      models.SectionPending,
			Logs:        []string{},
			References:  []models.Reference{},
		}
	}
	r.state.CurrentSectionIndex = 0
	r.state.Cancelled = false
	r.setMainLocked(models.StatusGenerating, "")
	return nil
}

// current returns the index to process next, or false when the run is not
// generating or every section has been processed.
func (r *Run) current() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state.MainStatus != models.StatusGenerating || r.state.Cancelled {
		return 0, false
	}
	idx := r.state.CurrentSectionIndex
	return idx, idx < len(r.state.Sections)
}

// advance moves past idx once it completed.
func (r *Run) advance(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.CurrentSectionIndex != idx || r.state.Sections[idx].Status != models.SectionCompleted {
		return
	}
	r.state.CurrentSectionIndex = idx + 1
}

// finishIfDone marks the run finished when every section was processed.
func (r *Run) finishIfDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.MainStatus != models.StatusGenerating || r.state.Cancelled {
		return false
	}
	if r.state.CurrentSectionIndex < len(r.state.Sections) {
		return false
	}
	r.setMainLocked(models.StatusFinished, "")
	return true
}

// markCancelled stops advancement; section statuses are left untouched.
func (r *Run) markCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Cancelled = true
	r.state.Notice = "generation cancelled"
	r.publish(streaming.Event{Type: streaming.EventStatus, Status: string(r.state.MainStatus), Message: r.state.Notice, SectionIndex: r.state.CurrentSectionIndex})
}

// resetForRetry clears section idx back to pending and points the run at it.
// Only a failed section, or the section interrupted by a cancel, may retry.
func (r *Run) resetForRetry(idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.MainStatus != models.StatusGenerating {
		return fmt.Errorf("%w: retry requires a generating run, run is %s", ErrInvalidState, r.state.MainStatus)
	}
	if idx < 0 || idx >= len(r.state.Sections) {
		return fmt.Errorf("%w: section %d out of range", ErrInvalidState, idx)
	}
	sec := &r.state.Sections[idx]
	interrupted := r.state.Cancelled && idx == r.state.CurrentSectionIndex && !sec.Status.Terminal()
	if sec.Status != models.SectionError && !interrupted {
		return fmt.Errorf("%w: section %d is %s", ErrInvalidState, idx, sec.Status)
	}

	sec.Status = models.SectionPending
	sec.Content = ""
	sec.Logs = []string{}
	sec.References = []models.Reference{}
	r.state.CurrentSectionIndex = idx
	r.state.Cancelled = false
	r.state.Notice = ""
	r.publish(streaming.Event{Type: streaming.EventSection, SectionIndex: idx, Status: string(models.SectionPending), Message: "retry"})
	return nil
}

// Section mutations below are used only by the section controller for the
// index it is processing.

func (r *Run) setSectionStatus(idx int, status models.SectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Sections[idx].Status = status
	r.publish(streaming.Event{Type: streaming.EventSection, SectionIndex: idx, Status: string(status)})
}

func (r *Run) appendLog(idx int, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Sections[idx].Logs = append(r.state.Sections[idx].Logs, line)
	r.publish(streaming.Event{Type: streaming.EventLog, SectionIndex: idx, Message: line})
}

func (r *Run) appendContent(idx int, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Sections[idx].Content += delta
	r.publish(streaming.Event{Type: streaming.EventDelta, SectionIndex: idx, Message: delta})
}

func (r *Run) setReferences(idx int, refs []models.Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Sections[idx].References = append([]models.Reference{}, refs...)
}
