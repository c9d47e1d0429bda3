package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MainStatus is the lifecycle phase of a whole report run.
type MainStatus string

const (
	StatusIdle       MainStatus = "idle"
	StatusPlanning   MainStatus = "planning"
	StatusReview     MainStatus = "review"
	StatusGenerating MainStatus = "generating"
	StatusFinished   MainStatus = "finished"
)

// SectionStatus is the state of a single section pipeline.
type SectionStatus string

const (
	SectionPending   SectionStatus = "pending"
	SectionPlanning  SectionStatus = "planning"
	SectionSearching SectionStatus = "searching"
	SectionWriting   SectionStatus = "writing"
	SectionCompleted SectionStatus = "completed"
	SectionError     SectionStatus = "error"
)

// Active reports whether the section is being worked on.
func (s SectionStatus) Active() bool {
	return s == SectionPlanning || s == SectionSearching || s == SectionWriting
}

// Terminal reports whether the section pipeline has stopped.
func (s SectionStatus) Terminal() bool {
	return s == SectionCompleted || s == SectionError
}

// Outline is the planned structure of a report.
type Outline struct {
	Title    string           `json:"title"    bson:"title"`
	Chapters []OutlineChapter `json:"chapters" bson:"chapters"`
}

// OutlineChapter describes what one section must cover.
type OutlineChapter struct {
	Title       string `json:"title"       bson:"title"`
	Instruction string `json:"instruction" bson:"instruction"`
}

// Clone returns a deep copy of the outline.
func (o Outline) Clone() Outline {
	out := Outline{Title: o.Title}
	if o.Chapters != nil {
		out.Chapters = append([]OutlineChapter(nil), o.Chapters...)
	}
	return out
}

// Reference is a cited source attached to a section.
type Reference struct {
	Title  string `json:"title"  bson:"title"`
	URL    string `json:"url"    bson:"url"`
	Source string `json:"source" bson:"source"`
}

// Section is the mutable unit of work of a report run.
type Section struct {
	ID          string        `json:"id"          bson:"id"`
	Title       string        `json:"title"       bson:"title"`
	Instruction string        `json:"instruction" bson:"instruction"`
	Status      SectionStatus `json:"status"      bson:"status"`
	Content     string        `json:"content"     bson:"content"`
	Logs        []string      `json:"logs"        bson:"logs"`
	References  []Reference   `json:"references"  bson:"references"`
}

// Clone returns a deep copy of the section.
func (s Section) Clone() Section {
	out := s
	out.Logs = append([]string(nil), s.Logs...)
	out.References = append([]Reference(nil), s.References...)
	return out
}

// RunState is a read-only snapshot of a report run.
type RunState struct {
	RunID               string     `json:"run_id"`
	MainStatus          MainStatus `json:"main_status"`
	Topic               string     `json:"topic"`
	Outline             *Outline   `json:"outline,omitempty"`
	Sections            []Section  `json:"sections"`
	CurrentSectionIndex int        `json:"current_section_index"`
	Cancelled           bool       `json:"cancelled"`
	Notice              string     `json:"notice,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SearchSegment is a content fragment of a search hit.
type SearchSegment struct {
	Content string `json:"content"`
}

// SearchReferenceItem is a single item returned by the semantic search backend.
type SearchReferenceItem struct {
	ArticleID  string          `json:"article_id"`
	Title      string          `json:"title"`
	URL        string          `json:"url"`
	SourceName string          `json:"source_name"`
	Segments   []SearchSegment `json:"segments"`
}

// ReportDocument is a finished report stored in MongoDB.
type ReportDocument struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RunID       string             `json:"run_id" bson:"run_id"`
	UserID      string             `json:"user_id" bson:"user_id"`
	Topic       string             `json:"topic" bson:"topic"`
	Outline     Outline            `json:"outline" bson:"outline"`
	Sections    []Section          `json:"sections" bson:"sections"`
	Markdown    string             `json:"markdown" bson:"markdown"`
	ModelUsed   string             `json:"model_used" bson:"model_used"`
	MarkdownKey string             `json:"markdown_key" bson:"markdown_key"`
	HTMLKey     string             `json:"html_key" bson:"html_key"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
}

// RunRecord is a ledger row describing a run's lifecycle.
type RunRecord struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Topic             string     `json:"topic"`
	Status            string     `json:"status"`
	SectionCount      int        `json:"section_count"`
	CompletedSections int        `json:"completed_sections"`
	DocumentID        string     `json:"document_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// CreateRequest is the JSON body for POST /api/reports.
type CreateRequest struct {
	Topic string `json:"topic"`
}

// ReviseRequest is the JSON body for POST /api/reports/{id}/revise.
type ReviseRequest struct {
	Topic    string `json:"topic"`
	Feedback string `json:"feedback"`
}

// StartRequest is the JSON body for POST /api/reports/{id}/start.
// An omitted outline starts from the one under review.
type StartRequest struct {
	Outline *Outline `json:"outline,omitempty"`
}
