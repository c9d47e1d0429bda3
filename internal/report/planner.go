package report

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
	"github.com/ayush/research-ai-agent/reportgen/internal/metrics"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/partialjson"
	"github.com/ayush/research-ai-agent/reportgen/internal/stream"
)

// ModelSettings are the per-request model parameters.
type ModelSettings struct {
	Model       string
	Temperature float64
}

// Planner turns a topic into an outline with one streaming completion.
type Planner struct {
	llm    llm.Completer
	model  ModelSettings
	logger *zap.Logger
}

func NewPlanner(completer llm.Completer, model ModelSettings, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{llm: completer, model: model, logger: logger}
}

// Plan produces a fresh outline for topic. onPreview, when set, is called with
// each distinct outline that becomes parseable while the response streams.
func (p *Planner) Plan(ctx context.Context, topic string, onPreview func(models.Outline)) (models.Outline, error) {
	return p.run(ctx, topic, outlineMessages(topic), onPreview)
}

// Revise asks for a new outline given the previous one and reviewer feedback.
func (p *Planner) Revise(ctx context.Context, topic, feedback string, previous models.Outline, onPreview func(models.Outline)) (models.Outline, error) {
	return p.run(ctx, topic, reviseMessages(topic, feedback, previous), onPreview)
}

func (p *Planner) run(ctx context.Context, topic string, msgs []llm.Message, onPreview func(models.Outline)) (models.Outline, error) {
	ch, err := p.llm.Stream(ctx, llm.ChatRequest{
		Model:       p.model.Model,
		Messages:    msgs,
		Stream:      true,
		Temperature: p.model.Temperature,
		Purpose:     llm.PurposeOutline,
	})
	if err != nil {
		return models.Outline{}, fmt.Errorf("outline request: %w", err)
	}

	var memo partialjson.Memo[models.Outline]
	previewed := 0
	acc := stream.NewAccumulator()
	text, err := acc.Collect(ctx, ch, func(_, buf string) {
		if onPreview == nil {
			return
		}
		res := memo.Extract(buf)
		if !res.OK() {
			return
		}
		o := cleanOutline(res.Value, topic)
		if len(o.Chapters) > previewed {
			previewed = len(o.Chapters)
			onPreview(o)
		}
	})
	metrics.StreamChunks.WithLabelValues(llm.PurposeOutline).Add(float64(acc.Chunks()))
	if err != nil {
		return models.Outline{}, fmt.Errorf("outline stream: %w", err)
	}

	o, status, ok := parseOutline(text, topic)
	if !ok {
		p.logger.Warn("outline response unusable", zap.Int("bytes", len(text)))
		return models.Outline{}, fmt.Errorf("%w: response has no usable chapters", ErrPlanningFailed)
	}
	if status == partialjson.Repaired {
		p.logger.Info("outline accepted after repair", zap.Int("chapters", len(o.Chapters)))
	}
	return o, nil
}

// parseOutline accepts either the outline object or a bare chapter array.
func parseOutline(text, topic string) (models.Outline, partialjson.Status, bool) {
	if res := partialjson.Extract[models.Outline](text); res.OK() {
		o := cleanOutline(res.Value, topic)
		if len(o.Chapters) > 0 {
			return o, res.Status, true
		}
	}
	if res := partialjson.Extract[[]models.OutlineChapter](text); res.OK() {
		o := cleanOutline(models.Outline{Chapters: res.Value}, topic)
		if len(o.Chapters) > 0 {
			return o, res.Status, true
		}
	}
	return models.Outline{}, partialjson.NotReady, false
}

// cleanOutline trims text fields, drops untitled chapters and falls back to the
// topic for a missing title.
func cleanOutline(o models.Outline, topic string) models.Outline {
	out := models.Outline{Title: strings.TrimSpace(o.Title)}
	if out.Title == "" {
		out.Title = topic
	}
	for _, ch := range o.Chapters {
		title := strings.TrimSpace(ch.Title)
		if title == "" {
			continue
		}
		out.Chapters = append(out.Chapters, models.OutlineChapter{
			Title:       title,
			Instruction: strings.TrimSpace(ch.Instruction),
		})
	}
	return out
}
