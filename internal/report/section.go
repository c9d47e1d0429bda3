package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
	"github.com/ayush/research-ai-agent/reportgen/internal/metrics"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/search"
	"github.com/ayush/research-ai-agent/reportgen/internal/stream"
)

// Evidence finds references for a section. *search.Aggregator satisfies it.
type Evidence interface {
	Collect(ctx context.Context, queries []string) (search.Bundle, error)
}

// SectionController drives one section through query planning, search and
// writing. It only mutates the section it was asked to process.
type SectionController struct {
	llm      llm.Completer
	evidence Evidence
	model    ModelSettings
	logger   *zap.Logger
}

func NewSectionController(completer llm.Completer, evidence Evidence, model ModelSettings, logger *zap.Logger) *SectionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionController{llm: completer, evidence: evidence, model: model, logger: logger}
}

// Process runs section idx of run to completion. A returned error means the
// section did not complete: either it moved to error, or ctx was cancelled and
// its status was left where the cancel found it.
func (c *SectionController) Process(ctx context.Context, run *Run, idx int) error {
	sec, ok := run.Section(idx)
	if !ok {
		return fmt.Errorf("%w: section %d out of range", ErrInvalidState, idx)
	}
	topic, title := run.Topic()
	if title != "" {
		topic = title
	}
	logger := c.logger.With(zap.String("run_id", run.ID()), zap.Int("section", idx))

	// planning
	started := time.Now()
	run.setSectionStatus(idx, models.SectionPlanning)
	run.appendLog(idx, fmt.Sprintf("Planning search queries for %q", sec.Title))
	text, err := c.complete(ctx, llm.PurposeQueries, queryMessages(topic, sec), nil)
	if err != nil {
		return c.fail(ctx, run, idx, "query generation", err, logger)
	}
	queries := ExtractQueries(text)
	if len(queries) == 0 {
		run.appendLog(idx, "No search queries extracted")
	} else {
		run.appendLog(idx, fmt.Sprintf("Search queries: %s", strings.Join(queries, "; ")))
	}
	metrics.SectionStageDuration.WithLabelValues("planning").Observe(time.Since(started).Seconds())

	// searching
	started = time.Now()
	run.setSectionStatus(idx, models.SectionSearching)
	bundle, err := c.evidence.Collect(ctx, queries)
	switch {
	case err != nil && ctx.Err() != nil:
		return c.fail(ctx, run, idx, "search", err, logger)
	case err != nil:
		logger.Warn("search failed, writing without references", zap.Error(err))
		metrics.SearchDegradations.Inc()
		run.appendLog(idx, "Search unavailable, continuing without references")
		bundle = search.Bundle{}
	case len(queries) == 0:
		run.appendLog(idx, "Skipped search")
	default:
		run.appendLog(idx, fmt.Sprintf("Found %d references", len(bundle.References)))
	}
	run.setReferences(idx, bundle.References)
	metrics.ReferencesPerSection.Observe(float64(len(bundle.References)))
	metrics.SectionStageDuration.WithLabelValues("searching").Observe(time.Since(started).Seconds())

	// writing
	started = time.Now()
	run.setSectionStatus(idx, models.SectionWriting)
	run.appendLog(idx, "Writing section")
	_, err = c.complete(ctx, llm.PurposeSection, sectionMessages(topic, sec, bundle.Material), func(delta, _ string) {
		run.appendContent(idx, delta)
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return c.fail(ctx, run, idx, "writing", err, logger)
	}
	metrics.SectionStageDuration.WithLabelValues("writing").Observe(time.Since(started).Seconds())

	run.setSectionStatus(idx, models.SectionCompleted)
	run.appendLog(idx, "Section completed")
	metrics.SectionOutcomes.WithLabelValues(string(models.SectionCompleted)).Inc()
	return nil
}

func (c *SectionController) complete(ctx context.Context, purpose string, msgs []llm.Message, onChunk stream.ChunkFunc) (string, error) {
	ch, err := c.llm.Stream(ctx, llm.ChatRequest{
		Model:       c.model.Model,
		Messages:    msgs,
		Stream:      true,
		Temperature: c.model.Temperature,
		Purpose:     purpose,
	})
	if err != nil {
		return "", err
	}
	acc := stream.NewAccumulator()
	text, err := acc.Collect(ctx, ch, onChunk)
	metrics.StreamChunks.WithLabelValues(purpose).Add(float64(acc.Chunks()))
	return text, err
}

// fail records a stage failure. A cancelled context leaves the section status
// untouched; anything else moves the section to error and keeps its content.
func (c *SectionController) fail(ctx context.Context, run *Run, idx int, stage string, err error, logger *zap.Logger) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		run.appendLog(idx, fmt.Sprintf("Cancelled during %s", stage))
		return fmt.Errorf("%s: %w", stage, context.Canceled)
	}
	logger.Error("section failed", zap.String("stage", stage), zap.Error(err))
	run.setSectionStatus(idx, models.SectionError)
	run.appendLog(idx, fmt.Sprintf("%s failed: %v", stage, err))
	metrics.SectionOutcomes.WithLabelValues(string(models.SectionError)).Inc()
	return fmt.Errorf("%s: %w", stage, err)
}
