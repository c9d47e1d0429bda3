package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/metrics"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

// Hooks are optional callbacks fired by the driver after state changes. They
// run on the driver goroutine with no locks held, before the driver releases
// the run, so a retry or restart cannot overlap a running hook.
type Hooks struct {
	// OnFinished receives the final snapshot once every section completed.
	OnFinished func(models.RunState)
	// OnHalted receives the snapshot when a section failed or the run was
	// cancelled.
	OnHalted func(models.RunState)
}

// Orchestrator owns the lifecycle of one run: planning, review, sequential
// section generation, cancel and retry. At most one driver goroutine works on
// a run at a time.
type Orchestrator struct {
	run        *Run
	planner    *Planner
	controller *SectionController
	hooks      Hooks
	logger     *zap.Logger

	mu          sync.Mutex
	planCancel  context.CancelFunc
	driveCancel context.CancelFunc
	driveDone   chan struct{}
	wg          sync.WaitGroup
}

func NewOrchestrator(run *Run, planner *Planner, controller *SectionController, hooks Hooks, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		run:        run,
		planner:    planner,
		controller: controller,
		hooks:      hooks,
		logger:     logger.With(zap.String("run_id", run.ID())),
	}
}

// Run exposes the state the orchestrator drives.
func (o *Orchestrator) Run() *Run { return o.run }

// Snapshot returns a deep copy of the run state.
func (o *Orchestrator) Snapshot() models.RunState { return o.run.Snapshot() }

// PlanOutline plans a fresh outline and blocks until the run is in review, or
// back in its previous status on failure.
func (o *Orchestrator) PlanOutline(ctx context.Context, topic string) (models.Outline, error) {
	ctx, p, err := o.beginPlan(ctx, topic, "", false)
	if err != nil {
		return models.Outline{}, err
	}
	return o.plan(ctx, p)
}

// ReviseOutline replans with reviewer feedback. It requires an outline under
// review and is rejected while another planning call is in flight. A blank
// topic keeps the current one.
func (o *Orchestrator) ReviseOutline(ctx context.Context, topic, feedback string) (models.Outline, error) {
	ctx, p, err := o.beginPlan(ctx, topic, feedback, true)
	if err != nil {
		return models.Outline{}, err
	}
	return o.plan(ctx, p)
}

// StartPlanOutline validates and enters planning synchronously, then plans in
// the background. Progress is observable through the run's events.
func (o *Orchestrator) StartPlanOutline(topic string) error {
	return o.startPlanAsync(topic, "", false)
}

// StartReviseOutline is the background form of ReviseOutline.
func (o *Orchestrator) StartReviseOutline(topic, feedback string) error {
	return o.startPlanAsync(topic, feedback, true)
}

func (o *Orchestrator) startPlanAsync(topic, feedback string, revise bool) error {
	ctx, p, err := o.beginPlan(context.Background(), topic, feedback, revise)
	if err != nil {
		return err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.plan(ctx, p); err != nil {
			o.logger.Warn("planning failed", zap.Error(err))
		}
	}()
	return nil
}

type planCall struct {
	topic    string
	feedback string
	revise   bool
	prev     *models.Outline
	cancel   context.CancelFunc
}

// beginPlan moves the run to planning and registers the cancel func before
// returning, so Cancel always reaches a planning call that was accepted.
func (o *Orchestrator) beginPlan(ctx context.Context, topic, feedback string, revise bool) (context.Context, planCall, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		t, _ := o.run.Topic()
		if !revise || t == "" {
			return nil, planCall{}, ErrEmptyTopic
		}
		topic = t
	}
	prev, err := o.run.beginPlanning(topic, revise)
	if err != nil {
		return nil, planCall{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.planCancel = cancel
	o.mu.Unlock()
	return ctx, planCall{topic: topic, feedback: strings.TrimSpace(feedback), revise: revise, prev: prev, cancel: cancel}, nil
}

func (o *Orchestrator) plan(ctx context.Context, p planCall) (models.Outline, error) {
	defer func() {
		o.mu.Lock()
		o.planCancel = nil
		o.mu.Unlock()
		p.cancel()
	}()

	kind := "plan"
	var (
		outline models.Outline
		err     error
	)
	if p.revise {
		kind = "revise"
		outline, err = o.planner.Revise(ctx, p.topic, p.feedback, *p.prev, o.run.previewOutline)
	} else {
		outline, err = o.planner.Plan(ctx, p.topic, o.run.previewOutline)
	}
	if err != nil {
		metrics.PlanningOutcomes.WithLabelValues(kind, "failed").Inc()
		notice := "outline planning failed, please try again"
		if ctx.Err() != nil {
			notice = "outline planning cancelled"
		}
		if p.revise {
			// a failed revision returns to the outline the user was reviewing
			o.run.planningFailed(models.StatusReview, p.prev, notice)
		} else {
			o.run.planningFailed(models.StatusIdle, nil, notice)
		}
		return models.Outline{}, err
	}

	metrics.PlanningOutcomes.WithLabelValues(kind, "ok").Inc()
	o.run.acceptOutline(outline)
	o.logger.Info("outline accepted", zap.String("kind", kind), zap.Int("chapters", len(outline.Chapters)))
	return outline, nil
}

// StartGeneration accepts outline (or the one under review when outline is
// nil) and starts generating its sections in order on a driver goroutine.
func (o *Orchestrator) StartGeneration(outline *models.Outline) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.driveDone != nil {
		return fmt.Errorf("%w: generation already running", ErrBusy)
	}

	var chosen models.Outline
	if outline != nil {
		chosen = cleanOutline(*outline, outline.Title)
	} else if cur := o.run.Snapshot().Outline; cur != nil {
		chosen = *cur
	}
	if chosen.Title == "" {
		topic, _ := o.run.Topic()
		chosen.Title = topic
	}
	if err := o.run.start(chosen); err != nil {
		return err
	}
	metrics.RunsStarted.Inc()
	o.logger.Info("generation started", zap.Int("sections", len(chosen.Chapters)))
	o.spawnDriverLocked()
	return nil
}

// RetrySection resets a failed (or cancel-interrupted) section and resumes
// generation from it. It is rejected while a driver is running.
func (o *Orchestrator) RetrySection(idx int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.driveDone != nil {
		return fmt.Errorf("%w: generation already running", ErrBusy)
	}
	if err := o.run.resetForRetry(idx); err != nil {
		return err
	}
	o.logger.Info("retrying section", zap.Int("section", idx))
	o.spawnDriverLocked()
	return nil
}

// Cancel interrupts planning or generation and blocks until the driver has
// stopped. Completed sections are kept; the interrupted section keeps the
// status it had. Cancel on an idle run is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	planCancel, driveCancel, done := o.planCancel, o.driveCancel, o.driveDone
	o.mu.Unlock()

	if planCancel != nil {
		planCancel()
	}
	if driveCancel != nil {
		driveCancel()
		<-done
		metrics.RunsCancelled.Inc()
	}
}

// Wait blocks until background planning and the driver have exited.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Close cancels any work and waits for it.
func (o *Orchestrator) Close() {
	o.Cancel()
	o.Wait()
}

func (o *Orchestrator) spawnDriverLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.driveCancel, o.driveDone = cancel, done
	o.wg.Add(1)
	go o.drive(ctx, done)
}

func (o *Orchestrator) drive(ctx context.Context, done chan struct{}) {
	var hook func(models.RunState)
	defer func() {
		if hook != nil {
			hook(o.run.Snapshot())
		}
		o.mu.Lock()
		o.driveCancel()
		o.driveCancel, o.driveDone = nil, nil
		o.mu.Unlock()
		close(done)
		o.wg.Done()
	}()

	for {
		idx, ok := o.run.current()
		if !ok {
			if o.run.finishIfDone() {
				metrics.RunsFinished.Inc()
				o.logger.Info("report finished")
				hook = o.hooks.OnFinished
			}
			return
		}
		if ctx.Err() != nil {
			o.run.markCancelled()
			hook = o.hooks.OnHalted
			return
		}

		err := o.controller.Process(ctx, o.run, idx)
		if err == nil {
			o.run.advance(idx)
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			o.run.markCancelled()
			o.logger.Info("generation cancelled", zap.Int("section", idx))
		} else {
			o.logger.Warn("generation halted", zap.Int("section", idx), zap.Error(err))
		}
		hook = o.hooks.OnHalted
		return
	}
}
