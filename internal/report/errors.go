package report

import "errors"

var (
	// ErrBusy rejects a call that conflicts with work already in flight.
	ErrBusy = errors.New("run is busy")
	// ErrInvalidState rejects a call not allowed in the run's current status.
	ErrInvalidState = errors.New("invalid run state")
	// ErrInvalidOutline rejects an outline with nothing to generate.
	ErrInvalidOutline = errors.New("invalid outline")
	// ErrPlanningFailed means the model output did not yield a usable outline.
	ErrPlanningFailed = errors.New("outline planning failed")
	// ErrEmptyTopic rejects a blank topic.
	ErrEmptyTopic = errors.New("topic is required")
)
