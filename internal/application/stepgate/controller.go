// Package stepgate implements the per-item step disclosure state machine.
//
// Every step is locked, unlocked or current. Step 0 starts current. Advance
// is the only transition that unlocks a new step; JumpTo moves between steps
// that are already unlocked. Each effective transition is persisted through
// the progress store.
package stepgate

import (
	"context"
	"sync"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the disclosure state of one step.
type State string

const (
	// StateLocked - the step is not yet reachable.
	StateLocked State = "locked"

	// StateUnlocked - the step was reached before and can be revisited.
	StateUnlocked State = "unlocked"

	// StateCurrent - the step the reader is on.
	StateCurrent State = "current"
)

// Recorder is the part of the progress store the controller needs.
type Recorder interface {
	Local(contentID string) progress.Record
	Load(ctx context.Context, contentID string) progress.Record
	RecordStart(ctx context.Context, contentID string) progress.Record
	RecordStepAdvance(ctx context.Context, contentID string, newStep int) progress.Record
	RecordJump(ctx context.Context, contentID string, step int) (progress.Record, bool)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTROLLER
// ══════════════════════════════════════════════════════════════════════════════

// Controller drives the step gate of one content item.
type Controller struct {
	store     Recorder
	contentID string
	stepCount int

	mu  sync.Mutex
	rec progress.Record
}

// Open starts a viewing session: loads progress (merging the remote record
// if it arrives in time) and marks the item as started.
func Open(ctx context.Context, store Recorder, contentID string, stepCount int) *Controller {
	store.Load(ctx, contentID)
	rec := store.RecordStart(ctx, contentID)
	return newController(store, contentID, stepCount, rec)
}

// FromLocal builds a controller from locally cached progress without
// touching the remote store. Used by stateless request handlers.
func FromLocal(store Recorder, contentID string, stepCount int) *Controller {
	return newController(store, contentID, stepCount, store.Local(contentID))
}

func newController(store Recorder, contentID string, stepCount int, rec progress.Record) *Controller {
	if stepCount < 1 {
		stepCount = 1
	}
	c := &Controller{
		store:     store,
		contentID: contentID,
		stepCount: stepCount,
	}
	c.rec = clamp(rec, stepCount)
	return c
}

// clamp keeps a record coming from an older catalog version inside the
// current step range.
func clamp(rec progress.Record, stepCount int) progress.Record {
	last := stepCount - 1
	if rec.CurrentStep > last {
		rec.CurrentStep = last
	}
	return rec
}

// ContentID returns the item the controller drives.
func (c *Controller) ContentID() string {
	return c.contentID
}

// StepCount returns the number of steps.
func (c *Controller) StepCount() int {
	return c.stepCount
}

// CurrentStep returns the index of the current step.
func (c *Controller) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.CurrentStep
}

// Record returns a copy of the progress record behind the controller.
func (c *Controller) Record() progress.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Clone()
}

// IsLastStep reports whether the reader is on the final step.
func (c *Controller) IsLastStep() bool {
	return c.CurrentStep() == c.stepCount-1
}

// State returns the state of step i. Out-of-range steps are locked.
func (c *Controller) State(i int) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(i)
}

// States returns the state of every step in order.
func (c *Controller) States() []State {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]State, c.stepCount)
	for i := range out {
		out[i] = c.stateLocked(i)
	}
	return out
}

func (c *Controller) stateLocked(i int) State {
	switch {
	case i < 0 || i >= c.stepCount:
		return StateLocked
	case i == c.rec.CurrentStep:
		return StateCurrent
	case c.rec.IsUnlocked(i):
		return StateUnlocked
	default:
		return StateLocked
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Advance makes the next step current and unlocks it. It is a no-op on the
// last step. Reports whether the state changed.
func (c *Controller) Advance(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.rec.CurrentStep + 1
	if next >= c.stepCount {
		metrics.StepTransitions.WithLabelValues("advance", metrics.ResultNoop).Inc()
		return false
	}

	c.rec = clamp(c.store.RecordStepAdvance(ctx, c.contentID, next), c.stepCount)
	metrics.StepTransitions.WithLabelValues("advance", metrics.ResultOK).Inc()
	return true
}

// JumpTo makes an unlocked step current. Locked, out-of-range and current
// steps are silently ignored and nothing is persisted.
func (c *Controller) JumpTo(ctx context.Context, i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i < 0 || i >= c.stepCount || i == c.rec.CurrentStep || !c.rec.IsUnlocked(i) {
		metrics.StepTransitions.WithLabelValues("jump", metrics.ResultNoop).Inc()
		return false
	}

	rec, ok := c.store.RecordJump(ctx, c.contentID, i)
	c.rec = clamp(rec, c.stepCount)
	if !ok {
		metrics.StepTransitions.WithLabelValues("jump", metrics.ResultNoop).Inc()
		return false
	}
	metrics.StepTransitions.WithLabelValues("jump", metrics.ResultOK).Inc()
	return true
}
