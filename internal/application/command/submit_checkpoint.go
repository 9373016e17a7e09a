package command

import (
	"context"
	"fmt"
	"time"

	"github.com/stepwise-hub/stepwise/internal/application/checkpoint"
	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT CHECKPOINT COMMAND
// Evaluates an answer to an inline checkpoint. A correct answer completes
// the checkpoint section and tells the caller to advance after a short
// display delay. Advancing itself stays with the caller.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultAdvanceDelay is how long a success message stays on screen before
// the caller advances.
const DefaultAdvanceDelay = 1500 * time.Millisecond

// SubmitCheckpointCommand contains the data to submit an answer.
type SubmitCheckpointCommand struct {
	Target

	// SectionIndex is the index of the checkpoint section.
	SectionIndex int

	// Option is the index of the chosen option.
	Option int
}

// Validate validates the command.
func (c SubmitCheckpointCommand) Validate() error {
	if err := c.Target.Validate("submit_checkpoint"); err != nil {
		return err
	}
	if c.SectionIndex < 0 {
		return fmt.Errorf("submit_checkpoint: %w", shared.ErrInvalidSectionIndex)
	}
	if c.Option < 0 {
		return fmt.Errorf("submit_checkpoint: %w", shared.ErrOptionOutOfRange)
	}
	return nil
}

// SubmitCheckpointResult contains the evaluation outcome.
type SubmitCheckpointResult struct {
	StepView

	// Outcome is Correct (with a success message) or Incorrect.
	Outcome checkpoint.Outcome

	// AdvanceAfter is set on a correct answer that is not on the last step:
	// the caller should advance once it elapses.
	AdvanceAfter time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitCheckpointHandler handles the SubmitCheckpointCommand.
type SubmitCheckpointHandler struct {
	resolver
	evaluator    *checkpoint.Evaluator
	advanceDelay time.Duration
	log          *logger.Logger
}

// NewSubmitCheckpointHandler creates a new SubmitCheckpointHandler.
func NewSubmitCheckpointHandler(
	items content.Source,
	stores *progressstore.Registry,
	evaluator *checkpoint.Evaluator,
	advanceDelay time.Duration,
	log *logger.Logger,
) *SubmitCheckpointHandler {
	if advanceDelay <= 0 {
		advanceDelay = DefaultAdvanceDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitCheckpointHandler{
		resolver:     resolver{items: items, stores: stores},
		evaluator:    evaluator,
		advanceDelay: advanceDelay,
		log:          log,
	}
}

// Handle executes the submit checkpoint command.
func (h *SubmitCheckpointHandler) Handle(ctx context.Context, cmd SubmitCheckpointCommand) (*SubmitCheckpointResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	r, err := h.resolve(ctx, cmd.Target)
	if err != nil {
		return nil, fmt.Errorf("submit_checkpoint: %w", err)
	}

	outcome, err := h.evaluator.Submit(ctx, checkpoint.Ref{
		ContentID:    cmd.ContentID,
		SectionIndex: cmd.SectionIndex,
	}, cmd.Option)
	if err != nil {
		return nil, fmt.Errorf("submit_checkpoint: %w", err)
	}

	result := &SubmitCheckpointResult{Outcome: outcome}
	if outcome.Correct {
		r.store.RecordSectionComplete(ctx, cmd.ContentID, cmd.SectionIndex)
	}

	g := r.gate()
	if outcome.Correct && !g.IsLastStep() {
		result.AdvanceAfter = h.advanceDelay
	}
	result.StepView = viewOf(g, r.item)

	h.log.Debug("checkpoint submitted",
		logger.ContentID(cmd.ContentID),
		logger.SectionIndex(cmd.SectionIndex),
		logger.Bool("correct", outcome.Correct))

	return result, nil
}
