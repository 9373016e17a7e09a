package command

import (
	"context"
	"fmt"

	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCE STEP COMMAND
// Unlocks the next step of an item and makes it current. On the last step
// nothing happens.
// ══════════════════════════════════════════════════════════════════════════════

// AdvanceStepCommand contains the data to advance the step gate.
type AdvanceStepCommand struct {
	Target
}

// Validate validates the command.
func (c AdvanceStepCommand) Validate() error {
	return c.Target.Validate("advance_step")
}

// AdvanceStepResult contains the result of advancing.
type AdvanceStepResult struct {
	StepView

	// Advanced is false when the reader was already on the last step.
	Advanced bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AdvanceStepHandler handles the AdvanceStepCommand.
type AdvanceStepHandler struct {
	resolver
	log *logger.Logger
}

// NewAdvanceStepHandler creates a new AdvanceStepHandler.
func NewAdvanceStepHandler(items content.Source, stores *progressstore.Registry, log *logger.Logger) *AdvanceStepHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AdvanceStepHandler{
		resolver: resolver{items: items, stores: stores},
		log:      log,
	}
}

// Handle executes the advance step command.
func (h *AdvanceStepHandler) Handle(ctx context.Context, cmd AdvanceStepCommand) (*AdvanceStepResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	r, err := h.resolve(ctx, cmd.Target)
	if err != nil {
		return nil, fmt.Errorf("advance_step: %w", err)
	}

	g := r.gate()
	advanced := g.Advance(ctx)
	if advanced {
		h.log.Debug("step advanced",
			logger.ContentID(cmd.ContentID),
			logger.Namespace(cmd.Namespace.String()),
			logger.Step(g.CurrentStep()))
	}

	return &AdvanceStepResult{StepView: viewOf(g, r.item), Advanced: advanced}, nil
}
